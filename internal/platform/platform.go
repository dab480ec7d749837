// Package platform integrates with the messaging platform: an HTTP
// client for outbound messages, reactions, and typing indicators, a
// websocket listener for inbound events, and an HTTP ingest endpoint.
package platform

import "context"

// Event is one inbound platform occurrence.
type Event struct {
	Kind EventKind `json:"kind"`

	ChannelID    string `json:"channel_id"`
	ChannelTitle string `json:"channel_title"`
	CardID       string `json:"card_id,omitempty"`
	MessageID    string `json:"message_id"`
	SocialID     string `json:"social_id"`
	PersonName   string `json:"person_name"`
	Content      string `json:"content"`
}

// EventKind discriminates inbound events.
type EventKind string

const (
	// EventMention is a message that addresses the agent directly.
	EventMention EventKind = "mention"

	// EventChannelMessage is ordinary traffic in a followed channel.
	EventChannelMessage EventKind = "message"

	// EventDirectMessage is a one-on-one message to the agent outside
	// any followed channel.
	EventDirectMessage EventKind = "direct_message"

	// EventCardMessage is a message on an assistant chat card; CardID
	// is set.
	EventCardMessage EventKind = "card_message"

	// EventReaction is an emoji reaction to an existing message.
	EventReaction EventKind = "reaction"
)

// MessageSender posts messages to a channel.
type MessageSender interface {
	SendMessage(ctx context.Context, channelID, socialID, text string) error
}

// ReactionAdder attaches an emoji reaction to a message.
type ReactionAdder interface {
	AddReaction(ctx context.Context, channelID, messageID, socialID, reaction string) error
}

// TypingIndicator toggles the typing/status indicator on a card.
type TypingIndicator interface {
	SetTyping(ctx context.Context, objectID, status string, ttlSeconds int) error
	ResetTyping(ctx context.Context, objectID string) error
}
