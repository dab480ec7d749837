package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hcengineering/huly-ai-agent-sub000/internal/msg"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/platform"
)

// RegisterMessaging adds the send_message and add_reaction tools.
// selfSocialID is used as the sender identity.
func RegisterMessaging(r *Registry, sender platform.MessageSender, reactions platform.ReactionAdder, selfSocialID string) {
	r.Register(&Tool{
		Name:        "send_message",
		Description: "Send a message to a channel. This is the only way your words reach people.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"channel_id": map[string]any{
					"type":        "string",
					"description": "Target channel id.",
				},
				"text": map[string]any{
					"type":        "string",
					"description": "Message text.",
				},
			},
			"required": []string{"channel_id", "text"},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) ([]msg.ToolResultContent, error) {
			var args struct {
				ChannelID string `json:"channel_id"`
				Text      string `json:"text"`
			}
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("parse send_message arguments: %w", err)
			}
			if args.ChannelID == "" || args.Text == "" {
				return nil, fmt.Errorf("send_message requires channel_id and text")
			}
			if err := sender.SendMessage(ctx, args.ChannelID, selfSocialID, args.Text); err != nil {
				return nil, err
			}
			return msg.TextResult("Message sent."), nil
		},
	})

	r.Register(&Tool{
		Name:        "add_reaction",
		Description: "Attach an emoji reaction to a message.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"channel_id": map[string]any{"type": "string"},
				"message_id": map[string]any{"type": "string"},
				"reaction":   map[string]any{"type": "string", "description": "Emoji, e.g. 👍."},
			},
			"required": []string{"channel_id", "message_id", "reaction"},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) ([]msg.ToolResultContent, error) {
			var args struct {
				ChannelID string `json:"channel_id"`
				MessageID string `json:"message_id"`
				Reaction  string `json:"reaction"`
			}
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("parse add_reaction arguments: %w", err)
			}
			if err := reactions.AddReaction(ctx, args.ChannelID, args.MessageID, selfSocialID, args.Reaction); err != nil {
				return nil, err
			}
			return msg.TextResult("Reaction added."), nil
		},
	})
}
