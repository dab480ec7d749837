// Package task defines the task model consumed by the execution loop:
// typed task kinds, cooperative cancellation, and supersession rules.
package task

import (
	"fmt"
	"time"
)

// Kind is the closed set of task flavors.
type Kind string

const (
	KindDirectQuestion    Kind = "direct_question"
	KindMention           Kind = "mention"
	KindFollowChat        Kind = "follow_chat"
	KindAssistantChat     Kind = "assistant_chat"
	KindAssistantTask     Kind = "assistant_task"
	KindResearch          Kind = "research"
	KindSleep             Kind = "sleep"
	KindMemoryMaintenance Kind = "memory_maintenance"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindDirectQuestion, KindMention, KindFollowChat, KindAssistantChat,
		KindAssistantTask, KindResearch, KindSleep, KindMemoryMaintenance:
		return true
	}
	return false
}

// Task is one unit of work for the execution loop.
type Task struct {
	ID         int64
	Kind       Kind
	Complexity float64
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Done       bool

	// Identifier payload; which fields are set depends on Kind.
	SocialID     string `json:"social_id,omitempty"`
	PersonName   string `json:"person_name,omitempty"`
	ChannelID    string `json:"channel_id,omitempty"`
	ChannelTitle string `json:"channel_title,omitempty"`
	CardID       string `json:"card_id,omitempty"`
	MessageID    string `json:"message_id,omitempty"`
	Content      string `json:"content,omitempty"`
	ScheduledID  int64  `json:"scheduled_id,omitempty"`

	// Cancel is the task's cooperative cancellation token. Not
	// persisted; attached when the task enters the queue.
	Cancel *CancelToken `json:"-"`
}

// DefaultComplexity is assigned to tasks whose complexity the model
// has not yet estimated.
const DefaultComplexity = 10

// New builds a task of the given kind with default complexity and a
// fresh cancellation token.
func New(kind Kind) *Task {
	now := time.Now().UTC()
	return &Task{
		Kind:       kind,
		Complexity: DefaultComplexity,
		CreatedAt:  now,
		UpdatedAt:  now,
		Cancel:     NewCancelToken(),
	}
}

// InitialMessage renders the seed user message for the task's first
// round.
func (t *Task) InitialMessage() string {
	switch t.Kind {
	case KindDirectQuestion:
		return fmt.Sprintf("%s asks you: %s", t.PersonName, t.Content)
	case KindMention:
		return fmt.Sprintf("You were mentioned by %s in channel %q:\n%s", t.PersonName, t.ChannelTitle, t.Content)
	case KindFollowChat:
		return fmt.Sprintf("New messages in channel %q you are following:\n%s", t.ChannelTitle, t.Content)
	case KindAssistantChat:
		return t.Content
	case KindAssistantTask:
		return fmt.Sprintf("Execute the following task:\n%s", t.Content)
	case KindResearch:
		return fmt.Sprintf("Research the following topic and record what you learn:\n%s", t.Content)
	case KindSleep:
		return "Consolidate recent episodic memories into semantic memory."
	case KindMemoryMaintenance:
		return "Recompute memory importance and prune forgotten entries."
	}
	return t.Content
}

// Supersedes reports whether t makes prev obsolete. A new follow task
// for a channel carries the full transcript, so an in-flight follow of
// the same channel is wasted work. Assistant chats supersede per card.
func (t *Task) Supersedes(prev *Task) bool {
	if prev == nil {
		return false
	}
	switch {
	case t.Kind == KindFollowChat && prev.Kind == KindFollowChat:
		return t.ChannelID == prev.ChannelID
	case t.Kind == KindAssistantChat && prev.Kind == KindAssistantChat:
		return t.CardID == prev.CardID
	}
	return false
}

// Routed reports whether the task bypasses persistence and goes
// straight to a dedicated worker instead of the execution loop.
func (t *Task) Routed() bool {
	return t.Kind == KindMemoryMaintenance
}
