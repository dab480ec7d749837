// Package llm defines the streaming provider contract and the
// OpenRouter client implementation.
package llm

import (
	"context"
	"log/slog"

	"github.com/hcengineering/huly-ai-agent-sub000/internal/msg"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// StreamEventKind identifies the type of stream event.
type StreamEventKind int

const (
	// KindText is an incremental text fragment from the model.
	KindText StreamEventKind = iota

	// KindToolCallFragment is a partial tool call, merged by index.
	KindToolCallFragment

	// KindUsage carries the final token accounting for the response.
	KindUsage
)

// StreamEvent is a single event in a streaming provider response.
// Consumers switch on Kind to determine what data is available.
type StreamEvent struct {
	Kind StreamEventKind

	// Text is set for KindText events.
	Text string

	// ToolCall is set for KindToolCallFragment events.
	ToolCall *ToolCallFragment

	// Usage is set for KindUsage events.
	Usage *Usage
}

// ToolCallFragment is one incremental slice of a tool call. ID and
// Name arrive at most once per index; Arguments arrives piecewise.
type ToolCallFragment struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Usage is the provider's final token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Stream is a lazy, finite, non-restartable event sequence. Recv
// returns io.EOF when the stream ends.
type Stream interface {
	Recv() (StreamEvent, error)
	Close() error
}

// ToolDescription describes one tool to the provider. Parameters is a
// JSON-schema object.
type ToolDescription struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ProviderClient is the abstract model provider the execution loop
// talks to.
type ProviderClient interface {
	// SendMessages starts a streaming completion. The context string
	// is ephemeral; it rides along with the request and is never
	// persisted into the conversation by the caller.
	SendMessages(ctx context.Context, systemPrompt, contextStr string, messages []msg.Message, tools []ToolDescription) (Stream, error)

	// Complete runs a non-streaming completion and returns the
	// assistant text. Used by memory extraction and consolidation.
	Complete(ctx context.Context, systemPrompt, prompt string) (string, error)
}
