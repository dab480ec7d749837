// Package msg defines the conversation data model shared by the task
// execution loop, the provider client, and persistent storage.
package msg

import (
	"encoding/json"
	"fmt"
)

// Role identifies the author side of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversation turn. Exactly one of User or
// Assistant is populated, matching Role.
type Message struct {
	Role      Role
	User      []UserContent
	Assistant []AssistantContent
}

// UserContentKind discriminates UserContent variants.
type UserContentKind string

const (
	UserText       UserContentKind = "text"
	UserToolResult UserContentKind = "tool_result"
	UserImage      UserContentKind = "image"
	UserAudio      UserContentKind = "audio"
	UserDocument   UserContentKind = "document"
)

// UserContent is one content block inside a user message.
type UserContent struct {
	Kind UserContentKind `json:"kind"`

	// Text is set for UserText.
	Text string `json:"text,omitempty"`

	// ToolCallID and Result are set for UserToolResult.
	ToolCallID string              `json:"tool_call_id,omitempty"`
	Result     []ToolResultContent `json:"result,omitempty"`

	// Media is set for image, audio, and document blocks.
	Media *MediaContent `json:"media,omitempty"`
}

// AssistantContentKind discriminates AssistantContent variants.
type AssistantContentKind string

const (
	AssistantText     AssistantContentKind = "text"
	AssistantToolCall AssistantContentKind = "tool_call"
)

// AssistantContent is one content block inside an assistant message.
type AssistantContent struct {
	Kind AssistantContentKind `json:"kind"`

	Text string `json:"text,omitempty"`

	// ToolCall is set for AssistantToolCall.
	ToolCall *ToolCall `json:"tool_call,omitempty"`
}

// ToolCall is a model-issued invocation of a named tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResultContentKind discriminates ToolResultContent variants.
type ToolResultContentKind string

const (
	ResultText  ToolResultContentKind = "text"
	ResultImage ToolResultContentKind = "image"
)

// ToolResultContent is one block of a tool's output.
type ToolResultContent struct {
	Kind  ToolResultContentKind `json:"kind"`
	Text  string                `json:"text,omitempty"`
	Media *MediaContent         `json:"media,omitempty"`
}

// MediaContent carries an inline binary payload as base64 plus its
// declared MIME type.
type MediaContent struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

// User builds a plain-text user message.
func User(text string) Message {
	return Message{
		Role: RoleUser,
		User: []UserContent{{Kind: UserText, Text: text}},
	}
}

// Assistant builds a plain-text assistant message.
func Assistant(text string) Message {
	return Message{
		Role:      RoleAssistant,
		Assistant: []AssistantContent{{Kind: AssistantText, Text: text}},
	}
}

// ToolCallMsg builds an assistant message carrying a single tool call.
func ToolCallMsg(call ToolCall) Message {
	return Message{
		Role:      RoleAssistant,
		Assistant: []AssistantContent{{Kind: AssistantToolCall, ToolCall: &call}},
	}
}

// ToolResultMsg builds the user message answering a tool call.
func ToolResultMsg(callID string, result []ToolResultContent) Message {
	return Message{
		Role: RoleUser,
		User: []UserContent{{Kind: UserToolResult, ToolCallID: callID, Result: result}},
	}
}

// TextResult wraps a single text block as a tool result payload.
func TextResult(text string) []ToolResultContent {
	return []ToolResultContent{{Kind: ResultText, Text: text}}
}

// ToolCalls returns the tool calls embedded in the message, in order.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, c := range m.Assistant {
		if c.Kind == AssistantToolCall && c.ToolCall != nil {
			calls = append(calls, *c.ToolCall)
		}
	}
	return calls
}

// ToolResultIDs returns the tool-call ids answered by the message.
func (m Message) ToolResultIDs() []string {
	var ids []string
	for _, c := range m.User {
		if c.Kind == UserToolResult {
			ids = append(ids, c.ToolCallID)
		}
	}
	return ids
}

// Text flattens the message's text blocks into one string. Tool
// results and media blocks are skipped.
func (m Message) Text() string {
	var out string
	switch m.Role {
	case RoleUser:
		for _, c := range m.User {
			if c.Kind == UserText {
				if out != "" {
					out += "\n"
				}
				out += c.Text
			}
		}
	case RoleAssistant:
		for _, c := range m.Assistant {
			if c.Kind == AssistantText {
				if out != "" {
					out += "\n"
				}
				out += c.Text
			}
		}
	}
	return out
}

type messageJSON struct {
	Role      Role               `json:"role"`
	User      []UserContent      `json:"user,omitempty"`
	Assistant []AssistantContent `json:"assistant,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(messageJSON{Role: m.Role, User: m.User, Assistant: m.Assistant})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Role {
	case RoleUser, RoleAssistant:
	default:
		return fmt.Errorf("unknown message role %q", raw.Role)
	}
	m.Role = raw.Role
	m.User = raw.User
	m.Assistant = raw.Assistant
	return nil
}

// StringContext renders a message sequence as plain text, one line per
// turn, for embedding queries and extraction prompts.
func StringContext(messages []Message) string {
	var out string
	for _, m := range messages {
		text := m.Text()
		if text == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += string(m.Role) + ": " + text
	}
	return out
}
