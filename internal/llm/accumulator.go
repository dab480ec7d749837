package llm

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/hcengineering/huly-ai-agent-sub000/internal/msg"
)

// Accumulator merges a stream's incremental events into whole turns.
// Text fragments concatenate in order. Tool-call fragments merge by
// index: id and name are fixed once set, argument fragments
// concatenate as a raw string.
type Accumulator struct {
	text  strings.Builder
	calls map[int]*partialCall
	usage *Usage
}

type partialCall struct {
	id   string
	name string
	args strings.Builder
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{calls: make(map[int]*partialCall)}
}

// Add folds one stream event into the accumulator.
func (a *Accumulator) Add(ev StreamEvent) {
	switch ev.Kind {
	case KindText:
		a.text.WriteString(ev.Text)
	case KindToolCallFragment:
		f := ev.ToolCall
		if f == nil {
			return
		}
		pc := a.calls[f.Index]
		if pc == nil {
			pc = &partialCall{}
			a.calls[f.Index] = pc
		}
		if pc.id == "" && f.ID != "" {
			pc.id = f.ID
		}
		if pc.name == "" && f.Name != "" {
			pc.name = f.Name
		}
		pc.args.WriteString(f.Arguments)
	case KindUsage:
		a.usage = ev.Usage
	}
}

// Text returns the accumulated text so far.
func (a *Accumulator) Text() string { return a.text.String() }

// Usage returns the final usage event, or nil if none arrived.
func (a *Accumulator) Usage() *Usage { return a.usage }

// ToolCalls returns the merged tool calls in index order. Argument
// strings are parsed as JSON only when syntactically complete; a
// partial accumulation is carried through as a JSON string so nothing
// is lost.
func (a *Accumulator) ToolCalls() []msg.ToolCall {
	if len(a.calls) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(a.calls))
	for i := range a.calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	out := make([]msg.ToolCall, 0, len(indexes))
	for _, i := range indexes {
		pc := a.calls[i]
		out = append(out, msg.ToolCall{
			ID:        pc.id,
			Name:      pc.name,
			Arguments: parseArguments(pc.args.String()),
		})
	}
	return out
}

// Turns converts the accumulated state into ordered messages: at most
// one text message first, then one message per tool call. The text
// turn is omitted only when it is empty and at least one tool call
// exists.
func (a *Accumulator) Turns() []msg.Message {
	calls := a.ToolCalls()
	var out []msg.Message
	text := a.text.String()
	if text != "" || len(calls) == 0 {
		out = append(out, msg.Assistant(text))
	}
	for _, c := range calls {
		out = append(out, msg.ToolCallMsg(c))
	}
	return out
}

func parseArguments(raw string) json.RawMessage {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	quoted, err := json.Marshal(raw)
	if err != nil {
		return json.RawMessage(`""`)
	}
	return quoted
}
