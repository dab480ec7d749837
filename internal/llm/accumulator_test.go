package llm

import (
	"testing"
)

func TestAccumulatorMergesToolCallFragments(t *testing.T) {
	acc := NewAccumulator()
	for _, ev := range []StreamEvent{
		{Kind: KindToolCallFragment, ToolCall: &ToolCallFragment{Index: 0, ID: "a"}},
		{Kind: KindToolCallFragment, ToolCall: &ToolCallFragment{Index: 0, Name: "f"}},
		{Kind: KindToolCallFragment, ToolCall: &ToolCallFragment{Index: 0, Arguments: `{"x":`}},
		{Kind: KindToolCallFragment, ToolCall: &ToolCallFragment{Index: 0, Arguments: `1}`}},
	} {
		acc.Add(ev)
	}

	calls := acc.ToolCalls()
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	if calls[0].ID != "a" || calls[0].Name != "f" {
		t.Errorf("id=%q name=%q, want a/f", calls[0].ID, calls[0].Name)
	}
	if string(calls[0].Arguments) != `{"x":1}` {
		t.Errorf("arguments = %s, want {\"x\":1}", calls[0].Arguments)
	}
}

func TestAccumulatorLatchesIDAndName(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(StreamEvent{Kind: KindToolCallFragment, ToolCall: &ToolCallFragment{Index: 0, ID: "first", Name: "tool"}})
	acc.Add(StreamEvent{Kind: KindToolCallFragment, ToolCall: &ToolCallFragment{Index: 0, ID: "second", Name: "other"}})

	calls := acc.ToolCalls()
	if calls[0].ID != "first" || calls[0].Name != "tool" {
		t.Errorf("id=%q name=%q, want first/tool", calls[0].ID, calls[0].Name)
	}
}

func TestAccumulatorOrdersByIndex(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(StreamEvent{Kind: KindToolCallFragment, ToolCall: &ToolCallFragment{Index: 1, ID: "b", Name: "second", Arguments: `{}`}})
	acc.Add(StreamEvent{Kind: KindToolCallFragment, ToolCall: &ToolCallFragment{Index: 0, ID: "a", Name: "first", Arguments: `{}`}})

	calls := acc.ToolCalls()
	if len(calls) != 2 || calls[0].ID != "a" || calls[1].ID != "b" {
		t.Fatalf("unexpected order: %+v", calls)
	}
}

func TestAccumulatorPartialArgumentsQuoted(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(StreamEvent{Kind: KindToolCallFragment, ToolCall: &ToolCallFragment{Index: 0, ID: "a", Name: "f", Arguments: `{"x":`}})

	calls := acc.ToolCalls()
	// Truncated JSON is carried through as a quoted string so nothing
	// is lost.
	if string(calls[0].Arguments) != `"{\"x\":"` {
		t.Errorf("arguments = %s", calls[0].Arguments)
	}
}

func TestAccumulatorTurns(t *testing.T) {
	t.Run("text then calls", func(t *testing.T) {
		acc := NewAccumulator()
		acc.Add(StreamEvent{Kind: KindText, Text: "thinking "})
		acc.Add(StreamEvent{Kind: KindText, Text: "aloud"})
		acc.Add(StreamEvent{Kind: KindToolCallFragment, ToolCall: &ToolCallFragment{Index: 0, ID: "a", Name: "f", Arguments: `{}`}})

		turns := acc.Turns()
		if len(turns) != 2 {
			t.Fatalf("got %d turns, want 2", len(turns))
		}
		if turns[0].Text() != "thinking aloud" {
			t.Errorf("text turn = %q", turns[0].Text())
		}
		if len(turns[1].ToolCalls()) != 1 {
			t.Errorf("second turn has no tool call")
		}
	})

	t.Run("empty text omitted with calls", func(t *testing.T) {
		acc := NewAccumulator()
		acc.Add(StreamEvent{Kind: KindToolCallFragment, ToolCall: &ToolCallFragment{Index: 0, ID: "a", Name: "f", Arguments: `{}`}})

		turns := acc.Turns()
		if len(turns) != 1 {
			t.Fatalf("got %d turns, want 1", len(turns))
		}
	})

	t.Run("empty stream yields one empty text turn", func(t *testing.T) {
		acc := NewAccumulator()
		turns := acc.Turns()
		if len(turns) != 1 || turns[0].Text() != "" {
			t.Fatalf("unexpected turns: %+v", turns)
		}
	})
}

func TestAccumulatorUsage(t *testing.T) {
	acc := NewAccumulator()
	if acc.Usage() != nil {
		t.Error("usage should start nil")
	}
	acc.Add(StreamEvent{Kind: KindUsage, Usage: &Usage{PromptTokens: 10, CompletionTokens: 5}})
	u := acc.Usage()
	if u == nil || u.PromptTokens != 10 || u.CompletionTokens != 5 {
		t.Errorf("usage = %+v", u)
	}
}
