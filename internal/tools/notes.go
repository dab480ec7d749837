package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hcengineering/huly-ai-agent-sub000/internal/msg"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/store"
)

// RegisterNotes adds the notes tool, a single handler over an op enum
// like the memory tool.
func RegisterNotes(r *Registry, st *store.Store) {
	r.Register(&Tool{
		Name:        "notes",
		Description: "Keep titled notes for yourself. Operations: write (create or replace), read, list, delete.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"operation": map[string]any{
					"type": "string",
					"enum": []string{"write", "read", "list", "delete"},
				},
				"title":   map[string]any{"type": "string"},
				"content": map[string]any{"type": "string"},
			},
			"required": []string{"operation"},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) ([]msg.ToolResultContent, error) {
			var args struct {
				Operation string `json:"operation"`
				Title     string `json:"title"`
				Content   string `json:"content"`
			}
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("parse notes arguments: %w", err)
			}
			switch args.Operation {
			case "write":
				if args.Title == "" {
					return nil, fmt.Errorf("notes write requires a title")
				}
				if err := st.UpsertNote(args.Title, args.Content); err != nil {
					return nil, err
				}
				return msg.TextResult(fmt.Sprintf("Saved note %q.", args.Title)), nil
			case "read":
				n, err := st.Note(args.Title)
				if err != nil {
					return nil, err
				}
				if n == nil {
					return msg.TextResult(fmt.Sprintf("No note titled %q.", args.Title)), nil
				}
				return msg.TextResult(n.Content), nil
			case "list":
				notes, err := st.Notes()
				if err != nil {
					return nil, err
				}
				if len(notes) == 0 {
					return msg.TextResult("No notes."), nil
				}
				var b strings.Builder
				for _, n := range notes {
					fmt.Fprintf(&b, "- %s (updated %s)\n", n.Title, n.UpdatedAt.Format("2006-01-02"))
				}
				return msg.TextResult(b.String()), nil
			case "delete":
				if err := st.DeleteNote(args.Title); err != nil {
					return nil, err
				}
				return msg.TextResult(fmt.Sprintf("Deleted note %q.", args.Title)), nil
			}
			return nil, fmt.Errorf("unknown notes operation %q", args.Operation)
		},
	})
}
