package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/hcengineering/huly-ai-agent-sub000/internal/msg"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/store"
)

// RegisterSchedule adds the scheduled-task tool family. Created tasks
// are picked up by the scheduler's reconcile pass within a tick.
func RegisterSchedule(r *Registry, st *store.Store) {
	r.Register(&Tool{
		Name:        "schedule_task",
		Description: "Schedule a recurring task for yourself using a 5-field cron expression.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"cron":    map[string]any{"type": "string", "description": "Standard cron expression, e.g. \"0 9 * * 1\"."},
				"content": map[string]any{"type": "string", "description": "What to do when the task fires."},
			},
			"required": []string{"cron", "content"},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) ([]msg.ToolResultContent, error) {
			var args struct {
				Cron    string `json:"cron"`
				Content string `json:"content"`
			}
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("parse schedule_task arguments: %w", err)
			}
			if _, err := cron.ParseStandard(args.Cron); err != nil {
				return nil, fmt.Errorf("invalid cron expression %q: %w", args.Cron, err)
			}
			t := &store.ScheduledTask{Cron: args.Cron, Kind: "assistant_task", Content: args.Content}
			if err := st.CreateScheduledTask(t); err != nil {
				return nil, err
			}
			return msg.TextResult(fmt.Sprintf("Scheduled task %d (%s).", t.ID, args.Cron)), nil
		},
	})

	r.Register(&Tool{
		Name:        "list_scheduled_tasks",
		Description: "List your scheduled tasks.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(ctx context.Context, raw json.RawMessage) ([]msg.ToolResultContent, error) {
			tasks, err := st.ScheduledTasks()
			if err != nil {
				return nil, err
			}
			if len(tasks) == 0 {
				return msg.TextResult("No scheduled tasks."), nil
			}
			var b strings.Builder
			for _, t := range tasks {
				fmt.Fprintf(&b, "%d. [%s] %s\n", t.ID, t.Cron, t.Content)
			}
			return msg.TextResult(b.String()), nil
		},
	})

	r.Register(&Tool{
		Name:        "delete_scheduled_task",
		Description: "Delete one of your scheduled tasks by id.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id": map[string]any{"type": "integer"},
			},
			"required": []string{"id"},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) ([]msg.ToolResultContent, error) {
			var args struct {
				ID int64 `json:"id"`
			}
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("parse delete_scheduled_task arguments: %w", err)
			}
			if err := st.DeleteScheduledTask(args.ID); err != nil {
				return nil, err
			}
			return msg.TextResult(fmt.Sprintf("Deleted scheduled task %d.", args.ID)), nil
		},
	})
}
