package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hcengineering/huly-ai-agent-sub000/internal/msg"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/store"
)

func setupTestRegistryStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st, err := store.NewWithDB(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return st
}

func callTool(t *testing.T, r *Registry, name, args string) string {
	t.Helper()
	result, err := r.Call(context.Background(), name, json.RawMessage(args))
	if err != nil {
		t.Fatalf("call %s: %v", name, err)
	}
	var b strings.Builder
	for _, c := range result {
		b.WriteString(c.Text)
	}
	return b.String()
}

func TestRegistryUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Call(context.Background(), "no_such_tool", json.RawMessage(`{}`))
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("err = %v, want ErrUnknownTool", err)
	}
}

func TestRegistryDescriptionsOrdered(t *testing.T) {
	r := NewRegistry()
	noop := func(ctx context.Context, raw json.RawMessage) ([]msg.ToolResultContent, error) {
		return msg.TextResult("ok"), nil
	}
	r.Register(&Tool{Name: "b_tool", Handler: noop})
	r.Register(&Tool{Name: "a_tool", Handler: noop})
	r.Register(&Tool{Name: "b_tool", Description: "replaced", Handler: noop})

	descs := r.Descriptions()
	if len(descs) != 2 {
		t.Fatalf("got %d descriptions, want 2", len(descs))
	}
	if descs[0].Name != "b_tool" || descs[1].Name != "a_tool" {
		t.Errorf("ordering = %v, want registration order", []string{descs[0].Name, descs[1].Name})
	}
	if descs[0].Description != "replaced" {
		t.Errorf("duplicate registration did not replace: %q", descs[0].Description)
	}
}

func TestFileTools(t *testing.T) {
	workspace := t.TempDir()
	r := NewRegistry()
	RegisterFiles(r, workspace)

	out := callTool(t, r, "write_file", `{"path":"notes/todo.txt","content":"buy milk"}`)
	if !strings.Contains(out, "todo.txt") {
		t.Errorf("write result = %q", out)
	}

	got := callTool(t, r, "read_file", `{"path":"notes/todo.txt"}`)
	if got != "buy milk" {
		t.Errorf("read = %q", got)
	}

	listing := callTool(t, r, "list_files", `{"path":"notes"}`)
	if !strings.Contains(listing, "todo.txt") {
		t.Errorf("listing = %q", listing)
	}

	raw, err := os.ReadFile(filepath.Join(workspace, "notes", "todo.txt"))
	if err != nil || string(raw) != "buy milk" {
		t.Errorf("file on disk = %q, err = %v", raw, err)
	}
}

func TestFileToolsRejectEscape(t *testing.T) {
	r := NewRegistry()
	RegisterFiles(r, t.TempDir())

	for _, path := range []string{"../outside.txt", "a/../../outside.txt", ".."} {
		args, _ := json.Marshal(map[string]string{"path": path, "content": "x"})
		if _, err := r.Call(context.Background(), "write_file", args); err == nil {
			t.Errorf("path %q accepted, want workspace escape error", path)
		}
	}
}

func TestFileToolsDisabledWithoutWorkspace(t *testing.T) {
	r := NewRegistry()
	RegisterFiles(r, "")
	if _, ok := r.Get("read_file"); ok {
		t.Error("file tools registered without a workspace")
	}
}

func TestNotesTool(t *testing.T) {
	st := setupTestRegistryStore(t)
	r := NewRegistry()
	RegisterNotes(r, st)

	callTool(t, r, "notes", `{"operation":"write","title":"plan","content":"step one"}`)

	if got := callTool(t, r, "notes", `{"operation":"read","title":"plan"}`); got != "step one" {
		t.Errorf("read = %q", got)
	}
	if got := callTool(t, r, "notes", `{"operation":"list"}`); !strings.Contains(got, "plan") {
		t.Errorf("list = %q", got)
	}

	callTool(t, r, "notes", `{"operation":"delete","title":"plan"}`)
	if got := callTool(t, r, "notes", `{"operation":"read","title":"plan"}`); !strings.Contains(got, "No note") {
		t.Errorf("read after delete = %q", got)
	}

	if _, err := r.Call(context.Background(), "notes", json.RawMessage(`{"operation":"rename"}`)); err == nil {
		t.Error("unknown operation accepted")
	}
}

func TestScheduleTool(t *testing.T) {
	st := setupTestRegistryStore(t)
	r := NewRegistry()
	RegisterSchedule(r, st)

	out := callTool(t, r, "schedule_task", `{"cron":"0 9 * * *","content":"daily summary"}`)
	if out == "" {
		t.Fatal("empty schedule result")
	}

	tasks, err := st.ScheduledTasks()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Content != "daily summary" {
		t.Fatalf("tasks = %+v", tasks)
	}

	if _, err := r.Call(context.Background(), "schedule_task", json.RawMessage(`{"cron":"bad","content":"x"}`)); err == nil {
		t.Error("invalid cron accepted")
	}

	listing := callTool(t, r, "list_scheduled_tasks", `{}`)
	if !strings.Contains(listing, "daily summary") {
		t.Errorf("listing = %q", listing)
	}

	args, _ := json.Marshal(map[string]int64{"id": tasks[0].ID})
	callTool(t, r, "delete_scheduled_task", string(args))
	tasks, _ = st.ScheduledTasks()
	if len(tasks) != 0 {
		t.Errorf("tasks after delete = %+v", tasks)
	}
}
