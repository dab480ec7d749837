package store

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hcengineering/huly-ai-agent-sub000/internal/msg"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/task"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewWithDB(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestBalance(t *testing.T) {
	s := setupTestStore(t)

	got, err := s.Balance()
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got != 0 {
		t.Errorf("initial balance = %d, want 0", got)
	}

	if err := s.SetBalance(9950); err != nil {
		t.Fatalf("set balance: %v", err)
	}
	got, err = s.Balance()
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got != 9950 {
		t.Errorf("balance = %d, want 9950", got)
	}
}

func TestCreateTaskWithSeed(t *testing.T) {
	s := setupTestStore(t)

	tk := task.New(task.KindDirectQuestion)
	tk.PersonName = "Ada"
	tk.Content = "what time is it"
	seed := msg.User(tk.InitialMessage())

	if err := s.CreateTask(tk, &seed); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if tk.ID == 0 {
		t.Fatal("task id not assigned")
	}

	loaded, err := s.Task(tk.ID)
	if err != nil {
		t.Fatalf("load task: %v", err)
	}
	if loaded.Kind != task.KindDirectQuestion || loaded.PersonName != "Ada" {
		t.Errorf("loaded task = %+v", loaded)
	}
	if loaded.Complexity != task.DefaultComplexity {
		t.Errorf("complexity = %v, want %v", loaded.Complexity, task.DefaultComplexity)
	}

	messages, err := s.TaskMessages(tk.ID)
	if err != nil {
		t.Fatalf("task messages: %v", err)
	}
	if len(messages) != 1 || messages[0].Role != msg.RoleUser {
		t.Fatalf("seed not persisted: %+v", messages)
	}
}

func TestPendingTasksAndDone(t *testing.T) {
	s := setupTestStore(t)

	first := task.New(task.KindFollowChat)
	second := task.New(task.KindResearch)
	if err := s.CreateTask(first, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateTask(second, nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	pending, err := s.PendingTasks()
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != first.ID {
		t.Fatalf("pending = %+v", pending)
	}

	if err := s.MarkTaskDone(first.ID); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	pending, err = s.PendingTasks()
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != second.ID {
		t.Fatalf("pending after done = %+v", pending)
	}
}

func TestUpdateTaskComplexity(t *testing.T) {
	s := setupTestStore(t)

	tk := task.New(task.KindMention)
	if err := s.CreateTask(tk, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.UpdateTaskComplexity(tk.ID, 42.5); err != nil {
		t.Fatalf("update: %v", err)
	}
	loaded, err := s.Task(tk.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Complexity != 42.5 {
		t.Errorf("complexity = %v, want 42.5", loaded.Complexity)
	}
}

func TestPurgeDoneTasks(t *testing.T) {
	s := setupTestStore(t)

	old := task.New(task.KindSleep)
	fresh := task.New(task.KindSleep)
	active := task.New(task.KindSleep)
	for _, tk := range []*task.Task{old, fresh, active} {
		if err := s.CreateTask(tk, nil); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := s.MarkTaskDone(old.ID); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	if err := s.MarkTaskDone(fresh.ID); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	// Age the first task past the cutoff.
	if _, err := s.db.Exec(`UPDATE tasks SET updated_at = ? WHERE id = ?`, time.Now().UTC().Add(-8*24*time.Hour), old.ID); err != nil {
		t.Fatalf("age task: %v", err)
	}

	n, err := s.PurgeDoneTasks(time.Now().UTC().Add(-7 * 24 * time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d tasks, want 1", n)
	}
	if _, err := s.Task(old.ID); err == nil {
		t.Error("aged done task still present")
	}
	if _, err := s.Task(active.ID); err != nil {
		t.Errorf("active task purged: %v", err)
	}
}

func TestTaskMessageHistory(t *testing.T) {
	s := setupTestStore(t)

	tk := task.New(task.KindDirectQuestion)
	if err := s.CreateTask(tk, nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.AppendTaskMessage(tk.ID, msg.User("q")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendTaskMessage(tk.ID, msg.Assistant("a")); err != nil {
		t.Fatalf("append: %v", err)
	}

	messages, err := s.TaskMessages(tk.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(messages) != 2 || messages[0].Text() != "q" || messages[1].Text() != "a" {
		t.Fatalf("messages = %+v", messages)
	}

	if err := s.ReplaceTaskMessages(tk.ID, []msg.Message{msg.User("only")}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	messages, err = s.TaskMessages(tk.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(messages) != 1 || messages[0].Text() != "only" {
		t.Fatalf("replaced messages = %+v", messages)
	}
}

func TestAssistantMessageHistory(t *testing.T) {
	s := setupTestStore(t)

	if err := s.AppendAssistantMessage("card-1", msg.User("hi")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendAssistantMessage("card-2", msg.User("other card")); err != nil {
		t.Fatalf("append: %v", err)
	}

	messages, err := s.AssistantMessages("card-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(messages) != 1 || messages[0].Text() != "hi" {
		t.Fatalf("messages = %+v", messages)
	}

	if err := s.ReplaceAssistantMessages("card-1", nil); err != nil {
		t.Fatalf("replace: %v", err)
	}
	messages, err = s.AssistantMessages("card-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("card-1 should be empty, got %+v", messages)
	}
	if got, _ := s.AssistantMessages("card-2"); len(got) != 1 {
		t.Errorf("card-2 history affected: %+v", got)
	}
}
