package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hcengineering/huly-ai-agent-sub000/internal/msg"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/task"
)

// CreateTask persists a task, optionally with its seed message, in one
// transaction. The task's ID is filled in on success.
func (s *Store) CreateTask(t *task.Task, seed *msg.Message) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task payload: %w", err)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO tasks (kind, complexity, payload, done, created_at, updated_at) VALUES (?, ?, ?, FALSE, ?, ?)`,
		string(t.Kind), t.Complexity, string(payload), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("task id: %w", err)
	}
	t.ID = id

	if seed != nil {
		raw, err := json.Marshal(seed)
		if err != nil {
			return fmt.Errorf("marshal seed message: %w", err)
		}
		if _, err := tx.Exec(
			`INSERT INTO task_messages (task_id, content, created_at) VALUES (?, ?, ?)`,
			id, string(raw), time.Now().UTC(),
		); err != nil {
			return fmt.Errorf("insert seed message: %w", err)
		}
	}
	return tx.Commit()
}

// Task loads one task by id.
func (s *Store) Task(id int64) (*task.Task, error) {
	row := s.db.QueryRow(`SELECT id, kind, complexity, payload, done, created_at, updated_at FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// PendingTasks returns all non-done tasks ordered by creation.
func (s *Store) PendingTasks() ([]*task.Task, error) {
	rows, err := s.db.Query(`SELECT id, kind, complexity, payload, done, created_at, updated_at FROM tasks WHERE done = FALSE ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query pending tasks: %w", err)
	}
	defer rows.Close()

	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var (
		id         int64
		kind       string
		complexity float64
		payload    string
		done       bool
		createdAt  time.Time
		updatedAt  time.Time
	)
	if err := row.Scan(&id, &kind, &complexity, &payload, &done, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("task not found")
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t := &task.Task{}
	if err := json.Unmarshal([]byte(payload), t); err != nil {
		return nil, fmt.Errorf("unmarshal task payload: %w", err)
	}
	t.ID = id
	t.Kind = task.Kind(kind)
	t.Complexity = complexity
	t.Done = done
	t.CreatedAt = createdAt
	t.UpdatedAt = updatedAt
	return t, nil
}

// UpdateTaskComplexity persists a revised complexity estimate.
func (s *Store) UpdateTaskComplexity(id int64, complexity float64) error {
	if _, err := s.db.Exec(`UPDATE tasks SET complexity = ?, updated_at = ? WHERE id = ?`, complexity, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("update task complexity: %w", err)
	}
	return nil
}

// MarkTaskDone flags a task as terminal.
func (s *Store) MarkTaskDone(id int64) error {
	if _, err := s.db.Exec(`UPDATE tasks SET done = TRUE, updated_at = ? WHERE id = ?`, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("mark task done: %w", err)
	}
	return nil
}

// PurgeDoneTasks deletes done tasks untouched since the cutoff, along
// with their message history.
func (s *Store) PurgeDoneTasks(olderThan time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM tasks WHERE done = TRUE AND updated_at < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge done tasks: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// AppendTaskMessage appends one message to a task's history.
func (s *Store) AppendTaskMessage(taskID int64, m msg.Message) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if _, err := s.db.Exec(
		`INSERT INTO task_messages (task_id, content, created_at) VALUES (?, ?, ?)`,
		taskID, string(raw), time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("append task message: %w", err)
	}
	return nil
}

// TaskMessages loads a task's history in append order.
func (s *Store) TaskMessages(taskID int64) ([]msg.Message, error) {
	rows, err := s.db.Query(`SELECT content FROM task_messages WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query task messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ReplaceTaskMessages rewrites a task's entire history in one
// transaction. Used after integrity pruning and image externalization.
func (s *Store) ReplaceTaskMessages(taskID int64, messages []msg.Message) error {
	return s.replaceMessages(`DELETE FROM task_messages WHERE task_id = ?`,
		`INSERT INTO task_messages (task_id, content, created_at) VALUES (?, ?, ?)`,
		taskID, messages)
}

// AppendAssistantMessage appends one message to a card's chat history.
func (s *Store) AppendAssistantMessage(cardID string, m msg.Message) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if _, err := s.db.Exec(
		`INSERT INTO assistant_messages (card_id, content, created_at) VALUES (?, ?, ?)`,
		cardID, string(raw), time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("append assistant message: %w", err)
	}
	return nil
}

// AssistantMessages loads a card's chat history in append order.
func (s *Store) AssistantMessages(cardID string) ([]msg.Message, error) {
	rows, err := s.db.Query(`SELECT content FROM assistant_messages WHERE card_id = ? ORDER BY id`, cardID)
	if err != nil {
		return nil, fmt.Errorf("query assistant messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ReplaceAssistantMessages rewrites a card's entire chat history.
func (s *Store) ReplaceAssistantMessages(cardID string, messages []msg.Message) error {
	return s.replaceMessages(`DELETE FROM assistant_messages WHERE card_id = ?`,
		`INSERT INTO assistant_messages (card_id, content, created_at) VALUES (?, ?, ?)`,
		cardID, messages)
}

func (s *Store) replaceMessages(deleteQ, insertQ string, key any, messages []msg.Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(deleteQ, key); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	now := time.Now().UTC()
	for _, m := range messages {
		raw, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		if _, err := tx.Exec(insertQ, key, string(raw), now); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return tx.Commit()
}

func scanMessages(rows *sql.Rows) ([]msg.Message, error) {
	var out []msg.Message
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		var m msg.Message
		if err := json.Unmarshal([]byte(content), &m); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
