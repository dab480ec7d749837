package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ScheduledTask is an ad-hoc recurring task created at runtime by the
// model, as opposed to the static job table in configuration.
type ScheduledTask struct {
	ID        int64
	Cron      string
	Kind      string
	Content   string
	CreatedAt time.Time
}

// CreateScheduledTask persists an ad-hoc scheduled task.
func (s *Store) CreateScheduledTask(t *ScheduledTask) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.Exec(
		`INSERT INTO scheduled_tasks (cron, kind, content, created_at) VALUES (?, ?, ?, ?)`,
		t.Cron, t.Kind, t.Content, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert scheduled task: %w", err)
	}
	t.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("scheduled task id: %w", err)
	}
	return nil
}

// ScheduledTasks lists all ad-hoc scheduled tasks.
func (s *Store) ScheduledTasks() ([]ScheduledTask, error) {
	rows, err := s.db.Query(`SELECT id, cron, kind, content, created_at FROM scheduled_tasks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query scheduled tasks: %w", err)
	}
	defer rows.Close()
	var out []ScheduledTask
	for rows.Next() {
		var t ScheduledTask
		if err := rows.Scan(&t.ID, &t.Cron, &t.Kind, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan scheduled task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteScheduledTask removes an ad-hoc scheduled task.
func (s *Store) DeleteScheduledTask(id int64) error {
	if _, err := s.db.Exec(`DELETE FROM scheduled_tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete scheduled task: %w", err)
	}
	return nil
}

// UpcomingFires loads the scheduler's persisted job_id → next-fire
// map. Missing state yields an empty map, not an error.
func (s *Store) UpcomingFires() (map[string]time.Time, error) {
	var raw string
	err := s.db.QueryRow(`SELECT upcoming FROM scheduler_state WHERE id = 1`).Scan(&raw)
	if err == sql.ErrNoRows {
		return map[string]time.Time{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read scheduler state: %w", err)
	}
	out := map[string]time.Time{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("unmarshal scheduler state: %w", err)
	}
	return out, nil
}

// SetUpcomingFires persists the scheduler's fire map.
func (s *Store) SetUpcomingFires(m map[string]time.Time) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal scheduler state: %w", err)
	}
	if _, err := s.db.Exec(
		`INSERT INTO scheduler_state (id, upcoming) VALUES (1, ?)
		 ON CONFLICT (id) DO UPDATE SET upcoming = excluded.upcoming`,
		string(raw),
	); err != nil {
		return fmt.Errorf("write scheduler state: %w", err)
	}
	return nil
}
