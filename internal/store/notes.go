package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Note is a free-form titled note the agent keeps for itself.
type Note struct {
	ID        int64
	Title     string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UpsertNote creates or replaces a note by title.
func (s *Store) UpsertNote(title, content string) error {
	now := time.Now().UTC()
	if _, err := s.db.Exec(
		`INSERT INTO notes (title, content, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (title) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		title, content, now, now,
	); err != nil {
		return fmt.Errorf("upsert note: %w", err)
	}
	return nil
}

// Note returns one note by title, or nil when absent.
func (s *Store) Note(title string) (*Note, error) {
	var n Note
	err := s.db.QueryRow(
		`SELECT id, title, content, created_at, updated_at FROM notes WHERE title = ?`, title,
	).Scan(&n.ID, &n.Title, &n.Content, &n.CreatedAt, &n.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read note: %w", err)
	}
	return &n, nil
}

// Notes lists all notes, most recently updated first.
func (s *Store) Notes() ([]Note, error) {
	rows, err := s.db.Query(`SELECT id, title, content, created_at, updated_at FROM notes ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()
	var out []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.Title, &n.Content, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// DeleteNote removes a note by title.
func (s *Store) DeleteNote(title string) error {
	if _, err := s.db.Exec(`DELETE FROM notes WHERE title = ?`, title); err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return nil
}
