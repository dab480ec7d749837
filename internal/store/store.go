// Package store provides the SQLite persistence layer: tasks and
// their message history, the memory graph, scheduler state, scheduled
// tasks, notes, and the agent's credit balance.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store is a SQLite-backed persistence layer. All mutating operations
// that touch more than one table run in a single transaction.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dbPath and applies the
// schema.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewWithDB wraps an existing database handle. Used by tests with an
// in-memory driver.
func NewWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Process-wide agent state, single row.
	CREATE TABLE IF NOT EXISTS agent_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		balance INTEGER NOT NULL DEFAULT 0
	);

	-- Tasks
	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		complexity REAL NOT NULL,
		payload TEXT NOT NULL,
		done BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_done ON tasks(done, updated_at);

	-- Per-task conversation history
	CREATE TABLE IF NOT EXISTS task_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id INTEGER NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_task_messages_task ON task_messages(task_id, id);

	-- Card-keyed assistant chat history
	CREATE TABLE IF NOT EXISTS assistant_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		card_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_assistant_messages_card ON assistant_messages(card_id, id);

	-- Memory graph
	CREATE TABLE IF NOT EXISTS mem_entities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		importance REAL NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0,
		observations TEXT NOT NULL DEFAULT '[]',
		embedding BLOB,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (name, entity_type)
	);
	CREATE INDEX IF NOT EXISTS idx_mem_entities_type ON mem_entities(entity_type, importance);

	CREATE TABLE IF NOT EXISTS mem_relations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_id INTEGER NOT NULL,
		to_id INTEGER NOT NULL,
		relation_type TEXT NOT NULL,
		FOREIGN KEY (from_id) REFERENCES mem_entities(id) ON DELETE CASCADE,
		FOREIGN KEY (to_id) REFERENCES mem_entities(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_mem_relations_from ON mem_relations(from_id);
	CREATE INDEX IF NOT EXISTS idx_mem_relations_to ON mem_relations(to_id);

	-- Ad-hoc scheduled tasks
	CREATE TABLE IF NOT EXISTS scheduled_tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cron TEXT NOT NULL,
		kind TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	-- Scheduler upcoming-fire map, single row JSON blob
	CREATE TABLE IF NOT EXISTS scheduler_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		upcoming TEXT NOT NULL
	);

	-- Free-form agent notes
	CREATE TABLE IF NOT EXISTS notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL UNIQUE,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO agent_state (id, balance) VALUES (1, 0)`)
	return err
}

// Balance returns the current credit balance.
func (s *Store) Balance() (uint32, error) {
	var balance int64
	err := s.db.QueryRow(`SELECT balance FROM agent_state WHERE id = 1`).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	if balance < 0 {
		balance = 0
	}
	return uint32(balance), nil
}

// SetBalance persists the credit balance.
func (s *Store) SetBalance(balance uint32) error {
	if _, err := s.db.Exec(`UPDATE agent_state SET balance = ? WHERE id = 1`, balance); err != nil {
		return fmt.Errorf("write balance: %w", err)
	}
	return nil
}
