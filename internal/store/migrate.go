package store

import "fmt"

// migrations are applied in order; PRAGMA user_version records how many ran.
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS principals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			user_name TEXT,
			first_name TEXT,
			last_name TEXT,
			karma REAL NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			UNIQUE (chat_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS reminders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id INTEGER NOT NULL,
			owner_id INTEGER NOT NULL REFERENCES principals(id),
			text TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			next_fire_at INTEGER NOT NULL,
			planned_at INTEGER NOT NULL,
			last_fired_at INTEGER,
			recurrence TEXT,
			status INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders(status, next_fire_at)`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_chat ON reminders(chat_id, status)`,
	},
	{
		`CREATE TABLE IF NOT EXISTS sent_messages (
			chat_id INTEGER NOT NULL,
			message_id INTEGER NOT NULL,
			sent_at INTEGER NOT NULL,
			PRIMARY KEY (chat_id, message_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sent_messages_sent ON sent_messages(sent_at)`,
	},
}

func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}
		for _, stmt := range migrations[i] {
			if _, err := tx.Exec(stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d: %w", i+1, err)
			}
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("set schema version %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}
	return nil
}

// SchemaVersion reports how many migrations have been applied.
func (s *Store) SchemaVersion() (int, error) {
	var version int
	if err := s.db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
