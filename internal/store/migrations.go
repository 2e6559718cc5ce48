package store

import (
	"context"
	"database/sql"
)

// Migration is a single schema change. Each migration has a unique ID and is
// applied at most once, in ID order.
type Migration struct {
	ID int
	Up func(db *sql.DB) error
}

var migrations = []Migration{
	{
		ID: 1,
		Up: func(db *sql.DB) error {
			_, err := db.Exec(`
				CREATE TABLE IF NOT EXISTS conversations (
					id TEXT PRIMARY KEY,
					session_id TEXT NOT NULL,
					question TEXT NOT NULL,
					answer TEXT NOT NULL,
					response_time REAL NOT NULL,
					relevance TEXT NOT NULL,
					relevance_explanation TEXT NOT NULL,
					prompt_tokens INTEGER NOT NULL,
					completion_tokens INTEGER NOT NULL,
					total_tokens INTEGER NOT NULL,
					rewrite_tokens INTEGER NOT NULL DEFAULT 0,
					eval_prompt_tokens INTEGER NOT NULL,
					eval_completion_tokens INTEGER NOT NULL,
					eval_total_tokens INTEGER NOT NULL,
					cost TEXT NOT NULL,
					created_at DATETIME NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_conversations_session ON conversations(session_id);
				CREATE INDEX IF NOT EXISTS idx_conversations_created ON conversations(created_at);
			`)
			return err
		},
	},
	{
		ID: 2,
		Up: func(db *sql.DB) error {
			_, err := db.Exec(`
				CREATE TABLE IF NOT EXISTS feedback (
					id TEXT PRIMARY KEY,
					session_id TEXT NOT NULL,
					question TEXT NOT NULL,
					answer TEXT NOT NULL,
					feedback INTEGER NOT NULL CHECK (feedback IN (-1, 1)),
					created_at DATETIME NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_feedback_session ON feedback(session_id);
			`)
			return err
		},
	},
}

// applyMigrations applies all pending migrations in order.
func applyMigrations(ctx context.Context, db *sql.DB, logf func(msg string, args ...any)) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	rows, err := db.QueryContext(ctx, `SELECT id FROM migrations`)
	if err != nil {
		return err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return err
		}
		applied[id] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.ID] {
			continue
		}
		logf("applying migration %d", m.ID)
		if err := m.Up(db); err != nil {
			return err
		}
		if _, err := db.Exec(`INSERT INTO migrations (id) VALUES (?)`, m.ID); err != nil {
			return err
		}
	}
	return nil
}
