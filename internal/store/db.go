// Package store implements the SQL-backed session, conversation, profile and
// credential stores on sqlx, with postgres and sqlite dialects.
package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// DB wraps the sqlx handle with its dialect.
type DB struct {
	*sqlx.DB
	Dialect string
	DSN     string
}

// Open connects to the database and runs migrations.
func Open(dialect, dsn string) (*DB, error) {
	var driver string
	switch dialect {
	case "postgres":
		driver = "postgres"
	case "sqlite":
		driver = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	dbx, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", dialect, err)
	}

	db := &DB{DB: dbx, Dialect: dialect, DSN: dsn}
	if err := db.migrate(); err != nil {
		_ = dbx.Close()
		return nil, err
	}

	log.Info().Str("dialect", dialect).Msg("Database connection established")
	return db, nil
}

var timestampType = map[string]string{
	"postgres": "TIMESTAMPTZ",
	"sqlite":   "TIMESTAMP",
}

func (db *DB) migrate() error {
	ts := timestampType[db.Dialect]

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			identity_id TEXT,
			first_page TEXT NOT NULL DEFAULT '',
			started_at %s NOT NULL,
			last_activity_at %s NOT NULL,
			page_count INTEGER NOT NULL DEFAULT 1
		)`, ts, ts),
		`CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON sessions (last_activity_at)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			visitor_name TEXT NOT NULL DEFAULT '',
			visitor_email TEXT NOT NULL DEFAULT '',
			current_page TEXT NOT NULL DEFAULT '',
			last_message_at %s,
			created_at %s NOT NULL
		)`, ts, ts),
		// One open conversation per session; the promote race resolves here.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_open_session
			ON conversations (session_id) WHERE status IN ('active', 'pending')`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT 'text',
			body TEXT NOT NULL DEFAULT '',
			attachment_url TEXT NOT NULL DEFAULT '',
			created_at %s NOT NULL
		)`, ts),
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id)`,

		`CREATE TABLE IF NOT EXISTS profiles (
			identity_id TEXT PRIMARY KEY,
			avatar_url TEXT NOT NULL DEFAULT '',
			full_name TEXT NOT NULL DEFAULT ''
		)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS integration_tokens (
			integration TEXT PRIMARY KEY,
			access_token TEXT NOT NULL,
			expires_at %s NOT NULL,
			source TEXT NOT NULL DEFAULT 'dedicated'
		)`, ts),
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("running migration: %w", err)
		}
	}

	if db.Dialect == "postgres" {
		if err := db.installConversationNotify(); err != nil {
			return err
		}
	}

	log.Info().Int("statements", len(stmts)).Msg("Database migration completed")
	return nil
}

// installConversationNotify wires pg_notify so conversation inserts and
// updates reach the in-process watcher without polling.
func (db *DB) installConversationNotify() error {
	stmts := []string{
		`CREATE OR REPLACE FUNCTION livedesk_conversations_notify() RETURNS trigger AS $$
		BEGIN
			PERFORM pg_notify('conversations_changed', NEW.id);
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS conversations_notify ON conversations`,
		`CREATE TRIGGER conversations_notify
			AFTER INSERT OR UPDATE ON conversations
			FOR EACH ROW EXECUTE FUNCTION livedesk_conversations_notify()`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("installing conversation notify trigger: %w", err)
		}
	}
	return nil
}
