package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"livedesk/internal/presence"
)

// SessionStore reads visitor-session records written by the tracking beacon.
type SessionStore struct {
	db *DB
}

// NewSessionStore wraps the shared handle.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

type sessionRow struct {
	SessionID      string         `db:"session_id"`
	IdentityID     sql.NullString `db:"identity_id"`
	FirstPage      string         `db:"first_page"`
	StartedAt      time.Time      `db:"started_at"`
	LastActivityAt time.Time      `db:"last_activity_at"`
	PageCount      int            `db:"page_count"`
}

// RecentSessions returns sessions active within the window, most recent
// first, capped at limit.
func (s *SessionStore) RecentSessions(ctx context.Context, window time.Duration, limit int) ([]presence.Session, error) {
	query := s.db.Rebind(`
		SELECT session_id, identity_id, first_page, started_at, last_activity_at, page_count
		FROM sessions
		WHERE last_activity_at >= ?
		ORDER BY last_activity_at DESC
		LIMIT ?`)

	var rows []sessionRow
	if err := s.db.SelectContext(ctx, &rows, query, time.Now().Add(-window), limit); err != nil {
		return nil, fmt.Errorf("selecting recent sessions: %w", err)
	}

	sessions := make([]presence.Session, 0, len(rows))
	for _, r := range rows {
		sessions = append(sessions, presence.Session{
			SessionID:      r.SessionID,
			IdentityID:     r.IdentityID.String,
			FirstPage:      r.FirstPage,
			StartedAt:      r.StartedAt,
			LastActivityAt: r.LastActivityAt,
			PageCount:      r.PageCount,
		})
	}
	return sessions, nil
}

// Touch records a page view: inserts the session on first sight, otherwise
// bumps last_activity_at and the page count.
func (s *SessionStore) Touch(ctx context.Context, sessionID, identityID, page string, at time.Time) error {
	identity := sql.NullString{String: identityID, Valid: identityID != ""}
	query := s.db.Rebind(`
		INSERT INTO sessions (session_id, identity_id, first_page, started_at, last_activity_at, page_count)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT (session_id) DO UPDATE SET
			identity_id = COALESCE(excluded.identity_id, sessions.identity_id),
			last_activity_at = excluded.last_activity_at,
			page_count = sessions.page_count + 1`)

	if _, err := s.db.ExecContext(ctx, query, sessionID, identity, page, at, at); err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return nil
}
