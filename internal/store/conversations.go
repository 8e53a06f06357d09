package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"livedesk/internal/chat"
)

// ConversationStore persists conversations and messages.
type ConversationStore struct {
	db *DB
}

// NewConversationStore wraps the shared handle.
func NewConversationStore(db *DB) *ConversationStore {
	return &ConversationStore{db: db}
}

// InsertOpen inserts the conversation unless its session already backs an
// open one. The partial unique index on open conversations turns the
// double-promote race into chat.ErrAlreadyPromoted for the loser.
func (s *ConversationStore) InsertOpen(ctx context.Context, conv chat.Conversation) error {
	query := s.db.Rebind(`
		INSERT INTO conversations (id, session_id, status, visitor_name, visitor_email, current_page, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`)

	res, err := s.db.ExecContext(ctx, query,
		conv.ID, conv.SessionID, conv.Status, conv.VisitorName, conv.VisitorEmail, conv.CurrentPage, conv.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking conversation insert: %w", err)
	}
	if affected == 0 {
		return chat.ErrAlreadyPromoted
	}
	return nil
}

// InsertMessage appends a message and bumps the conversation's
// last_message_at.
func (s *ConversationStore) InsertMessage(ctx context.Context, msg chat.Message) error {
	query := s.db.Rebind(`
		INSERT INTO messages (id, conversation_id, kind, body, attachment_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.ConversationID, msg.Kind, msg.Body, msg.AttachmentURL, msg.CreatedAt); err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	bump := s.db.Rebind(`UPDATE conversations SET last_message_at = ? WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, bump, msg.CreatedAt, msg.ConversationID); err != nil {
		return fmt.Errorf("bumping last_message_at: %w", err)
	}
	return nil
}

// OpenSessionIDs returns the session ids backing active or pending
// conversations.
func (s *ConversationStore) OpenSessionIDs(ctx context.Context) (map[string]bool, error) {
	var ids []string
	query := `SELECT session_id FROM conversations WHERE status IN ('active', 'pending')`
	if err := s.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("selecting open session ids: %w", err)
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

type conversationRow struct {
	ID            string       `db:"id"`
	SessionID     string       `db:"session_id"`
	Status        string       `db:"status"`
	VisitorName   string       `db:"visitor_name"`
	VisitorEmail  string       `db:"visitor_email"`
	CurrentPage   string       `db:"current_page"`
	LastMessageAt sql.NullTime `db:"last_message_at"`
	CreatedAt     time.Time    `db:"created_at"`
}

func (r conversationRow) toConversation() chat.Conversation {
	conv := chat.Conversation{
		ID:           r.ID,
		SessionID:    r.SessionID,
		Status:       r.Status,
		VisitorName:  r.VisitorName,
		VisitorEmail: r.VisitorEmail,
		CurrentPage:  r.CurrentPage,
		CreatedAt:    r.CreatedAt,
	}
	if r.LastMessageAt.Valid {
		t := r.LastMessageAt.Time
		conv.LastMessageAt = &t
	}
	return conv
}

// OpenConversations lists active and pending conversations, newest first.
func (s *ConversationStore) OpenConversations(ctx context.Context) ([]chat.Conversation, error) {
	var rows []conversationRow
	query := `
		SELECT id, session_id, status, visitor_name, visitor_email, current_page, last_message_at, created_at
		FROM conversations
		WHERE status IN ('active', 'pending')
		ORDER BY created_at DESC`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("selecting open conversations: %w", err)
	}

	out := make([]chat.Conversation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toConversation())
	}
	return out, nil
}

// OpenCount returns how many conversations are active or pending.
func (s *ConversationStore) OpenCount(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM conversations WHERE status IN ('active', 'pending')`
	if err := s.db.GetContext(ctx, &count, query); err != nil {
		return 0, fmt.Errorf("counting open conversations: %w", err)
	}
	return count, nil
}

// SetStatus transitions a conversation, e.g. pending -> active on the first
// operator reply or -> closed on termination.
func (s *ConversationStore) SetStatus(ctx context.Context, conversationID, status string) error {
	status = strings.ToLower(status)
	switch status {
	case chat.StatusPending, chat.StatusActive, chat.StatusClosed:
	default:
		return fmt.Errorf("unknown conversation status %q", status)
	}

	query := s.db.Rebind(`UPDATE conversations SET status = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, status, conversationID)
	if err != nil {
		return fmt.Errorf("updating conversation status: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	return nil
}
