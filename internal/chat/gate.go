// Package chat exposes which live visitors can still be pulled into a
// conversation and promotes sessions into new ones.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"livedesk/internal/events"
	"livedesk/internal/presence"
)

// Conversation statuses.
const (
	StatusPending = "pending"
	StatusActive  = "active"
	StatusClosed  = "closed"
)

// Conversation is one operator/visitor chat thread.
type Conversation struct {
	ID            string     `db:"id" json:"id"`
	SessionID     string     `db:"session_id" json:"session_id"`
	Status        string     `db:"status" json:"status"`
	VisitorName   string     `db:"visitor_name" json:"visitor_name,omitempty"`
	VisitorEmail  string     `db:"visitor_email" json:"visitor_email,omitempty"`
	CurrentPage   string     `db:"current_page" json:"current_page,omitempty"`
	LastMessageAt *time.Time `db:"last_message_at" json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// Message kinds.
const (
	MessageKindSystem     = "system"
	MessageKindText       = "text"
	MessageKindAttachment = "attachment"
)

// Message is one entry in a conversation.
type Message struct {
	ID             string    `db:"id" json:"id"`
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	Kind           string    `db:"kind" json:"kind"`
	Body           string    `db:"body" json:"body,omitempty"`
	AttachmentURL  string    `db:"attachment_url" json:"attachment_url,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

var (
	// ErrSelfPromotion is returned when the operator tries to open a
	// conversation with their own session.
	ErrSelfPromotion = errors.New("cannot promote the operator's own session")
	// ErrAlreadyPromoted is returned when the session already backs an open
	// conversation (e.g. a second operator won the race).
	ErrAlreadyPromoted = errors.New("session already has an open conversation")
	// ErrUnknownSession is returned when the session is not in the current
	// canonical snapshot.
	ErrUnknownSession = errors.New("session not found in live snapshot")
)

// ConversationStore persists conversations and their messages.
type ConversationStore interface {
	// InsertOpen inserts the conversation unless the session already backs an
	// open one; in that case it returns ErrAlreadyPromoted.
	InsertOpen(ctx context.Context, conv Conversation) error
	InsertMessage(ctx context.Context, msg Message) error
	OpenSessionIDs(ctx context.Context) (map[string]bool, error)
	OpenConversations(ctx context.Context) ([]Conversation, error)
}

// VisitorSource supplies the current canonical snapshot.
type VisitorSource interface {
	Snapshot() []presence.Visitor
}

// Gate promotes live visitor sessions into conversations.
type Gate struct {
	store    ConversationStore
	visitors VisitorSource
	bus      *events.Bus
	now      func() time.Time
}

// NewGate creates a Gate. now may be nil for the wall clock.
func NewGate(store ConversationStore, visitors VisitorSource, bus *events.Bus, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{store: store, visitors: visitors, bus: bus, now: now}
}

// ListAvailable returns canonical visitors not already backing an open
// conversation.
func (g *Gate) ListAvailable(ctx context.Context) ([]presence.Visitor, error) {
	open, err := g.store.OpenSessionIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing open conversations: %w", err)
	}

	snapshot := g.visitors.Snapshot()
	available := make([]presence.Visitor, 0, len(snapshot))
	for _, v := range snapshot {
		if open[v.SessionID] {
			continue
		}
		available = append(available, v)
	}
	return available, nil
}

// Promote converts a live, unassigned visitor session into an active
// conversation with a synthetic system message recording the originating page.
func (g *Gate) Promote(ctx context.Context, sessionID string) (*Conversation, error) {
	var visitor *presence.Visitor
	for _, v := range g.visitors.Snapshot() {
		if v.SessionID == sessionID {
			visitor = &v
			break
		}
	}
	if visitor == nil {
		return nil, ErrUnknownSession
	}
	if visitor.IsSelf {
		return nil, ErrSelfPromotion
	}

	now := g.now()
	conv := Conversation{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Status:      StatusActive,
		VisitorName: visitor.DisplayName,
		CurrentPage: visitor.FirstPage,
		CreatedAt:   now,
	}

	if err := g.store.InsertOpen(ctx, conv); err != nil {
		if errors.Is(err, ErrAlreadyPromoted) {
			return nil, err
		}
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}

	msg := Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Kind:           MessageKindSystem,
		Body:           fmt.Sprintf("Conversation started from %s", visitor.FirstPage),
		CreatedAt:      now,
	}
	if err := g.store.InsertMessage(ctx, msg); err != nil {
		// The conversation exists either way; the missing marker is logged,
		// not fatal.
		log.Error().Err(err).Str("conversationID", conv.ID).Msg("Failed to insert system message")
	}

	log.Info().
		Str("conversationID", conv.ID).
		Str("sessionID", sessionID).
		Str("page", visitor.FirstPage).
		Msg("Session promoted to conversation")

	if g.bus != nil {
		g.bus.Publish(events.TopicConversationCreated, events.ConversationCreated{
			ConversationID: conv.ID,
			SessionID:      sessionID,
			Page:           visitor.FirstPage,
			CreatedAt:      now,
		})
	}

	return &conv, nil
}
