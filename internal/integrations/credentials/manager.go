// Package credentials governs access-token lifecycle and the rate-limit
// cooldown for external integrations.
package credentials

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"livedesk/internal/events"
	"livedesk/internal/integrations/listings"
)

// Source says where a resolved token came from, in priority order.
type Source string

const (
	SourceDedicated Source = "dedicated"
	SourceUnified   Source = "unified"
	SourceEphemeral Source = "ephemeral"
)

// DefaultCooldown is the fixed circuit-breaker window after a quota error.
// The wrapped API enforces an aggressive per-minute quota; a flat window is
// enough for an operator-triggered integration.
const DefaultCooldown = 70 * time.Second

// Token is one access token with its expiry.
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	Source      Source    `json:"source"`
}

// Valid reports whether the token is usable at the given instant.
func (t *Token) Valid(now time.Time) bool {
	return t != nil && t.AccessToken != "" && t.ExpiresAt.After(now)
}

// TokenStore persists integration tokens.
type TokenStore interface {
	Token(ctx context.Context, integration string) (*Token, error)
	UnifiedToken(ctx context.Context) (*Token, error)
	Save(ctx context.Context, integration string, tok Token) error
	Delete(ctx context.Context, integration string) error
}

// Syncer runs the remote sync once a token is applied. The orchestrator in
// the listings package satisfies it.
type Syncer interface {
	Sync(ctx context.Context, accessToken string) listings.Outcome
}

// CooldownError is returned when ApplyToken is short-circuited by the
// cooldown window. Wait is always a positive number of whole seconds.
type CooldownError struct {
	Wait int
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("rate limit cooldown active, wait %d seconds before retrying", e.Wait)
}

// Manager owns token resolution, persistence, the in-flight guard and the
// cooldown window for one integration. All state is explicit and injected;
// there are no package-level singletons.
type Manager struct {
	integration string
	store       TokenStore
	syncer      Syncer
	cooldown    time.Duration
	bus         *events.Bus
	now         func() time.Time

	mu            sync.Mutex
	inFlight      bool
	ephemeral     *Token
	cooldownUntil time.Time
	lastError     string
}

// NewManager builds a manager. cooldown <= 0 and a nil clock use defaults.
func NewManager(integration string, store TokenStore, syncer Syncer, bus *events.Bus, cooldown time.Duration, now func() time.Time) *Manager {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if now == nil {
		now = time.Now
	}
	return &Manager{
		integration: integration,
		store:       store,
		syncer:      syncer,
		cooldown:    cooldown,
		bus:         bus,
		now:         now,
	}
}

// ResolveToken returns the first non-expired token in priority order:
// dedicated persisted token, unified cross-integration token, ephemeral
// token. Nil when none is valid.
func (m *Manager) ResolveToken(ctx context.Context) *Token {
	now := m.now()

	if tok, err := m.store.Token(ctx, m.integration); err != nil {
		log.Warn().Err(err).Str("integration", m.integration).Msg("Dedicated token lookup failed")
	} else if tok.Valid(now) {
		tok.Source = SourceDedicated
		return tok
	}

	if tok, err := m.store.UnifiedToken(ctx); err != nil {
		log.Warn().Err(err).Msg("Unified token lookup failed")
	} else if tok.Valid(now) {
		tok.Source = SourceUnified
		return tok
	}

	m.mu.Lock()
	eph := m.ephemeral
	m.mu.Unlock()
	if eph.Valid(now) {
		tok := *eph
		tok.Source = SourceEphemeral
		return &tok
	}

	return nil
}

// SetEphemeral holds a token in memory only, e.g. one obtained in a popup
// exchange the operator chose not to persist.
func (m *Manager) SetEphemeral(accessToken string, expiresIn int) {
	m.mu.Lock()
	m.ephemeral = &Token{
		AccessToken: accessToken,
		ExpiresAt:   m.now().Add(time.Duration(expiresIn) * time.Second),
		Source:      SourceEphemeral,
	}
	m.mu.Unlock()
}

// ApplyToken persists the token and triggers a sync. Concurrent calls
// collapse into the one in-progress sync; calls during the cooldown window
// short-circuit with a CooldownError and make no remote call.
func (m *Manager) ApplyToken(ctx context.Context, accessToken string, expiresIn int) error {
	m.mu.Lock()
	if wait := m.cooldownRemainingLocked(); wait > 0 {
		m.mu.Unlock()
		log.Info().Int("waitSeconds", wait).Str("integration", m.integration).Msg("ApplyToken rejected by cooldown window")
		return &CooldownError{Wait: wait}
	}
	if m.inFlight {
		m.mu.Unlock()
		log.Debug().Str("integration", m.integration).Msg("Sync already in flight, collapsing ApplyToken call")
		return nil
	}
	m.inFlight = true
	m.lastError = ""
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight = false
		m.mu.Unlock()
	}()

	tok := Token{
		AccessToken: accessToken,
		ExpiresAt:   m.now().Add(time.Duration(expiresIn) * time.Second),
		Source:      SourceDedicated,
	}
	if err := m.store.Save(ctx, m.integration, tok); err != nil {
		// Persistence failure degrades to an ephemeral token; the sync still
		// runs with what we were handed.
		log.Error().Err(err).Str("integration", m.integration).Msg("Failed to persist token, keeping it in memory")
		m.mu.Lock()
		m.ephemeral = &tok
		m.mu.Unlock()
	}

	outcome := m.syncer.Sync(ctx, accessToken)
	m.applyOutcome(ctx, outcome)
	return nil
}

func (m *Manager) applyOutcome(ctx context.Context, outcome listings.Outcome) {
	switch outcome.Kind {
	case listings.KindSuccess, listings.KindEmpty:
		m.mu.Lock()
		m.cooldownUntil = time.Time{}
		m.lastError = ""
		m.mu.Unlock()
	case listings.KindQuotaExceeded:
		m.RecordQuotaError()
		m.setError(outcome.Message)
	case listings.KindAuthExpired:
		if err := m.store.Delete(ctx, m.integration); err != nil {
			log.Warn().Err(err).Str("integration", m.integration).Msg("Failed to clear expired token")
		}
		m.mu.Lock()
		m.ephemeral = nil
		m.lastError = outcome.Message
		m.mu.Unlock()
	case listings.KindGenericError:
		m.setError(outcome.Message)
	}
}

func (m *Manager) setError(msg string) {
	m.mu.Lock()
	m.lastError = msg
	m.mu.Unlock()
}

// RecordQuotaError opens the cooldown window.
func (m *Manager) RecordQuotaError() {
	m.mu.Lock()
	m.cooldownUntil = m.now().Add(m.cooldown)
	until := m.cooldownUntil
	m.mu.Unlock()

	log.Warn().Time("until", until).Str("integration", m.integration).Msg("Quota error recorded, cooldown window opened")
	if m.bus != nil {
		m.bus.Publish(events.TopicIntegrationError, events.IntegrationError{
			Integration: m.integration,
			Kind:        listings.KindQuotaExceeded.String(),
			Message:     "rate limit exceeded",
			WaitSeconds: int(m.cooldown / time.Second),
		})
	}
}

// IsInCooldown reports whether the cooldown window is open.
func (m *Manager) IsInCooldown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cooldownRemainingLocked() > 0
}

// CooldownRemaining returns the whole seconds left in the window, rounded up;
// zero when the window is closed.
func (m *Manager) CooldownRemaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cooldownRemainingLocked()
}

func (m *Manager) cooldownRemainingLocked() int {
	remaining := m.cooldownUntil.Sub(m.now())
	if remaining <= 0 {
		return 0
	}
	secs := int((remaining + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// LastError returns the current error state, empty after a success.
func (m *Manager) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}

// Disconnect clears persisted and in-memory credentials plus the cooldown.
func (m *Manager) Disconnect(ctx context.Context) error {
	if err := m.store.Delete(ctx, m.integration); err != nil {
		return fmt.Errorf("deleting stored token: %w", err)
	}
	m.mu.Lock()
	m.ephemeral = nil
	m.cooldownUntil = time.Time{}
	m.lastError = ""
	m.mu.Unlock()
	log.Info().Str("integration", m.integration).Msg("Integration disconnected")
	return nil
}

// State is the credential view the dashboard renders.
type State struct {
	Connected   bool      `json:"connected"`
	Source      Source    `json:"source,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	InCooldown  bool      `json:"in_cooldown"`
	WaitSeconds int       `json:"wait_seconds,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// State summarizes the manager for the presentation layer.
func (m *Manager) State(ctx context.Context) State {
	st := State{}
	if tok := m.ResolveToken(ctx); tok != nil {
		st.Connected = true
		st.Source = tok.Source
		st.ExpiresAt = tok.ExpiresAt
	}
	st.WaitSeconds = m.CooldownRemaining()
	st.InCooldown = st.WaitSeconds > 0
	st.LastError = m.LastError()
	return st
}
