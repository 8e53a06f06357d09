package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"livedesk/internal/events"
)

// SessionSource lists recently active sessions, most recent first.
type SessionSource interface {
	RecentSessions(ctx context.Context, window time.Duration, limit int) ([]Session, error)
}

// ProfileSource resolves display profiles for a batch of identity ids.
type ProfileSource interface {
	ProfilesByIdentity(ctx context.Context, identityIDs []string) (map[string]Profile, error)
}

// OpenConversationSource reports which session ids already back an active or
// pending conversation.
type OpenConversationSource interface {
	OpenSessionIDs(ctx context.Context) (map[string]bool, error)
}

// PollerOptions configures a Poller. Zero values fall back to the dashboard
// defaults (30s interval, 5 minute freshness window, 50 row fetch, 10 entries).
type PollerOptions struct {
	Interval   time.Duration
	Window     time.Duration
	FetchLimit int
	VisitorCap int
	Now        func() time.Time
}

// Poller periodically fetches recent sessions while the operator is online,
// deduplicates them and keeps an atomically swapped canonical snapshot.
type Poller struct {
	sessions SessionSource
	profiles ProfileSource
	convs    OpenConversationSource
	bus      *events.Bus

	interval   time.Duration
	window     time.Duration
	fetchLimit int
	visitorCap int
	now        func() time.Time

	mu       sync.RWMutex
	operator Operator
	snapshot []Visitor
	online   bool
	cancel   context.CancelFunc
}

// NewPoller wires a poller against its stores. It does not start polling;
// call SetOnline(true) for that.
func NewPoller(sessions SessionSource, profiles ProfileSource, convs OpenConversationSource, bus *events.Bus, opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Window <= 0 {
		opts.Window = 5 * time.Minute
	}
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = 50
	}
	if opts.VisitorCap <= 0 {
		opts.VisitorCap = DefaultVisitorCap
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Poller{
		sessions:   sessions,
		profiles:   profiles,
		convs:      convs,
		bus:        bus,
		interval:   opts.Interval,
		window:     opts.Window,
		fetchLimit: opts.FetchLimit,
		visitorCap: opts.VisitorCap,
		now:        opts.Now,
	}
}

// SetOperator records who is driving the dashboard so their own session is
// collapsed into at most one self entry.
func (p *Poller) SetOperator(op Operator) {
	p.mu.Lock()
	p.operator = op
	p.mu.Unlock()
}

// RememberOwnSession updates the locally remembered "my session id". Used
// when the operator's identity has not resolved yet.
func (p *Poller) RememberOwnSession(sessionID string) {
	p.mu.Lock()
	p.operator.SessionID = sessionID
	p.mu.Unlock()
}

// Operator returns the currently configured operator.
func (p *Poller) Operator() Operator {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.operator
}

// Online reports whether the poll loop is running.
func (p *Poller) Online() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.online
}

// SetOnline starts or stops the poll loop. Going offline cancels the loop
// context; an in-flight fetch finishes but its result is discarded.
func (p *Poller) SetOnline(online bool) {
	p.mu.Lock()
	if online == p.online {
		p.mu.Unlock()
		return
	}
	p.online = online
	if !online {
		cancel := p.cancel
		p.cancel = nil
		p.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		log.Info().Msg("Operator offline, visitor polling stopped")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.mu.Unlock()

	log.Info().Dur("interval", p.interval).Msg("Operator online, visitor polling started")
	go p.loop(ctx)
}

func (p *Poller) loop(ctx context.Context) {
	// Immediate first tick so the dashboard is not empty for a full interval.
	p.Tick(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick performs one poll cycle: fetch, dedup, enrich, swap. A failed fetch
// logs and retains the prior snapshot.
func (p *Poller) Tick(ctx context.Context) {
	sessions, err := p.sessions.RecentSessions(ctx, p.window, p.fetchLimit)
	if err != nil {
		log.Warn().Err(err).Msg("Session fetch failed, keeping previous snapshot")
		return
	}

	open, err := p.convs.OpenSessionIDs(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Open-conversation lookup failed, keeping previous snapshot")
		return
	}

	p.mu.RLock()
	op := p.operator
	p.mu.RUnlock()

	visitors := Dedup(sessions, op, open, p.visitorCap)
	p.enrich(ctx, visitors)

	// The owner may have gone offline while the fetch was in flight; the
	// stale result is discarded rather than swapped in.
	if ctx.Err() != nil {
		return
	}

	hasSelf := false
	for _, v := range visitors {
		if v.IsSelf {
			hasSelf = true
		}
	}

	p.mu.Lock()
	p.snapshot = visitors
	p.mu.Unlock()

	if p.bus != nil {
		p.bus.Publish(events.TopicVisitorsSnapshot, events.VisitorsSnapshot{
			Count:    len(visitors),
			HasSelf:  hasSelf,
			SwappedA: p.now(),
		})
	}
}

func (p *Poller) enrich(ctx context.Context, visitors []Visitor) {
	ids := make([]string, 0, len(visitors))
	for _, v := range visitors {
		if v.IdentityID != "" {
			ids = append(ids, v.IdentityID)
		}
	}
	if len(ids) == 0 || p.profiles == nil {
		return
	}

	profiles, err := p.profiles.ProfilesByIdentity(ctx, ids)
	if err != nil {
		log.Warn().Err(err).Msg("Profile lookup failed, serving snapshot without enrichment")
		return
	}
	for i := range visitors {
		if prof, ok := profiles[visitors[i].IdentityID]; ok {
			visitors[i].AvatarURL = prof.AvatarURL
			visitors[i].DisplayName = prof.FullName
		}
	}
}

// Snapshot returns the last complete canonical snapshot. Reads between ticks
// are intentionally stale but never partial.
func (p *Poller) Snapshot() []Visitor {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Visitor, len(p.snapshot))
	copy(out, p.snapshot)
	return out
}
