package listings

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"livedesk/internal/events"
)

// Snapshot is the atomically replaced local view of the remote listing data.
type Snapshot struct {
	Accounts  []Account  `json:"accounts"`
	Locations []Location `json:"locations"`
	FromCache bool       `json:"from_cache"`
	SyncedAt  time.Time  `json:"synced_at"`
}

// Fetcher performs the remote call. *Client satisfies it; tests substitute
// fakes.
type Fetcher interface {
	Fetch(ctx context.Context, accessToken string) Outcome
}

// Orchestrator runs syncs against the listing proxy and owns the local
// snapshot plus the last-error state the dashboard reads.
type Orchestrator struct {
	fetcher Fetcher
	bus     *events.Bus

	mu        sync.RWMutex
	snapshot  *Snapshot
	lastError string
}

// NewOrchestrator wires an orchestrator to its fetcher.
func NewOrchestrator(fetcher Fetcher, bus *events.Bus) *Orchestrator {
	return &Orchestrator{fetcher: fetcher, bus: bus}
}

// Sync performs one remote sync and applies the classified outcome.
//
// Success replaces the snapshot in one swap so readers never observe a
// partial update. QuotaExceeded and AuthExpired clear the snapshot: stale
// data must never be shown unlabeled. Failures become state, they are never
// returned as errors.
func (o *Orchestrator) Sync(ctx context.Context, accessToken string) Outcome {
	outcome := o.fetcher.Fetch(ctx, accessToken)

	o.mu.Lock()
	switch outcome.Kind {
	case KindSuccess:
		o.snapshot = &Snapshot{
			Accounts:  outcome.Accounts,
			Locations: outcome.Locations,
			FromCache: outcome.FromCache,
			SyncedAt:  outcome.SyncedAt,
		}
		o.lastError = ""
	case KindEmpty:
		o.snapshot = &Snapshot{SyncedAt: time.Now()}
		o.lastError = ""
	case KindQuotaExceeded, KindAuthExpired:
		o.snapshot = nil
		o.lastError = outcome.Message
	case KindGenericError:
		o.snapshot = nil
		o.lastError = outcome.Message
	}
	o.mu.Unlock()

	o.publish(outcome)
	return outcome
}

func (o *Orchestrator) publish(outcome Outcome) {
	if o.bus == nil {
		return
	}
	switch outcome.Kind {
	case KindSuccess, KindEmpty:
		o.bus.Publish(events.TopicIntegrationSynced, events.IntegrationSynced{
			Integration: Integration,
			Accounts:    len(outcome.Accounts),
			Locations:   len(outcome.Locations),
			FromCache:   outcome.FromCache,
			SyncedAt:    outcome.SyncedAt,
		})
	default:
		o.bus.Publish(events.TopicIntegrationError, events.IntegrationError{
			Integration: Integration,
			Kind:        outcome.Kind.String(),
			Message:     outcome.Message,
		})
	}
}

// Snapshot returns the current snapshot, or nil when not synced. The second
// return is the last error message, empty after a success.
func (o *Orchestrator) Snapshot() (*Snapshot, string) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.snapshot == nil {
		return nil, o.lastError
	}
	snap := *o.snapshot
	return &snap, o.lastError
}

// Clear drops the local snapshot, e.g. on disconnect.
func (o *Orchestrator) Clear() {
	o.mu.Lock()
	o.snapshot = nil
	o.lastError = ""
	o.mu.Unlock()
	log.Debug().Msg("Listing snapshot cleared")
}
