// Package notify raises one-shot alerts when new conversations arrive.
package notify

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"livedesk/internal/events"
)

// State of the trigger.
type State string

const (
	StateIdle     State = "idle"
	StateAlerting State = "alerting"
)

// DefaultDisplayFor is how long an alert stays visible before the trigger
// reverts to idle.
const DefaultDisplayFor = 4 * time.Second

// Trigger watches the open-conversation count and moves idle -> alerting when
// the count rises above the previous non-zero baseline. The first observation
// after (re)initialization only primes the baseline and never alerts, so
// discovering a backlog of existing pending chats cannot cause an alert storm.
type Trigger struct {
	mu         sync.Mutex
	state      State
	primed     bool
	baseline   int
	alertedAt  time.Time
	displayFor time.Duration
	bus        *events.Bus
	now        func() time.Time
}

// NewTrigger creates an idle trigger. displayFor <= 0 and a nil clock fall
// back to defaults.
func NewTrigger(bus *events.Bus, displayFor time.Duration, now func() time.Time) *Trigger {
	if displayFor <= 0 {
		displayFor = DefaultDisplayFor
	}
	if now == nil {
		now = time.Now
	}
	return &Trigger{
		state:      StateIdle,
		displayFor: displayFor,
		bus:        bus,
		now:        now,
	}
}

// Reset returns the trigger to its uninitialized state; the next observation
// primes the baseline again.
func (t *Trigger) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateIdle
	t.primed = false
	t.baseline = 0
}

// Observe feeds one open-conversation count into the state machine.
// It returns true when the observation raised an alert.
func (t *Trigger) Observe(count int) bool {
	t.mu.Lock()

	if !t.primed {
		t.primed = true
		t.baseline = count
		t.mu.Unlock()
		log.Debug().Int("baseline", count).Msg("Notification baseline primed")
		return false
	}

	previous := t.baseline
	t.baseline = count

	if previous == 0 || count <= previous {
		t.mu.Unlock()
		return false
	}

	t.state = StateAlerting
	t.alertedAt = t.now()
	bus := t.bus
	t.mu.Unlock()

	log.Info().Int("open", count).Int("previous", previous).Msg("New conversation alert raised")
	if bus != nil {
		bus.Publish(events.TopicAlertRaised, events.AlertRaised{
			OpenConversations: count,
			Previous:          previous,
			RaisedAt:          t.alertedAt,
		})
	}
	return true
}

// Tick expires a displayed alert. One scheduler tick drives the whole
// machine; there are no nested timers.
func (t *Trigger) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateAlerting && t.now().Sub(t.alertedAt) >= t.displayFor {
		t.state = StateIdle
	}
}

// State returns the current state after applying expiry.
func (t *Trigger) State() State {
	t.Tick()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// HasNew reports the one-shot "new conversation" flag: true while an alert is
// being displayed.
func (t *Trigger) HasNew() bool {
	return t.State() == StateAlerting
}
