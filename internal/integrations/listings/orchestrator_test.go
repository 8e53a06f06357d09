package listings

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livedesk/internal/events"
)

type fakeFetcher struct {
	outcome Outcome
}

func (f *fakeFetcher) Fetch(ctx context.Context, accessToken string) Outcome {
	return f.outcome
}

func successOutcome() Outcome {
	return Outcome{
		Kind:      KindSuccess,
		Accounts:  []Account{{Name: "accounts/1", AccountName: "Acme"}},
		Locations: []Location{{Name: "locations/1", Title: "Acme HQ"}},
		SyncedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestOrchestrator_SuccessSwapsSnapshot(t *testing.T) {
	fetcher := &fakeFetcher{outcome: successOutcome()}
	orch := NewOrchestrator(fetcher, nil)

	out := orch.Sync(context.Background(), "tok")
	assert.Equal(t, KindSuccess, out.Kind)

	snap, lastErr := orch.Snapshot()
	require.NotNil(t, snap)
	assert.Len(t, snap.Accounts, 1)
	assert.Len(t, snap.Locations, 1)
	assert.Empty(t, lastErr)
}

func TestOrchestrator_QuotaClearsSnapshot(t *testing.T) {
	fetcher := &fakeFetcher{outcome: successOutcome()}
	orch := NewOrchestrator(fetcher, nil)
	orch.Sync(context.Background(), "tok")

	fetcher.outcome = Outcome{Kind: KindQuotaExceeded, Message: "rate limit exceeded"}
	orch.Sync(context.Background(), "tok")

	snap, lastErr := orch.Snapshot()
	assert.Nil(t, snap)
	assert.Equal(t, "rate limit exceeded", lastErr)
}

func TestOrchestrator_EmptyIsNotAnError(t *testing.T) {
	fetcher := &fakeFetcher{outcome: Outcome{Kind: KindGenericError, Message: "boom"}}
	orch := NewOrchestrator(fetcher, nil)
	orch.Sync(context.Background(), "tok")

	fetcher.outcome = Outcome{Kind: KindEmpty}
	orch.Sync(context.Background(), "tok")

	snap, lastErr := orch.Snapshot()
	require.NotNil(t, snap)
	assert.Empty(t, snap.Accounts)
	assert.Empty(t, lastErr)
}

func TestOrchestrator_SuccessClearsPreviousError(t *testing.T) {
	fetcher := &fakeFetcher{outcome: Outcome{Kind: KindAuthExpired, Message: "token expired"}}
	orch := NewOrchestrator(fetcher, nil)
	orch.Sync(context.Background(), "tok")

	_, lastErr := orch.Snapshot()
	require.Equal(t, "token expired", lastErr)

	fetcher.outcome = successOutcome()
	orch.Sync(context.Background(), "tok")

	snap, lastErr := orch.Snapshot()
	require.NotNil(t, snap)
	assert.Empty(t, lastErr)
}

func TestOrchestrator_ClearDropsSnapshot(t *testing.T) {
	fetcher := &fakeFetcher{outcome: successOutcome()}
	orch := NewOrchestrator(fetcher, nil)
	orch.Sync(context.Background(), "tok")

	orch.Clear()
	snap, lastErr := orch.Snapshot()
	assert.Nil(t, snap)
	assert.Empty(t, lastErr)
}

func TestOrchestrator_PublishesOutcomeEvents(t *testing.T) {
	bus := events.NewBus()
	var synced []events.IntegrationSynced
	var failed []events.IntegrationError
	bus.Subscribe(events.TopicIntegrationSynced, func(ev events.Event) {
		synced = append(synced, ev.Payload.(events.IntegrationSynced))
	})
	bus.Subscribe(events.TopicIntegrationError, func(ev events.Event) {
		failed = append(failed, ev.Payload.(events.IntegrationError))
	})

	fetcher := &fakeFetcher{outcome: successOutcome()}
	orch := NewOrchestrator(fetcher, bus)
	orch.Sync(context.Background(), "tok")

	fetcher.outcome = Outcome{Kind: KindQuotaExceeded, Message: "rate limit exceeded"}
	orch.Sync(context.Background(), "tok")

	require.Len(t, synced, 1)
	assert.Equal(t, Integration, synced[0].Integration)
	assert.Equal(t, 1, synced[0].Accounts)

	require.Len(t, failed, 1)
	assert.Equal(t, "quota_exceeded", failed[0].Kind)
}
