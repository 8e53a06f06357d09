package credentials

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livedesk/internal/integrations/listings"
)

type fakeTokenStore struct {
	dedicated *Token
	unified   *Token
	saveErr   error
	saved     []Token
	deleted   int
}

func (f *fakeTokenStore) Token(ctx context.Context, integration string) (*Token, error) {
	return f.dedicated, nil
}

func (f *fakeTokenStore) UnifiedToken(ctx context.Context) (*Token, error) {
	return f.unified, nil
}

func (f *fakeTokenStore) Save(ctx context.Context, integration string, tok Token) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, tok)
	f.dedicated = &tok
	return nil
}

func (f *fakeTokenStore) Delete(ctx context.Context, integration string) error {
	f.deleted++
	f.dedicated = nil
	return nil
}

type fakeSyncer struct {
	calls    int
	lastTok  string
	outcome  listings.Outcome
	outcomes []listings.Outcome
}

func (f *fakeSyncer) Sync(ctx context.Context, accessToken string) listings.Outcome {
	f.calls++
	f.lastTok = accessToken
	if len(f.outcomes) > 0 {
		out := f.outcomes[0]
		f.outcomes = f.outcomes[1:]
		return out
	}
	return f.outcome
}

func testManager(store *fakeTokenStore, syncer *fakeSyncer) (*Manager, *time.Time) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager("listings", store, syncer, nil, 0, func() time.Time { return clock })
	return m, &clock
}

func TestResolveToken_PriorityOrder(t *testing.T) {
	store := &fakeTokenStore{}
	m, clock := testManager(store, &fakeSyncer{})
	later := clock.Add(time.Hour)

	assert.Nil(t, m.ResolveToken(context.Background()))

	m.SetEphemeral("eph", 3600)
	tok := m.ResolveToken(context.Background())
	require.NotNil(t, tok)
	assert.Equal(t, SourceEphemeral, tok.Source)

	store.unified = &Token{AccessToken: "uni", ExpiresAt: later}
	tok = m.ResolveToken(context.Background())
	require.NotNil(t, tok)
	assert.Equal(t, SourceUnified, tok.Source)

	store.dedicated = &Token{AccessToken: "ded", ExpiresAt: later}
	tok = m.ResolveToken(context.Background())
	require.NotNil(t, tok)
	assert.Equal(t, SourceDedicated, tok.Source)
	assert.Equal(t, "ded", tok.AccessToken)
}

func TestResolveToken_SkipsExpiredTokens(t *testing.T) {
	store := &fakeTokenStore{}
	m, clock := testManager(store, &fakeSyncer{})

	store.dedicated = &Token{AccessToken: "ded", ExpiresAt: clock.Add(-time.Minute)}
	store.unified = &Token{AccessToken: "uni", ExpiresAt: clock.Add(time.Hour)}

	tok := m.ResolveToken(context.Background())
	require.NotNil(t, tok)
	assert.Equal(t, SourceUnified, tok.Source)

	// Advance past every expiry: nothing resolves anymore.
	*clock = clock.Add(2 * time.Hour)
	assert.Nil(t, m.ResolveToken(context.Background()))
}

func TestApplyToken_PersistsAndSyncs(t *testing.T) {
	store := &fakeTokenStore{}
	syncer := &fakeSyncer{outcome: listings.Outcome{Kind: listings.KindSuccess}}
	m, _ := testManager(store, syncer)

	require.NoError(t, m.ApplyToken(context.Background(), "abc", 3600))
	assert.Equal(t, 1, syncer.calls)
	assert.Equal(t, "abc", syncer.lastTok)
	require.Len(t, store.saved, 1)
	assert.Equal(t, "abc", store.saved[0].AccessToken)
	assert.Empty(t, m.LastError())
}

func TestApplyToken_SaveFailureFallsBackToEphemeral(t *testing.T) {
	store := &fakeTokenStore{saveErr: errors.New("disk full")}
	syncer := &fakeSyncer{outcome: listings.Outcome{Kind: listings.KindSuccess}}
	m, _ := testManager(store, syncer)

	require.NoError(t, m.ApplyToken(context.Background(), "abc", 3600))
	assert.Equal(t, 1, syncer.calls)

	tok := m.ResolveToken(context.Background())
	require.NotNil(t, tok)
	assert.Equal(t, SourceEphemeral, tok.Source)
}

func TestApplyToken_QuotaErrorOpensCooldown(t *testing.T) {
	store := &fakeTokenStore{}
	syncer := &fakeSyncer{outcome: listings.Outcome{
		Kind:    listings.KindQuotaExceeded,
		Message: "rate limit exceeded",
	}}
	m, clock := testManager(store, syncer)

	require.NoError(t, m.ApplyToken(context.Background(), "abc", 3600))
	assert.True(t, m.IsInCooldown())
	assert.Equal(t, 70, m.CooldownRemaining())
	assert.Equal(t, "rate limit exceeded", m.LastError())

	// A retry inside the window is rejected without touching the remote API.
	err := m.ApplyToken(context.Background(), "abc", 3600)
	var cooldownErr *CooldownError
	require.ErrorAs(t, err, &cooldownErr)
	assert.Equal(t, 70, cooldownErr.Wait)
	assert.Equal(t, 1, syncer.calls)

	// Partial seconds round up.
	*clock = clock.Add(69*time.Second + 500*time.Millisecond)
	assert.Equal(t, 1, m.CooldownRemaining())

	// Once the window elapses the retry goes through.
	*clock = clock.Add(time.Second)
	assert.False(t, m.IsInCooldown())
	syncer.outcome = listings.Outcome{Kind: listings.KindSuccess}
	require.NoError(t, m.ApplyToken(context.Background(), "abc", 3600))
	assert.Equal(t, 2, syncer.calls)
	assert.False(t, m.IsInCooldown())
}

func TestApplyToken_AuthExpiredClearsCredentials(t *testing.T) {
	store := &fakeTokenStore{}
	syncer := &fakeSyncer{outcome: listings.Outcome{
		Kind:    listings.KindAuthExpired,
		Message: "token expired",
	}}
	m, _ := testManager(store, syncer)
	m.SetEphemeral("old", 3600)

	require.NoError(t, m.ApplyToken(context.Background(), "abc", 3600))
	assert.Equal(t, 1, store.deleted)
	assert.Equal(t, "token expired", m.LastError())
	assert.Nil(t, m.ResolveToken(context.Background()))
}

func TestDisconnect_ClearsEverything(t *testing.T) {
	store := &fakeTokenStore{}
	syncer := &fakeSyncer{outcome: listings.Outcome{Kind: listings.KindQuotaExceeded}}
	m, _ := testManager(store, syncer)
	m.SetEphemeral("eph", 3600)
	require.NoError(t, m.ApplyToken(context.Background(), "abc", 3600))
	require.True(t, m.IsInCooldown())

	require.NoError(t, m.Disconnect(context.Background()))
	assert.False(t, m.IsInCooldown())
	assert.Empty(t, m.LastError())
	assert.Nil(t, m.ResolveToken(context.Background()))
}

func TestState_ReflectsConnectionAndCooldown(t *testing.T) {
	store := &fakeTokenStore{}
	m, clock := testManager(store, &fakeSyncer{})

	st := m.State(context.Background())
	assert.False(t, st.Connected)
	assert.False(t, st.InCooldown)

	store.dedicated = &Token{AccessToken: "ded", ExpiresAt: clock.Add(time.Hour)}
	m.RecordQuotaError()

	st = m.State(context.Background())
	assert.True(t, st.Connected)
	assert.Equal(t, SourceDedicated, st.Source)
	assert.True(t, st.InCooldown)
	assert.Equal(t, 70, st.WaitSeconds)
}
