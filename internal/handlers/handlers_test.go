package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livedesk/internal/chat"
	"livedesk/internal/integrations/credentials"
	"livedesk/internal/integrations/listings"
	"livedesk/internal/notify"
	"livedesk/internal/presence"
)

type memSessions struct {
	sessions []presence.Session
}

func (m *memSessions) RecentSessions(ctx context.Context, window time.Duration, limit int) ([]presence.Session, error) {
	return m.sessions, nil
}

type memProfiles struct{}

func (memProfiles) ProfilesByIdentity(ctx context.Context, ids []string) (map[string]presence.Profile, error) {
	return nil, nil
}

type memConvs struct {
	open          map[string]bool
	conversations []chat.Conversation
	messages      []chat.Message
}

func newMemConvs() *memConvs {
	return &memConvs{open: make(map[string]bool)}
}

func (m *memConvs) OpenSessionIDs(ctx context.Context) (map[string]bool, error) {
	out := make(map[string]bool, len(m.open))
	for k, v := range m.open {
		out[k] = v
	}
	return out, nil
}

func (m *memConvs) InsertOpen(ctx context.Context, conv chat.Conversation) error {
	if m.open[conv.SessionID] {
		return chat.ErrAlreadyPromoted
	}
	m.open[conv.SessionID] = true
	m.conversations = append(m.conversations, conv)
	return nil
}

func (m *memConvs) InsertMessage(ctx context.Context, msg chat.Message) error {
	m.messages = append(m.messages, msg)
	return nil
}

func (m *memConvs) OpenConversations(ctx context.Context) ([]chat.Conversation, error) {
	return m.conversations, nil
}

type memTokens struct {
	dedicated *credentials.Token
}

func (m *memTokens) Token(ctx context.Context, integration string) (*credentials.Token, error) {
	return m.dedicated, nil
}

func (m *memTokens) UnifiedToken(ctx context.Context) (*credentials.Token, error) {
	return nil, nil
}

func (m *memTokens) Save(ctx context.Context, integration string, tok credentials.Token) error {
	m.dedicated = &tok
	return nil
}

func (m *memTokens) Delete(ctx context.Context, integration string) error {
	m.dedicated = nil
	return nil
}

type stubFetcher struct {
	outcome listings.Outcome
}

func (s *stubFetcher) Fetch(ctx context.Context, accessToken string) listings.Outcome {
	return s.outcome
}

type testEnv struct {
	server  *Server
	poller  *presence.Poller
	convs   *memConvs
	fetcher *stubFetcher
	manager *credentials.Manager
	trigger *notify.Trigger
}

func newTestEnv(t *testing.T, apiToken string, sessions []presence.Session) *testEnv {
	t.Helper()

	src := &memSessions{sessions: sessions}
	convs := newMemConvs()
	poller := presence.NewPoller(src, memProfiles{}, convs, nil, presence.PollerOptions{})
	poller.Tick(context.Background())

	gate := chat.NewGate(convs, poller, nil, nil)
	trigger := notify.NewTrigger(nil, 0, nil)

	fetcher := &stubFetcher{outcome: listings.Outcome{Kind: listings.KindSuccess}}
	orch := listings.NewOrchestrator(fetcher, nil)
	manager := credentials.NewManager("listings", &memTokens{}, orch, nil, 0, nil)

	srv := NewServer(Options{
		APIToken:     apiToken,
		Poller:       poller,
		Gate:         gate,
		Trigger:      trigger,
		Manager:      manager,
		Orchestrator: orch,
	})
	return &testEnv{server: srv, poller: poller, convs: convs, fetcher: fetcher, manager: manager, trigger: trigger}
}

func liveSession(id string) presence.Session {
	now := time.Now()
	return presence.Session{
		SessionID:      id,
		FirstPage:      "/",
		StartedAt:      now.Add(-time.Minute),
		LastActivityAt: now,
		PageCount:      2,
	}
}

func doJSON(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequireToken(t *testing.T) {
	env := newTestEnv(t, "secret", nil)
	h := env.server.Handler()

	rec := doJSON(t, h, http.MethodGet, "/api/visitors", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/visitors", "wrong", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/visitors", "secret", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// The Token header works without the Bearer prefix.
	req := httptest.NewRequest(http.MethodGet, "/api/visitors", nil)
	req.Header.Set("Token", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVisitors_ReturnsSnapshot(t *testing.T) {
	env := newTestEnv(t, "", []presence.Session{liveSession("S1"), liveSession("S2")})

	rec := doJSON(t, env.server.Handler(), http.MethodGet, "/api/visitors", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Visitors []presence.Visitor `json:"visitors"`
		Online   bool               `json:"online"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Visitors, 2)
	assert.False(t, body.Online)
}

func TestPromoteVisitor_StatusCodes(t *testing.T) {
	self := liveSession("mine")
	self.IdentityID = "op-1"
	env := newTestEnv(t, "", []presence.Session{liveSession("S1"), self})
	env.poller.SetOperator(presence.Operator{IdentityID: "op-1"})
	env.poller.Tick(context.Background())
	h := env.server.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/visitors/S1/promote", "", "")
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/visitors/ghost/promote", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/visitors/mine/promote", "", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAvailableVisitors_ExcludesPromoted(t *testing.T) {
	env := newTestEnv(t, "", []presence.Session{liveSession("S1"), liveSession("S2")})
	h := env.server.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/visitors/S1/promote", "", "")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/visitors/available", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Visitors []presence.Visitor `json:"visitors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Visitors, 1)
	assert.Equal(t, "S2", body.Visitors[0].SessionID)
}

func TestSetPresence_TogglesPolling(t *testing.T) {
	env := newTestEnv(t, "", nil)
	h := env.server.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/presence", "", `{"online":true,"identity_id":"op-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.poller.Online())

	rec = doJSON(t, h, http.MethodPost, "/api/presence", "", `{"online":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, env.poller.Online())
}

func TestAlerts_ReportsTriggerState(t *testing.T) {
	env := newTestEnv(t, "", nil)
	env.trigger.Observe(1)
	env.trigger.Observe(2)

	rec := doJSON(t, env.server.Handler(), http.MethodGet, "/api/alerts", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		State  string `json:"state"`
		HasNew bool   `json:"has_new"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "alerting", body.State)
	assert.True(t, body.HasNew)
}

func TestChime_ServesWAV(t *testing.T) {
	env := newTestEnv(t, "", nil)

	rec := doJSON(t, env.server.Handler(), http.MethodGet, "/api/alerts/chime.wav", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/wav", rec.Header().Get("Content-Type"))
	assert.Equal(t, "RIFF", rec.Body.String()[:4])
}

func TestApplyListingsToken_CooldownReturns429(t *testing.T) {
	env := newTestEnv(t, "", nil)
	env.fetcher.outcome = listings.Outcome{Kind: listings.KindQuotaExceeded, Message: "rate limit exceeded"}
	h := env.server.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/integrations/listings/token", "", `{"access_token":"abc"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/integrations/listings/token", "", `{"access_token":"abc"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var body struct {
		Error       string `json:"error"`
		WaitSeconds int    `json:"wait_seconds"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 70, body.WaitSeconds)
	assert.Contains(t, body.Error, "cooldown")
}

func TestSyncListings_NotConnected(t *testing.T) {
	env := newTestEnv(t, "", nil)

	rec := doJSON(t, env.server.Handler(), http.MethodPost, "/api/integrations/listings/sync", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDisconnectListings_ClearsState(t *testing.T) {
	env := newTestEnv(t, "", nil)
	h := env.server.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/integrations/listings/token", "", `{"access_token":"abc"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/integrations/listings/disconnect", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	st := env.manager.State(context.Background())
	assert.False(t, st.Connected)
}

func TestListingsAuthURL_UnconfiguredOAuth(t *testing.T) {
	env := newTestEnv(t, "", nil)

	rec := doJSON(t, env.server.Handler(), http.MethodGet, "/api/integrations/listings/auth-url", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
