// Package handlers exposes the dashboard JSON API.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/rs/zerolog/log"

	"livedesk/internal/chat"
	"livedesk/internal/integrations/credentials"
	"livedesk/internal/integrations/listings"
	"livedesk/internal/integrations/oauth"
	"livedesk/internal/media"
	"livedesk/internal/notify"
	"livedesk/internal/presence"
	"livedesk/internal/store"
)

// Server holds the wired engine parts the API fronts.
type Server struct {
	router *mux.Router

	apiToken string

	poller       *presence.Poller
	gate         *chat.Gate
	trigger      *notify.Trigger
	manager      *credentials.Manager
	orchestrator *listings.Orchestrator
	exchanger    *oauth.Exchanger
	allowedOrign string
	media        *media.Store
	sessions     *store.SessionStore
	convs        *store.ConversationStore
}

// Options bundles the dependencies for NewServer.
type Options struct {
	APIToken      string
	Poller        *presence.Poller
	Gate          *chat.Gate
	Trigger       *notify.Trigger
	Manager       *credentials.Manager
	Orchestrator  *listings.Orchestrator
	Exchanger     *oauth.Exchanger
	AllowedOrigin string
	Media         *media.Store
	Sessions      *store.SessionStore
	Conversations *store.ConversationStore
}

// NewServer builds the router.
func NewServer(opts Options) *Server {
	s := &Server{
		router:       mux.NewRouter(),
		apiToken:     opts.APIToken,
		poller:       opts.Poller,
		gate:         opts.Gate,
		trigger:      opts.Trigger,
		manager:      opts.Manager,
		orchestrator: opts.Orchestrator,
		exchanger:    opts.Exchanger,
		allowedOrign: opts.AllowedOrigin,
		media:        opts.Media,
		sessions:     opts.Sessions,
		convs:        opts.Conversations,
	}
	s.routes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	public := alice.New(s.logRequest)
	protected := alice.New(s.logRequest, s.requireToken)

	// Tracking beacon and OAuth callback run outside the dashboard session.
	s.router.Handle("/t", public.Then(s.TrackPageView())).Methods(http.MethodPost)
	s.router.Handle("/oauth/callback", public.Then(s.OAuthCallback())).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Handle("/visitors", protected.Then(s.Visitors())).Methods(http.MethodGet)
	api.Handle("/visitors/available", protected.Then(s.AvailableVisitors())).Methods(http.MethodGet)
	api.Handle("/visitors/{sessionId}/promote", protected.Then(s.PromoteVisitor())).Methods(http.MethodPost)

	api.Handle("/presence", protected.Then(s.GetPresence())).Methods(http.MethodGet)
	api.Handle("/presence", protected.Then(s.SetPresence())).Methods(http.MethodPost)

	api.Handle("/conversations", protected.Then(s.OpenConversations())).Methods(http.MethodGet)
	api.Handle("/conversations/{id}/status", protected.Then(s.SetConversationStatus())).Methods(http.MethodPost)
	api.Handle("/conversations/{id}/attachments", protected.Then(s.UploadAttachment())).Methods(http.MethodPost)

	api.Handle("/alerts", protected.Then(s.Alerts())).Methods(http.MethodGet)
	api.Handle("/alerts/chime.wav", protected.Then(s.Chime())).Methods(http.MethodGet)

	api.Handle("/integrations/listings", protected.Then(s.ListingsState())).Methods(http.MethodGet)
	api.Handle("/integrations/listings/token", protected.Then(s.ApplyListingsToken())).Methods(http.MethodPost)
	api.Handle("/integrations/listings/sync", protected.Then(s.SyncListings())).Methods(http.MethodPost)
	api.Handle("/integrations/listings/disconnect", protected.Then(s.DisconnectListings())).Methods(http.MethodPost)
	api.Handle("/integrations/listings/auth-url", protected.Then(s.ListingsAuthURL())).Methods(http.MethodGet)
}

func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int64("durationMs", time.Since(start).Milliseconds()).
			Msg("Request handled")
	})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := r.Header.Get("Authorization")
		if token == "" {
			token = r.Header.Get("Token")
		}
		token = trimBearer(token)
		if token != s.apiToken {
			s.respondWithJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid or missing token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func trimBearer(token string) string {
	const prefix = "Bearer "
	if len(token) > len(prefix) && token[:len(prefix)] == prefix {
		return token[len(prefix):]
	}
	return token
}

type errorBody struct {
	Error       string `json:"error"`
	WaitSeconds int    `json:"wait_seconds,omitempty"`
}

func (s *Server) respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
