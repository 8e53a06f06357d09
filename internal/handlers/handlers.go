package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"livedesk/internal/chat"
	"livedesk/internal/integrations/credentials"
	"livedesk/internal/integrations/oauth"
	"livedesk/internal/media"
	"livedesk/internal/notify"
	"livedesk/internal/presence"
)

// TrackPageView is the tracking-beacon endpoint the marketing site posts to
// on every page view.
func (s *Server) TrackPageView() http.HandlerFunc {
	type request struct {
		SessionID  string `json:"session_id"`
		IdentityID string `json:"identity_id,omitempty"`
		Page       string `json:"page"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
			s.respondWithJSON(w, http.StatusBadRequest, errorBody{Error: "session_id is required"})
			return
		}
		if err := s.sessions.Touch(r.Context(), req.SessionID, req.IdentityID, req.Page, time.Now()); err != nil {
			log.Error().Err(err).Str("sessionID", req.SessionID).Msg("Failed to record page view")
			s.respondWithJSON(w, http.StatusInternalServerError, errorBody{Error: "could not record page view"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Visitors returns the current canonical snapshot.
func (s *Server) Visitors() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"visitors": s.poller.Snapshot(),
			"online":   s.poller.Online(),
		})
	}
}

// AvailableVisitors returns canonical entries not already in a conversation.
func (s *Server) AvailableVisitors() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		available, err := s.gate.ListAvailable(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("Failed to list available visitors")
			s.respondWithJSON(w, http.StatusInternalServerError, errorBody{Error: "could not list visitors"})
			return
		}
		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{"visitors": available})
	}
}

// PromoteVisitor converts a live session into a new conversation.
func (s *Server) PromoteVisitor() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := mux.Vars(r)["sessionId"]
		conv, err := s.gate.Promote(r.Context(), sessionID)
		switch {
		case errors.Is(err, chat.ErrSelfPromotion):
			s.respondWithJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error()})
		case errors.Is(err, chat.ErrAlreadyPromoted):
			s.respondWithJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
		case errors.Is(err, chat.ErrUnknownSession):
			s.respondWithJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		case err != nil:
			log.Error().Err(err).Str("sessionID", sessionID).Msg("Promote failed")
			s.respondWithJSON(w, http.StatusInternalServerError, errorBody{Error: "could not promote session"})
		default:
			s.respondWithJSON(w, http.StatusCreated, conv)
		}
	}
}

// GetPresence reports whether the poll loop is running.
func (s *Server) GetPresence() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"online":   s.poller.Online(),
			"operator": s.poller.Operator(),
		})
	}
}

// SetPresence flips the operator online/offline and records their identity.
func (s *Server) SetPresence() http.HandlerFunc {
	type request struct {
		Online     bool   `json:"online"`
		IdentityID string `json:"identity_id,omitempty"`
		SessionID  string `json:"session_id,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondWithJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
			return
		}
		if req.IdentityID != "" || req.SessionID != "" {
			s.poller.SetOperator(presence.Operator{IdentityID: req.IdentityID, SessionID: req.SessionID})
		}
		s.poller.SetOnline(req.Online)
		if !req.Online {
			s.trigger.Reset()
		}
		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{"online": s.poller.Online()})
	}
}

// OpenConversations lists active and pending conversations.
func (s *Server) OpenConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convs, err := s.convs.OpenConversations(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("Failed to list conversations")
			s.respondWithJSON(w, http.StatusInternalServerError, errorBody{Error: "could not list conversations"})
			return
		}
		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{"conversations": convs})
	}
}

// SetConversationStatus transitions a conversation's status.
func (s *Server) SetConversationStatus() http.HandlerFunc {
	type request struct {
		Status string `json:"status"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
			s.respondWithJSON(w, http.StatusBadRequest, errorBody{Error: "status is required"})
			return
		}
		if err := s.convs.SetStatus(r.Context(), id, req.Status); err != nil {
			s.respondWithJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{"id": id, "status": req.Status})
	}
}

// UploadAttachment stores a data-URL attachment and records it as a message.
func (s *Server) UploadAttachment() http.HandlerFunc {
	type request struct {
		DataURL  string `json:"data_url"`
		FileName string `json:"file_name,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conversationID := mux.Vars(r)["id"]
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DataURL == "" {
			s.respondWithJSON(w, http.StatusBadRequest, errorBody{Error: "data_url is required"})
			return
		}

		data, mimeType, err := media.ParseDataURL(req.DataURL)
		if err != nil {
			s.respondWithJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}

		attachmentID := uuid.NewString()
		stored, err := s.media.StoreAttachment(r.Context(), conversationID, attachmentID, data, mimeType, req.FileName)
		if err != nil {
			log.Error().Err(err).Str("conversationID", conversationID).Msg("Attachment storage failed")
			s.respondWithJSON(w, http.StatusInternalServerError, errorBody{Error: "could not store attachment"})
			return
		}

		msg := chat.Message{
			ID:             attachmentID,
			ConversationID: conversationID,
			Kind:           chat.MessageKindAttachment,
			Body:           req.FileName,
			AttachmentURL:  stored.URL,
			CreatedAt:      time.Now(),
		}
		if err := s.convs.InsertMessage(r.Context(), msg); err != nil {
			log.Error().Err(err).Str("conversationID", conversationID).Msg("Failed to record attachment message")
			s.respondWithJSON(w, http.StatusInternalServerError, errorBody{Error: "could not record attachment"})
			return
		}

		s.respondWithJSON(w, http.StatusCreated, stored)
	}
}

// Alerts reports the notification trigger state and one-shot "new" flag.
func (s *Server) Alerts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"state":   s.trigger.State(),
			"has_new": s.trigger.HasNew(),
		})
	}
}

// Chime serves the synthesized two-tone alert sound.
func (s *Server) Chime() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		_, _ = w.Write(notify.ChimeWAV())
	}
}

// ListingsState reports credential state plus the current snapshot.
func (s *Server) ListingsState() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot, lastError := s.orchestrator.Snapshot()
		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"credentials": s.manager.State(r.Context()),
			"snapshot":    snapshot,
			"last_error":  lastError,
		})
	}
}

// ApplyListingsToken persists a token and triggers a sync, honoring the
// cooldown window.
func (s *Server) ApplyListingsToken() http.HandlerFunc {
	type request struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		Ephemeral   bool   `json:"ephemeral,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccessToken == "" {
			s.respondWithJSON(w, http.StatusBadRequest, errorBody{Error: "access_token is required"})
			return
		}
		if req.ExpiresIn <= 0 {
			req.ExpiresIn = 3600
		}

		if req.Ephemeral {
			s.manager.SetEphemeral(req.AccessToken, req.ExpiresIn)
		}

		if err := s.manager.ApplyToken(r.Context(), req.AccessToken, req.ExpiresIn); err != nil {
			var cooldown *credentials.CooldownError
			if errors.As(err, &cooldown) {
				s.respondWithJSON(w, http.StatusTooManyRequests, errorBody{
					Error:       err.Error(),
					WaitSeconds: cooldown.Wait,
				})
				return
			}
			s.respondWithJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
			return
		}
		s.respondWithJSON(w, http.StatusOK, s.manager.State(r.Context()))
	}
}

// SyncListings re-syncs using whatever token resolves.
func (s *Server) SyncListings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok := s.manager.ResolveToken(r.Context())
		if tok == nil {
			s.respondWithJSON(w, http.StatusUnauthorized, errorBody{Error: "not connected"})
			return
		}
		expiresIn := int(time.Until(tok.ExpiresAt) / time.Second)
		if err := s.manager.ApplyToken(r.Context(), tok.AccessToken, expiresIn); err != nil {
			var cooldown *credentials.CooldownError
			if errors.As(err, &cooldown) {
				s.respondWithJSON(w, http.StatusTooManyRequests, errorBody{
					Error:       err.Error(),
					WaitSeconds: cooldown.Wait,
				})
				return
			}
			s.respondWithJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
			return
		}
		s.respondWithJSON(w, http.StatusOK, s.manager.State(r.Context()))
	}
}

// DisconnectListings clears credentials and the local snapshot.
func (s *Server) DisconnectListings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.manager.Disconnect(r.Context()); err != nil {
			log.Error().Err(err).Msg("Disconnect failed")
			s.respondWithJSON(w, http.StatusInternalServerError, errorBody{Error: "could not disconnect"})
			return
		}
		s.orchestrator.Clear()
		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{"connected": false})
	}
}

// ListingsAuthURL hands the dashboard the provider consent URL for a fresh
// PKCE flow.
func (s *Server) ListingsAuthURL() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.exchanger == nil {
			s.respondWithJSON(w, http.StatusServiceUnavailable, errorBody{Error: "oauth is not configured"})
			return
		}
		state := r.URL.Query().Get("state")
		challenge := r.URL.Query().Get("challenge")
		if state == "" {
			state = uuid.NewString()
		}
		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"url":   s.exchanger.AuthCodeURL(state, challenge),
			"state": state,
		})
	}
}

// OAuthCallback completes the code exchange. When the flow ran in a popup it
// renders the relay page; otherwise it applies the token directly.
func (s *Server) OAuthCallback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.exchanger == nil {
			http.Error(w, "oauth is not configured", http.StatusServiceUnavailable)
			return
		}

		code := r.URL.Query().Get("code")
		verifier := r.URL.Query().Get("verifier")
		popup := r.URL.Query().Get("popup") == "1"

		payload := oauth.RelayPayload{Type: "oauth-result"}
		if code == "" {
			payload.Error = "authorization code missing"
		} else {
			result, err := s.exchanger.Exchange(r.Context(), code, verifier)
			if err != nil {
				log.Error().Err(err).Msg("OAuth exchange failed")
				payload.Error = "token exchange failed"
			} else {
				payload.AccessToken = result.AccessToken
				payload.ExpiresIn = result.ExpiresIn
			}
		}

		if popup {
			page, err := oauth.RenderRelayPage(s.allowedOrign, payload)
			if err != nil {
				http.Error(w, "relay unavailable", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(page))
			return
		}

		if payload.Error != "" {
			s.respondWithJSON(w, http.StatusBadGateway, errorBody{Error: payload.Error})
			return
		}
		if err := s.manager.ApplyToken(r.Context(), payload.AccessToken, payload.ExpiresIn); err != nil {
			var cooldown *credentials.CooldownError
			if errors.As(err, &cooldown) {
				s.respondWithJSON(w, http.StatusTooManyRequests, errorBody{
					Error:       err.Error(),
					WaitSeconds: cooldown.Wait,
				})
				return
			}
			s.respondWithJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
			return
		}
		s.respondWithJSON(w, http.StatusOK, s.manager.State(r.Context()))
	}
}
