package server

import (
	"context"
	"net/http"
	"time"
)

// SessionResponse describes the device's session without exposing its tokens.
type SessionResponse struct {
	Authenticated bool       `json:"authenticated"`
	UserID        string     `json:"user_id,omitempty"`
	Email         string     `json:"email,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// SessionHandler reports the current session of the device (GET /session).
func (s *Server) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := s.clientFor(r).CurrentSession(r.Context())
		if err != nil {
			s.log.Error().Err(err).Msg("session lookup failed")
			writeJSONError(w, "temporarily_unavailable", "session lookup failed", http.StatusServiceUnavailable)
			return
		}

		resp := SessionResponse{}
		if session != nil {
			resp.Authenticated = true
			resp.UserID = session.UserID
			resp.Email = session.Email
			if !session.Expiry.IsZero() {
				expiry := session.Expiry
				resp.ExpiresAt = &expiry
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := s.deps.Health(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
