package server

import (
	"net/http"

	"github.com/jrsteele09/go-session-relay/relay"
)

// RelayHandler sends the browser to a named sibling application carrying
// the device's session (GET /relay/{app}).
func (s *Server) RelayHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		app := r.PathValue("app")
		target, ok := s.config.GetRelayTarget(app)
		if !ok {
			http.Error(w, "Unknown application", http.StatusNotFound)
			return
		}

		relay.New(s.clientFor(r),
			relay.WithObserver(s.deps.Metrics),
			relay.WithLogger(s.log.With().Str("app", app).Logger()),
		).Navigate(r.Context(), w, r, target)
	}
}

// RelayReceiveHandler installs a session relayed by another application and
// redirects to next without the tokens, keeping them out of history
// (GET /auth/relay?access_token=...&refresh_token=...&next=/path).
func (s *Server) RelayReceiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		accessToken := q.Get(relay.ParamAccessToken)
		refreshToken := q.Get(relay.ParamRefreshToken)
		next := localReturnURL(q.Get("next"))

		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Referrer-Policy", "no-referrer")

		if accessToken != "" || refreshToken != "" {
			// an unusable relay lands the user unauthenticated, as if no session had been sent
			if _, err := s.clientFor(r).SetSession(r.Context(), accessToken, refreshToken); err != nil {
				s.log.Warn().Err(err).Msg("relayed session rejected")
			}
		}
		http.Redirect(w, r, next, http.StatusSeeOther)
	}
}
