package relay

import (
	"context"
	"net/http"
	"net/url"

	"github.com/jrsteele09/go-session-relay/identity"
	"github.com/rs/zerolog"
)

// Query parameters the receiving application reads the session from.
const (
	ParamAccessToken  = "access_token"
	ParamRefreshToken = "refresh_token"
)

// Observer is notified of every relay decision. It is optional.
type Observer interface {
	ObserveRelay(authenticated bool)
}

// Relay hands the current session to a separately deployed application by
// putting the tokens on the target URL.
type Relay struct {
	provider identity.Provider
	observer Observer
	log      zerolog.Logger
}

type Option func(*Relay)

func WithObserver(o Observer) Option {
	return func(r *Relay) {
		r.observer = o
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(r *Relay) {
		r.log = log
	}
}

func New(provider identity.Provider, opts ...Option) *Relay {
	r := &Relay{provider: provider, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BuildURL returns targetURL carrying the current session's tokens. Without a
// session, or when the provider cannot be queried, targetURL is returned
// unchanged so the user lands on the target's own sign-in instead of nowhere.
// targetURL must be absolute.
func (r *Relay) BuildURL(ctx context.Context, targetURL string) string {
	s, err := r.provider.CurrentSession(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("session lookup failed, relaying unauthenticated")
		r.observe(false)
		return targetURL
	}
	if s == nil {
		r.observe(false)
		return targetURL
	}

	u, err := url.Parse(targetURL)
	if err != nil {
		r.log.Error().Err(err).Str("target", targetURL).Msg("malformed relay target")
		r.observe(false)
		return targetURL
	}
	q := u.Query()
	q.Set(ParamAccessToken, s.AccessToken)
	q.Set(ParamRefreshToken, s.RefreshToken)
	u.RawQuery = q.Encode()

	r.observe(true)
	return u.String()
}

// Navigate sends the browser to the relay URL with a full-page redirect.
// Nothing should be written to w afterwards.
func (r *Relay) Navigate(ctx context.Context, w http.ResponseWriter, req *http.Request, targetURL string) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Referrer-Policy", "no-referrer")
	http.Redirect(w, req, r.BuildURL(ctx, targetURL), http.StatusSeeOther)
}

func (r *Relay) observe(authenticated bool) {
	if r.observer != nil {
		r.observer.ObserveRelay(authenticated)
	}
}
