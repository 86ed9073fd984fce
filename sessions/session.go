package sessions

import (
	"time"
)

// Session is one authenticated identity-provider session as persisted in
// shared storage. Field names follow the provider's JSON layout so a session
// written by another application can be read back unchanged.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	IDToken      string    `json:"id_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expires_at,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	Email        string    `json:"email,omitempty"`
}

// ID is the identity used for change detection: the access token itself,
// or "" when there is no session.
func ID(s *Session) string {
	if s == nil {
		return ""
	}
	return s.AccessToken
}

// Expired reports whether the access token is past its expiry. A zero expiry
// never expires.
func (s *Session) Expired(now time.Time) bool {
	return !s.Expiry.IsZero() && !now.Before(s.Expiry)
}

// StateEvent is the kind of session transition reported by the identity provider.
type StateEvent string

const (
	EventInitialSession StateEvent = "INITIAL_SESSION"
	EventSignedIn       StateEvent = "SIGNED_IN"
	EventSignedOut      StateEvent = "SIGNED_OUT"
	EventTokenRefreshed StateEvent = "TOKEN_REFRESHED"
	EventUserUpdated    StateEvent = "USER_UPDATED"
)

// Propagates reports whether other views must learn about the event.
func (e StateEvent) Propagates() bool {
	switch e {
	case EventSignedIn, EventSignedOut, EventTokenRefreshed:
		return true
	}
	return false
}

// StateChangeFunc receives a provider event and the session it produced
// (nil after sign-out).
type StateChangeFunc func(event StateEvent, session *Session)

// Subscription stops delivery when Unsubscribe is called. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc adapts a plain function to Subscription.
type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() {
	if f != nil {
		f()
	}
}
