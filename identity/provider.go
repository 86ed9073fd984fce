package identity

import (
	"context"
	"strings"

	"github.com/jrsteele09/go-session-relay/sessions"
)

// Provider is the part of the identity-provider client the relay and the
// watcher depend on.
type Provider interface {
	// CurrentSession returns nil, nil when nobody is signed in.
	CurrentSession(ctx context.Context) (*sessions.Session, error)
	// OnSessionStateChange delivers transitions caused through this client.
	OnSessionStateChange(fn sessions.StateChangeFunc) sessions.Subscription
}

const (
	storageKeyPrefix = "sb-"
	storageKeySuffix = "-auth-token"
)

// StorageKey is the key a session for projectRef is persisted under.
func StorageKey(projectRef string) string {
	return storageKeyPrefix + projectRef + storageKeySuffix
}

// IsAuthTokenKey reports whether a storage key holds a provider session.
func IsAuthTokenKey(key string) bool {
	return strings.Contains(key, storageKeyPrefix) && strings.Contains(key, storageKeySuffix)
}
