package sessions_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-session-relay/sessions"
	"github.com/stretchr/testify/require"
)

func TestID(t *testing.T) {
	require.Equal(t, "", sessions.ID(nil))
	require.Equal(t, "AT1", sessions.ID(&sessions.Session{AccessToken: "AT1", RefreshToken: "RT1"}))
}

func TestExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.False(t, (&sessions.Session{}).Expired(now))
	require.False(t, (&sessions.Session{Expiry: now.Add(time.Minute)}).Expired(now))
	require.True(t, (&sessions.Session{Expiry: now}).Expired(now))
	require.True(t, (&sessions.Session{Expiry: now.Add(-time.Second)}).Expired(now))
}

func TestPropagates(t *testing.T) {
	require.True(t, sessions.EventSignedIn.Propagates())
	require.True(t, sessions.EventSignedOut.Propagates())
	require.True(t, sessions.EventTokenRefreshed.Propagates())
	require.False(t, sessions.EventInitialSession.Propagates())
	require.False(t, sessions.EventUserUpdated.Propagates())
}
