package watcher

import (
	"context"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/jrsteele09/go-session-relay/identity/providerfake"
	"github.com/stretchr/testify/require"
)

func TestRecheckIsIdempotent(t *testing.T) {
	provider := providerfake.NewFakeProvider()
	provider.SetAccessToken("A")
	reloads := 0

	w, err := New(Deps{
		Provider: provider,
		Reloader: ReloaderFunc(func(Trigger) { reloads++ }),
	}, WithClock(clockwork.NewFakeClock()))
	require.NoError(t, err)
	require.NoError(t, w.Mount(context.Background()))
	defer w.Unmount()

	w.recheck(context.Background(), TriggerPoll)
	w.recheck(context.Background(), TriggerPoll)
	require.Equal(t, 0, reloads)

	provider.SetAccessToken("B")
	w.recheck(context.Background(), TriggerFocus)
	w.recheck(context.Background(), TriggerFocus)
	require.Equal(t, 1, reloads)
	require.Equal(t, "B", w.LastObserved())
}
