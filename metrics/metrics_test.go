package metrics_test

import (
	"testing"

	"github.com/jrsteele09/go-session-relay/metrics"
	"github.com/jrsteele09/go-session-relay/watcher"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveRecheck(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	m.ObserveRecheck(watcher.TriggerPoll, false)
	m.ObserveRecheck(watcher.TriggerPoll, false)
	m.ObserveRecheck(watcher.TriggerStorage, true)

	require.Equal(t, 2.0, testutil.ToFloat64(m.Rechecks.WithLabelValues("poll", "false")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Rechecks.WithLabelValues("storage", "true")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Reloads.WithLabelValues("storage")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.Reloads.WithLabelValues("poll")))
}

func TestObserveRelayAndViews(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	m.ObserveRelay(true)
	m.ObserveRelay(false)
	m.ObserveRelay(false)
	m.ViewMounted()
	m.ViewMounted()
	m.ViewUnmounted()

	require.Equal(t, 1.0, testutil.ToFloat64(m.Relays.WithLabelValues("true")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.Relays.WithLabelValues("false")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ViewsActive))
}
