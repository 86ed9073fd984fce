package metrics

import (
	"github.com/jrsteele09/go-session-relay/watcher"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for session propagation.
// Tracks re-checks per trigger, forced reloads, relays and mounted views.
type Metrics struct {
	Rechecks    *prometheus.CounterVec
	Reloads     *prometheus.CounterVec
	Relays      *prometheus.CounterVec
	ViewsActive prometheus.Gauge
}

// New registers every metric with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Rechecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "session_relay_rechecks_total",
			Help: "Session re-checks by trigger and whether the session had changed",
		}, []string{"trigger", "changed"}),
		Reloads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "session_relay_reloads_total",
			Help: "Views told to reload, by the trigger that detected the change",
		}, []string{"trigger"}),
		Relays: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "session_relay_relays_total",
			Help: "Relay navigations by whether a session was handed over",
		}, []string{"authenticated"}),
		ViewsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "session_relay_views_active",
			Help: "Views currently mounted with a running watcher",
		}),
	}
}

// ObserveRecheck implements watcher.Observer.
func (m *Metrics) ObserveRecheck(trigger watcher.Trigger, changed bool) {
	m.Rechecks.WithLabelValues(string(trigger), boolLabel(changed)).Inc()
	if changed {
		m.Reloads.WithLabelValues(string(trigger)).Inc()
	}
}

// ObserveRelay implements relay.Observer.
func (m *Metrics) ObserveRelay(authenticated bool) {
	m.Relays.WithLabelValues(boolLabel(authenticated)).Inc()
}

// ViewMounted and ViewUnmounted track the number of live views.
func (m *Metrics) ViewMounted() {
	m.ViewsActive.Inc()
}

func (m *Metrics) ViewUnmounted() {
	m.ViewsActive.Dec()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
