package feature

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts module activity. A nil *Metrics records nothing.
type Metrics struct {
	ListenerFailures *prometheus.CounterVec
	Listeners        *prometheus.CounterVec
	TweakPrepares    *prometheus.CounterVec
	TweakApplies     *prometheus.CounterVec
	ConfigErrors     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg, which may
// be nil for unregistered (test) metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ListenerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "quill",
				Subsystem: "listener",
				Name:      "failures_total",
				Help:      "Listener callbacks that failed, by module, callback and reason.",
			},
			[]string{"module", "callback", "reason"},
		),
		Listeners: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "quill",
				Subsystem: "listener",
				Name:      "created_total",
				Help:      "Listener instances created, by module and build kind.",
			},
			[]string{"module", "kind"},
		),
		TweakPrepares: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "quill",
				Subsystem: "tweak",
				Name:      "prepares_total",
				Help:      "Tweak prepare calls, by tweak and result.",
			},
			[]string{"tweak", "result"},
		),
		TweakApplies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "quill",
				Subsystem: "tweak",
				Name:      "applies_total",
				Help:      "Tweak apply calls, by tweak and result.",
			},
			[]string{"tweak", "result"},
		),
		ConfigErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "quill",
				Subsystem: "registry",
				Name:      "config_errors_total",
				Help:      "Modules rejected at registration.",
			},
			[]string{"module"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.ListenerFailures, m.Listeners, m.TweakPrepares, m.TweakApplies, m.ConfigErrors)
	}
	return m
}

func (m *Metrics) listenerFailed(module, callback, reason string) {
	if m == nil {
		return
	}
	m.ListenerFailures.WithLabelValues(module, callback, reason).Inc()
}

func (m *Metrics) listenerCreated(module, kind string) {
	if m == nil {
		return
	}
	m.Listeners.WithLabelValues(module, kind).Inc()
}

func (m *Metrics) prepared(id, result string) {
	if m == nil {
		return
	}
	m.TweakPrepares.WithLabelValues(id, result).Inc()
}

func (m *Metrics) applied(id, result string) {
	if m == nil {
		return
	}
	m.TweakApplies.WithLabelValues(id, result).Inc()
}

func (m *Metrics) configError(module string) {
	if m == nil {
		return
	}
	m.ConfigErrors.WithLabelValues(module).Inc()
}
