// Package metrics exposes coordinator health and entity states in the
// Prometheus text format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dokzlo13/petwalkd/internal/coordinator"
	"github.com/dokzlo13/petwalkd/internal/entity"
	"github.com/dokzlo13/petwalkd/internal/eventbus"
)

// Subscriber is the part of the event bus the collectors listen on.
type Subscriber interface {
	Subscribe(eventType eventbus.EventType, handler eventbus.Handler)
}

// Metrics owns a private registry so tests and multiple instances never
// collide on the global one.
type Metrics struct {
	registry *prometheus.Registry
	now      func() time.Time

	available       prometheus.Gauge
	lastRefresh     prometheus.Gauge
	refreshFailures prometheus.Counter
	entityState     *prometheus.GaugeVec
	commands        *prometheus.CounterVec
}

// New registers all collectors, labelled with the device name.
func New(device string) *Metrics {
	labels := prometheus.Labels{"device": device}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		now:      time.Now,
		available: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "petwalk_available",
			Help:        "1 if the last refresh succeeded, 0 otherwise",
			ConstLabels: labels,
		}),
		lastRefresh: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "petwalk_last_refresh_timestamp_seconds",
			Help:        "Unix timestamp of the last successful refresh",
			ConstLabels: labels,
		}),
		refreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "petwalk_refresh_failures_total",
			Help:        "Refreshes that ended in an update failure",
			ConstLabels: labels,
		}),
		entityState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "petwalk_entity_state",
			Help:        "Entity state (switch: 1=on; door: 1=closed)",
			ConstLabels: labels,
		}, []string{"entity", "kind"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "petwalk_commands_total",
			Help:        "Commands sent to the appliance by key and result",
			ConstLabels: labels,
		}, []string{"key", "result"}),
	}

	m.registry.MustRegister(m.available, m.lastRefresh, m.refreshFailures, m.entityState, m.commands)
	return m
}

// Attach subscribes the collectors to coordinator events.
func (m *Metrics) Attach(bus Subscriber) {
	bus.Subscribe(eventbus.EventTypeStateUpdated, func(e eventbus.Event) {
		if s, ok := e.Data["state"].(*coordinator.State); ok && s != nil {
			m.ObserveState(s)
		}
	})
	bus.Subscribe(eventbus.EventTypeRefreshFailed, func(eventbus.Event) {
		m.available.Set(0)
		m.refreshFailures.Inc()
	})
	bus.Subscribe(eventbus.EventTypeCommandCompleted, func(e eventbus.Event) {
		m.observeCommand(e, "ok")
	})
	bus.Subscribe(eventbus.EventTypeCommandFailed, func(e eventbus.Event) {
		m.observeCommand(e, "error")
	})
}

// ObserveState records a successful refresh.
func (m *Metrics) ObserveState(s *coordinator.State) {
	m.available.Set(1)
	m.lastRefresh.Set(float64(m.now().Unix()))

	for _, d := range entity.All() {
		v := 0.0
		switch d.Kind {
		case entity.KindCover:
			if entity.DoorClosed(s) {
				v = 1
			}
		default:
			if entity.IsOn(s, d.Key) {
				v = 1
			}
		}
		m.entityState.WithLabelValues(d.ID, string(d.Kind)).Set(v)
	}
}

func (m *Metrics) observeCommand(e eventbus.Event, result string) {
	key, _ := e.Data["key"].(string)
	m.commands.WithLabelValues(key, result).Inc()
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
