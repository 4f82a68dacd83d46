package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hwlite/hwlite-go/pkg/apdu"
	"github.com/hwlite/hwlite-go/pkg/command"
	"github.com/hwlite/hwlite-go/pkg/session"
	"github.com/hwlite/hwlite-go/pkg/transport"
)

const namespace = "hwlite"

// Result labels for finished sessions.
const (
	ResultSuccess = "success"
	ResultUnknown = "unknown"
)

// Registry holds all session metrics.
type Registry struct {
	registry *prometheus.Registry

	SessionsActive   prometheus.Gauge
	SessionsTotal    *prometheus.CounterVec
	SessionDuration  prometheus.Histogram
	PresencesIgnored prometheus.Counter
	Transitions      *prometheus.CounterVec
	ExchangesTotal   *prometheus.CounterVec
	ExchangeDuration *prometheus.HistogramVec
}

// NewRegistry creates a registry with Go and process collectors.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently driving a token.",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Finished sessions by result.",
		}, []string{"result"}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall time from presence to terminal state.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		PresencesIgnored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presences_ignored_total",
			Help:      "Presence events dropped while a session was active.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Session state transitions by target state.",
		}, []string{"state"}),
		ExchangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchanges_total",
			Help:      "APDU exchanges by command and status word.",
		}, []string{"command", "status"}),
		ExchangeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_duration_seconds",
			Help:      "APDU round-trip time by command.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"command"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.SessionsActive,
		r.SessionsTotal,
		r.SessionDuration,
		r.PresencesIgnored,
		r.Transitions,
		r.ExchangesTotal,
		r.ExchangeDuration,
	)
	return r
}

// Gatherer returns the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveExchange records one APDU exchange. It has the command.Observer
// signature.
func (r *Registry) ObserveExchange(name string, sw apdu.Status, elapsed time.Duration, err error) {
	r.ExchangesTotal.WithLabelValues(name, statusLabel(sw, err)).Inc()
	r.ExchangeDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

// ObserveStateChange records a session transition.
func (r *Registry) ObserveStateChange(_ string, old, new session.State) {
	r.Transitions.WithLabelValues(new.String()).Inc()
	switch {
	case old == session.StateDisconnected && new == session.StateConnected:
		r.SessionsActive.Inc()
	case new.IsTerminal() && !old.IsTerminal():
		r.SessionsActive.Dec()
	}
}

// ObserveOutcome records a finished session.
func (r *Registry) ObserveOutcome(o session.Outcome) {
	r.SessionsTotal.WithLabelValues(ResultLabel(o)).Inc()
	if d := o.Duration(); d > 0 {
		r.SessionDuration.Observe(d.Seconds())
	}
}

// ObserveIgnored records a dropped presence event.
func (r *Registry) ObserveIgnored(transport.Event) {
	r.PresencesIgnored.Inc()
}

// Instrument wires the registry into cfg, keeping existing callbacks.
func (r *Registry) Instrument(cfg *session.ControllerConfig) {
	cfg.CommandOptions = append(cfg.CommandOptions, command.WithObserver(r.ObserveExchange))

	prevState := cfg.OnStateChange
	cfg.OnStateChange = func(id string, old, new session.State) {
		r.ObserveStateChange(id, old, new)
		if prevState != nil {
			prevState(id, old, new)
		}
	}

	prevOutcome := cfg.OnOutcome
	cfg.OnOutcome = func(o session.Outcome) {
		r.ObserveOutcome(o)
		if prevOutcome != nil {
			prevOutcome(o)
		}
	}

	prevIgnored := cfg.OnIgnored
	cfg.OnIgnored = func(ev transport.Event) {
		r.ObserveIgnored(ev)
		if prevIgnored != nil {
			prevIgnored(ev)
		}
	}
}

// ResultLabel maps an outcome to its sessions_total label: "success" or
// the lower-case error kind.
func ResultLabel(o session.Outcome) string {
	if o.Success() {
		return ResultSuccess
	}
	kind, ok := o.Kind()
	if !ok {
		return ResultUnknown
	}
	switch kind {
	case session.KindTransport:
		return "transport"
	case session.KindStatus:
		return "status"
	case session.KindMalformed:
		return "malformed"
	case session.KindMisuse:
		return "misuse"
	default:
		return ResultUnknown
	}
}

func statusLabel(sw apdu.Status, err error) string {
	if sw == 0 {
		if err != nil {
			return "error"
		}
		return "none"
	}
	return fmt.Sprintf("%04X", uint16(sw))
}
