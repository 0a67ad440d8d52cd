// Package metrics exposes Prometheus collectors for turns, routing and
// circuit breakers. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "switchyard"

type Metrics struct {
	registry *prometheus.Registry

	turns           *prometheus.CounterVec
	routeTokens     *prometheus.CounterVec
	classifications *prometheus.CounterVec
	signalConflicts *prometheus.CounterVec
	breakerChanges  *prometheus.CounterVec
	agentCalls      *prometheus.CounterVec
	agentDuration   *prometheus.HistogramVec
	fallbacks       *prometheus.CounterVec
}

// New creates collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_total",
				Help:      "Turns processed by final status",
			},
			[]string{"status"},
		),
		routeTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "route_tokens_total",
				Help:      "Route tokens taken",
			},
			[]string{"token"},
		),
		classifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "classifications_total",
				Help:      "Classifications by outcome",
			},
			[]string{"resolved"},
		),
		signalConflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "signal_conflicts_total",
				Help:      "Proposals rejected because routing signals were locked",
			},
			[]string{"key"},
		),
		breakerChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "breaker_transitions_total",
				Help:      "Circuit breaker state transitions",
			},
			[]string{"key", "from", "to"},
		),
		agentCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_calls_total",
				Help:      "Agent calls by outcome",
			},
			[]string{"agent", "outcome"},
		),
		agentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "agent_call_duration_seconds",
				Help:      "Agent call latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"agent"},
		),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallbacks_total",
				Help:      "Fallback routes taken by the agent that could not run",
			},
			[]string{"agent"},
		),
	}

	m.registry.MustRegister(
		m.turns,
		m.routeTokens,
		m.classifications,
		m.signalConflicts,
		m.breakerChanges,
		m.agentCalls,
		m.agentDuration,
		m.fallbacks,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Turn(status string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(status).Inc()
}

func (m *Metrics) Route(token string) {
	if m == nil {
		return
	}
	m.routeTokens.WithLabelValues(token).Inc()
}

func (m *Metrics) Classification(resolved bool) {
	if m == nil {
		return
	}
	label := "false"
	if resolved {
		label = "true"
	}
	m.classifications.WithLabelValues(label).Inc()
}

func (m *Metrics) SignalConflict(key string) {
	if m == nil {
		return
	}
	m.signalConflicts.WithLabelValues(key).Inc()
}

func (m *Metrics) BreakerTransition(key, from, to string) {
	if m == nil {
		return
	}
	m.breakerChanges.WithLabelValues(key, from, to).Inc()
}

func (m *Metrics) AgentCall(agent, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.agentCalls.WithLabelValues(agent, outcome).Inc()
	m.agentDuration.WithLabelValues(agent).Observe(d.Seconds())
}

func (m *Metrics) Fallback(agent string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(agent).Inc()
}
