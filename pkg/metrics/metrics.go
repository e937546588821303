// Package metrics provides Prometheus metrics for the race server.
//
// A Manager is constructed by the process entry point and handed to the
// components that record into it. A nil *Manager is valid and records
// nothing, which keeps tests and library callers free of registry setup.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Checkpoint outcome labels.
const (
	OutcomeAccepted   = "accepted"
	OutcomeLap        = "lap"
	OutcomeOutOfOrder = "out_of_order"
	OutcomeInvalid    = "invalid"
	OutcomeDebounced  = "debounced"
)

// Manager owns the server's collectors.
type Manager struct {
	namespace string
	subsystem string
	registry  *prometheus.Registry

	roomsActive        prometheus.Gauge
	participantsActive prometheus.Gauge
	joins              prometheus.Counter
	checkpoints        *prometheus.CounterVec
	countdowns         prometheus.Counter
	racesStarted       prometheus.Counter
	racesFinished      prometheus.Counter
	messagesDropped    prometheus.Counter
	unauthorized       prometheus.Counter
}

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithSubsystem sets the subsystem for all metrics.
func WithSubsystem(subsystem string) Option {
	return func(m *Manager) {
		if subsystem != "" {
			m.subsystem = subsystem
		}
	}
}

// WithRegistry registers the collectors on r instead of a fresh registry.
func WithRegistry(r *prometheus.Registry) Option {
	return func(m *Manager) {
		if r != nil {
			m.registry = r
		}
	}
}

// NewManager creates the collectors and registers them.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "circuitrunners",
		subsystem: "server",
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.roomsActive = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "rooms_active",
		Help:      "Number of rooms currently registered",
	})
	m.participantsActive = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "participants_active",
		Help:      "Number of participants currently seated in a room",
	})
	m.joins = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "joins_total",
		Help:      "Total number of room joins",
	})
	m.checkpoints = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "checkpoint_hits_total",
		Help:      "Checkpoint reports by outcome",
	}, []string{"outcome"})
	m.countdowns = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "countdowns_started_total",
		Help:      "Total number of race countdowns started",
	})
	m.racesStarted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "races_started_total",
		Help:      "Total number of races that reached the playing state",
	})
	m.racesFinished = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "races_finished_total",
		Help:      "Total number of races that reached the finished state",
	})
	m.messagesDropped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "messages_dropped_total",
		Help:      "Outbound messages dropped because a client buffer was full",
	})
	m.unauthorized = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "unauthorized_commands_total",
		Help:      "Host-only commands rejected for non-host senders",
	})
}

// Registry returns the registry backing this manager.
func (m *Manager) Registry() *prometheus.Registry {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

func (m *Manager) SetRoomsActive(n int) {
	if m != nil {
		m.roomsActive.Set(float64(n))
	}
}

func (m *Manager) SetParticipantsActive(n int) {
	if m != nil {
		m.participantsActive.Set(float64(n))
	}
}

func (m *Manager) RecordJoin() {
	if m != nil {
		m.joins.Inc()
	}
}

// RecordCheckpoint counts a checkpoint report under one of the Outcome* labels.
func (m *Manager) RecordCheckpoint(outcome string) {
	if m != nil {
		m.checkpoints.WithLabelValues(outcome).Inc()
	}
}

func (m *Manager) RecordCountdown() {
	if m != nil {
		m.countdowns.Inc()
	}
}

func (m *Manager) RecordRaceStarted() {
	if m != nil {
		m.racesStarted.Inc()
	}
}

func (m *Manager) RecordRaceFinished() {
	if m != nil {
		m.racesFinished.Inc()
	}
}

func (m *Manager) RecordMessageDropped() {
	if m != nil {
		m.messagesDropped.Inc()
	}
}

func (m *Manager) RecordUnauthorized() {
	if m != nil {
		m.unauthorized.Inc()
	}
}
