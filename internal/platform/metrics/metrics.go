// Package metrics holds the Prometheus instruments for the game server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every instrument so the wiring stays explicit. All
// instruments register against the supplied registry.
type Metrics struct {
	Registry *prometheus.Registry

	CommandsTotal    *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	CommandRejected  *prometheus.CounterVec
	RoomsOwned       prometheus.Gauge
	ConnectedClients prometheus.Gauge
	PhaseAdvances    *prometheus.CounterVec
	CommitConflicts  prometheus.Counter
	EventsPublished  prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		CommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mafiad_commands_total",
			Help: "Commands processed, by type and outcome.",
		}, []string{"type", "outcome"}),
		CommandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mafiad_command_duration_seconds",
			Help:    "Command dispatch latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		CommandRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mafiad_commands_rejected_total",
			Help: "Commands rejected by the policy gate, by error code.",
		}, []string{"code"}),
		RoomsOwned: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mafiad_rooms_owned",
			Help: "Rooms whose leader lease this instance currently holds.",
		}),
		ConnectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mafiad_connected_clients",
			Help: "Open websocket connections.",
		}),
		PhaseAdvances: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mafiad_phase_advances_total",
			Help: "Phase transitions, by reason (timer or early).",
		}, []string{"phase", "reason"}),
		CommitConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "mafiad_commit_conflicts_total",
			Help: "Optimistic room commits that exhausted their retries.",
		}),
		EventsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "mafiad_events_published_total",
			Help: "Events fanned out to the bus.",
		}),
	}
}
