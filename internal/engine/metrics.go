package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: время исполнения действия обработчиком
	ActionDuration *prometheus.HistogramVec

	// Traffic: исполненные действия по исходу (success, failure, unknown_action, panic)
	ActionsTotal *prometheus.CounterVec

	// Errors: потерянные побочные записи (activity, event, config)
	SideEffectFailures *prometheus.CounterVec

	// Переходы конечного автомата
	LifecycleTransitions *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker хранилища (0 - closed, 1 - half-open, 2 - open)
	CircuitBreakerState *prometheus.GaugeVec

	AgentsRegistered prometheus.Gauge
	OpenStreams      prometheus.Gauge

	// Archive: заполненность буфера (backpressure)
	ArchiveBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		ActionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orchestrator_action_duration_seconds",
			Help:    "Histogram of action handler latencies.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"agent_type", "action"}),

		ActionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_actions_total",
			Help: "Total number of dispatched actions by outcome.",
		}, []string{"agent_type", "action", "outcome"}),

		SideEffectFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_side_effect_failures_total",
			Help: "Best-effort writes that were dropped.",
		}, []string{"kind"}),

		LifecycleTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_lifecycle_transitions_total",
			Help: "Applied lifecycle commands by resulting state.",
		}, []string{"command", "state"}),

		CircuitBreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orchestrator_circuit_breaker_state",
			Help: "Current state of the store circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"name"}),

		AgentsRegistered: f.NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_agents_registered",
			Help: "Number of agents in the registry.",
		}),

		OpenStreams: f.NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_open_streams",
			Help: "Number of open streaming connections.",
		}),

		ArchiveBufferFill: f.NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_archive_buffer_utilization",
			Help: "Current number of records waiting in the archive buffer.",
		}),
	}
}

// Side-effect kinds
const (
	SideEffectActivity = "activity"
	SideEffectEvent    = "event"
	SideEffectConfig   = "config"
)

// DropCounter — замыкание для best-effort писателей.
func (m *Metrics) DropCounter(kind string) func() {
	c := m.SideEffectFailures.WithLabelValues(kind)
	return c.Inc
}
