package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"

	"vimani/internal/model"
)

// Metrics are the orchestrator's prometheus collectors.
type Metrics struct {
	runs        *prometheus.CounterVec
	execEvents  *prometheus.CounterVec
	planInvalid prometheus.Counter
	activeRuns  prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vimani_runs_total",
				Help: "Finished runs by terminal status.",
			},
			[]string{"status"},
		),
		execEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vimani_exec_events_total",
				Help: "Executor events forwarded to clients.",
			},
			[]string{"type"},
		),
		planInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vimani_plan_invalid_total",
			Help: "Plans rejected by validation.",
		}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vimani_active_runs",
			Help: "Runs currently in progress.",
		}),
	}

	for _, c := range []prometheus.Collector{m.runs, m.execEvents, m.planInvalid, m.activeRuns} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) runFinished(status string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
}

func (m *Metrics) execEvent(t model.EventType) {
	if m == nil {
		return
	}
	m.execEvents.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) planRejected() {
	if m == nil {
		return
	}
	m.planInvalid.Inc()
}

func (m *Metrics) runStarted() func() {
	if m == nil {
		return func() {}
	}
	m.activeRuns.Inc()
	return m.activeRuns.Dec
}
