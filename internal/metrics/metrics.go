// Package metrics holds the wizard's Prometheus collectors. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"time"

	"sdlc-wizard/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sdlc_wizard"

type Metrics struct {
	stageExecutions *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
	decisions       *prometheus.CounterVec
	queueDepth      prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		stageExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_executions_total",
			Help:      "Stage executor invocations by executor and outcome.",
		}, []string{"executor", "outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of stage executor invocations.",
			Buckets:   []float64{.01, .05, .25, 1, 5, 15, 60, 180},
		}, []string{"executor"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_transitions_total",
			Help:      "Stage transitions by target stage.",
		}, []string{"to"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Approvals and rejections by gate.",
		}, []string{"gate", "decision"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "advance_queue_depth",
			Help:      "Run ids waiting in the advance queue.",
		}),
	}
	reg.MustRegister(m.stageExecutions, m.stageDuration, m.transitions, m.decisions, m.queueDepth)
	return m
}

func (m *Metrics) ObserveStage(executor string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.stageExecutions.WithLabelValues(executor, outcome).Inc()
	m.stageDuration.WithLabelValues(executor).Observe(d.Seconds())
}

func (m *Metrics) Transition(to domain.Stage) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(to)).Inc()
}

func (m *Metrics) Decision(gate domain.Stage, approved bool) {
	if m == nil {
		return
	}
	decision := "approved"
	if !approved {
		decision = "rejected"
	}
	m.decisions.WithLabelValues(string(gate), decision).Inc()
}

func (m *Metrics) SetQueueDepth(n int64) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
