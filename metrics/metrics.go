// Package metrics provides Prometheus-based metrics recording for the
// reasoning loop: model calls, turns, tool actions and sub-agent spawns.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder receives counters and durations from the loop controller, the
// router and the execution engine. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// RecordModelCall records one completed model call for a role.
	RecordModelCall(role string, duration time.Duration, success bool)
	// RecordTurn records one completed loop iteration at a delegation depth.
	RecordTurn(depth int, duration time.Duration)
	// RecordAction records one resolved action by observation kind.
	RecordAction(tool, kind string, duration time.Duration)
	// RecordSpawn records one sub-agent delegation by terminal status.
	RecordSpawn(status string)
}

// NopRecorder discards all measurements. Used when metrics are disabled.
type NopRecorder struct{}

// RecordModelCall implements Recorder.
func (NopRecorder) RecordModelCall(string, time.Duration, bool) {}

// RecordTurn implements Recorder.
func (NopRecorder) RecordTurn(int, time.Duration) {}

// RecordAction implements Recorder.
func (NopRecorder) RecordAction(string, string, time.Duration) {}

// RecordSpawn implements Recorder.
func (NopRecorder) RecordSpawn(string) {}

// OrNop returns r, or a NopRecorder when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return NopRecorder{}
	}

	return r
}

// PrometheusRecorder implements Recorder using Prometheus collectors.
type PrometheusRecorder struct {
	modelCallsTotal   *prometheus.CounterVec
	modelCallDuration *prometheus.HistogramVec
	turnsTotal        *prometheus.CounterVec
	turnDuration      *prometheus.HistogramVec
	actionsTotal      *prometheus.CounterVec
	actionDuration    *prometheus.HistogramVec
	spawnsTotal       *prometheus.CounterVec
}

// NewPrometheusRecorder creates a recorder registering its collectors with
// reg. Pass prometheus.DefaultRegisterer for the process-global registry.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		modelCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reagent_model_calls_total",
				Help: "Total number of model calls by role and status",
			},
			[]string{"role", "status"},
		),
		modelCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reagent_model_call_duration_seconds",
				Help:    "Duration of model calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"role"},
		),
		turnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reagent_turns_total",
				Help: "Total number of completed loop iterations by delegation depth",
			},
			[]string{"depth"},
		),
		turnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reagent_turn_duration_seconds",
				Help:    "Duration of loop iterations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"depth"},
		),
		actionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reagent_actions_total",
				Help: "Total number of resolved actions by tool and observation kind",
			},
			[]string{"tool", "kind"},
		),
		actionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reagent_action_duration_seconds",
				Help:    "Duration of action execution in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		spawnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reagent_subagent_spawns_total",
				Help: "Total number of sub-agent delegations by terminal status",
			},
			[]string{"status"},
		),
	}
}

// RecordModelCall implements Recorder.
func (p *PrometheusRecorder) RecordModelCall(role string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}

	p.modelCallsTotal.WithLabelValues(role, status).Inc()
	p.modelCallDuration.WithLabelValues(role).Observe(duration.Seconds())
}

// RecordTurn implements Recorder.
func (p *PrometheusRecorder) RecordTurn(depth int, duration time.Duration) {
	label := depthLabel(depth)
	p.turnsTotal.WithLabelValues(label).Inc()
	p.turnDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// RecordAction implements Recorder.
func (p *PrometheusRecorder) RecordAction(tool, kind string, duration time.Duration) {
	p.actionsTotal.WithLabelValues(tool, kind).Inc()
	p.actionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordSpawn implements Recorder.
func (p *PrometheusRecorder) RecordSpawn(status string) {
	p.spawnsTotal.WithLabelValues(status).Inc()
}

func depthLabel(depth int) string {
	// Keep label cardinality bounded; depth budgets are single digit.
	switch depth {
	case 0:
		return "0"
	case 1:
		return "1"
	case 2:
		return "2"
	case 3:
		return "3"
	default:
		return "4+"
	}
}
