// Package metrics exposes orchestration measurements to Prometheus.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/garyjia/approval-core/internal/application/dispatcher"
	"github.com/garyjia/approval-core/internal/domain/event"
)

// Config holds configuration for metrics recording
type Config struct {
	Namespace string
	Registry  prometheus.Registerer
}

// Recorder implements workflow.Metrics and worker.ExpiryObserver on Prometheus collectors
type Recorder struct {
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	ruleResults       *prometheus.CounterVec
	events            *prometheus.CounterVec
	tasksExpired      prometheus.Counter
}

// NewRecorder registers the collectors on the configured registry
func NewRecorder(cfg Config) *Recorder {
	if cfg.Namespace == "" {
		cfg.Namespace = "approval_core"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(cfg.Registry)

	return &Recorder{
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "orchestrator",
				Name:      "operations_total",
				Help:      "Orchestrator operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "orchestrator",
				Name:      "operation_duration_seconds",
				Help:      "Time spent in orchestrator operations, transaction included",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"operation"},
		),
		ruleResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "evaluator",
				Name:      "rule_results_total",
				Help:      "Approval rule evaluations by result",
			},
			[]string{"result"},
		),
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "dispatcher",
				Name:      "events_total",
				Help:      "Lifecycle events published after commit",
			},
			[]string{"type"},
		),
		tasksExpired: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "sla",
				Name:      "tasks_expired_total",
				Help:      "Approval tasks expired by the SLA sweeper",
			},
		),
	}
}

// ObserveOperation records one orchestrator call
func (r *Recorder) ObserveOperation(operation, outcome string, elapsed time.Duration) {
	r.operations.WithLabelValues(operation, outcome).Inc()
	r.operationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// RecordRuleResult counts one rule evaluation
func (r *Recorder) RecordRuleResult(result string) {
	r.ruleResults.WithLabelValues(result).Inc()
}

// RecordTaskExpired counts one SLA expiry
func (r *Recorder) RecordTaskExpired() {
	r.tasksExpired.Inc()
}

// EventHandler counts every dispatched event. Subscribe it with SubscribeAll.
func (r *Recorder) EventHandler() dispatcher.Handler {
	return func(ctx context.Context, evt *event.Event) error {
		r.events.WithLabelValues(evt.Type.String()).Inc()
		return nil
	}
}
