// Package telemetry holds the prometheus collectors for the
// substitution pipeline. Serving them is internal/app's job.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Outcomes counts pipeline terminations by outcome
	// (substituted, no_action, escape, failed).
	Outcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "personaproxy",
			Subsystem: "pipeline",
			Name:      "outcomes_total",
			Help:      "Substitution pipeline outcomes.",
		},
		[]string{"outcome"},
	)

	// StepFailures counts failures by pipeline step
	// (resolve, post, record, delete).
	StepFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "personaproxy",
			Subsystem: "pipeline",
			Name:      "step_failures_total",
			Help:      "Pipeline failures by step.",
		},
		[]string{"step"},
	)

	// PipelineDuration observes end-to-end handling time per message.
	PipelineDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "personaproxy",
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "End-to-end inbound message handling time.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// QueueDepth tracks queued inbound messages across venue workers.
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "personaproxy",
			Subsystem: "pipeline",
			Name:      "queue_depth",
			Help:      "Inbound messages waiting on venue workers.",
		},
	)

	// QueueDropped counts messages rejected because a venue queue was
	// at capacity.
	QueueDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "personaproxy",
			Subsystem: "pipeline",
			Name:      "queue_dropped_total",
			Help:      "Inbound messages dropped by full venue queues.",
		},
	)

	// SinkCache counts identity cache activity (hit, miss, create,
	// invalidate).
	SinkCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "personaproxy",
			Subsystem: "sink",
			Name:      "cache_total",
			Help:      "Identity sink cache activity.",
		},
		[]string{"event"},
	)
)

func init() {
	prometheus.MustRegister(Outcomes, StepFailures, PipelineDuration, QueueDepth, QueueDropped, SinkCache)
}

// ObservePipeline records one pipeline run.
func ObservePipeline(outcome string, start time.Time) {
	Outcomes.WithLabelValues(outcome).Inc()
	PipelineDuration.Observe(time.Since(start).Seconds())
}
