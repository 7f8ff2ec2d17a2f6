package policy

// INTERNAL: telemetry policy. Public access via engine.Policy()/UpdateTelemetryPolicy().

import "time"

// TelemetryPolicy centralizes runtime-tunable telemetry knobs. It is designed to be
// swapped atomically (callers hold an immutable snapshot pointer) to avoid locks
// on hot paths. All durations are expected to be positive; zero values fall back
// to defaults established in Default().
type TelemetryPolicy struct {
	Health  HealthPolicy
	Tracing TracingPolicy
	Events  EventBusPolicy
}

// HealthPolicy tunes the Ingestion Coordinator and Retry Queue health probes.
type HealthPolicy struct {
	ProbeTTL               time.Duration
	CoordinatorMinSamples  int
	CoordinatorDegradedRatio  float64
	CoordinatorUnhealthyRatio float64
	RetryQueueDegradedBacklog  int
	RetryQueueUnhealthyBacklog int
}

type TracingPolicy struct {
	SamplePercent           float64
	ErrorBoostPercent       float64
	LatencyBoostThresholdMs int64
	LatencyBoostPercent     float64
}

type EventBusPolicy struct {
	MaxSubscriberBuffer int
}

// Default returns a TelemetryPolicy populated with the current heuristics.
func Default() TelemetryPolicy {
	return TelemetryPolicy{
		Health: HealthPolicy{
			ProbeTTL:                   2 * time.Second,
			CoordinatorMinSamples:      10,
			CoordinatorDegradedRatio:   0.50,
			CoordinatorUnhealthyRatio:  0.80,
			RetryQueueDegradedBacklog:  25,
			RetryQueueUnhealthyBacklog: 100,
		},
		Tracing: TracingPolicy{SamplePercent: 20},
		Events:  EventBusPolicy{MaxSubscriberBuffer: 1024},
	}
}

// Normalize ensures sane bounds without mutating original; returns a cleaned copy.
func (p TelemetryPolicy) Normalize() TelemetryPolicy {
	c := p
	if c.Health.ProbeTTL <= 0 {
		c.Health.ProbeTTL = 2 * time.Second
	}
	if c.Health.CoordinatorMinSamples <= 0 {
		c.Health.CoordinatorMinSamples = 10
	}
	if c.Health.CoordinatorDegradedRatio <= 0 {
		c.Health.CoordinatorDegradedRatio = 0.50
	}
	if c.Health.CoordinatorUnhealthyRatio <= 0 {
		c.Health.CoordinatorUnhealthyRatio = 0.80
	}
	if c.Health.RetryQueueDegradedBacklog <= 0 {
		c.Health.RetryQueueDegradedBacklog = 25
	}
	if c.Health.RetryQueueUnhealthyBacklog <= 0 {
		c.Health.RetryQueueUnhealthyBacklog = 100
	}
	if c.Tracing.SamplePercent < 0 {
		c.Tracing.SamplePercent = 0
	}
	if c.Tracing.SamplePercent > 100 {
		c.Tracing.SamplePercent = 100
	}
	if c.Events.MaxSubscriberBuffer <= 0 {
		c.Events.MaxSubscriberBuffer = 1024
	}
	return c
}
