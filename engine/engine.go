// Package engine composes the Ingestion Coordinator, Retry Queue,
// Endpoint Monitor, Scheduler, Persistence Adapter and HTTP trigger
// surface behind a single facade: one New/Start/Stop/Snapshot
// lifecycle, telemetry wired in at construction rather than threaded
// through every call site.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/raceops/ingest/engine/config"
	"github.com/raceops/ingest/engine/internal/httpapi"
	"github.com/raceops/ingest/engine/internal/ingestcoord"
	"github.com/raceops/ingest/engine/internal/matcher"
	"github.com/raceops/ingest/engine/internal/monitor"
	"github.com/raceops/ingest/engine/internal/notifications"
	"github.com/raceops/ingest/engine/internal/retryqueue"
	"github.com/raceops/ingest/engine/internal/scheduler"
	"github.com/raceops/ingest/engine/internal/scrapers"
	"github.com/raceops/ingest/engine/internal/storage"
	telemEvents "github.com/raceops/ingest/engine/internal/telemetry/events"
	telemetryhealth "github.com/raceops/ingest/engine/internal/telemetry/health"
	"github.com/raceops/ingest/engine/internal/telemetry/logging"
	intmetrics "github.com/raceops/ingest/engine/internal/telemetry/metrics"
	inttelempolicy "github.com/raceops/ingest/engine/internal/telemetry/policy"
	telemetrytracing "github.com/raceops/ingest/engine/internal/telemetry/tracing"
	"github.com/raceops/ingest/engine/models"
)

// Snapshot is a unified, JSON-friendly view of engine state, consumed by
// cmd/ingestd's periodic snapshot logging and the (future) admin surface.
type Snapshot struct {
	StartedAt        time.Time               `json:"started_at"`
	Uptime           time.Duration           `json:"uptime"`
	CoordinatorStats ingestcoord.Stats       `json:"coordinator_stats"`
	RetryBacklog     int64                   `json:"retry_backlog"`
	Health           telemetryhealth.Snapshot `json:"health"`
}

// TelemetryEvent is a reduced, stable event representation for external observers.
type TelemetryEvent struct {
	Time     time.Time              `json:"time"`
	Category string                 `json:"category"`
	Type     string                 `json:"type"`
	Severity string                 `json:"severity,omitempty"`
	Fields   map[string]interface{} `json:"fields,omitempty"`
}

// EventObserver receives TelemetryEvent notifications.
type EventObserver func(ev TelemetryEvent)

// Engine composes every subsystem behind a single facade.
type Engine struct {
	cfg      *config.Config
	log      logging.Logger
	store    *storage.Store
	registry *scrapers.Registry

	coordinator *ingestcoord.Coordinator
	retry       *retryqueue.Queue
	monitor     *monitor.Monitor
	scheduler   *scheduler.Scheduler
	http        *httpapi.Server
	notifier    *notifications.Notifier
	matcher     *matcher.Matcher

	metricsProvider intmetrics.Provider
	eventBus        telemEvents.Bus
	tracer          telemetrytracing.Tracer
	healthEval      *telemetryhealth.Evaluator

	telemetryPolicy atomic.Pointer[inttelempolicy.TelemetryPolicy]

	startedAt time.Time
	started   atomic.Bool
}

// coordinatorRunner bridges retryqueue.Runner (job, organiserHint) onto
// ingestcoord.Coordinator.Submit (ingestcoord.Job), the two halves of a
// circular dependency: the Coordinator needs the Queue as its
// FailureHandler, and the Queue needs the Coordinator as its Runner. The
// pointer is filled in once both sides exist.
type coordinatorRunner struct {
	coordinator *ingestcoord.Coordinator
}

func (r *coordinatorRunner) Submit(ctx context.Context, job models.ScrapeJob, organiserHint string) bool {
	if r.coordinator == nil {
		return false
	}
	return r.coordinator.Submit(ctx, ingestcoord.Job{ScrapeJob: job, OrganiserHint: organiserHint})
}

// New wires every subsystem: opens the Persistence Adapter (running
// migrations), constructs the Ingestion Coordinator / Retry Queue pair,
// the Endpoint Monitor, the Scheduler, the HTTP trigger surface, and the
// telemetry stack. registry is caller-supplied since organiser scraper
// configuration is deployment-specific, not part of the domain model.
func New(ctx context.Context, cfg *config.Config, registry *scrapers.Registry, deliver notifications.Func) (*Engine, error) {
	log := logging.New(buildSlogLogger(cfg.LogLevel))

	store, err := storage.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("engine: open storage: %w", err)
	}

	notifier := notifications.New(deliver, log)

	runner := &coordinatorRunner{}
	queue := retryqueue.New(store, runner, notifier, log)
	athleteMatcher := matcher.New(store)

	coordinator := ingestcoord.New(ctx, ingestcoord.Config{}, registry, store, queue, athleteMatcher, log)
	runner.coordinator = coordinator

	mon, err := monitor.New(nil, store, notifier, log)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("engine: build monitor: %w", err)
	}

	sched := scheduler.New(log)
	if cfg.BackgroundMonitoringEnabled {
		if err := sched.RegisterMonitorPass(ctx, mon); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("engine: register monitor pass: %w", err)
		}
	}
	if err := sched.RegisterRetryDrain(ctx, queue); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("engine: register retry drain: %w", err)
	}

	httpServer := httpapi.New(httpapi.Config{
		AdminKey: cfg.AdminKey,
		Monitor:  mon,
		Retry:    queue,
		Log:      log,
	})

	e := &Engine{
		cfg:         cfg,
		log:         log,
		store:       store,
		registry:    registry,
		coordinator: coordinator,
		retry:       queue,
		monitor:     mon,
		scheduler:   sched,
		http:        httpServer,
		notifier:    notifier,
		matcher:     athleteMatcher,
		startedAt:   time.Now(),
	}

	e.metricsProvider = selectMetricsProvider(cfg)
	e.eventBus = telemEvents.NewBus(e.metricsProvider)
	e.tracer = telemetrytracing.NewAdaptiveTracer(func() float64 {
		return e.Policy().Tracing.SamplePercent
	})

	initialPolicy := inttelempolicy.Default()
	e.telemetryPolicy.Store(&initialPolicy)
	coordinatorProbe, retryProbe := e.healthProbes()
	e.healthEval = telemetryhealth.NewEvaluator(initialPolicy.Health.ProbeTTL, coordinatorProbe, retryProbe)

	return e, nil
}

// selectMetricsProvider picks the metrics.Provider implementation named
// by cfg.MetricsBackend, defaulting to Prometheus for an empty or
// unrecognised value.
func selectMetricsProvider(cfg *config.Config) intmetrics.Provider {
	switch strings.ToLower(cfg.MetricsBackend) {
	case "", "prom", "prometheus":
		return intmetrics.NewPrometheusProvider(intmetrics.PrometheusProviderOptions{})
	case "otel", "opentelemetry":
		return intmetrics.NewOTelProvider(intmetrics.OTelProviderOptions{})
	case "noop":
		return intmetrics.NewNoopProvider()
	default:
		return intmetrics.NewPrometheusProvider(intmetrics.PrometheusProviderOptions{})
	}
}

// buildSlogLogger maps the config string level onto slog's level type.
func buildSlogLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// Policy returns the current telemetry policy snapshot. Never returns a
// zero value; falls back to policy.Default().
func (e *Engine) Policy() inttelempolicy.TelemetryPolicy {
	if p := e.telemetryPolicy.Load(); p != nil {
		return *p
	}
	return inttelempolicy.Default()
}

// UpdateTelemetryPolicy atomically swaps the active policy, rebuilding
// the health evaluator if its probe TTL changed.
func (e *Engine) UpdateTelemetryPolicy(p *inttelempolicy.TelemetryPolicy) {
	var snap inttelempolicy.TelemetryPolicy
	if p == nil {
		snap = inttelempolicy.Default()
	} else {
		snap = p.Normalize()
	}
	old := e.Policy()
	e.telemetryPolicy.Store(&snap)
	if old.Health.ProbeTTL != snap.Health.ProbeTTL {
		coordinatorProbe, retryProbe := e.healthProbes()
		e.healthEval = telemetryhealth.NewEvaluator(snap.Health.ProbeTTL, coordinatorProbe, retryProbe)
	}
}

// healthProbes builds the two health probes wired into the evaluator:
// Ingestion Coordinator throughput and Retry Queue backlog.
func (e *Engine) healthProbes() (telemetryhealth.Probe, telemetryhealth.Probe) {
	coordinatorProbe := telemetryhealth.ProbeFunc(func(ctx context.Context) telemetryhealth.ProbeResult {
		stats := e.coordinator.Stats()
		pol := e.Policy()
		if stats.Processed < int64(pol.Health.CoordinatorMinSamples) {
			return telemetryhealth.Healthy("ingestion_coordinator")
		}
		ratio := float64(stats.Failed) / float64(stats.Processed)
		if ratio >= pol.Health.CoordinatorUnhealthyRatio {
			return telemetryhealth.Unhealthy("ingestion_coordinator", "failure ratio severe")
		}
		if ratio >= pol.Health.CoordinatorDegradedRatio {
			return telemetryhealth.Degraded("ingestion_coordinator", "failure ratio elevated")
		}
		return telemetryhealth.Healthy("ingestion_coordinator")
	})
	retryProbe := telemetryhealth.ProbeFunc(func(ctx context.Context) telemetryhealth.ProbeResult {
		backlog := e.retry.Backlog()
		pol := e.Policy()
		if backlog >= int64(pol.Health.RetryQueueUnhealthyBacklog) {
			return telemetryhealth.Unhealthy("retry_queue", "backlog severe")
		}
		if backlog >= int64(pol.Health.RetryQueueDegradedBacklog) {
			return telemetryhealth.Degraded("retry_queue", "backlog elevated")
		}
		return telemetryhealth.Healthy("retry_queue")
	})
	return coordinatorProbe, retryProbe
}

// HealthSnapshot evaluates (or returns cached) subsystem health. It
// publishes no event.
func (e *Engine) HealthSnapshot(ctx context.Context) telemetryhealth.Snapshot {
	if e.healthEval == nil {
		return telemetryhealth.Snapshot{}
	}
	return e.healthEval.Evaluate(ctx)
}

// MetricsHandler returns the HTTP handler for metrics exposition.
func (e *Engine) MetricsHandler() http.Handler {
	if e.metricsProvider == nil {
		return nil
	}
	if hp, ok := e.metricsProvider.(interface{ MetricsHandler() http.Handler }); ok {
		return hp.MetricsHandler()
	}
	return nil
}

// TriggerHandler exposes the /monitor and /heartbeat HTTP trigger
// surface for cmd/ingestd to mount.
func (e *Engine) TriggerHandler() http.Handler {
	return e.http
}

// SuggestMatchesForAthlete implements spec §4.8 step 5 for an external
// caller (an admin surface, out of this spec's scope) wanting candidate
// unlinked results for a given athlete.
func (e *Engine) SuggestMatchesForAthlete(ctx context.Context, athlete models.Athlete) ([]matcher.ResultCandidate, error) {
	return e.matcher.SuggestMatchesForAthlete(ctx, athlete)
}

// Submit enqueues a fresh ingestion job for a URL, bypassing the Retry
// Queue's own due-job selection; used for ad-hoc or first-time scrapes.
func (e *Engine) Submit(ctx context.Context, job models.ScrapeJob, organiserHint string) bool {
	return e.coordinator.Submit(ctx, ingestcoord.Job{ScrapeJob: job, OrganiserHint: organiserHint})
}

// Start begins the Scheduler's periodic Endpoint Monitor and Retry Queue
// drain passes. The Ingestion Coordinator's worker pool is already
// running (started in New); the HTTP trigger surface is exposed via
// TriggerHandler for the caller to mount on its own listener.
func (e *Engine) Start() {
	e.scheduler.Start()
	e.started.Store(true)
}

// Stop gracefully stops the scheduler, the coordinator's worker pool,
// and the storage connection, in that order. Idempotent.
func (e *Engine) Stop() error {
	if !e.started.CompareAndSwap(true, false) {
		return nil
	}
	e.scheduler.Stop()
	e.coordinator.Stop()
	return e.store.Close()
}

// Snapshot returns a unified state view.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		StartedAt:        e.startedAt,
		Uptime:           time.Since(e.startedAt),
		CoordinatorStats: e.coordinator.Stats(),
		RetryBacklog:     e.retry.Backlog(),
		Health:           e.HealthSnapshot(context.Background()),
	}
}
