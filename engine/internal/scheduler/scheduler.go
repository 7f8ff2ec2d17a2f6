// Package scheduler drives the two periodic jobs of spec §4.10 using
// github.com/robfig/cron/v3. Job naming follows
// r3e-network-service_layer's internal/marble.WorkerGroup.AddFunc
// idiom, a named-function-plus-interval registration list, even though
// the underlying scheduling primitive here is a real cron expression
// rather than a raw ticker.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/raceops/ingest/engine/internal/telemetry/logging"
)

// MonitorPassSchedule and RetryDrainSchedule are the spec §4.10 cadences:
// the coarsest-grained monitor driver runs every minute and filters by
// interval internally, and the retry drainer runs every minute too.
const (
	MonitorPassSchedule = "@every 1m"
	RetryDrainSchedule  = "@every 1m"
)

// MonitorRunner runs one monitor pass, probing every endpoint whose
// check interval has elapsed.
type MonitorRunner interface {
	RunPass(ctx context.Context) error
}

// RetryDrainer runs one retry-queue drain pass.
type RetryDrainer interface {
	DrainOnce(ctx context.Context)
}

// Scheduler owns the process-wide cron instance. Both registered jobs
// run as singletons (spec §4.10: "never concurrently with themselves"),
// enforced by cron.v3's SkipIfStillRunning wrapper, and may run
// alongside each other and alongside scrape ingestion.
type Scheduler struct {
	cron *cron.Cron
	log  logging.Logger
}

// New builds a Scheduler with minute granularity (no seconds field),
// matching spec §4.10's coarsest cadence.
func New(log logging.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
		log: log,
	}
}

// RegisterMonitorPass wires the Endpoint Monitor's periodic probe job.
func (s *Scheduler) RegisterMonitorPass(ctx context.Context, runner MonitorRunner) error {
	_, err := s.cron.AddJob(MonitorPassSchedule, cron.NewChain(cron.SkipIfStillRunning(cronLogger{s.log})).Then(cron.FuncJob(func() {
		start := time.Now()
		if err := runner.RunPass(ctx); err != nil {
			s.log.ErrorCtx(ctx, "scheduler: monitor pass failed", "error", err, "elapsed", time.Since(start))
		}
	})))
	return err
}

// RegisterRetryDrain wires the Retry Queue's periodic drain job.
func (s *Scheduler) RegisterRetryDrain(ctx context.Context, drainer RetryDrainer) error {
	_, err := s.cron.AddJob(RetryDrainSchedule, cron.NewChain(cron.SkipIfStillRunning(cronLogger{s.log})).Then(cron.FuncJob(func() {
		drainer.DrainOnce(ctx)
	})))
	return err
}

// Start begins running registered jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler, waiting for any in-flight job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// cronLogger adapts logging.Logger to cron.v3's Logger interface, used
// only for SkipIfStillRunning's internal overrun notice.
type cronLogger struct {
	log logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.InfoCtx(context.Background(), msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.ErrorCtx(context.Background(), msg, append(keysAndValues, "error", err)...)
}
