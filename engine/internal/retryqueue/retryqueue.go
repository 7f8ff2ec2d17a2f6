// Package retryqueue implements the fixed-backoff retry drainer of spec
// §4.7: failed scrape jobs are retried on the {5, 15, 45} minute
// schedule already encoded in models.ScrapeJob.ScheduleRetry. The drain
// pass itself (DrainOnce) is a unit of work invoked by
// engine/internal/scheduler on its own "every 1 minute" cron cadence per
// spec §4.10 — this package owns only the within-pass politeness sleep,
// not the outer cadence, so the scheduler remains the single place that
// decides how often the drainer runs.
package retryqueue

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/raceops/ingest/engine/internal/telemetry/logging"
	"github.com/raceops/ingest/engine/models"
)

// interJobSleep is the fixed sleep between jobs within one drain pass,
// per spec §4.7: "between jobs the drainer sleeps a fixed 2s to avoid
// thundering the source."
const interJobSleep = 2 * time.Second

// Store is the persistence surface the drainer needs: list due jobs and
// transition them.
type Store interface {
	ListDueRetries(ctx context.Context, now time.Time) ([]models.ScrapeJob, error)
	MarkRunning(ctx context.Context, jobID string) error
}

// Runner re-executes an ingestion job; satisfied by ingestcoord.Coordinator.Submit.
type Runner interface {
	Submit(ctx context.Context, job models.ScrapeJob, organiserHint string) bool
}

// Notifier fires fire-and-forget callouts; must never affect job state.
type Notifier interface {
	NotifyFirstFailure(job models.ScrapeJob)
	NotifyRetrySuccess(job models.ScrapeJob)
	NotifyPermanentFailure(job models.ScrapeJob)
	NotifyScrapeComplete(job models.ScrapeJob)
}

// Queue drains failed-and-due jobs when asked.
type Queue struct {
	store    Store
	runner   Runner
	notifier Notifier
	log      logging.Logger

	backlog atomic.Int64
}

// Backlog returns the number of due jobs observed in the most recent
// DrainOnce pass, consumed by the engine facade's health probe.
func (q *Queue) Backlog() int64 {
	return q.backlog.Load()
}

// New constructs a Queue.
func New(store Store, runner Runner, notifier Notifier, log logging.Logger) *Queue {
	return &Queue{store: store, runner: runner, notifier: notifier, log: log}
}

// DrainOnce runs a single drain pass: every due job is marked running
// and resubmitted, sequentially, sleeping interJobSleep between jobs.
// Intended to be invoked by a singleton cron job (spec §4.10 "Retry
// drain: every 1 minute"); the scheduler is responsible for ensuring
// passes never overlap.
func (q *Queue) DrainOnce(ctx context.Context) {
	due, err := q.store.ListDueRetries(ctx, time.Now())
	if err != nil {
		q.log.ErrorCtx(ctx, "retry queue: failed to list due jobs", "error", err)
		return
	}
	q.backlog.Store(int64(len(due)))
	for i, job := range due {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := q.store.MarkRunning(ctx, job.ID.String()); err != nil {
			q.log.ErrorCtx(ctx, "retry queue: failed to mark job running", "job", job.ShortID(), "error", err)
			continue
		}
		q.runner.Submit(ctx, job, "")
		if i < len(due)-1 {
			time.Sleep(interJobSleep)
		}
	}
}

// HandleFailure implements ingestcoord.FailureHandler: schedules a retry
// per the fixed backoff schedule, or marks permanently failed, and fires
// the matching fire-and-forget notification. Notification failures must
// never affect job state, so they are not awaited or retried here.
func (q *Queue) HandleFailure(ctx context.Context, job models.ScrapeJob, cause error) {
	wasFirstFailure := job.RetryCount == 0
	willRetry := job.ScheduleRetry(time.Now(), cause.Error())

	if wasFirstFailure && q.notifier != nil {
		go q.notifier.NotifyFirstFailure(job)
	}
	if !willRetry && q.notifier != nil {
		go q.notifier.NotifyPermanentFailure(job)
	}

	job.RetryCount++
	if err := q.persistFailure(ctx, job); err != nil {
		q.log.ErrorCtx(ctx, "retry queue: failed to persist failure state", "job", job.ShortID(), "error", err)
	}
}

// NotifyRetrySuccess implements ingestcoord.RetrySuccessNotifier by
// forwarding to the configured Notifier, letting the Coordinator treat
// the Queue (its FailureHandler) as the single collaborator for both
// failure handoff and retry-success notification.
func (q *Queue) NotifyRetrySuccess(job models.ScrapeJob) {
	if q.notifier != nil {
		go q.notifier.NotifyRetrySuccess(job)
	}
}

// NotifyScrapeComplete implements ingestcoord.ScrapeCompleteNotifier by
// forwarding to the configured Notifier, for jobs that complete cleanly
// on their first attempt.
func (q *Queue) NotifyScrapeComplete(job models.ScrapeJob) {
	if q.notifier != nil {
		go q.notifier.NotifyScrapeComplete(job)
	}
}

// persistFailure is a thin adapter over the Store's job-update surface,
// kept separate so retryqueue only needs a narrow Store contract here
// while ingestcoord.Store carries the full persistence interface.
func (q *Queue) persistFailure(ctx context.Context, job models.ScrapeJob) error {
	type updater interface {
		UpdateScrapeJob(ctx context.Context, job *models.ScrapeJob) error
	}
	if u, ok := q.store.(updater); ok {
		return u.UpdateScrapeJob(ctx, &job)
	}
	return nil
}
