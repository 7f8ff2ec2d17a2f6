// Package ingestcoord implements the Ingestion Coordinator (spec §4.6):
// given an event URL, select a scraper, scrape, validate, and persist
// idempotently by URL. The worker-pool-over-buffered-channel shape
// collapses discovery/extraction into a single stage since each job
// here is an inherently sequential chain (select → scrape → persist)
// rather than a streaming multi-stage transform.
package ingestcoord

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/raceops/ingest/engine/internal/matcher"
	"github.com/raceops/ingest/engine/internal/scrapers"
	"github.com/raceops/ingest/engine/internal/telemetry/logging"
	"github.com/raceops/ingest/engine/internal/validator"
	"github.com/raceops/ingest/engine/models"
)

const maxBatchSize = 500

// Job is a unit of ingestion work.
type Job struct {
	ScrapeJob     models.ScrapeJob
	OrganiserHint string
}

// FailureHandler receives jobs that failed scrape or persistence, per
// spec §4.6's handoff to the Retry Queue.
type FailureHandler interface {
	HandleFailure(ctx context.Context, job models.ScrapeJob, cause error)
}

// RetrySuccessNotifier is implemented optionally by the FailureHandler
// when it also needs to know about a job that succeeded after at least
// one prior retry, per spec §4.7's "on retry success" notification.
type RetrySuccessNotifier interface {
	NotifyRetrySuccess(job models.ScrapeJob)
}

// ScrapeCompleteNotifier is implemented optionally by the FailureHandler
// when it also needs to know about a job that completed cleanly on its
// first attempt, per spec §6's "SCRAPE COMPLETE" payload.
type ScrapeCompleteNotifier interface {
	NotifyScrapeComplete(job models.ScrapeJob)
}

// AthleteMatcher is the optional reconciliation step the data flow of
// spec §2 describes running "over unlinked results to propose or
// auto-apply athlete links" once the Coordinator has persisted them.
// Satisfied by engine/internal/matcher.Matcher.
type AthleteMatcher interface {
	AutoMatch(ctx context.Context, resultID uuid.UUID, normalisedName string) (*matcher.AutoMatchResult, error)
}

// Coordinator runs ingestion jobs against a fixed worker pool.
type Coordinator struct {
	registry *scrapers.Registry
	store    Store
	onFail   FailureHandler
	athletes AthleteMatcher
	log      logging.Logger

	jobs   chan Job
	wg     sync.WaitGroup
	cancel context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// Stats is a point-in-time view of throughput, consumed by the engine
// facade's health probe (spec §4.10's "engine composes ... behind a
// single facade").
type Stats struct {
	Processed int64
	Failed    int64
}

// Stats returns cumulative processed/failed job counts since startup.
func (c *Coordinator) Stats() Stats {
	return Stats{Processed: c.processed.Load(), Failed: c.failed.Load()}
}

// Config configures a Coordinator.
type Config struct {
	Workers    int
	BufferSize int
}

// New builds a Coordinator with a fixed-size worker pool, started
// immediately. athletes may be nil, in which case newly persisted
// results are left unlinked for a later, separately-triggered pass.
func New(ctx context.Context, cfg Config, registry *scrapers.Registry, store Store, onFail FailureHandler, athletes AthleteMatcher, log logging.Logger) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	runCtx, cancel := context.WithCancel(ctx)
	c := &Coordinator{
		registry: registry,
		store:    store,
		onFail:   onFail,
		athletes: athletes,
		log:      log,
		jobs:     make(chan Job, cfg.BufferSize),
		cancel:   cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		c.wg.Add(1)
		go c.worker(runCtx)
	}
	return c
}

// Submit enqueues a job, blocking until a slot is free or ctx is done.
func (c *Coordinator) Submit(ctx context.Context, job Job) bool {
	select {
	case c.jobs <- job:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stop cancels the workers' context and shuts down the worker pool; jobs
// still buffered in the queue may be dropped without running.
func (c *Coordinator) Stop() {
	c.cancel()
	close(c.jobs)
	c.wg.Wait()
}

func (c *Coordinator) worker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case job, ok := <-c.jobs:
			if !ok {
				return
			}
			c.run(ctx, job)
		case <-ctx.Done():
			return
		}
	}
}

// run executes the six-step ingestion flow for a single job, all
// idempotent by URL, per spec §4.6.
func (c *Coordinator) run(ctx context.Context, job Job) {
	sj := job.ScrapeJob
	url := sj.EventURL

	scraper, err := c.registry.Select(url, job.OrganiserHint)
	if err != nil {
		c.fail(ctx, sj, err)
		return
	}

	existing, found, err := c.store.FindEventByURL(ctx, url)
	if err != nil {
		c.fail(ctx, sj, models.NewPersistenceError(err))
		return
	}

	var eventID uuid.UUID
	var payload *models.ScrapedResults
	if found {
		eventID = existing.ID
		payload, err = scraper.ScrapeEvent(ctx, url, scrapers.Options{}, nil)
	} else {
		payload, err = scraper.ScrapeEvent(ctx, url, scrapers.Options{}, nil)
		if err == nil {
			payload.Event.URL = url
			if err = c.store.SaveEvent(ctx, &payload.Event, payload.Distances); err == nil {
				eventID = payload.Event.ID
			}
		}
	}
	if err != nil {
		c.fail(ctx, sj, err)
		return
	}

	result := validator.Validate(payload, nil)
	if result.HasCritical() {
		c.log.WarnCtx(ctx, "ingestion validation found critical issues", "url", url, "issues", len(result.Issues))
	}

	for i := range payload.Results {
		payload.Results[i].EventID = eventID
		if payload.Results[i].ID == uuid.Nil {
			payload.Results[i].ID = uuid.New()
		}
	}
	if err := c.persistResultsBatched(ctx, payload.Results); err != nil {
		c.fail(ctx, sj, models.NewPersistenceError(err))
		return
	}

	for i := range payload.Results {
		r := &payload.Results[i]
		if len(r.Checkpoints) > 0 {
			if err := c.store.SaveCheckpoints(ctx, r.ID, r.Checkpoints); err != nil {
				c.fail(ctx, sj, models.NewPersistenceError(err))
				return
			}
		}
		isPrimary, err := c.isFirstSource(ctx, r.ID)
		if err != nil {
			c.fail(ctx, sj, models.NewPersistenceError(err))
			return
		}
		source := &models.ResultSource{
			RaceResultID:   r.ID,
			Organiser:      scraper.Name(),
			SourceURL:      url,
			ScrapedAt:      time.Now(),
			FieldsProvided: populatedFields(r),
			Primary:        isPrimary,
		}
		if err := c.store.SaveResultSource(ctx, source); err != nil {
			c.fail(ctx, sj, models.NewPersistenceError(err))
			return
		}
		if c.athletes != nil {
			if _, err := c.athletes.AutoMatch(ctx, r.ID, r.NormalisedName); err != nil {
				c.log.WarnCtx(ctx, "athlete auto-match failed", "result", r.ID, "error", err)
			}
		}
	}

	if err := c.store.MarkEventScraped(ctx, eventID); err != nil {
		c.fail(ctx, sj, models.NewPersistenceError(err))
		return
	}

	wasRetried := sj.RetryCount > 0
	sj.Status = models.ScrapeJobCompleted
	sj.ResultsCount = len(payload.Results)
	if err := c.store.UpdateScrapeJob(ctx, &sj); err != nil {
		c.log.ErrorCtx(ctx, "failed to mark scrape job completed", "job", sj.ShortID(), "error", err)
	}
	c.processed.Add(1)
	if wasRetried {
		if notifier, ok := c.onFail.(RetrySuccessNotifier); ok {
			notifier.NotifyRetrySuccess(sj)
		}
	} else if notifier, ok := c.onFail.(ScrapeCompleteNotifier); ok {
		notifier.NotifyScrapeComplete(sj)
	}
}

func (c *Coordinator) persistResultsBatched(ctx context.Context, results []models.RaceResult) error {
	for start := 0; start < len(results); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(results) {
			end = len(results)
		}
		if err := c.store.SaveResultsBatch(ctx, results[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) isFirstSource(ctx context.Context, resultID uuid.UUID) (bool, error) {
	has, err := c.store.HasResultSource(ctx, resultID)
	if err != nil {
		return false, err
	}
	return !has, nil
}

func (c *Coordinator) fail(ctx context.Context, sj models.ScrapeJob, cause error) {
	c.log.ErrorCtx(ctx, "ingestion job failed", "job", sj.ShortID(), "url", sj.EventURL, "error", cause)
	c.processed.Add(1)
	c.failed.Add(1)
	if c.onFail != nil {
		c.onFail.HandleFailure(ctx, sj, cause)
	}
}

func populatedFields(r *models.RaceResult) []string {
	var fields []string
	if r.Position != nil {
		fields = append(fields, "position")
	}
	if r.Bib != "" {
		fields = append(fields, "bib")
	}
	if r.Name != "" {
		fields = append(fields, "name")
	}
	if r.FinishTime != "" {
		fields = append(fields, "finish_time")
	}
	if r.GunTime != "" {
		fields = append(fields, "gun_time")
	}
	if r.ChipTime != "" {
		fields = append(fields, "chip_time")
	}
	if r.Country != "" {
		fields = append(fields, "country")
	}
	if r.Club != "" {
		fields = append(fields, "club")
	}
	return fields
}
