package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/raceops/ingest/engine/models"
)

// UpdateScrapeJob persists a ScrapeJob's mutable lifecycle fields,
// shared by ingestcoord (completion) and retryqueue (failure/retry).
func (s *Store) UpdateScrapeJob(ctx context.Context, job *models.ScrapeJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO scrape_jobs
			(id, organiser, event_url, status, results_count, error_message, retry_count, max_retries, next_retry_at, notification_sent, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())`,
			job.ID, job.Organiser, job.EventURL, string(job.Status), job.ResultsCount, job.ErrorMessage,
			job.RetryCount, job.MaxRetries, job.NextRetryAt, job.NotificationSent, job.Version)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE scrape_jobs SET
			status = $2, results_count = $3, error_message = $4, retry_count = $5,
			max_retries = $6, next_retry_at = $7, notification_sent = $8, version = version + 1, updated_at = now()
		WHERE id = $1`,
		job.ID, string(job.Status), job.ResultsCount, job.ErrorMessage, job.RetryCount,
		job.MaxRetries, job.NextRetryAt, job.NotificationSent)
	return err
}

// ListDueRetries implements retryqueue.Store: jobs in the `failed`
// state whose nextRetryAt has elapsed, ordered ascending per spec §5's
// "Retry Drainer processes jobs sequentially in nextRetryAt ascending
// order" guarantee.
func (s *Store) ListDueRetries(ctx context.Context, now time.Time) ([]models.ScrapeJob, error) {
	var rows []scrapeJobRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, organiser, event_url, status, results_count, error_message, retry_count,
		       max_retries, next_retry_at, notification_sent, version, created_at, updated_at
		FROM scrape_jobs
		WHERE status = 'failed' AND next_retry_at IS NOT NULL AND next_retry_at <= $1
		ORDER BY next_retry_at ASC`, now)
	if err != nil {
		return nil, err
	}
	out := make([]models.ScrapeJob, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// MarkRunning transitions a due job to `running` before resubmission.
func (s *Store) MarkRunning(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE scrape_jobs SET status = 'running', updated_at = now() WHERE id = $1`, jobID)
	return err
}

type scrapeJobRow struct {
	ID               uuid.UUID    `db:"id"`
	Organiser        string       `db:"organiser"`
	EventURL         string       `db:"event_url"`
	Status           string       `db:"status"`
	ResultsCount     int          `db:"results_count"`
	ErrorMessage     sql.NullString `db:"error_message"`
	RetryCount       int          `db:"retry_count"`
	MaxRetries       int          `db:"max_retries"`
	NextRetryAt      sql.NullTime `db:"next_retry_at"`
	NotificationSent bool         `db:"notification_sent"`
	Version          int          `db:"version"`
	CreatedAt        time.Time    `db:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at"`
}

func (r *scrapeJobRow) toModel() models.ScrapeJob {
	j := models.ScrapeJob{
		ID: r.ID, Organiser: r.Organiser, EventURL: r.EventURL, Status: models.ScrapeJobStatus(r.Status),
		ResultsCount: r.ResultsCount, ErrorMessage: r.ErrorMessage.String, RetryCount: r.RetryCount,
		MaxRetries: r.MaxRetries, NotificationSent: r.NotificationSent, Version: r.Version,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
	if r.NextRetryAt.Valid {
		j.NextRetryAt = &r.NextRetryAt.Time
	}
	return j
}
