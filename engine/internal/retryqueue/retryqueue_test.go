package retryqueue

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raceops/ingest/engine/internal/telemetry/logging"
	"github.com/raceops/ingest/engine/models"
)

type fakeStore struct {
	updated []models.ScrapeJob
}

func (f *fakeStore) ListDueRetries(ctx context.Context, now time.Time) ([]models.ScrapeJob, error) {
	return nil, nil
}
func (f *fakeStore) MarkRunning(ctx context.Context, jobID string) error { return nil }
func (f *fakeStore) UpdateScrapeJob(ctx context.Context, job *models.ScrapeJob) error {
	f.updated = append(f.updated, *job)
	return nil
}

func TestHandleFailureSchedulesRetry(t *testing.T) {
	store := &fakeStore{}
	q := New(store, nil, nil, logging.New(slog.Default()))

	job := models.ScrapeJob{MaxRetries: 3}
	q.HandleFailure(context.Background(), job, errors.New("boom"))

	require.Len(t, store.updated, 1)
	require.Equal(t, models.ScrapeJobFailed, store.updated[0].Status)
	require.NotNil(t, store.updated[0].NextRetryAt)
	require.Equal(t, 1, store.updated[0].RetryCount)
}

func TestHandleFailurePermanentAfterMaxRetries(t *testing.T) {
	store := &fakeStore{}
	q := New(store, nil, nil, logging.New(slog.Default()))

	job := models.ScrapeJob{MaxRetries: 1, RetryCount: 1}
	q.HandleFailure(context.Background(), job, errors.New("boom"))

	require.Len(t, store.updated, 1)
	require.Nil(t, store.updated[0].NextRetryAt)
}
