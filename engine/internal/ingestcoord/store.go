package ingestcoord

import (
	"context"

	"github.com/google/uuid"

	"github.com/raceops/ingest/engine/models"
)

// Store is the persistence surface the Coordinator depends on: one
// method per persisted unit of work, satisfied in full by
// engine/internal/storage.
type Store interface {
	FindEventByURL(ctx context.Context, url string) (*models.Event, bool, error)
	SaveEvent(ctx context.Context, event *models.Event, distances []models.EventDistance) error
	SaveResultsBatch(ctx context.Context, results []models.RaceResult) error
	SaveCheckpoints(ctx context.Context, resultID uuid.UUID, checkpoints []models.TimingCheckpoint) error
	SaveResultSource(ctx context.Context, source *models.ResultSource) error
	HasResultSource(ctx context.Context, resultID uuid.UUID) (bool, error)
	UpdateScrapeJob(ctx context.Context, job *models.ScrapeJob) error
	MarkEventScraped(ctx context.Context, eventID uuid.UUID) error
}
