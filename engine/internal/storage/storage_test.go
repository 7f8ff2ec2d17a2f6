package storage

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/raceops/ingest/engine/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Store{db: sqlx.NewDb(db, "postgres")}, mock
}

func TestFindEventByURLNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, url, organiser").
		WithArgs("https://example.com/race").
		WillReturnRows(sqlmock.NewRows([]string{"id", "url", "organiser", "name", "date", "location", "metadata", "scraped_at", "created_at"}))

	_, found, err := store.FindEventByURL(context.Background(), "https://example.com/race")
	require.NoError(t, err)
	require.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindEventByURLFound(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	rows := sqlmock.NewRows([]string{"id", "url", "organiser", "name", "date", "location", "metadata", "scraped_at", "created_at"}).
		AddRow(id, "https://example.com/race", "acme-timing", "Acme Marathon", time.Now(), "", []byte("{}"), nil, time.Now())
	mock.ExpectQuery("SELECT id, url, organiser").
		WithArgs("https://example.com/race").
		WillReturnRows(rows)

	event, found, err := store.FindEventByURL(context.Background(), "https://example.com/race")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, id, event.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateScrapeJobInsertsWhenIDIsNil(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO scrape_jobs").WillReturnResult(sqlmock.NewResult(1, 1))

	job := &models.ScrapeJob{Organiser: "acme-timing", EventURL: "https://example.com/race", Status: models.ScrapeJobPending}
	require.NoError(t, store.UpdateScrapeJob(context.Background(), job))
	require.NotEqual(t, uuid.Nil, job.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHasResultSource(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	has, err := store.HasResultSource(context.Background(), id)
	require.NoError(t, err)
	require.True(t, has)
	require.NoError(t, mock.ExpectationsWereMet())
}
