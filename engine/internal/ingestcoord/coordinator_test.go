package ingestcoord

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/raceops/ingest/engine/internal/matcher"
	"github.com/raceops/ingest/engine/internal/scrapers"
	"github.com/raceops/ingest/engine/internal/telemetry/logging"
	"github.com/raceops/ingest/engine/models"
)

type fakeScraper struct {
	name    string
	matches func(string) bool
	result  *models.ScrapedResults
	err     error
}

func (f *fakeScraper) Name() string             { return f.name }
func (f *fakeScraper) Matches(url string) bool  { return f.matches(url) }
func (f *fakeScraper) Capabilities() scrapers.Capabilities { return scrapers.Capabilities{} }
func (f *fakeScraper) AnalyzeURL(ctx context.Context, url string) (*scrapers.AnalyzeResult, error) {
	return nil, nil
}
func (f *fakeScraper) ScrapeEvent(ctx context.Context, url string, opts scrapers.Options, onProgress scrapers.ProgressFunc) (*models.ScrapedResults, error) {
	return f.result, f.err
}

type fakeStore struct {
	mu sync.Mutex

	events       map[string]*models.Event
	savedEvent   *models.Event
	resultsBatch []models.RaceResult
	checkpoints  map[uuid.UUID][]models.TimingCheckpoint
	sources      []models.ResultSource
	updatedJobs  []models.ScrapeJob
	markedEvents []uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{events: map[string]*models.Event{}, checkpoints: map[uuid.UUID][]models.TimingCheckpoint{}}
}

func (s *fakeStore) FindEventByURL(ctx context.Context, url string) (*models.Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[url]
	return e, ok, nil
}

func (s *fakeStore) SaveEvent(ctx context.Context, event *models.Event, distances []models.EventDistance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	s.events[event.URL] = event
	s.savedEvent = event
	return nil
}

func (s *fakeStore) SaveResultsBatch(ctx context.Context, results []models.RaceResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resultsBatch = append(s.resultsBatch, results...)
	return nil
}

func (s *fakeStore) SaveCheckpoints(ctx context.Context, resultID uuid.UUID, checkpoints []models.TimingCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[resultID] = checkpoints
	return nil
}

func (s *fakeStore) SaveResultSource(ctx context.Context, source *models.ResultSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = append(s.sources, *source)
	return nil
}

func (s *fakeStore) HasResultSource(ctx context.Context, resultID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range s.sources {
		if src.RaceResultID == resultID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) UpdateScrapeJob(ctx context.Context, job *models.ScrapeJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updatedJobs = append(s.updatedJobs, *job)
	return nil
}

func (s *fakeStore) MarkEventScraped(ctx context.Context, eventID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markedEvents = append(s.markedEvents, eventID)
	return nil
}

type fakeFailureHandler struct {
	mu       sync.Mutex
	failures []error
}

func (f *fakeFailureHandler) HandleFailure(ctx context.Context, job models.ScrapeJob, cause error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, cause)
}

type fakeMatcher struct {
	calls int
}

func (f *fakeMatcher) AutoMatch(ctx context.Context, resultID uuid.UUID, normalisedName string) (*matcher.AutoMatchResult, error) {
	f.calls++
	return &matcher.AutoMatchResult{Skipped: true}, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.FailNow(t, "condition not met in time")
}

func TestCoordinatorRunPersistsNewEventAndResults(t *testing.T) {
	store := newFakeStore()
	scraper := &fakeScraper{
		name:    "acme-timing",
		matches: func(string) bool { return true },
		result: &models.ScrapedResults{
			Event:   models.Event{Name: "Acme 10k"},
			Results: []models.RaceResult{{Name: "Jane Doe", NormalisedName: "jane doe"}},
		},
	}
	registry := scrapers.NewRegistry(scraper)
	onFail := &fakeFailureHandler{}
	athletes := &fakeMatcher{}
	log := logging.New(slog.Default())

	c := New(context.Background(), Config{Workers: 1}, registry, store, onFail, athletes, log)
	defer c.Stop()

	job := models.ScrapeJob{ID: uuid.New(), EventURL: "https://acme.example/race", Status: models.ScrapeJobPending}
	require.True(t, c.Submit(context.Background(), Job{ScrapeJob: job}))

	waitFor(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.resultsBatch) == 1
	})
	waitFor(t, func() bool { return athletes.calls == 1 })

	require.Empty(t, onFail.failures)
	require.Len(t, store.markedEvents, 1)
	require.Equal(t, models.ScrapeJobCompleted, store.updatedJobs[len(store.updatedJobs)-1].Status)

	stats := c.Stats()
	require.Equal(t, int64(1), stats.Processed)
	require.Equal(t, int64(0), stats.Failed)
}

func TestCoordinatorRunRoutesScrapeErrorToFailureHandler(t *testing.T) {
	store := newFakeStore()
	scraper := &fakeScraper{
		name:    "acme-timing",
		matches: func(string) bool { return true },
		err:     errors.New("boom"),
	}
	registry := scrapers.NewRegistry(scraper)
	onFail := &fakeFailureHandler{}
	log := logging.New(slog.Default())

	c := New(context.Background(), Config{Workers: 1}, registry, store, onFail, nil, log)
	defer c.Stop()

	job := models.ScrapeJob{ID: uuid.New(), EventURL: "https://acme.example/race"}
	require.True(t, c.Submit(context.Background(), Job{ScrapeJob: job}))

	waitFor(t, func() bool {
		onFail.mu.Lock()
		defer onFail.mu.Unlock()
		return len(onFail.failures) == 1
	})

	stats := c.Stats()
	require.Equal(t, int64(1), stats.Processed)
	require.Equal(t, int64(1), stats.Failed)
}

func TestCoordinatorRunReusesExistingEvent(t *testing.T) {
	store := newFakeStore()
	existing := &models.Event{ID: uuid.New(), URL: "https://acme.example/race"}
	store.events[existing.URL] = existing
	scraper := &fakeScraper{
		name:    "acme-timing",
		matches: func(string) bool { return true },
		result: &models.ScrapedResults{
			Results: []models.RaceResult{{Name: "Jo Bloggs", NormalisedName: "jo bloggs"}},
		},
	}
	registry := scrapers.NewRegistry(scraper)
	log := logging.New(slog.Default())

	c := New(context.Background(), Config{Workers: 1}, registry, store, &fakeFailureHandler{}, nil, log)
	defer c.Stop()

	job := models.ScrapeJob{ID: uuid.New(), EventURL: existing.URL}
	require.True(t, c.Submit(context.Background(), Job{ScrapeJob: job}))

	waitFor(t, func() bool { return len(store.markedEvents) == 1 })
	require.Equal(t, existing.ID, store.markedEvents[0])
	require.Nil(t, store.savedEvent)
}
