package monitor

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/raceops/ingest/engine/internal/fetcher"
	"github.com/raceops/ingest/engine/internal/telemetry/logging"
	"github.com/raceops/ingest/engine/models"
)

type fakeFetcher struct {
	responses map[string]*fetcher.FetchResult
	errors    map[string]error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*fetcher.FetchResult, error) {
	if err, ok := f.errors[url]; ok {
		return nil, err
	}
	return f.responses[url], nil
}

type fakeMonitorStore struct {
	endpoints []models.MonitoredEndpoint
	current   map[uuid.UUID]*models.EndpointStatusCurrent
	history   []models.EndpointStatusHistory
}

func (f *fakeMonitorStore) ListEnabledEndpoints(ctx context.Context) ([]models.MonitoredEndpoint, error) {
	return f.endpoints, nil
}
func (f *fakeMonitorStore) CurrentStatus(ctx context.Context, endpointID uuid.UUID) (*models.EndpointStatusCurrent, error) {
	return f.current[endpointID], nil
}
func (f *fakeMonitorStore) AppendHistory(ctx context.Context, entry *models.EndpointStatusHistory) error {
	f.history = append(f.history, *entry)
	return nil
}
func (f *fakeMonitorStore) UpsertCurrent(ctx context.Context, current *models.EndpointStatusCurrent) error {
	if f.current == nil {
		f.current = map[uuid.UUID]*models.EndpointStatusCurrent{}
	}
	c := *current
	f.current[current.EndpointID] = &c
	return nil
}

type fakeNotifier struct {
	ups   int
	downs int
}

func (n *fakeNotifier) WentUp(models.MonitoredEndpoint, models.EndpointStatusCurrent)   { n.ups++ }
func (n *fakeNotifier) WentDown(models.MonitoredEndpoint, models.EndpointStatusCurrent) { n.downs++ }

func TestRunPassMarksEndpointUpWithoutDescriptor(t *testing.T) {
	ep := models.MonitoredEndpoint{ID: uuid.New(), URL: "https://organiser.example/results", Enabled: true}
	fetch := &fakeFetcher{responses: map[string]*fetcher.FetchResult{
		ep.URL: {URL: ep.URL, Status: 200, Content: []byte("<html><body>no descriptor here</body></html>")},
	}}
	store := &fakeMonitorStore{endpoints: []models.MonitoredEndpoint{ep}}
	notifier := &fakeNotifier{}
	m, err := New(fetch, store, notifier, logging.New(slog.Default()))
	require.NoError(t, err)

	require.NoError(t, m.RunPass(context.Background()))
	require.Equal(t, models.EndpointStatusUp, store.current[ep.ID].Status)
	require.False(t, store.current[ep.ID].HasResults)
	require.Len(t, store.history, 1)
}

func TestRunPassMarksEndpointDownOnTransportError(t *testing.T) {
	ep := models.MonitoredEndpoint{ID: uuid.New(), URL: "https://organiser.example/down", Enabled: true}
	fetch := &fakeFetcher{errors: map[string]error{ep.URL: models.NewTransportError(ep.URL, context.DeadlineExceeded)}}
	store := &fakeMonitorStore{endpoints: []models.MonitoredEndpoint{ep}}
	m, err := New(fetch, store, nil, logging.New(slog.Default()))
	require.NoError(t, err)

	require.NoError(t, m.RunPass(context.Background()))
	require.Equal(t, models.EndpointStatusDown, store.current[ep.ID].Status)
	require.Equal(t, 1, store.current[ep.ID].ConsecutiveFailures)
}

func TestRunPassEmitsWentDownOnTransition(t *testing.T) {
	ep := models.MonitoredEndpoint{ID: uuid.New(), URL: "https://organiser.example/flaky", Enabled: true}
	fetch := &fakeFetcher{errors: map[string]error{ep.URL: models.NewTransportError(ep.URL, context.DeadlineExceeded)}}
	store := &fakeMonitorStore{
		endpoints: []models.MonitoredEndpoint{ep},
		current:   map[uuid.UUID]*models.EndpointStatusCurrent{ep.ID: {EndpointID: ep.ID, Status: models.EndpointStatusUp}},
	}
	notifier := &fakeNotifier{}
	m, err := New(fetch, store, notifier, logging.New(slog.Default()))
	require.NoError(t, err)

	require.NoError(t, m.RunPass(context.Background()))
	require.Equal(t, 1, notifier.downs)
	require.Equal(t, 0, notifier.ups)
}

func TestIsNonEmptyResultsBody(t *testing.T) {
	require.True(t, isNonEmptyResultsBody([]byte(`{"results":[]}`)))
	require.False(t, isNonEmptyResultsBody([]byte("")))
	require.False(t, isNonEmptyResultsBody([]byte("short body with error")))
	require.True(t, isNonEmptyResultsBody([]byte(
		"this is a long plain text body padded out past one hundred characters so the length threshold check passes cleanly",
	)))
}
