package fetcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raceops/ingest/engine/internal/testutil/httpmock"
	"github.com/raceops/ingest/engine/models"
)

func TestCollyFetcherSuccess(t *testing.T) {
	srv := httpmock.NewServer([]httpmock.RouteSpec{
		{Pattern: "/event", Status: 200, Body: "<html><body>ok</body></html>"},
	})
	defer srv.Close()

	f, err := NewCollyFetcher(Policy{UserAgent: "test-agent", Timeout: 5 * time.Second})
	require.NoError(t, err)

	res, err := f.Fetch(context.Background(), srv.URL()+"/event")
	require.NoError(t, err)
	require.Equal(t, 200, res.Status)
	require.Contains(t, string(res.Content), "ok")
}

func TestCollyFetcherHTTPStatusError(t *testing.T) {
	srv := httpmock.NewServer([]httpmock.RouteSpec{
		{Pattern: "/missing", Status: 404, Body: "not found"},
	})
	defer srv.Close()

	f, err := NewCollyFetcher(Policy{Timeout: 5 * time.Second})
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), srv.URL()+"/missing")
	require.Error(t, err)
	var de *models.DomainError
	require.True(t, errors.As(err, &de))
	require.Equal(t, models.KindHTTPStatus, de.Kind)
	require.Equal(t, 404, de.HTTPStatus)
}

func TestCollyFetcherTransportError(t *testing.T) {
	f, err := NewCollyFetcher(Policy{Timeout: 2 * time.Second})
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), "http://127.0.0.1:1/unreachable")
	require.Error(t, err)
	var de *models.DomainError
	require.True(t, errors.As(err, &de))
	require.Equal(t, models.KindTransport, de.Kind)
}

func TestNewCollyFetcherRejectsInvalidPolicy(t *testing.T) {
	_, err := NewCollyFetcher(Policy{Timeout: 0})
	require.Error(t, err)
}
