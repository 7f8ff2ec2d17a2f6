package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/raceops/ingest/engine/internal/telemetry/logging"
)

type fakeMonitor struct {
	called bool
	err    error
}

func (f *fakeMonitor) RunPass(ctx context.Context) error {
	f.called = true
	return f.err
}

type fakeDrainer struct {
	called bool
}

func (f *fakeDrainer) DrainOnce(ctx context.Context) {
	f.called = true
}

func TestMonitorTriggerRequiresKey(t *testing.T) {
	mon := &fakeMonitor{}
	s := New(Config{AdminKey: "secret", Monitor: mon, Retry: &fakeDrainer{}, Log: logging.New(slog.Default())})

	req := httptest.NewRequest(http.MethodPost, "/monitor", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.False(t, mon.called)
}

func TestMonitorTriggerRunsPassWithValidKey(t *testing.T) {
	mon := &fakeMonitor{}
	s := New(Config{AdminKey: "secret", Monitor: mon, Retry: &fakeDrainer{}, Log: logging.New(slog.Default())})

	req := httptest.NewRequest(http.MethodPost, "/monitor", nil)
	req.Header.Set(TriggerHeaderKey, "secret")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, mon.called)
}

func TestHeartbeatTriggerDrainsQueue(t *testing.T) {
	drainer := &fakeDrainer{}
	s := New(Config{AdminKey: "secret", Monitor: &fakeMonitor{}, Retry: drainer, Log: logging.New(slog.Default())})

	req := httptest.NewRequest(http.MethodPost, "/heartbeat", nil)
	req.Header.Set(TriggerHeaderKey, "secret")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, drainer.called)
}
