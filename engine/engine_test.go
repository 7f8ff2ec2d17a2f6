package engine

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/raceops/ingest/engine/internal/ingestcoord"
	"github.com/raceops/ingest/engine/internal/retryqueue"
	"github.com/raceops/ingest/engine/internal/telemetry/logging"
	inttelempolicy "github.com/raceops/ingest/engine/internal/telemetry/policy"
)

func TestBuildSlogLoggerMapsLevels(t *testing.T) {
	require.True(t, buildSlogLogger("debug").Enabled(context.Background(), slog.LevelDebug))
	require.False(t, buildSlogLogger("info").Enabled(context.Background(), slog.LevelDebug))
	require.True(t, buildSlogLogger("unknown").Enabled(context.Background(), slog.LevelInfo))
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	log := logging.New(slog.Default())
	coordinator := ingestcoord.New(context.Background(), ingestcoord.Config{Workers: 1}, nil, nil, nil, nil, log)
	t.Cleanup(coordinator.Stop)
	queue := retryqueue.New(nil, nil, nil, log)

	e := &Engine{coordinator: coordinator, retry: queue}
	initial := inttelempolicy.Default()
	e.telemetryPolicy.Store(&initial)
	return e
}

func TestPolicyDefaultsWhenUnset(t *testing.T) {
	e := &Engine{}
	require.Equal(t, inttelempolicy.Default(), e.Policy())
}

func TestUpdateTelemetryPolicyStoresNormalizedSnapshot(t *testing.T) {
	e := newTestEngine(t)
	e.UpdateTelemetryPolicy(nil)
	require.Equal(t, inttelempolicy.Default(), e.Policy())

	custom := inttelempolicy.Default()
	custom.Health.CoordinatorDegradedRatio = 0.25
	e.UpdateTelemetryPolicy(&custom)
	require.Equal(t, 0.25, e.Policy().Health.CoordinatorDegradedRatio)
}

func TestHealthProbesReflectCoordinatorAndRetryState(t *testing.T) {
	e := newTestEngine(t)
	coordinatorProbe, retryProbe := e.healthProbes()

	require.Equal(t, "healthy", string(coordinatorProbe.Evaluate(context.Background()).Status))
	require.Equal(t, "healthy", string(retryProbe.Evaluate(context.Background()).Status))
}
