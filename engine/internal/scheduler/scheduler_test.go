package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raceops/ingest/engine/internal/telemetry/logging"
)

type countingMonitor struct {
	calls atomic.Int32
}

func (m *countingMonitor) RunPass(ctx context.Context) error {
	m.calls.Add(1)
	return nil
}

type countingDrainer struct {
	calls atomic.Int32
}

func (d *countingDrainer) DrainOnce(ctx context.Context) {
	d.calls.Add(1)
}

func TestSchedulerRegistersBothJobsWithoutError(t *testing.T) {
	s := New(logging.New(slog.Default()))
	require.NoError(t, s.RegisterMonitorPass(context.Background(), &countingMonitor{}))
	require.NoError(t, s.RegisterRetryDrain(context.Background(), &countingDrainer{}))

	s.Start()
	defer s.Stop()
	time.Sleep(10 * time.Millisecond)
}
