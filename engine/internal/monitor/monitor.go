// Package monitor implements the Endpoint Monitor of spec §4.9: probes
// each enabled MonitoredEndpoint's liveness, persists the probe and any
// status transition, and emits wentUp/wentDown edges for the notifier.
// Internal business-rule health checks are replaced here with
// external-URL liveness; status transitions are detected by diffing a
// simple status token against the last persisted value.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/raceops/ingest/engine/internal/fetcher"
	"github.com/raceops/ingest/engine/internal/scrapers"
	"github.com/raceops/ingest/engine/internal/telemetry/logging"
	"github.com/raceops/ingest/engine/models"
)

// probeTimeout is the fixed GET timeout of spec §4.9 step 1.
const probeTimeout = 30 * time.Second

// Store persists probes and current status per MonitoredEndpoint. A nil,
// non-error CurrentStatus return means the endpoint has never been
// probed before (state machine's "unknown" initial state).
type Store interface {
	ListEnabledEndpoints(ctx context.Context) ([]models.MonitoredEndpoint, error)
	CurrentStatus(ctx context.Context, endpointID uuid.UUID) (*models.EndpointStatusCurrent, error)
	AppendHistory(ctx context.Context, entry *models.EndpointStatusHistory) error
	UpsertCurrent(ctx context.Context, current *models.EndpointStatusCurrent) error
}

// EdgeNotifier receives wentUp/wentDown transition edges.
type EdgeNotifier interface {
	WentUp(endpoint models.MonitoredEndpoint, current models.EndpointStatusCurrent)
	WentDown(endpoint models.MonitoredEndpoint, current models.EndpointStatusCurrent)
}

// Monitor runs liveness probes against MonitoredEndpoints.
type Monitor struct {
	fetch    fetcher.Fetcher
	store    Store
	notifier EdgeNotifier
	log      logging.Logger
}

// New builds a Monitor. fetch may be nil, in which case a CollyFetcher
// with the spec §4.9 30s policy is constructed.
func New(fetch fetcher.Fetcher, store Store, notifier EdgeNotifier, log logging.Logger) (*Monitor, error) {
	if fetch == nil {
		f, err := fetcher.NewCollyFetcher(fetcher.Policy{UserAgent: fetcher.DefaultPolicy().UserAgent, Timeout: probeTimeout})
		if err != nil {
			return nil, err
		}
		fetch = f
	}
	return &Monitor{fetch: fetch, store: store, notifier: notifier, log: log}, nil
}

// RunPass probes each enabled endpoint that is due, per spec §4.10's
// "Monitor pass" job. Endpoints are probed sequentially; one whose last
// check plus its check interval is still in the future is skipped.
func (m *Monitor) RunPass(ctx context.Context) error {
	endpoints, err := m.store.ListEnabledEndpoints(ctx)
	if err != nil {
		return models.NewPersistenceError(err)
	}
	now := time.Now()
	for _, ep := range endpoints {
		if ep.CheckIntervalMinutes > 0 {
			prior, err := m.store.CurrentStatus(ctx, ep.ID)
			if err == nil && prior != nil && now.Before(prior.LastChecked.Add(time.Duration(ep.CheckIntervalMinutes)*time.Minute)) {
				continue
			}
		}
		m.probeOne(ctx, ep)
	}
	return nil
}

func (m *Monitor) probeOne(ctx context.Context, ep models.MonitoredEndpoint) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	status, httpCode, hasResults, errMsg := m.probe(probeCtx, ep.URL)
	elapsed := time.Since(start)

	prior, err := m.store.CurrentStatus(ctx, ep.ID)
	if err != nil {
		m.log.ErrorCtx(ctx, "endpoint monitor: failed to load prior status", "endpoint", ep.Name, "error", err)
		return
	}

	now := time.Now()
	current := models.EndpointStatusCurrent{
		EndpointID:     ep.ID,
		Status:         status,
		HTTPCode:       httpCode,
		ResponseTimeMs: elapsed.Milliseconds(),
		HasResults:     hasResults,
		LastChecked:    now,
	}

	changed := prior == nil || prior.Status == models.EndpointStatusUnknown || prior.Status != status
	if changed {
		current.LastStatusChange = now
	} else {
		current.LastStatusChange = prior.LastStatusChange
	}

	switch status {
	case models.EndpointStatusDown:
		if prior != nil {
			current.ConsecutiveFailures = prior.ConsecutiveFailures + 1
		} else {
			current.ConsecutiveFailures = 1
		}
	default:
		current.ConsecutiveFailures = 0
	}

	history := &models.EndpointStatusHistory{
		EndpointID:     ep.ID,
		Status:         status,
		HTTPCode:       httpCode,
		ResponseTimeMs: elapsed.Milliseconds(),
		HasResults:     hasResults,
		ErrorMessage:   errMsg,
		CheckedAt:      now,
	}
	if err := m.store.AppendHistory(ctx, history); err != nil {
		m.log.ErrorCtx(ctx, "endpoint monitor: failed to append history", "endpoint", ep.Name, "error", err)
	}
	if err := m.store.UpsertCurrent(ctx, &current); err != nil {
		m.log.ErrorCtx(ctx, "endpoint monitor: failed to upsert current status", "endpoint", ep.Name, "error", err)
	}

	// Transitions are recorded only when the token differs from the
	// prior non-unknown token, per spec §4.9's state machine.
	if m.notifier == nil || prior == nil || prior.Status == models.EndpointStatusUnknown || !changed {
		return
	}
	switch status {
	case models.EndpointStatusUp:
		m.notifier.WentUp(ep, current)
	case models.EndpointStatusDown:
		m.notifier.WentDown(ep, current)
	}
}

// probe implements spec §4.9 steps 1-2.
func (m *Monitor) probe(ctx context.Context, url string) (status models.EndpointStatus, httpCode int, hasResults bool, errMsg string) {
	res, err := m.fetch.Fetch(ctx, url)
	if err != nil {
		if de, ok := err.(*models.DomainError); ok {
			httpCode = de.HTTPStatus
		}
		return models.EndpointStatusDown, httpCode, false, err.Error()
	}

	apiURL, found := scrapers.DetectEmbeddedDescriptor(res.Content)
	if !found {
		return models.EndpointStatusUp, res.Status, false, ""
	}

	apiRes, err := m.fetch.Fetch(ctx, apiURL)
	if err != nil {
		if de, ok := err.(*models.DomainError); ok {
			httpCode = de.HTTPStatus
		}
		return models.EndpointStatusDown, httpCode, false, err.Error()
	}
	if apiRes.Status < 200 || apiRes.Status >= 400 {
		return models.EndpointStatusDown, apiRes.Status, false, fmt.Sprintf("descriptor endpoint returned %d", apiRes.Status)
	}
	hasResults = isNonEmptyResultsBody(apiRes.Content)
	if !hasResults {
		return models.EndpointStatusDown, apiRes.Status, false, "descriptor endpoint returned an empty results body"
	}
	return models.EndpointStatusUp, apiRes.Status, hasResults, ""
}

// isNonEmptyResultsBody implements spec §4.9 step 2's body check: length
// over 100 and no literal "error", or any JSON object/array at all.
func isNonEmptyResultsBody(body []byte) bool {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return false
	}
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return true
	}
	return len(trimmed) > 100 && !strings.Contains(trimmed, "error")
}
