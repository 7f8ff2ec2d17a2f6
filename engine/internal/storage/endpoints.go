package storage

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/raceops/ingest/engine/models"
)

// ListEnabledEndpoints implements monitor.Store for spec §4.9's "For
// each MonitoredEndpoint.enabled" iteration.
func (s *Store) ListEnabledEndpoints(ctx context.Context) ([]models.MonitoredEndpoint, error) {
	var out []models.MonitoredEndpoint
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, organiser, name, url, enabled, check_interval_minutes
		FROM monitored_endpoints WHERE enabled = true`)
	return out, err
}

// CurrentStatus returns nil, nil when the endpoint has never been
// probed, matching the state machine's "unknown" initial state.
func (s *Store) CurrentStatus(ctx context.Context, endpointID uuid.UUID) (*models.EndpointStatusCurrent, error) {
	var row endpointStatusRow
	err := s.db.GetContext(ctx, &row, `
		SELECT endpoint_id, status, http_code, response_time_ms, has_results, last_checked, last_status_change, consecutive_failures
		FROM endpoint_status_current WHERE endpoint_id = $1`, endpointID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

// AppendHistory inserts an immutable probe record into
// endpoint_status_history, per spec §4.9 step 3.
func (s *Store) AppendHistory(ctx context.Context, entry *models.EndpointStatusHistory) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO endpoint_status_history (id, endpoint_id, status, http_code, response_time_ms, has_results, error_message, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.EndpointID, string(entry.Status), entry.HTTPCode, entry.ResponseTimeMs, entry.HasResults, entry.ErrorMessage, entry.CheckedAt)
	return err
}

// UpsertCurrent replaces the single current-status row per endpoint.
func (s *Store) UpsertCurrent(ctx context.Context, current *models.EndpointStatusCurrent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO endpoint_status_current
		(endpoint_id, status, http_code, response_time_ms, has_results, last_checked, last_status_change, consecutive_failures)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (endpoint_id) DO UPDATE SET
			status = EXCLUDED.status, http_code = EXCLUDED.http_code, response_time_ms = EXCLUDED.response_time_ms,
			has_results = EXCLUDED.has_results, last_checked = EXCLUDED.last_checked,
			last_status_change = EXCLUDED.last_status_change, consecutive_failures = EXCLUDED.consecutive_failures`,
		current.EndpointID, string(current.Status), current.HTTPCode, current.ResponseTimeMs,
		current.HasResults, current.LastChecked, current.LastStatusChange, current.ConsecutiveFailures)
	return err
}

type endpointStatusRow struct {
	EndpointID          uuid.UUID    `db:"endpoint_id"`
	Status              string       `db:"status"`
	HTTPCode            sql.NullInt64 `db:"http_code"`
	ResponseTimeMs      int64        `db:"response_time_ms"`
	HasResults          bool         `db:"has_results"`
	LastChecked         sql.NullTime `db:"last_checked"`
	LastStatusChange    sql.NullTime `db:"last_status_change"`
	ConsecutiveFailures int          `db:"consecutive_failures"`
}

func (r *endpointStatusRow) toModel() *models.EndpointStatusCurrent {
	c := &models.EndpointStatusCurrent{
		EndpointID: r.EndpointID, Status: models.EndpointStatus(r.Status),
		ResponseTimeMs: r.ResponseTimeMs, HasResults: r.HasResults, ConsecutiveFailures: r.ConsecutiveFailures,
	}
	if r.HTTPCode.Valid {
		c.HTTPCode = int(r.HTTPCode.Int64)
	}
	if r.LastChecked.Valid {
		c.LastChecked = r.LastChecked.Time
	}
	if r.LastStatusChange.Valid {
		c.LastStatusChange = r.LastStatusChange.Time
	}
	return c
}
