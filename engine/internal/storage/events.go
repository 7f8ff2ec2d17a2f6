package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/raceops/ingest/engine/models"
)

// FindEventByURL implements ingestcoord.Store, keying on the unique
// events.url column per spec §3's identity rule for Event.
func (s *Store) FindEventByURL(ctx context.Context, url string) (*models.Event, bool, error) {
	var row eventRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, url, organiser, name, date, location, metadata, scraped_at, created_at
		FROM events WHERE url = $1`, url)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return row.toModel(), true, nil
}

// SaveEvent persists a newly discovered Event plus its EventDistances in
// one transaction, per spec §4.6 step "reuse-or-create Event".
func (s *Store) SaveEvent(ctx context.Context, event *models.Event, distances []models.EventDistance) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	metadata := jsonField{dest: emptyIfNil(event.Metadata)}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (id, url, organiser, name, date, location, metadata, scraped_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (url) DO NOTHING`,
		event.ID, event.URL, event.Organiser, event.Name, event.Date, event.Location, metadata, event.ScrapedAt)
	if err != nil {
		return err
	}

	for i := range distances {
		d := &distances[i]
		if d.ID == uuid.Nil {
			d.ID = uuid.New()
		}
		d.EventID = event.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO event_distances (id, event_id, name, distance_meters, race_type, participant_count)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (event_id, name) DO NOTHING`,
			d.ID, d.EventID, d.Name, d.DistanceMeters, d.RaceType, d.ParticipantCount)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// MarkEventScraped stamps scraped_at, per spec §4.6's final coordination step.
func (s *Store) MarkEventScraped(ctx context.Context, eventID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `UPDATE events SET scraped_at = now() WHERE id = $1`, eventID)
	return err
}

type eventRow struct {
	ID        uuid.UUID      `db:"id"`
	URL       string         `db:"url"`
	Organiser string         `db:"organiser"`
	Name      string         `db:"name"`
	Date      sql.NullTime   `db:"date"`
	Location  sql.NullString `db:"location"`
	Metadata  []byte         `db:"metadata"`
	ScrapedAt sql.NullTime   `db:"scraped_at"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r *eventRow) toModel() *models.Event {
	e := &models.Event{
		ID:        r.ID,
		URL:       r.URL,
		Organiser: r.Organiser,
		Name:      r.Name,
		Location:  r.Location.String,
		CreatedAt: r.CreatedAt,
	}
	if r.Date.Valid {
		e.Date = r.Date.Time
	}
	if r.ScrapedAt.Valid {
		e.ScrapedAt = r.ScrapedAt.Time
	}
	if len(r.Metadata) > 0 {
		meta := map[string]interface{}{}
		field := jsonField{dest: &meta}
		if field.Scan(r.Metadata) == nil {
			e.Metadata = meta
		}
	}
	return e
}

func emptyIfNil(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
