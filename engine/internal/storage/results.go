package storage

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/raceops/ingest/engine/models"
)

// SaveResultsBatch bulk-inserts up to maxBatchSize RaceResults using
// lib/pq's COPY protocol, the efficient path for the batched writes
// ingestcoord.Coordinator already groups into chunks of 500.
func (s *Store) SaveResultsBatch(ctx context.Context, results []models.RaceResult) error {
	if len(results) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("race_results",
		"id", "event_id", "event_distance_id", "position", "bib", "name", "normalised_name",
		"gender", "category", "finish_time", "gun_time", "chip_time", "pace",
		"gender_position", "category_position", "country", "club", "age", "status",
		"time_behind", "athlete_id"))
	if err != nil {
		return err
	}
	for i := range results {
		r := &results[i]
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		if err := r.Validate(); err != nil {
			return err
		}
		_, err := stmt.ExecContext(ctx,
			r.ID, r.EventID, nullableUUID(r.EventDistanceID), nullableInt(r.Position), r.Bib, r.Name, r.NormalisedName,
			r.Gender, r.Category, r.FinishTime, r.GunTime, r.ChipTime, r.Pace,
			nullableInt(r.GenderPosition), nullableInt(r.CategoryPosition), r.Country, r.Club, nullableInt(r.Age), string(r.Status),
			r.TimeBehind, nullableUUID(r.AthleteID))
		if err != nil {
			return err
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return err
	}
	if err := stmt.Close(); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveCheckpoints persists a RaceResult's ordered TimingCheckpoints per
// spec §3's "unique within the result by Name" constraint.
func (s *Store) SaveCheckpoints(ctx context.Context, resultID uuid.UUID, checkpoints []models.TimingCheckpoint) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i := range checkpoints {
		c := &checkpoints[i]
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		c.RaceResultID = resultID
		_, err := tx.ExecContext(ctx, `
			INSERT INTO timing_checkpoints
			(id, race_result_id, checkpoint_type, name, checkpoint_order, split_time, cumulative_time, cumulative_seconds, pace, segment_meters)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (race_result_id, name) DO UPDATE SET
				split_time = EXCLUDED.split_time,
				cumulative_time = EXCLUDED.cumulative_time,
				cumulative_seconds = EXCLUDED.cumulative_seconds`,
			c.ID, c.RaceResultID, string(c.CheckpointType), c.Name, c.Order, c.SplitTime, c.CumulativeTime, c.CumulativeSeconds, c.Pace, nullableInt(&c.SegmentMeters))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SaveResultSource inserts a provenance record, per spec §4.6's
// per-source persistence step.
func (s *Store) SaveResultSource(ctx context.Context, source *models.ResultSource) error {
	if source.ID == uuid.Nil {
		source.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO result_sources (id, race_result_id, organiser, source_url, scraped_at, fields_provided, confidence, is_primary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		source.ID, source.RaceResultID, source.Organiser, source.SourceURL, source.ScrapedAt,
		jsonField{dest: source.FieldsProvided}, source.Confidence, source.Primary)
	return err
}

// HasResultSource reports whether any ResultSource already exists for a
// RaceResult, used to detect the first (primary) source.
func (s *Store) HasResultSource(ctx context.Context, resultID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM result_sources WHERE race_result_id = $1)`, resultID)
	return exists, err
}

// ShortlistAthletesByNormalisedSubstring implements matcher.AthleteStore
// step 1: up to limit Athletes whose normalised name contains query.
func (s *Store) ShortlistAthletesByNormalisedSubstring(ctx context.Context, query string, limit int) ([]models.Athlete, error) {
	var rows []athleteRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, display_name, normalised_name, gender, birth_date, country, external_user_id
		FROM athletes WHERE normalised_name LIKE '%' || $1 || '%' LIMIT $2`, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.Athlete, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// UnlinkedResultsForAthlete implements matcher.AthleteStore's inverse
// direction (spec §4.8 step 5).
func (s *Store) UnlinkedResultsForAthlete(ctx context.Context, athlete models.Athlete) ([]models.RaceResult, error) {
	var rows []raceResultRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, event_id, event_distance_id, position, bib, name, normalised_name, gender, category,
		       finish_time, gun_time, chip_time, pace, gender_position, category_position, country, club, age, status, time_behind, athlete_id
		FROM race_results
		WHERE athlete_id IS NULL AND (normalised_name LIKE '%' || $1 || '%' OR $1 LIKE '%' || normalised_name || '%')`,
		athlete.NormalisedName)
	if err != nil {
		return nil, err
	}
	out := make([]models.RaceResult, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// LinkResultToAthlete sets a RaceResult's athlete_id, either from
// autoMatch or manual confirmation.
func (s *Store) LinkResultToAthlete(ctx context.Context, resultID, athleteID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `UPDATE race_results SET athlete_id = $2 WHERE id = $1`, resultID, athleteID)
	return err
}

type athleteRow struct {
	ID             uuid.UUID      `db:"id"`
	DisplayName    string         `db:"display_name"`
	NormalisedName string         `db:"normalised_name"`
	Gender         sql.NullString `db:"gender"`
	BirthDate      sql.NullTime   `db:"birth_date"`
	Country        sql.NullString `db:"country"`
	ExternalUserID sql.NullString `db:"external_user_id"`
}

func (r *athleteRow) toModel() models.Athlete {
	a := models.Athlete{
		ID:             r.ID,
		DisplayName:    r.DisplayName,
		NormalisedName: r.NormalisedName,
		Gender:         r.Gender.String,
		Country:        r.Country.String,
	}
	if r.BirthDate.Valid {
		a.BirthDate = &r.BirthDate.Time
	}
	if r.ExternalUserID.Valid {
		a.ExternalUserID = &r.ExternalUserID.String
	}
	return a
}

type raceResultRow struct {
	ID               uuid.UUID      `db:"id"`
	EventID          uuid.UUID      `db:"event_id"`
	EventDistanceID  uuid.NullUUID  `db:"event_distance_id"`
	Position         sql.NullInt64  `db:"position"`
	Bib              string         `db:"bib"`
	Name             string         `db:"name"`
	NormalisedName   string         `db:"normalised_name"`
	Gender           string         `db:"gender"`
	Category         string         `db:"category"`
	FinishTime       string         `db:"finish_time"`
	GunTime          string         `db:"gun_time"`
	ChipTime         string         `db:"chip_time"`
	Pace             string         `db:"pace"`
	GenderPosition   sql.NullInt64  `db:"gender_position"`
	CategoryPosition sql.NullInt64  `db:"category_position"`
	Country          string         `db:"country"`
	Club             string         `db:"club"`
	Age              sql.NullInt64  `db:"age"`
	Status           string         `db:"status"`
	TimeBehind       string         `db:"time_behind"`
	AthleteID        uuid.NullUUID  `db:"athlete_id"`
}

func (r *raceResultRow) toModel() models.RaceResult {
	res := models.RaceResult{
		ID: r.ID, EventID: r.EventID, Bib: r.Bib, Name: r.Name, NormalisedName: r.NormalisedName,
		Gender: r.Gender, Category: r.Category, FinishTime: r.FinishTime, GunTime: r.GunTime,
		ChipTime: r.ChipTime, Pace: r.Pace, Country: r.Country, Club: r.Club,
		Status: models.ResultStatus(r.Status), TimeBehind: r.TimeBehind,
	}
	if r.EventDistanceID.Valid {
		res.EventDistanceID = &r.EventDistanceID.UUID
	}
	if r.Position.Valid {
		v := int(r.Position.Int64)
		res.Position = &v
	}
	if r.GenderPosition.Valid {
		v := int(r.GenderPosition.Int64)
		res.GenderPosition = &v
	}
	if r.CategoryPosition.Valid {
		v := int(r.CategoryPosition.Int64)
		res.CategoryPosition = &v
	}
	if r.Age.Valid {
		v := int(r.Age.Int64)
		res.Age = &v
	}
	if r.AthleteID.Valid {
		res.AthleteID = &r.AthleteID.UUID
	}
	return res
}

func nullableUUID(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return *id
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
