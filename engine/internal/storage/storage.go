// Package storage implements the Persistence Adapter of spec §6: a
// sqlx/lib-pq-backed store over the schema in migrations/, satisfying
// the narrow per-component Store interfaces defined by ingestcoord,
// retryqueue, monitor, and matcher. Connection setup follows
// r3e-network-service_layer's internal/platform/database.Open
// connect-then-ping idiom, generalized from that repo's hand-rolled
// *sql.DB queries into a single sqlx.DB-backed adapter with one method
// per persisted unit of work, following spec §6's abridged relational
// schema.
package storage

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Store is the sqlx-backed Persistence Adapter.
type Store struct {
	db *sqlx.DB
}

// Open connects to Postgres, verifies connectivity, and applies pending
// migrations in that order.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// jsonField adapts a Go slice/map to/from a JSONB column via
// database/sql's Valuer/Scanner, since sqlx doesn't do this implicitly.
type jsonField struct {
	dest interface{}
}

func (j jsonField) Value() (driver.Value, error) {
	b, err := json.Marshal(j.dest)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (j *jsonField) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("jsonField: unsupported source type %T", src)
	}
	return json.Unmarshal(b, j.dest)
}
