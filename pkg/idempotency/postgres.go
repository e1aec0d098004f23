package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore provides durable idempotency records that survive
// process restarts. Schema:
//
//	CREATE TABLE idempotency_records (
//	    brick         TEXT        NOT NULL,
//	    key           TEXT        NOT NULL,
//	    params_hash   TEXT        NOT NULL,
//	    status_code   INT         NOT NULL,
//	    envelope      BYTEA       NOT NULL,
//	    first_seen_at TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (brick, key)
//	);
type PostgresStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewPostgresStore creates a Postgres-backed store.
func NewPostgresStore(db *sql.DB, ttl time.Duration) *PostgresStore {
	return &PostgresStore{db: db, ttl: ttl}
}

// Get returns the stored record if present and within TTL. Expired rows
// are deleted on read.
func (s *PostgresStore) Get(ctx context.Context, brick, key string) (*Record, bool, error) {
	rec := &Record{Brick: brick, Key: key}
	err := s.db.QueryRowContext(ctx,
		`SELECT params_hash, status_code, envelope, first_seen_at
		 FROM idempotency_records WHERE brick = $1 AND key = $2`,
		brick, key,
	).Scan(&rec.ParamsHash, &rec.StatusCode, &rec.Envelope, &rec.FirstSeenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("idempotency: get: %w", err)
	}

	if time.Since(rec.FirstSeenAt) > s.ttl {
		_, _ = s.db.ExecContext(ctx,
			`DELETE FROM idempotency_records WHERE brick = $1 AND key = $2`, brick, key)
		return nil, false, nil
	}
	return rec, true, nil
}

// Put inserts the record. ON CONFLICT DO NOTHING keeps the first
// writer's envelope under concurrent duplicates.
func (s *PostgresStore) Put(ctx context.Context, rec *Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO idempotency_records (brick, key, params_hash, status_code, envelope, first_seen_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (brick, key) DO NOTHING`,
		rec.Brick, rec.Key, rec.ParamsHash, rec.StatusCode, rec.Envelope, rec.FirstSeenAt)
	if err != nil {
		return fmt.Errorf("idempotency: put: %w", err)
	}
	return nil
}

// Cleanup removes records older than the TTL. Intended for a periodic
// job.
func (s *PostgresStore) Cleanup(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_records WHERE first_seen_at < $1`,
		time.Now().Add(-s.ttl))
	if err != nil {
		return fmt.Errorf("idempotency: cleanup: %w", err)
	}
	return nil
}
