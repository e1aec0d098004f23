package metering

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresMeter persists usage events. Schema:
//
//	CREATE TABLE metering_events (
//	    id         BIGSERIAL   PRIMARY KEY,
//	    key_id     TEXT        NOT NULL,
//	    event_type TEXT        NOT NULL,
//	    quantity   BIGINT      NOT NULL,
//	    metadata   JSONB,
//	    ts         TIMESTAMPTZ NOT NULL
//	);
type PostgresMeter struct {
	db *sql.DB
}

// NewPostgresMeter creates a Postgres-backed meter.
func NewPostgresMeter(db *sql.DB) *PostgresMeter {
	return &PostgresMeter{db: db}
}

// Record validates and inserts the event.
func (m *PostgresMeter) Record(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	var metadata []byte
	if event.Metadata != nil {
		var err error
		metadata, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("metering: encoding metadata: %w", err)
		}
	}

	_, err := m.db.ExecContext(ctx,
		`INSERT INTO metering_events (key_id, event_type, quantity, metadata, ts)
		 VALUES ($1, $2, $3, $4, $5)`,
		event.KeyID, string(event.EventType), event.Quantity, metadata, event.Timestamp)
	if err != nil {
		return fmt.Errorf("metering: record: %w", err)
	}
	return nil
}

// TotalSince sums matching event quantities.
func (m *PostgresMeter) TotalSince(ctx context.Context, keyID string, eventType EventType, since time.Time) (int64, error) {
	var total sql.NullInt64
	err := m.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM metering_events
		 WHERE key_id = $1 AND event_type = $2 AND ts >= $3`,
		keyID, string(eventType), since).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("metering: total: %w", err)
	}
	return total.Int64, nil
}
