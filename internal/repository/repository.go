// Package repository holds the SQL access layer for the cycle event log and
// the raw readings archive.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/appliancemon/appliance-monitor/internal/domain"
)

type Repos struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Repos { return &Repos{db: db} }

// InsertCycleEvent appends one finished-cycle payload to the event log.
func (r *Repos) InsertCycleEvent(ctx context.Context, applianceID string, ts time.Time, payload domain.CycleFinishedPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode cycle event: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO cycle_events(appliance_id, timestamp, payload) VALUES ($1, $2, $3)`,
		applianceID, ts, data)
	if err != nil {
		return fmt.Errorf("insert cycle event: %w", err)
	}
	return nil
}

// CycleEvents returns the finished-cycle events for an appliance in the given
// window, most recent first.
func (r *Repos) CycleEvents(ctx context.Context, applianceID string, from, to time.Time) ([]domain.CycleEvent, error) {
	var out []domain.CycleEvent
	err := r.db.SelectContext(ctx, &out,
		`SELECT id, appliance_id, timestamp, payload FROM cycle_events
		 WHERE appliance_id = $1 AND timestamp >= $2 AND timestamp <= $3
		 ORDER BY timestamp DESC`,
		applianceID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query cycle events: %w", err)
	}
	return out, nil
}

// DeleteCycleEventsByStart removes finished-cycle events whose recorded
// start_time falls inside [from, to]. Used when re-importing a range.
func (r *Repos) DeleteCycleEventsByStart(ctx context.Context, applianceID string, from, to time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM cycle_events
		 WHERE appliance_id = $1
		   AND (payload->>'start_time')::timestamptz >= $2
		   AND (payload->>'start_time')::timestamptz <= $3`,
		applianceID, from, to)
	if err != nil {
		return 0, fmt.Errorf("delete cycle events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete cycle events: %w", err)
	}
	return n, nil
}

// InsertReading archives one raw power or energy sample.
func (r *Repos) InsertReading(ctx context.Context, rd *domain.Reading) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO readings(appliance_id, sensor, timestamp, value) VALUES ($1, $2, $3, $4)`,
		rd.ApplianceID, rd.Sensor, rd.Timestamp, rd.Value)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

// ReadingsRange returns archived samples for one sensor of an appliance in
// chronological order.
func (r *Repos) ReadingsRange(ctx context.Context, applianceID, sensor string, from, to time.Time) ([]domain.Reading, error) {
	var out []domain.Reading
	err := r.db.SelectContext(ctx, &out,
		`SELECT id, appliance_id, sensor, timestamp, value FROM readings
		 WHERE appliance_id = $1 AND sensor = $2 AND timestamp >= $3 AND timestamp <= $4
		 ORDER BY timestamp ASC`,
		applianceID, sensor, from, to)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	return out, nil
}
