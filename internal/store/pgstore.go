package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// PGStore keeps snapshots in the appliance_state table, one row per
// appliance. The upsert makes each save atomic.
type PGStore struct {
	db *sqlx.DB
}

// NewPGStore wraps an open database handle.
func NewPGStore(db *sqlx.DB) *PGStore { return &PGStore{db: db} }

func (s *PGStore) Load(ctx context.Context, applianceID string) (*Snapshot, error) {
	var data []byte
	err := s.db.QueryRowxContext(ctx,
		`SELECT data FROM appliance_state WHERE appliance_id = $1`, applianceID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version > SchemaVersion {
		return nil, fmt.Errorf("snapshot schema v%d is newer than supported v%d", snap.Version, SchemaVersion)
	}
	return &snap, nil
}

func (s *PGStore) Save(ctx context.Context, applianceID string, snap *Snapshot) error {
	snap.Version = SchemaVersion
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO appliance_state(appliance_id, version, data, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (appliance_id)
		 DO UPDATE SET version = EXCLUDED.version, data = EXCLUDED.data, updated_at = now()`,
		applianceID, SchemaVersion, data)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}
