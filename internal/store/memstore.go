package store

import (
	"context"
	"encoding/json"
	"sync"
)

// MemStore is an in-memory Store used in tests and database-less runs. It
// round-trips snapshots through JSON so serialisation bugs surface the same
// way they would against Postgres.
type MemStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{blobs: make(map[string][]byte)}
}

func (s *MemStore) Load(_ context.Context, applianceID string) (*Snapshot, error) {
	s.mu.Lock()
	data, ok := s.blobs[applianceID]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *MemStore) Save(_ context.Context, applianceID string, snap *Snapshot) error {
	snap.Version = SchemaVersion
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.blobs[applianceID] = data
	s.mu.Unlock()
	return nil
}
