package dblayer

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"medtracker/dbtypes"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

// MemoryStore keeps everything in process memory.  Transactions are
// serialized and work on a private copy that replaces the shared state only
// when fn succeeds.
type MemoryStore struct {
	mu       sync.Mutex
	regimens map[string]*dbtypes.Regimen
	records  map[string]*dbtypes.AdherenceRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		regimens: map[string]*dbtypes.Regimen{},
		records:  map[string]*dbtypes.AdherenceRecord{},
	}
}

func (s *MemoryStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	ctx, span := startSpan(ctx, "MemoryStore.RunTransaction")

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		regimens: make(map[string]*dbtypes.Regimen, len(s.regimens)),
		records:  make(map[string]*dbtypes.AdherenceRecord, len(s.records)),
	}
	for k, v := range s.regimens {
		tx.regimens[k] = v
	}
	for k, v := range s.records {
		tx.records[k] = v
	}

	if err := fn(ctx, tx); err != nil {
		return endSpan(span, err)
	}

	s.regimens = tx.regimens
	s.records = tx.records
	return endSpan(span, nil)
}

func (s *MemoryStore) ListUserIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[string]bool{}
	var out []string
	for _, r := range s.regimens {
		if !seen[r.UserID] {
			seen[r.UserID] = true
			out = append(out, r.UserID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// memoryTx stores its own clones; values in the maps are never mutated in
// place, only replaced.
type memoryTx struct {
	regimens map[string]*dbtypes.Regimen
	records  map[string]*dbtypes.AdherenceRecord
}

func (tx *memoryTx) GetRegimen(ctx context.Context, id string) (*dbtypes.Regimen, error) {
	r, ok := tx.regimens[id]
	if !ok {
		return nil, fmt.Errorf("regimen %s: %w", id, dbtypes.ErrNotFound)
	}
	return r.Clone(), nil
}

func (tx *memoryTx) ListRegimens(ctx context.Context, userID string) ([]*dbtypes.Regimen, error) {
	var out []*dbtypes.Regimen
	for _, r := range tx.regimens {
		if r.UserID == userID {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return regimenLess(out[i], out[j]) })
	return out, nil
}

func (tx *memoryTx) CreateRegimen(ctx context.Context, r *dbtypes.Regimen) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, ok := tx.regimens[r.ID]; ok {
		return fmt.Errorf("regimen %s already exists: %w", r.ID, dbtypes.ErrConflict)
	}
	tx.regimens[r.ID] = r.Clone()
	return nil
}

func (tx *memoryTx) UpdateRegimen(ctx context.Context, r *dbtypes.Regimen) error {
	if _, ok := tx.regimens[r.ID]; !ok {
		return fmt.Errorf("regimen %s: %w", r.ID, dbtypes.ErrNotFound)
	}
	tx.regimens[r.ID] = r.Clone()
	return nil
}

func (tx *memoryTx) GetRecord(ctx context.Context, key dbtypes.DoseKey) (*dbtypes.AdherenceRecord, error) {
	rec, ok := tx.records[key.String()]
	if !ok {
		return nil, fmt.Errorf("adherence record %s: %w", key, dbtypes.ErrNotFound)
	}
	return rec.Clone(), nil
}

func (tx *memoryTx) CreateRecord(ctx context.Context, rec *dbtypes.AdherenceRecord) error {
	key := rec.Key().String()
	if _, ok := tx.records[key]; ok {
		return fmt.Errorf("adherence record %s already exists: %w", key, dbtypes.ErrConflict)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	tx.records[key] = rec.Clone()
	return nil
}

func (tx *memoryTx) PutRecord(ctx context.Context, rec *dbtypes.AdherenceRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	tx.records[rec.Key().String()] = rec.Clone()
	return nil
}

func (tx *memoryTx) DeleteRecord(ctx context.Context, key dbtypes.DoseKey) error {
	if _, ok := tx.records[key.String()]; !ok {
		return fmt.Errorf("adherence record %s: %w", key, dbtypes.ErrNotFound)
	}
	delete(tx.records, key.String())
	return nil
}

func (tx *memoryTx) ListRecords(ctx context.Context, userID string, from, to civil.Date) ([]*dbtypes.AdherenceRecord, error) {
	var out []*dbtypes.AdherenceRecord
	for _, rec := range tx.records {
		if rec.UserID == userID && inRange(rec.Date, from, to) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return recordLess(out[i], out[j]) })
	return out, nil
}
