// Package memstore provides an in-memory implementation of patient.Store.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/linnemanlabs/triagedesk/internal/patient"
)

// Store holds patient records in memory. Suitable for dev/testing.
type Store struct {
	mu      sync.RWMutex
	now     func() time.Time
	order   []string                   // insertion order of IDs
	records map[string]*patient.Record // patient ID -> record
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		now:     time.Now,
		records: make(map[string]*patient.Record),
	}
}

// Insert stores a copy of the record, stamping created/updated times.
// A duplicate ID is rejected the way a primary key constraint would be.
func (s *Store) Insert(_ context.Context, r *patient.Record) (*patient.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[r.ID]; exists {
		return nil, fmt.Errorf("duplicate patient id %q", r.ID)
	}
	cp := r.Clone()
	now := s.now().UTC()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.records[cp.ID] = cp
	s.order = append(s.order, cp.ID)
	return cp.Clone(), nil
}

// List returns copies of all records in insertion order.
func (s *Store) List(_ context.Context) ([]*patient.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*patient.Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id].Clone())
	}
	return out, nil
}

// UpdateStatus sets the status of a stored record.
func (s *Store) UpdateStatus(_ context.Context, id string, status patient.Status) (*patient.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, false, nil
	}
	r.Status = status
	r.UpdatedAt = s.now().UTC()
	return r.Clone(), true, nil
}

// Delete removes a record. Reports whether it existed.
func (s *Store) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return false, nil
	}
	delete(s.records, id)
	if i := slices.Index(s.order, id); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
	return true, nil
}
