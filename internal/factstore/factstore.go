// Package factstore keeps the per-item fact sets collected during a batch
// run. It is a pure in-memory structure: durable fact history lives in the
// store, this holds the working set handed to the reconciliation engine.
package factstore

import (
	"sync"
	"time"

	"github.com/openshelf/bibcat/internal/model"
)

// Store is an append-only collection of facts keyed by item. Duplicate
// assertions are retained with independent confidence so a source can
// re-affirm a value on a later run.
type Store struct {
	mu    sync.RWMutex
	facts map[string][]model.Fact
	now   func() time.Time
}

// New creates an empty fact store.
func New() *Store {
	return &Store{
		facts: make(map[string][]model.Fact),
		now:   time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (s *Store) WithNow(now func() time.Time) *Store {
	s.now = now
	return s
}

// Assert appends a fact. Empty values are ignored; absence is not an
// assertion. A zero ObservedAt is stamped with the current time.
func (s *Store) Assert(f model.Fact) {
	if f.Value == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ObservedAt.IsZero() {
		f.ObservedAt = s.now().UTC()
	}
	s.facts[f.ItemID] = append(s.facts[f.ItemID], f)
}

// AssertAll appends each fact in order.
func (s *Store) AssertAll(facts []model.Fact) {
	for _, f := range facts {
		s.Assert(f)
	}
}

// FactsFor returns the facts for an item in insertion order, optionally
// filtered to one field (empty field means all). The returned slice is a
// copy.
func (s *Store) FactsFor(itemID string, field model.FieldName) []model.Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.facts[itemID]
	out := make([]model.Fact, 0, len(all))
	for _, f := range all {
		if field == "" || f.Field == field {
			out = append(out, f)
		}
	}
	return out
}

// Purge removes every fact for an item and returns how many were dropped.
// Maintenance only: normal flow never deletes facts.
func (s *Store) Purge(itemID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.facts[itemID])
	delete(s.facts, itemID)
	return n
}

// Items returns the IDs of every item with at least one fact.
func (s *Store) Items() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.facts))
	for id := range s.facts {
		ids = append(ids, id)
	}
	return ids
}
