package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/ridepool/carpool/internal/models"
)

// Persister receives the compacted change set of every committed
// transaction while the store still holds its write lock. An error aborts
// the commit.
type Persister interface {
	Persist(ctx context.Context, changes []Change) error
}

type loadable interface {
	Name() string
	load(body []byte) error
}

// Store serializes all state-mutating operations behind one writer lock.
type Store struct {
	mu        sync.RWMutex
	tables    map[string]loadable
	persister Persister
}

func NewStore() *Store {
	return &Store{tables: make(map[string]loadable)}
}

func (s *Store) SetPersister(p Persister) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persister = p
}

// Register makes a table restorable from persisted rows.
func (s *Store) Register(t loadable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.tables[t.Name()]; dup {
		panic("storage: duplicate table " + t.Name())
	}
	s.tables[t.Name()] = t
}

// Update runs fn as a single all-or-nothing transaction and returns the
// events it emitted once they are committed.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) ([]models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tx := newTx(ctx)
	defer func() {
		if rec := recover(); rec != nil {
			tx.rollback()
			panic(rec)
		}
	}()

	if err := fn(tx); err != nil {
		tx.rollback()
		return nil, err
	}
	if s.persister != nil && len(tx.changes) > 0 {
		if err := s.persister.Persist(ctx, tx.compact()); err != nil {
			tx.rollback()
			return nil, fmt.Errorf("persist: %w", err)
		}
	}
	return tx.events, nil
}

// View runs fn under the read lock. fn must not write.
func (s *Store) View(fn func()) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn()
}

// Restore loads persisted rows into the registered tables. It is meant to
// run once at startup before the store serves traffic.
func (s *Store) Restore(rows []Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		t, ok := s.tables[r.Table]
		if !ok {
			return fmt.Errorf("restore: unknown table %q", r.Table)
		}
		if err := t.load(r.Body); err != nil {
			return fmt.Errorf("restore %s/%s: %w", r.Table, r.Key, err)
		}
	}
	return nil
}
