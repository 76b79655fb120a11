package itinerary

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned when an itinerary id has no matching record.
var ErrNotFound = errors.New("itinerary: not found")

// ErrVersionConflict is returned by Store.Update when the caller's Version
// does not match the stored version — optimistic-concurrency rejection.
var ErrVersionConflict = errors.New("itinerary: version conflict")

// Store is the CRUD-with-optimistic-versioning interface the tool executor
// and session API use. Any CRUD store with optimistic versioning fits;
// this package ships one in-memory and one sqlite-backed implementation
// as reference.
type Store interface {
	Create(ctx context.Context, it *Itinerary) error
	Get(ctx context.Context, id string) (*Itinerary, error)
	// Update persists it if it.Version matches the stored version, then
	// increments the stored version and returns the new record. Returns
	// ErrVersionConflict otherwise.
	Update(ctx context.Context, it *Itinerary) (*Itinerary, error)
	Delete(ctx context.Context, id string) error
}

// MemoryStore is an in-process Store, safe for concurrent use.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]*Itinerary
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*Itinerary)}
}

func (s *MemoryStore) Create(ctx context.Context, it *Itinerary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[it.ID]; exists {
		return fmt.Errorf("itinerary: id %q already exists", it.ID)
	}
	cp := *it
	s.data[it.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Itinerary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *it
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, it *Itinerary) (*Itinerary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.data[it.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if existing.Version != it.Version {
		return nil, ErrVersionConflict
	}
	cp := *it
	cp.Version = existing.Version + 1
	cp.UpdatedAt = time.Now()
	s.data[it.ID] = &cp
	out := cp
	return &out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[id]; !ok {
		return ErrNotFound
	}
	delete(s.data, id)
	return nil
}

// RetryUpdate reloads the itinerary and re-applies mutate once when Update
// fails with ErrVersionConflict — the executor's single-retry policy for
// optimistic-concurrency conflicts.
func RetryUpdate(ctx context.Context, store Store, id string, mutate func(*Itinerary) error) (*Itinerary, error) {
	it, err := store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(it); err != nil {
		return nil, err
	}
	updated, err := store.Update(ctx, it)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, ErrVersionConflict) {
		return nil, err
	}

	it, err = store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(it); err != nil {
		return nil, err
	}
	return store.Update(ctx, it)
}
