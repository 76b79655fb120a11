package tools

import (
	"context"
	"sync"

	"github.com/tripdesigner/agent/pkg/itinerary"
)

// ItineraryCache is the per-turn itinerary context cache:
// at the start of a turn the agent loop calls Reset, then every handler in
// that turn shares one load of each itinerary it touches. Queries read the
// cached snapshot; mutations write through the store and refresh the cache
// entry on success.
type ItineraryCache struct {
	store itinerary.Store

	mu     sync.Mutex
	cached map[string]*itinerary.Itinerary
}

// NewItineraryCache wraps store with a per-turn read cache.
func NewItineraryCache(store itinerary.Store) *ItineraryCache {
	return &ItineraryCache{store: store, cached: make(map[string]*itinerary.Itinerary)}
}

// Reset clears the cache, to be called once at the start of each turn.
func (c *ItineraryCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached = make(map[string]*itinerary.Itinerary)
}

// Get returns the cached snapshot for id, loading it from the store on a
// cache miss.
func (c *ItineraryCache) Get(ctx context.Context, id string) (*itinerary.Itinerary, error) {
	c.mu.Lock()
	if it, ok := c.cached[id]; ok {
		c.mu.Unlock()
		return it, nil
	}
	c.mu.Unlock()

	it, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cached[id] = it
	c.mu.Unlock()
	return it, nil
}

// Put refreshes the cache entry for id after a successful mutation.
func (c *ItineraryCache) Put(id string, it *itinerary.Itinerary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached[id] = it
}

// Store exposes the underlying store for handlers that need RetryUpdate.
func (c *ItineraryCache) Store() itinerary.Store {
	return c.store
}
