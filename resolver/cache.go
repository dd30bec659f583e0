package resolver

import (
	"context"
	"sync"

	"github.com/cbnsndwch/struktura/events"
	"github.com/cbnsndwch/struktura/registry"
	"github.com/cbnsndwch/struktura/schema"
)

// DefaultCacheSize is the number of records a cache holds when no size is
// given.
const DefaultCacheSize = 10000

type cacheKey struct {
	collection string
	record     string
	updated    int64
	version    int64
}

func keyOf(snap *registry.Snapshot, e schema.Entry) cacheKey {
	return cacheKey{
		collection: snap.Schema.ID,
		record:     e.Meta.ID,
		updated:    e.Meta.UpdatedAt.UnixNano(),
		version:    snap.Schema.Version,
	}
}

type cached struct {
	values schema.Record
	// collections whose records or schema the values were derived from
	deps map[string]bool
}

// Cache memoises resolved computed values per record, schema version and
// record update time. Entries that read related collections are dropped
// when those collections change; Handle wires it to an event bus.
type Cache struct {
	mu      sync.Mutex
	size    int
	entries map[cacheKey]cached
}

// NewCache creates a cache holding at most size records; size <= 0 uses
// DefaultCacheSize.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &Cache{size: size, entries: map[cacheKey]cached{}}
}

// Len returns the number of cached records.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) get(k cacheKey) (schema.Record, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	if !ok {
		return nil, false
	}
	return e.values.Clone(), true
}

func (c *Cache) put(k cacheKey, values schema.Record, deps map[string]bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.size {
		// no recency tracking; start over
		c.entries = map[cacheKey]cached{}
	}
	c.entries[k] = cached{values: values.Clone(), deps: deps}
}

// Handle invalidates entries affected by an event. Pass it to
// events.LocalBus.Subscribe.
func (c *Cache) Handle(_ context.Context, e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range c.entries {
		switch {
		case v.deps[e.CollectionID]:
			delete(c.entries, k)
		case k.collection != e.CollectionID:
		case e.Kind.SchemaChange():
			delete(c.entries, k)
		case k.record == e.RecordID:
			delete(c.entries, k)
		}
	}
}
