// Package cache holds the bounded in-process cache for business collections
// and the Redis channel used to invalidate it across processes.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/juju/clock"
	"go.uber.org/zap"
)

// Default cache configuration
const (
	DefaultTTL        = 30 * time.Second
	DefaultMaxEntries = 1024
)

// Key identifies one cached collection of one business
type Key struct {
	BusinessID string
	Collection string
}

// String renders the key as businessId:collection
func (k Key) String() string {
	return k.BusinessID + ":" + k.Collection
}

// Entry is a cached value and the time it was stored
type Entry[V any] struct {
	Value    V
	StoredAt time.Time
}

// Ticket records the invalidation generation of a key when a load starts.
// PutIfCurrent stores a value only if no invalidation touched the key since.
type Ticket struct {
	key         Key
	keyGen      uint64
	businessGen uint64
	epoch       uint64
}

// Stats are counters describing cache effectiveness
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Entries   int
}

// CollectionCache is a bounded LRU of per-business collections. Entries are
// fresh while their age on the injected clock is below the TTL; the LRU's own
// wall-clock expiry only reclaims memory.
type CollectionCache[V any] struct {
	lru    *expirable.LRU[Key, Entry[V]]
	clock  clock.Clock
	ttl    time.Duration
	logger *zap.Logger

	// mu orders fills against invalidations
	mu          sync.Mutex
	keyGens     map[Key]uint64
	businessGen map[string]uint64
	epoch       uint64

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// Option configures a CollectionCache
type Option func(*options)

type options struct {
	ttl        time.Duration
	maxEntries int
	clock      clock.Clock
	logger     *zap.Logger
}

// WithTTL sets how long an entry is served. Zero keeps the default.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithMaxEntries bounds the number of cached collections. Zero keeps the default.
func WithMaxEntries(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxEntries = n
		}
	}
}

// WithClock sets the clock used to timestamp and age entries
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithLogger sets the cache logger
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// NewCollectionCache creates an empty cache
func NewCollectionCache[V any](opts ...Option) *CollectionCache[V] {
	o := options{
		ttl:        DefaultTTL,
		maxEntries: DefaultMaxEntries,
		clock:      clock.WallClock,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &CollectionCache[V]{
		lru:    expirable.NewLRU[Key, Entry[V]](o.maxEntries, nil, o.ttl),
		clock:  o.clock,
		ttl:    o.ttl,
		logger: o.logger.Named("collection_cache"),

		keyGens:     make(map[Key]uint64),
		businessGen: make(map[string]uint64),
	}
}

// TTL returns the freshness window
func (c *CollectionCache[V]) TTL() time.Duration {
	return c.ttl
}

// Get returns the entry for key when it is younger than the TTL. Stale
// entries are removed and reported as a miss.
func (c *CollectionCache[V]) Get(key Key) (Entry[V], bool) {
	entry, ok := c.lru.Get(key)
	if ok && c.clock.Now().Sub(entry.StoredAt) < c.ttl {
		c.hits.Add(1)
		return entry, true
	}
	if ok {
		c.lru.Remove(key)
		c.logger.Debug("Dropped stale collection", zap.Stringer("key", key))
	}
	c.misses.Add(1)
	var zero Entry[V]
	return zero, false
}

// Put stores value under key, stamped with the current time
func (c *CollectionCache[V]) Put(key Key, value V) Entry[V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.add(key, value)
}

// Reserve takes a ticket for key before its value is read from the source
func (c *CollectionCache[V]) Reserve(key Key) Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Ticket{
		key:         key,
		keyGen:      c.keyGens[key],
		businessGen: c.businessGen[key.BusinessID],
		epoch:       c.epoch,
	}
}

// PutIfCurrent stores value under the ticket's key unless the key, its
// business or the whole cache was invalidated after the ticket was taken.
// It reports whether the value was stored.
func (c *CollectionCache[V]) PutIfCurrent(t Ticket, value V) (Entry[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.epoch != c.epoch || t.keyGen != c.keyGens[t.key] || t.businessGen != c.businessGen[t.key.BusinessID] {
		c.logger.Debug("Skipped fill invalidated during load", zap.Stringer("key", t.key))
		var zero Entry[V]
		return zero, false
	}
	return c.add(t.key, value), true
}

func (c *CollectionCache[V]) add(key Key, value V) Entry[V] {
	entry := Entry[V]{Value: value, StoredAt: c.clock.Now()}
	if evicted := c.lru.Add(key, entry); evicted {
		c.evictions.Add(1)
	}
	return entry
}

// Invalidate removes one collection of a business, or every collection of the
// business when collection is empty. Business IDs are matched exactly. It
// returns the number of entries removed.
func (c *CollectionCache[V]) Invalidate(businessID, collection string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if collection != "" {
		key := Key{BusinessID: businessID, Collection: collection}
		c.keyGens[key]++
		if c.lru.Remove(key) {
			return 1
		}
		return 0
	}
	c.businessGen[businessID]++
	removed := 0
	for _, k := range c.lru.Keys() {
		if k.BusinessID == businessID && c.lru.Remove(k) {
			removed++
		}
	}
	return removed
}

// Purge removes every entry
func (c *CollectionCache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	clear(c.keyGens)
	clear(c.businessGen)
	c.lru.Purge()
}

// Len returns the number of entries, fresh or not
func (c *CollectionCache[V]) Len() int {
	return c.lru.Len()
}

// Stats returns a snapshot of the cache counters
func (c *CollectionCache[V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Entries:   c.lru.Len(),
	}
}
