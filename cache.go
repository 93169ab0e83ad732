package permit

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/sync/singleflight"

	"github.com/oarkflow/permit/logger"
)

// DefaultIndexTTL bounds how long a snapshot can outlive a missed
// invalidation.
const DefaultIndexTTL = 5 * time.Minute

const indexCacheKey = "permit:index"

// IndexCache hands out compiled index snapshots.
type IndexCache interface {
	// Get returns the current snapshot if one is cached and fresh.
	Get() (*Index, bool)
	// Build loads a fresh snapshot and caches it.
	Build(ctx context.Context) (*Index, error)
	// Invalidate drops the cached snapshot.
	Invalidate()
}

// CompiledCache is the default IndexCache. The snapshot lives in a
// ristretto cache under a single key; a generation counter makes any build
// that raced with an invalidation unobservable.
type CompiledCache struct {
	store  Store
	ttl    time.Duration
	clock  func() time.Time
	logger logger.Logger

	numCounters int64
	maxCost     int64
	bufferItems int64

	cache  *ristretto.Cache
	gen    atomic.Uint64
	group  singleflight.Group
	builds atomic.Int64
}

type cacheEntry struct {
	idx     *Index
	gen     uint64
	builtAt time.Time
}

// CacheOption configures a CompiledCache.
type CacheOption func(*CompiledCache) error

// WithCacheTTL sets the snapshot lifetime. Zero disables expiry.
func WithCacheTTL(d time.Duration) CacheOption {
	return func(c *CompiledCache) error {
		if d < 0 {
			return fmt.Errorf("cache ttl must not be negative")
		}
		c.ttl = d
		return nil
	}
}

// WithCacheClock replaces time.Now, mostly for tests.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *CompiledCache) error {
		c.clock = now
		return nil
	}
}

func WithCacheLogger(l logger.Logger) CacheOption {
	return func(c *CompiledCache) error {
		c.logger = l
		return nil
	}
}

// WithRistretto tunes the underlying ristretto cache. Non-positive values
// keep the defaults.
func WithRistretto(numCounters, maxCost, bufferItems int64) CacheOption {
	return func(c *CompiledCache) error {
		if numCounters > 0 {
			c.numCounters = numCounters
		}
		if maxCost > 0 {
			c.maxCost = maxCost
		}
		if bufferItems > 0 {
			c.bufferItems = bufferItems
		}
		return nil
	}
}

func NewCompiledCache(store Store, opts ...CacheOption) (*CompiledCache, error) {
	c := &CompiledCache{
		store:       store,
		ttl:         DefaultIndexTTL,
		clock:       time.Now,
		logger:      logger.NewNullLogger(),
		numCounters: 100,
		maxCost:     10,
		bufferItems: 64,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	rc, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        c.numCounters,
		MaxCost:            c.maxCost,
		BufferItems:        c.bufferItems,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto: %w", err)
	}
	c.cache = rc
	return c, nil
}

func (c *CompiledCache) Get() (*Index, bool) {
	v, ok := c.cache.Get(indexCacheKey)
	if !ok {
		return nil, false
	}
	e, ok := v.(*cacheEntry)
	if !ok || e.gen != c.gen.Load() {
		return nil, false
	}
	now := c.clock()
	if c.ttl > 0 && !now.Before(e.builtAt.Add(c.ttl)) {
		return nil, false
	}
	if e.idx.ExpiredAt(now) {
		return nil, false
	}
	return e.idx, true
}

// Build collapses concurrent builds of the same generation into one store
// load. The result is cached only if no invalidation happened meanwhile.
func (c *CompiledCache) Build(ctx context.Context) (*Index, error) {
	gen := c.gen.Load()
	v, err, _ := c.group.Do(strconv.FormatUint(gen, 10), func() (any, error) {
		now := c.clock()
		idx, err := BuildIndex(ctx, c.store, now)
		if err != nil {
			return nil, err
		}
		c.builds.Add(1)
		if c.gen.Load() == gen {
			c.cache.SetWithTTL(indexCacheKey, &cacheEntry{idx: idx, gen: gen, builtAt: now}, 1, c.entryTTL(idx, now))
			c.cache.Wait()
		}
		st := idx.Stats()
		c.logger.Debug("permit index built", "generation", int64(gen), "policies", st.Policies, "assignments", st.Assignments, "skipped", st.Skipped)
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Index), nil
}

// entryTTL is the configured TTL, shortened so the entry does not outlive
// the next validity bound of idx.
func (c *CompiledCache) entryTTL(idx *Index, now time.Time) time.Duration {
	ttl := c.ttl
	if next := idx.NextChange(); !next.IsZero() {
		if d := next.Sub(now); ttl == 0 || d < ttl {
			ttl = d
		}
	}
	return ttl
}

func (c *CompiledCache) Invalidate() {
	c.gen.Add(1)
	c.cache.Del(indexCacheKey)
}

// OnMutation drops the snapshot on any committed write.
func (c *CompiledCache) OnMutation(_ context.Context, m Mutation) {
	c.Invalidate()
	c.logger.Debug("permit index invalidated", "entity", string(m.Entity), "op", string(m.Op), "id", m.ID)
}

// Builds reports how many snapshots have been built from the store.
func (c *CompiledCache) Builds() int64 { return c.builds.Load() }

// Generation is the current invalidation counter.
func (c *CompiledCache) Generation() uint64 { return c.gen.Load() }

func (c *CompiledCache) Close() { c.cache.Close() }

// loadIndex returns a cached snapshot or builds one. A snapshot that a
// validity window has outdated is never used, whatever the IndexCache.
func loadIndex(ctx context.Context, c IndexCache, now time.Time) (*Index, error) {
	if idx, ok := c.Get(); ok && !idx.ExpiredAt(now) {
		return idx, nil
	}
	return c.Build(ctx)
}
