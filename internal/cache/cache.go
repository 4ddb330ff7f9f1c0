package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/windriver/studio-mcp/internal/observability"
)

const (
	// DefaultMaxMemoryBytes bounds the cache at 100MB unless configured.
	DefaultMaxMemoryBytes = 100 * 1024 * 1024

	// DefaultEvictionThreshold is the fraction of the budget at which
	// proactive eviction starts.
	DefaultEvictionThreshold = 0.9

	// DefaultMinEntriesPerTier is the floor eviction leaves in each tier.
	DefaultMinEntriesPerTier = 10

	// DefaultMaxItemsPerTier caps the entry count of a single tier.
	DefaultMaxItemsPerTier = 1000

	// DefaultSweepInterval is how often the background sweeper purges
	// expired entries.
	DefaultSweepInterval = 30 * time.Second
)

// Options configures a StudioCache.
type Options struct {
	// Enabled toggles the cache. When false, reads miss and writes are
	// dropped; callers keep working against the backing service.
	Enabled bool

	// MaxMemoryBytes is the hard budget across all tiers.
	MaxMemoryBytes int64

	// EvictionThreshold is the fraction of MaxMemoryBytes at which
	// eviction starts draining tiers. Must be in (0, 1].
	EvictionThreshold float64

	// MinEntriesPerTier is the per-tier floor eviction will not cross.
	MinEntriesPerTier int

	// MaxItemsPerTier caps how many entries a single tier holds.
	// Inserting past the cap evicts that tier's oldest entry, no matter
	// how much of the byte budget is free.
	MaxItemsPerTier int

	// Per-tier TTLs. Zero values fall back to the tier defaults.
	DynamicTTL     time.Duration
	SemiDynamicTTL time.Duration
	CompletedTTL   time.Duration
	ImmutableTTL   time.Duration

	// FilterSensitive enables redaction of payloads at admission.
	FilterSensitive bool

	// SweepInterval controls the background expiry sweep. Zero disables
	// the sweeper; expired entries are then only dropped on access or
	// under pressure.
	SweepInterval time.Duration

	// Remote is an optional distributed second level for the stable
	// tiers. May be nil.
	Remote *RemoteCache

	Logger  observability.Logger
	Metrics Recorder
}

// DefaultOptions returns the production defaults.
func DefaultOptions() *Options {
	return &Options{
		Enabled:           true,
		MaxMemoryBytes:    DefaultMaxMemoryBytes,
		EvictionThreshold: DefaultEvictionThreshold,
		MinEntriesPerTier: DefaultMinEntriesPerTier,
		MaxItemsPerTier:   DefaultMaxItemsPerTier,
		DynamicTTL:        DefaultDynamicTTL,
		SemiDynamicTTL:    DefaultSemiDynamicTTL,
		CompletedTTL:      DefaultCompletedTTL,
		ImmutableTTL:      DefaultImmutableTTL,
		FilterSensitive:   true,
		SweepInterval:     DefaultSweepInterval,
		Logger:            observability.NewNoopLogger(),
		Metrics:           NopRecorder(),
	}
}

// Validate checks option consistency. Called at startup; an error here
// is fatal.
func (o *Options) Validate() error {
	if o.MaxMemoryBytes <= 0 {
		return fmt.Errorf("invalid configuration: max memory must be positive, got %d", o.MaxMemoryBytes)
	}
	if o.EvictionThreshold <= 0 || o.EvictionThreshold > 1 {
		return fmt.Errorf("invalid configuration: eviction threshold must be in (0,1], got %v", o.EvictionThreshold)
	}
	if o.MinEntriesPerTier < 0 {
		return fmt.Errorf("invalid configuration: min entries per tier must be non-negative, got %d", o.MinEntriesPerTier)
	}
	if o.MaxItemsPerTier <= 0 {
		return fmt.Errorf("invalid configuration: max items per tier must be positive, got %d", o.MaxItemsPerTier)
	}
	if o.MinEntriesPerTier > o.MaxItemsPerTier {
		return fmt.Errorf("invalid configuration: min entries per tier %d exceeds max items per tier %d",
			o.MinEntriesPerTier, o.MaxItemsPerTier)
	}
	if o.DynamicTTL < 0 || o.SemiDynamicTTL < 0 || o.CompletedTTL < 0 || o.ImmutableTTL < 0 {
		return fmt.Errorf("invalid configuration: tier TTLs must be non-negative")
	}
	return nil
}

// lockedStore pairs a tier store with its own mutex so operations on
// different tiers never contend. A key maps to exactly one tier, so a
// single-key operation touches a single lock.
type lockedStore struct {
	mu sync.Mutex
	*tierStore
}

// StudioCache is a tiered, TTL-bound, memory-budgeted cache for Studio
// API responses. Keys are classified into tiers by shape, namespaced by
// owner, and evicted under memory pressure in volatility order.
type StudioCache struct {
	opts    *Options
	logger  observability.Logger
	metrics Recorder
	filter  *SensitiveFilter
	remote  *RemoteCache

	stores [tierCount]*lockedStore

	// tierTTLs holds the effective per-tier TTLs in nanoseconds. Kept
	// atomic so config hot-reload can adjust them while reads run.
	tierTTLs [tierCount]atomic.Int64

	// totalBytes is the authoritative admission counter. Reservations
	// are added before insert and every removal subtracts, so the
	// budget is never exceeded by live entries.
	totalBytes atomic.Int64

	// evictMu serializes cross-tier eviction.
	evictMu sync.Mutex

	hits        atomic.Int64
	misses      atomic.Int64
	evictions   atomic.Int64
	expirations atomic.Int64
	puts        atomic.Int64

	stopSweep chan struct{}
	sweepDone chan struct{}
	closeOnce sync.Once
}

// New creates a StudioCache from options.
func New(opts *Options) (*StudioCache, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = NopRecorder()
	}

	c := &StudioCache{
		opts:      opts,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		filter:    NewSensitiveFilter(opts.FilterSensitive),
		remote:    opts.Remote,
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}

	c.SetTierTTLs(opts.DynamicTTL, opts.SemiDynamicTTL, opts.CompletedTTL, opts.ImmutableTTL)

	for i := 0; i < tierCount; i++ {
		s, err := newTierStore(Tier(i), opts.MinEntriesPerTier, opts.MaxItemsPerTier)
		if err != nil {
			return nil, fmt.Errorf("tier store init failed: %w", err)
		}
		c.stores[i] = &lockedStore{tierStore: s}
	}

	if opts.Enabled && opts.SweepInterval > 0 {
		go c.sweepLoop()
	} else {
		close(c.sweepDone)
	}

	return c, nil
}

// Filter returns the sensitive data filter, shared with log decoration.
func (c *StudioCache) Filter() *SensitiveFilter {
	return c.filter
}

// Get returns the cached payload for an owner's key. ErrMiss is the
// ordinary not-found result; ErrDisabled when the cache is off. Expired
// entries are dropped on access and reported as misses.
func (c *StudioCache) Get(ctx context.Context, owner Owner, key string) ([]byte, error) {
	if !c.opts.Enabled {
		return nil, ErrDisabled
	}
	if ShouldSkipCaching(key) {
		return nil, ErrMiss
	}

	tier := DetectTier(key)
	nk := owner.Key(key)
	store := c.stores[tier]

	store.mu.Lock()
	e, ok := store.get(nk)
	if ok && e.Expired(time.Now()) {
		store.remove(nk)
		c.totalBytes.Add(-e.Size())
		c.expirations.Add(1)
		c.metrics.RecordEviction(tier.String(), EvictionReasonExpired, 1)
		ok = false
	}
	store.mu.Unlock()

	if ok {
		c.hits.Add(1)
		c.metrics.RecordHit(tier.String())
		return e.Value, nil
	}

	// Stable tiers may be backed by the distributed level.
	if c.remote != nil && (tier == TierImmutable || tier == TierCompleted) {
		if data, ttl, err := c.remote.Get(ctx, nk); err == nil {
			c.hits.Add(1)
			c.metrics.RecordHit(tier.String())
			// Re-admit locally, best effort.
			if admitErr := c.admit(nk, data, tier, ttl); admitErr != nil {
				c.logger.Debug("remote readmission skipped", map[string]interface{}{
					"key":   c.filter.FilterForLog(key),
					"error": admitErr.Error(),
				})
			}
			return data, nil
		}
	}

	c.misses.Add(1)
	c.metrics.RecordMiss()
	return nil, ErrMiss
}

// Put stores a payload under an owner's key. The tier and TTL follow
// from the key shape. Keys in the never-cache family are dropped
// silently. Returns ErrCapacityExceeded when eviction cannot free
// enough memory within the tier floors.
func (c *StudioCache) Put(ctx context.Context, owner Owner, key string, value []byte) error {
	if !c.opts.Enabled {
		return nil
	}
	if ShouldSkipCaching(key) {
		return nil
	}

	filtered, redacted := c.filter.FilterPayload(value)
	if redacted {
		c.logger.Debug("sensitive data redacted before caching", map[string]interface{}{
			"key": c.filter.FilterForLog(key),
		})
	}

	tier := DetectTier(key)
	ttl := c.ttlFor(tier)
	nk := owner.Key(key)

	if err := c.admit(nk, filtered, tier, ttl); err != nil {
		return err
	}

	// Write-behind to the distributed level for stable tiers.
	if c.remote != nil && (tier == TierImmutable || tier == TierCompleted) {
		c.remote.SetAsync(nk, filtered, ttl)
	}

	return nil
}

// admit reserves budget, evicts under pressure and inserts the entry.
func (c *StudioCache) admit(namespacedKey string, value []byte, tier Tier, ttl time.Duration) error {
	e := newEntry(namespacedKey, value, tier, ttl, c.filter.Enabled())

	budget := c.opts.MaxMemoryBytes
	if e.Size() > budget {
		return fmt.Errorf("%w: entry is %d bytes, budget is %d", ErrValueTooLarge, e.Size(), budget)
	}

	// Reserve first so concurrent admissions cannot jointly overshoot.
	newTotal := c.totalBytes.Add(e.Size())
	threshold := int64(float64(budget) * c.opts.EvictionThreshold)

	if newTotal > threshold {
		if err := c.evictToFit(budget, threshold); err != nil {
			c.totalBytes.Add(-e.Size())
			return err
		}
	}

	store := c.stores[tier]
	store.mu.Lock()
	if old, ok := store.peek(namespacedKey); ok {
		// Replacement releases the old entry's charge.
		c.totalBytes.Add(-old.Size())
	}
	capEvicted := store.put(e)
	count := store.len()
	store.mu.Unlock()

	if capEvicted != nil {
		c.totalBytes.Add(-capEvicted.Size())
		c.evictions.Add(1)
		c.metrics.RecordEviction(tier.String(), EvictionReasonCapacity, 1)
	}

	c.puts.Add(1)
	c.metrics.RecordPut(tier.String(), e.Size())
	c.metrics.SetEntryCount(tier.String(), count)
	c.metrics.SetMemoryUsage(c.totalBytes.Load())
	return nil
}

// evictToFit drains the cache until usage fits the hard budget. Expired
// entries go first, then LRU tails in volatility order, stopping at each
// tier's floor. Best effort down to the soft threshold; an error only
// when even the hard budget cannot be met.
func (c *StudioCache) evictToFit(budget, threshold int64) error {
	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	now := time.Now()

	// Pass 1: expired entries across all tiers.
	for i := 0; i < tierCount; i++ {
		if c.totalBytes.Load() <= threshold {
			break
		}
		store := c.stores[i]
		store.mu.Lock()
		before := store.sizeBytes()
		n := store.purgeExpired(now)
		freed := before - store.sizeBytes()
		store.mu.Unlock()
		if n > 0 {
			c.totalBytes.Add(-freed)
			c.expirations.Add(int64(n))
			c.metrics.RecordEviction(Tier(i).String(), EvictionReasonExpired, n)
		}
	}

	// Pass 2: LRU tails, most volatile tier first.
	for _, tier := range evictionOrder {
		store := c.stores[tier]
		evicted := 0
		store.mu.Lock()
		for c.totalBytes.Load() > threshold {
			e, ok := store.removeOldest()
			if !ok {
				break
			}
			c.totalBytes.Add(-e.Size())
			evicted++
		}
		store.mu.Unlock()
		if evicted > 0 {
			c.evictions.Add(int64(evicted))
			c.metrics.RecordEviction(tier.String(), EvictionReasonPressure, evicted)
			c.logger.Debug("evicted under memory pressure", map[string]interface{}{
				"tier":    tier.String(),
				"entries": evicted,
			})
		}
		if c.totalBytes.Load() <= threshold {
			break
		}
	}

	if c.totalBytes.Load() > budget {
		return fmt.Errorf("%w: tier floors prevent freeing below %d bytes", ErrCapacityExceeded, budget)
	}
	return nil
}

// Delete removes an owner's key from the local store and, for stable
// tiers, from the distributed level.
func (c *StudioCache) Delete(ctx context.Context, owner Owner, key string) error {
	if !c.opts.Enabled {
		return nil
	}

	tier := DetectTier(key)
	nk := owner.Key(key)
	store := c.stores[tier]

	store.mu.Lock()
	e, ok := store.remove(nk)
	store.mu.Unlock()

	if ok {
		c.totalBytes.Add(-e.Size())
		c.metrics.RecordEviction(tier.String(), EvictionReasonExplicit, 1)
		c.metrics.SetMemoryUsage(c.totalBytes.Load())
	}

	if c.remote != nil && (tier == TierImmutable || tier == TierCompleted) {
		_ = c.remote.Delete(ctx, nk)
	}
	return nil
}

// InvalidatePrefix removes every entry of the owner whose logical key
// starts with prefix. Returns how many entries were dropped locally.
func (c *StudioCache) InvalidatePrefix(ctx context.Context, owner Owner, prefix string) int {
	if !c.opts.Enabled {
		return 0
	}

	np := owner.Key(prefix)
	total := 0
	for i := 0; i < tierCount; i++ {
		store := c.stores[i]
		store.mu.Lock()
		before := store.sizeBytes()
		n := store.removePrefix(np)
		freed := before - store.sizeBytes()
		store.mu.Unlock()
		if n > 0 {
			c.totalBytes.Add(-freed)
			total += n
			c.metrics.RecordEviction(Tier(i).String(), EvictionReasonExplicit, n)
		}
	}

	if c.remote != nil {
		_ = c.remote.DeletePrefix(ctx, np)
	}

	if total > 0 {
		c.metrics.SetMemoryUsage(c.totalBytes.Load())
		c.logger.Debug("invalidated by prefix", map[string]interface{}{
			"prefix":  c.filter.FilterForLog(prefix),
			"entries": total,
		})
	}
	return total
}

// InvalidateOwner drops everything cached for one owner.
func (c *StudioCache) InvalidateOwner(ctx context.Context, owner Owner) int {
	return c.InvalidatePrefix(ctx, owner, "")
}

// Warm pre-loads keys through the supplied fetch function. Failures are
// logged and skipped; warming never blocks startup on a bad key.
func (c *StudioCache) Warm(ctx context.Context, owner Owner, keys []string, fetch func(ctx context.Context, key string) ([]byte, error)) {
	if !c.opts.Enabled {
		return
	}
	warmed := 0
	for _, key := range keys {
		if _, err := c.Get(ctx, owner, key); err == nil {
			warmed++
			continue
		}
		data, err := fetch(ctx, key)
		if err != nil {
			c.logger.Warn("cache warm fetch failed", map[string]interface{}{
				"key":   c.filter.FilterForLog(key),
				"error": err.Error(),
			})
			continue
		}
		if err := c.Put(ctx, owner, key, data); err == nil {
			warmed++
		}
	}
	c.logger.Info("cache warming complete", map[string]interface{}{
		"total":  len(keys),
		"warmed": warmed,
	})
}

// Stats is a point-in-time snapshot of cache counters. Counters are
// monotonic for the life of the process.
type Stats struct {
	Hits            int64            `json:"hits"`
	Misses          int64            `json:"misses"`
	Evictions       int64            `json:"evictions"`
	Expirations     int64            `json:"expirations"`
	Puts            int64            `json:"puts"`
	HitRate         float64          `json:"hit_rate"`
	TotalOperations int64            `json:"total_operations"`
	MemoryBytes     int64            `json:"memory_bytes"`
	MemoryBudget    int64            `json:"memory_budget"`
	EntriesPerTier  map[string]int   `json:"entries_per_tier"`
	BytesPerTier    map[string]int64 `json:"bytes_per_tier"`
}

// Stats returns current counters. HitRate is 0 when no operations have
// been recorded.
func (c *StudioCache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	hitRate := 0.0
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	st := Stats{
		Hits:            hits,
		Misses:          misses,
		Evictions:       c.evictions.Load(),
		Expirations:     c.expirations.Load(),
		Puts:            c.puts.Load(),
		HitRate:         hitRate,
		TotalOperations: total,
		MemoryBytes:     c.totalBytes.Load(),
		MemoryBudget:    c.opts.MaxMemoryBytes,
		EntriesPerTier:  make(map[string]int, tierCount),
		BytesPerTier:    make(map[string]int64, tierCount),
	}

	for i := 0; i < tierCount; i++ {
		store := c.stores[i]
		store.mu.Lock()
		st.EntriesPerTier[Tier(i).String()] = store.len()
		st.BytesPerTier[Tier(i).String()] = store.sizeBytes()
		store.mu.Unlock()
	}
	return st
}

// Len returns the total number of live entries.
func (c *StudioCache) Len() int {
	n := 0
	for i := 0; i < tierCount; i++ {
		store := c.stores[i]
		store.mu.Lock()
		n += store.len()
		store.mu.Unlock()
	}
	return n
}

// MemoryBytes returns the current charge against the budget.
func (c *StudioCache) MemoryBytes() int64 {
	return c.totalBytes.Load()
}

// Purge drops every entry in every tier.
func (c *StudioCache) Purge() {
	for i := 0; i < tierCount; i++ {
		store := c.stores[i]
		store.mu.Lock()
		freed := store.sizeBytes()
		store.purge()
		store.mu.Unlock()
		c.totalBytes.Add(-freed)
	}
	c.metrics.SetMemoryUsage(c.totalBytes.Load())
}

// Close stops the sweeper and closes the remote level if present.
func (c *StudioCache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.opts.Enabled && c.opts.SweepInterval > 0 {
			close(c.stopSweep)
			<-c.sweepDone
		}
		if c.remote != nil {
			err = c.remote.Close()
		}
	})
	return err
}

func (c *StudioCache) ttlFor(tier Tier) time.Duration {
	ttl := time.Duration(c.tierTTLs[tier].Load())
	if ttl == 0 {
		ttl = TTLFor(tier)
	}
	return ttl
}

// SetTierTTLs overrides the per-tier TTLs. A zero duration falls back
// to the tier default; negative values are ignored. Only entries
// admitted after the change see the new TTLs.
func (c *StudioCache) SetTierTTLs(dynamic, semiDynamic, completed, immutable time.Duration) {
	set := func(tier Tier, ttl time.Duration) {
		if ttl >= 0 {
			c.tierTTLs[tier].Store(int64(ttl))
		}
	}
	set(TierDynamic, dynamic)
	set(TierSemiDynamic, semiDynamic)
	set(TierCompleted, completed)
	set(TierImmutable, immutable)
}

// sweepLoop periodically purges expired entries so memory is reclaimed
// even when keys are never read again.
func (c *StudioCache) sweepLoop() {
	defer close(c.sweepDone)

	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopSweep:
			return
		case <-ticker.C:
			c.sweepExpired()
		}
	}
}

func (c *StudioCache) sweepExpired() {
	now := time.Now()
	for i := 0; i < tierCount; i++ {
		store := c.stores[i]
		store.mu.Lock()
		before := store.sizeBytes()
		n := store.purgeExpired(now)
		freed := before - store.sizeBytes()
		count := store.len()
		store.mu.Unlock()

		if n > 0 {
			c.totalBytes.Add(-freed)
			c.expirations.Add(int64(n))
			c.metrics.RecordEviction(Tier(i).String(), EvictionReasonExpired, n)
		}
		c.metrics.SetEntryCount(Tier(i).String(), count)
	}
	c.metrics.SetMemoryUsage(c.totalBytes.Load())
}
