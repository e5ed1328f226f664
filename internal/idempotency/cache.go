// Package idempotency remembers content hashes of recently accepted requests.
//
// Entries are keyed scope#hash, expire after a TTL and are evicted oldest
// first once the cache is full. The cache is periodically snapshotted to a
// durable side-store and reloaded at startup.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"strategy-ledger/internal/storage"
)

const (
	// ScopeSignal holds signal content hashes.
	ScopeSignal = "signal"
	// ScopeRebalance holds rebalance plan hashes.
	ScopeRebalance = "rebalance"

	// DefaultCapacity bounds the number of live entries.
	DefaultCapacity = 10000

	snapshotVersion = 1
)

// Entry is one remembered hash.
type Entry struct {
	Metadata  map[string]string `json:"metadata,omitempty"`
	StoredAt  time.Time         `json:"stored_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

type snapshot struct {
	Version int              `json:"version"`
	SavedAt time.Time        `json:"saved_at"`
	Entries map[string]Entry `json:"entries"`
}

// Key builds the composite cache key.
func Key(scope, hash string) string {
	return scope + "#" + hash
}

// Cache is a bounded TTL set of hashes. Safe for concurrent use.
type Cache struct {
	name     string
	ttl      time.Duration
	capacity int
	store    storage.SnapshotStore
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]Entry
	dirty   bool
}

// New creates a cache persisted under name. store may be nil for a purely in-memory cache.
func New(name string, ttl time.Duration, capacity int, store storage.SnapshotStore, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		name:     name,
		ttl:      ttl,
		capacity: capacity,
		store:    store,
		logger:   logger.Named("idempotency").With(zap.String("cache", name)),
		now:      time.Now,
		entries:  make(map[string]Entry),
	}
}

// WithClock replaces the time source.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Name returns the snapshot name.
func (c *Cache) Name() string { return c.name }

// HasKey reports whether hash was stored in scope and has not expired.
func (c *Cache) HasKey(hash, scope string) bool {
	_, ok := c.lookup(Key(scope, hash))
	return ok
}

// GetMetadata returns the metadata stored with hash.
func (c *Cache) GetMetadata(hash, scope string) (map[string]string, bool) {
	e, ok := c.lookup(Key(scope, hash))
	if !ok {
		return nil, false
	}
	return cloneMetadata(e.Metadata), true
}

func (c *Cache) lookup(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	if !c.now().Before(e.ExpiresAt) {
		delete(c.entries, key)
		c.dirty = true
		return Entry{}, false
	}
	return e, true
}

// StoreKey remembers hash in scope, replacing any previous entry.
// When the cache is full the oldest entry is evicted.
func (c *Cache) StoreKey(hash, scope string, metadata map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storeLocked(Key(scope, hash), metadata, c.now())
}

// Claim stores hash unless a live entry exists. Returns true if this call stored it.
func (c *Cache) Claim(hash, scope string, metadata map[string]string) bool {
	key := Key(scope, hash)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && now.Before(e.ExpiresAt) {
		return false
	}
	c.storeLocked(key, metadata, now)
	return true
}

// Forget removes hash from scope.
func (c *Cache) Forget(hash, scope string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[Key(scope, hash)]; ok {
		delete(c.entries, Key(scope, hash))
		c.dirty = true
	}
}

func (c *Cache) storeLocked(key string, metadata map[string]string, now time.Time) {
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.purgeExpiredLocked(now)
		for len(c.entries) >= c.capacity {
			c.evictOldestLocked()
		}
	}
	c.entries[key] = Entry{
		Metadata:  cloneMetadata(metadata),
		StoredAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}
	c.dirty = true
}

// Len returns the number of entries, including expired ones not yet purged.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) purgeExpiredLocked(now time.Time) {
	for k, e := range c.entries {
		if !now.Before(e.ExpiresAt) {
			delete(c.entries, k)
		}
	}
}

func (c *Cache) evictOldestLocked() {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, e := range c.entries {
		if oldestKey == "" || e.StoredAt.Before(oldest) || (e.StoredAt.Equal(oldest) && k < oldestKey) {
			oldestKey, oldest = k, e.StoredAt
		}
	}
	delete(c.entries, oldestKey)
	c.logger.Debug("evicted oldest entry", zap.String("key", oldestKey))
}

// Load replaces the cache contents with the stored snapshot.
// A missing, unreadable or corrupt snapshot leaves the cache empty.
func (c *Cache) Load(ctx context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.dirty = false
	c.mu.Unlock()

	if c.store == nil {
		return
	}

	data, err := c.store.LoadSnapshot(ctx, c.name)
	if errors.Is(err, storage.ErrNotFound) {
		c.logger.Info("no idempotency snapshot, starting empty")
		return
	}
	if err != nil {
		c.logger.Warn("failed to read idempotency snapshot, starting empty", zap.Error(err))
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.logger.Warn("corrupt idempotency snapshot, starting empty", zap.Error(err))
		return
	}
	if snap.Version != snapshotVersion {
		c.logger.Warn("unknown idempotency snapshot version, starting empty", zap.Int("version", snap.Version))
		return
	}

	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range snap.Entries {
		if now.Before(e.ExpiresAt) {
			c.entries[k] = e
		}
	}
	for len(c.entries) > c.capacity {
		c.evictOldestLocked()
	}
	c.logger.Info("idempotency snapshot loaded", zap.Int("entries", len(c.entries)))
}

// Persist writes live entries to the side-store.
func (c *Cache) Persist(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	now := c.now()
	c.mu.Lock()
	c.purgeExpiredLocked(now)
	snap := snapshot{
		Version: snapshotVersion,
		SavedAt: now.UTC(),
		Entries: make(map[string]Entry, len(c.entries)),
	}
	for k, e := range c.entries {
		snap.Entries[k] = e
	}
	c.dirty = false
	c.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := c.store.SaveSnapshot(ctx, c.name, data); err != nil {
		c.mu.Lock()
		c.dirty = true
		c.mu.Unlock()
		return fmt.Errorf("save snapshot %s: %w", c.name, err)
	}
	return nil
}

// Run persists the cache every interval while it has changes, and once more when ctx ends.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			if err := c.Persist(flushCtx); err != nil {
				c.logger.Error("final idempotency flush failed", zap.Error(err))
			}
			cancel()
			return
		case <-ticker.C:
			if !c.isDirty() {
				continue
			}
			if err := c.Persist(ctx); err != nil {
				c.logger.Warn("idempotency persist failed", zap.Error(err))
			}
		}
	}
}

func (c *Cache) isDirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

func cloneMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
