// Package cache provides the TTL- and size-bounded content cache with
// checksum validation and priority-aware eviction.
package cache

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tablekit/ordersync/internal/clock"
	"github.com/tablekit/ordersync/internal/errors"
	"github.com/tablekit/ordersync/internal/event"
	"github.com/tablekit/ordersync/internal/logging"
	"github.com/tablekit/ordersync/internal/models"
	"github.com/tablekit/ordersync/internal/store"
	"github.com/tablekit/ordersync/internal/transform"
)

// keyPrefix namespaces cache entries inside the shared store.
const keyPrefix = "cache/"

// evictionTarget is the fraction of MaxCacheSize eviction shrinks to,
// and the fraction of the TTL after which an entry counts as stale.
const evictionTarget = 0.8

// Revalidator refreshes a stale entry in the background. It returns the
// new payload for the key, or an error to leave the entry as is.
type Revalidator func(key string) ([]byte, error)

// Stats holds cache counters.
type Stats struct {
	Entries   int   `json:"entries"`
	SizeBytes int64 `json:"size_bytes"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// Manager owns all cache entries. Every mutation is persisted before the
// in-memory state is considered final.
type Manager struct {
	store    store.Store
	pipeline *transform.Pipeline
	clk      clock.Clock
	handler  event.Handler
	maxSize  int64
	log      *logging.Logger

	mu        sync.Mutex
	entries   map[string]*models.CacheEntry
	sizes     map[string]int64 // serialized size per key
	totalSize int64

	revalidator Revalidator

	hits      int64
	misses    int64
	evictions int64
}

// NewManager creates a cache Manager and reloads persisted entries.
// Entries that fail to decode are skipped with a storage_corruption
// event; the cache keeps operating on the remaining state.
func NewManager(st store.Store, pipeline *transform.Pipeline, clk clock.Clock, maxSize int64, handler event.Handler) (*Manager, error) {
	m := &Manager{
		store:    st,
		pipeline: pipeline,
		clk:      clk,
		handler:  handler,
		maxSize:  maxSize,
		log:      logging.Get().WithComponent("cache"),
		entries:  make(map[string]*models.CacheEntry),
		sizes:    make(map[string]int64),
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// SetRevalidator installs the background refresh hook for stale entries.
func (m *Manager) SetRevalidator(fn Revalidator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revalidator = fn
}

// load rebuilds the in-memory index from the store.
func (m *Manager) load() error {
	records, err := m.store.List(keyPrefix)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "load cache entries", err)
	}

	for storeKey, raw := range records {
		var entry models.CacheEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			m.log.Warn("skipping corrupt cache record",
				map[string]interface{}{"key": storeKey})
			event.Emit(m.handler, event.Event{
				Type:   event.StorageCorruption,
				Fields: map[string]interface{}{"key": storeKey, "component": "cache"},
			})
			m.store.Delete(storeKey)
			continue
		}
		m.entries[entry.Key] = &entry
		m.sizes[entry.Key] = int64(len(raw))
		m.totalSize += int64(len(raw))
	}
	return nil
}

// Get returns the cached payload for key. Expired or corrupt entries are
// removed and reported as a miss. A stale (but unexpired) hit triggers
// background revalidation when a revalidator is installed.
func (m *Manager) Get(key string) ([]byte, bool) {
	m.mu.Lock()

	entry, ok := m.entries[key]
	if !ok {
		m.misses++
		m.mu.Unlock()
		return nil, false
	}

	now := m.clk.Now()
	if entry.IsExpired(now) {
		m.removeLocked(key)
		m.misses++
		m.mu.Unlock()
		return nil, false
	}

	payload, err := m.pipeline.Reverse(entry.Payload, entry.Flags)
	if err != nil {
		// Treated as corruption: drop the entry, degrade to a miss.
		m.log.Warn("cache entry failed transform reversal",
			map[string]interface{}{"key": key})
		m.removeLocked(key)
		m.misses++
		m.mu.Unlock()
		return nil, false
	}

	if transform.Checksum(payload) != entry.Checksum {
		m.log.Warn("cache entry checksum mismatch",
			map[string]interface{}{"key": key, "stored": entry.Checksum})
		m.removeLocked(key)
		m.misses++
		m.mu.Unlock()
		return nil, false
	}

	m.hits++
	stale := entry.IsStale(now)
	revalidator := m.revalidator
	m.mu.Unlock()

	event.Emit(m.handler, event.Event{
		Type:   event.CacheHit,
		Fields: map[string]interface{}{"key": key, "stale": stale},
	})

	if stale && revalidator != nil {
		go m.revalidate(key, entry.Priority, time.Duration(entry.TTL)*time.Millisecond, revalidator)
	}

	return payload, true
}

// revalidate refreshes one stale entry. Failures leave the entry as is;
// it still expires at its TTL.
func (m *Manager) revalidate(key string, priority models.Priority, ttl time.Duration, fn Revalidator) {
	payload, err := fn(key)
	if err != nil {
		m.log.Debug("revalidation failed",
			map[string]interface{}{"key": key})
		return
	}
	if err := m.Set(key, payload, ttl, priority); err != nil {
		m.log.Warn("revalidated entry could not be stored",
			map[string]interface{}{"key": key})
	}
}

// Set stores value under key. The checksum is computed over the plain
// value before any transform; transforms apply compress-then-encrypt.
func (m *Manager) Set(key string, value []byte, ttl time.Duration, priority models.Priority) error {
	if strings.TrimSpace(key) == "" {
		return errors.New(errors.ErrInvalid, "empty cache key")
	}
	if ttl <= 0 {
		return errors.New(errors.ErrInvalid, "ttl must be positive")
	}

	checksum := transform.Checksum(value)

	transformed, flags, err := m.pipeline.Apply(value)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "transform failed", err)
	}

	now := m.clk.Now()
	entry := &models.CacheEntry{
		Key:      key,
		Payload:  transformed,
		CachedAt: now.UnixMilli(),
		TTL:      ttl.Milliseconds(),
		StaleAt:  now.UnixMilli() + int64(float64(ttl.Milliseconds())*evictionTarget),
		Priority: priority,
		Checksum: checksum,
		Flags:    flags,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.persistLocked(entry); err != nil {
		return err
	}

	return m.enforceLimitLocked()
}

// persistLocked writes an entry to the store and updates size accounting.
func (m *Manager) persistLocked(entry *models.CacheEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "marshal cache entry", err)
	}
	if err := m.store.Put(keyPrefix+entry.Key, raw); err != nil {
		return err
	}

	if old, ok := m.sizes[entry.Key]; ok {
		m.totalSize -= old
	}
	m.entries[entry.Key] = entry
	m.sizes[entry.Key] = int64(len(raw))
	m.totalSize += int64(len(raw))
	return nil
}

// enforceLimitLocked evicts lowest-priority, oldest entries until the
// total serialized size is at or below the eviction target.
func (m *Manager) enforceLimitLocked() error {
	if m.totalSize <= m.maxSize {
		return nil
	}

	target := int64(float64(m.maxSize) * evictionTarget)

	candidates := make([]*models.CacheEntry, 0, len(m.entries))
	for _, entry := range m.entries {
		candidates = append(candidates, entry)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			// Higher priority value = less important, evicted first.
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].CachedAt < candidates[j].CachedAt
	})

	for _, entry := range candidates {
		if m.totalSize <= target {
			break
		}
		m.removeLocked(entry.Key)
		m.evictions++
		m.log.Debug("evicted cache entry",
			map[string]interface{}{"key": entry.Key, "priority": entry.Priority.String()})
	}
	return nil
}

// removeLocked deletes an entry from store and memory.
func (m *Manager) removeLocked(key string) {
	if err := m.store.Delete(keyPrefix + key); err != nil {
		m.log.Warn("failed to delete cache record",
			map[string]interface{}{"key": key})
	}
	if size, ok := m.sizes[key]; ok {
		m.totalSize -= size
	}
	delete(m.entries, key)
	delete(m.sizes, key)
}

// Invalidate removes all entries whose key matches pattern. A pattern
// starting with "re:" is treated as a regular expression; anything else
// is a substring match. One cache_invalidated event carries the removed
// key set.
func (m *Manager) Invalidate(pattern string) (int, error) {
	var matcher func(string) bool
	if rest, ok := strings.CutPrefix(pattern, "re:"); ok {
		re, err := regexp.Compile(rest)
		if err != nil {
			return 0, errors.Wrap(errors.ErrInvalid, "invalid invalidation pattern", err)
		}
		matcher = re.MatchString
	} else {
		matcher = func(key string) bool { return strings.Contains(key, pattern) }
	}

	m.mu.Lock()
	var removed []string
	for key := range m.entries {
		if matcher(key) {
			removed = append(removed, key)
		}
	}
	for _, key := range removed {
		m.removeLocked(key)
	}
	m.mu.Unlock()

	sort.Strings(removed)
	event.Emit(m.handler, event.Event{
		Type:   event.CacheInvalidated,
		Fields: map[string]interface{}{"pattern": pattern, "keys": removed},
	})

	m.log.Info("cache invalidated",
		map[string]interface{}{"pattern": pattern, "removed": len(removed)})

	return len(removed), nil
}

// Overwrite replaces the cached value for key, keeping its previous
// priority and TTL when the entry exists. Used by the sync engine when a
// conflict resolves server_wins.
func (m *Manager) Overwrite(key string, value []byte) error {
	m.mu.Lock()
	entry, ok := m.entries[key]
	m.mu.Unlock()

	ttl := time.Duration(5 * time.Minute)
	priority := models.PriorityMedium
	if ok {
		ttl = time.Duration(entry.TTL) * time.Millisecond
		priority = entry.Priority
	}
	return m.Set(key, value, ttl, priority)
}

// Size returns the total serialized size of all entries in bytes.
func (m *Manager) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalSize
}

// Stats returns a snapshot of the cache counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Entries:   len(m.entries),
		SizeBytes: m.totalSize,
		Hits:      m.hits,
		Misses:    m.misses,
		Evictions: m.evictions,
	}
}
