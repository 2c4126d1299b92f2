// Package models provides data model definitions for the ordersync engine.
package models

import "time"

// CacheEntry is a persisted representation of a previously fetched value
// with expiry and integrity metadata. Timestamps are unix milliseconds,
// TTL is milliseconds. The checksum is computed over the plain payload
// before any transform is applied.
type CacheEntry struct {
	Key      string         `json:"key"`
	Payload  []byte         `json:"payload"`
	CachedAt int64          `json:"cached_at"`
	TTL      int64          `json:"ttl"`
	StaleAt  int64          `json:"stale_at"`
	Priority Priority       `json:"priority"`
	Checksum uint32         `json:"checksum"`
	Flags    TransformFlags `json:"flags"`
}

// ExpiresAt returns the instant after which the entry must never be served.
func (e *CacheEntry) ExpiresAt() time.Time {
	return time.UnixMilli(e.CachedAt + e.TTL)
}

// IsExpired reports whether the entry is past its TTL at the given instant.
func (e *CacheEntry) IsExpired(now time.Time) bool {
	return now.After(e.ExpiresAt())
}

// IsStale reports whether the entry has passed its revalidation point
// (0.8 of the TTL) but is still servable.
func (e *CacheEntry) IsStale(now time.Time) bool {
	if e.StaleAt == 0 {
		return false
	}
	return now.UnixMilli() >= e.StaleAt && !e.IsExpired(now)
}
