// Package models provides data model definitions for the ordersync engine.
package models

import (
	"encoding/json"
	"time"
)

// Priority orders queue items and cache entries. Lower values are more
// important; PriorityCritical sorts ahead of everything else.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
)

// String returns a human-readable priority name.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// ItemStatus represents the lifecycle state of a queue item.
type ItemStatus string

const (
	ItemStatusPending ItemStatus = "pending"
	ItemStatusSyncing ItemStatus = "syncing"
	ItemStatusFailed  ItemStatus = "failed"
)

// TransformFlags records which payload transforms were applied, so the
// inverse pipeline follows what actually happened rather than current
// configuration.
type TransformFlags struct {
	Compressed bool `json:"compressed"`
	Encrypted  bool `json:"encrypted"`
}

// Operation is one pending remote mutation: an action type plus its
// payload. The ID is stable across retries so the server side can
// deduplicate resubmissions.
type Operation struct {
	ID      string          `json:"id"`
	Action  string          `json:"action"` // e.g. create_order, update_order, cancel_order
	Key     string          `json:"key,omitempty"` // cache key of the resource this operation targets
	Payload json.RawMessage `json:"payload"`
	Force   bool            `json:"force,omitempty"` // instructs the server to overwrite its state
}

// QueueItem is a persisted, retryable representation of one pending
// remote operation. Timestamps are unix milliseconds.
type QueueItem struct {
	ID          string         `json:"id"`
	Operation   Operation      `json:"operation"`
	EnqueuedAt  int64          `json:"enqueued_at"`
	Priority    Priority       `json:"priority"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"max_attempts"`
	Status      ItemStatus     `json:"status"`
	Flags       TransformFlags `json:"flags"`
	NextRetryAt int64          `json:"next_retry_at"`
	LastError   string         `json:"last_error,omitempty"`
}

// EnqueuedTime returns EnqueuedAt as time.Time.
func (q *QueueItem) EnqueuedTime() time.Time {
	return time.UnixMilli(q.EnqueuedAt)
}

// Ready reports whether the item is eligible for the next sync batch at
// the given instant (pending and not waiting out a backoff delay).
func (q *QueueItem) Ready(now time.Time) bool {
	return q.Status == ItemStatusPending && q.NextRetryAt <= now.UnixMilli()
}
