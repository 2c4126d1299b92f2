// Package event defines the engine's observable boundary: typed events
// emitted by the queue, cache, and sync engine, delivered through an
// explicit handler interface instead of a global emitter.
package event

import "time"

// Type identifies an event class.
type Type string

const (
	OperationQueued  Type = "operation_queued"
	OperationSynced  Type = "operation_synced"
	OperationFailed  Type = "operation_failed"
	OperationRetry   Type = "operation_retry"
	OperationDropped Type = "operation_dropped"

	SyncStarted   Type = "sync_started"
	SyncCompleted Type = "sync_completed"
	SyncFailed    Type = "sync_failed"

	CacheHit         Type = "cache_hit"
	CacheInvalidated Type = "cache_invalidated"

	ConflictRequiresResolution Type = "conflict_requires_resolution"

	StorageCorruption Type = "storage_corruption"
)

// Event is a single observable occurrence. Fields carry event-specific
// detail (item id, removed keys, counters). Resolve is set only on
// conflict_requires_resolution and delivers the user's strategy choice
// back to the engine.
type Event struct {
	Type      Type
	Timestamp time.Time
	Fields    map[string]interface{}

	Resolve func(strategy string) error
}

// Handler receives events during engine operation. Implementations must
// not block; slow consumers should hand off to their own goroutine.
type Handler interface {
	OnEvent(e Event)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(e Event)

// OnEvent calls f.
func (f HandlerFunc) OnEvent(e Event) {
	f(e)
}

// Emit delivers an event to a possibly-nil handler.
func Emit(h Handler, e Event) {
	if h == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	h.OnEvent(e)
}
