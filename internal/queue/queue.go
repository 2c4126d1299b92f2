// Package queue provides the durable, priority-ordered queue of pending
// remote operations.
package queue

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/tablekit/ordersync/internal/clock"
	"github.com/tablekit/ordersync/internal/errors"
	"github.com/tablekit/ordersync/internal/event"
	"github.com/tablekit/ordersync/internal/logging"
	"github.com/tablekit/ordersync/internal/models"
	"github.com/tablekit/ordersync/internal/store"
)

const (
	activePrefix     = "queue/"
	deadLetterPrefix = "deadletter/"
)

// Stats holds queue counters by status.
type Stats struct {
	Total       int `json:"total"`
	Pending     int `json:"pending"`
	Syncing     int `json:"syncing"`
	DeadLetters int `json:"dead_letters"`
	Dropped     int `json:"dropped"`
}

// Queue owns all queue items. Items are kept sorted by priority (lower
// value first), ties broken by age (oldest first). Every mutation is
// persisted before the in-memory change is considered final.
type Queue struct {
	store   store.Store
	clk     clock.Clock
	handler event.Handler
	maxSize int
	log     *logging.Logger

	mu      sync.Mutex
	items   []*models.QueueItem // sorted
	index   map[string]*models.QueueItem
	dropped int
}

// New creates a Queue and reloads persisted items. Records that fail to
// decode are skipped with a storage_corruption event. Items that were
// mid-sync when the process died are reset to pending; reprocessing them
// is safe because the transport deduplicates by operation id.
func New(st store.Store, clk clock.Clock, maxSize int, handler event.Handler) (*Queue, error) {
	if maxSize <= 0 {
		return nil, errors.New(errors.ErrInvalid, "queue size must be positive")
	}

	q := &Queue{
		store:   st,
		clk:     clk,
		handler: handler,
		maxSize: maxSize,
		log:     logging.Get().WithComponent("queue"),
		index:   make(map[string]*models.QueueItem),
	}
	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

// load rebuilds the in-memory queue from the store.
func (q *Queue) load() error {
	records, err := q.store.List(activePrefix)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "load queue items", err)
	}

	for storeKey, raw := range records {
		var item models.QueueItem
		if err := json.Unmarshal(raw, &item); err != nil {
			q.log.Warn("skipping corrupt queue record",
				map[string]interface{}{"key": storeKey})
			event.Emit(q.handler, event.Event{
				Type:   event.StorageCorruption,
				Fields: map[string]interface{}{"key": storeKey, "component": "queue"},
			})
			q.store.Delete(storeKey)
			continue
		}

		if item.Status == models.ItemStatusSyncing {
			item.Status = models.ItemStatusPending
			raw, err := json.Marshal(&item)
			if err == nil {
				q.store.Put(storeKey, raw)
			}
		}

		q.items = append(q.items, &item)
		q.index[item.ID] = &item
	}

	sort.SliceStable(q.items, func(i, j int) bool {
		return q.less(q.items[i], q.items[j])
	})

	if len(q.items) > 0 {
		q.log.Info("queue reloaded",
			map[string]interface{}{"items": len(q.items)})
	}
	return nil
}

// less orders by priority first, then age.
func (q *Queue) less(a, b *models.QueueItem) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.EnqueuedAt < b.EnqueuedAt
}

// Enqueue adds an operation to the queue and returns the new item's id.
// When the queue is over capacity, the oldest item of the lowest-priority
// tier is dropped, which may be the item just added.
func (q *Queue) Enqueue(op models.Operation, priority models.Priority, maxAttempts int) (string, error) {
	if op.Action == "" {
		return "", errors.New(errors.ErrInvalid, "operation requires an action")
	}
	if maxAttempts < 1 {
		return "", errors.New(errors.ErrInvalid, "maxAttempts must be at least 1")
	}

	id := uuid.New().String()
	if op.ID == "" {
		op.ID = id
	}

	now := q.clk.Now()
	item := &models.QueueItem{
		ID:          id,
		Operation:   op,
		EnqueuedAt:  now.UnixMilli(),
		Priority:    priority,
		MaxAttempts: maxAttempts,
		Status:      models.ItemStatusPending,
		NextRetryAt: now.UnixMilli(),
	}

	q.mu.Lock()

	if err := q.persistLocked(item); err != nil {
		q.mu.Unlock()
		return "", err
	}
	q.insertLocked(item)

	var droppedItems []*models.QueueItem
	for len(q.items) > q.maxSize {
		victim := q.trimLocked()
		if victim == nil {
			break
		}
		droppedItems = append(droppedItems, victim)
	}
	q.mu.Unlock()

	event.Emit(q.handler, event.Event{
		Type: event.OperationQueued,
		Fields: map[string]interface{}{
			"id":       id,
			"action":   op.Action,
			"priority": priority.String(),
		},
	})

	for _, victim := range droppedItems {
		q.log.Warn("queue over capacity, dropped item",
			map[string]interface{}{"id": victim.ID, "priority": victim.Priority.String()})
		event.Emit(q.handler, event.Event{
			Type: event.OperationDropped,
			Fields: map[string]interface{}{
				"id":     victim.ID,
				"action": victim.Operation.Action,
				"reason": "queue_full",
			},
		})
	}

	return id, nil
}

// insertLocked places an item at its sorted position.
func (q *Queue) insertLocked(item *models.QueueItem) {
	pos := sort.Search(len(q.items), func(i int) bool {
		return q.less(item, q.items[i])
	})
	q.items = append(q.items, nil)
	copy(q.items[pos+1:], q.items[pos:])
	q.items[pos] = item
	q.index[item.ID] = item
}

// trimLocked removes and returns the oldest item of the lowest-priority
// tier. The sorted order puts that tier at the tail, oldest first within
// the tier, so the victim is the first item of the last tier segment.
func (q *Queue) trimLocked() *models.QueueItem {
	if len(q.items) == 0 {
		return nil
	}

	lowest := q.items[len(q.items)-1].Priority
	victimIdx := len(q.items) - 1
	for i := len(q.items) - 1; i >= 0; i-- {
		if q.items[i].Priority != lowest {
			break
		}
		victimIdx = i
	}

	victim := q.items[victimIdx]
	if err := q.store.Delete(activePrefix + victim.ID); err != nil {
		q.log.Warn("failed to delete trimmed item",
			map[string]interface{}{"id": victim.ID})
	}
	q.items = append(q.items[:victimIdx], q.items[victimIdx+1:]...)
	delete(q.index, victim.ID)
	q.dropped++
	return victim
}

// persistLocked writes an item to the store.
func (q *Queue) persistLocked(item *models.QueueItem) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "marshal queue item", err)
	}
	return q.store.Put(activePrefix+item.ID, raw)
}

// DequeueBatch returns up to n ready items in priority order without
// removing them. Removal happens only on confirmed success, so a crash
// mid-batch cannot lose unprocessed items.
func (q *Queue) DequeueBatch(n int) []*models.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clk.Now()
	batch := make([]*models.QueueItem, 0, n)
	for _, item := range q.items {
		if len(batch) >= n {
			break
		}
		if !item.Ready(now) {
			continue
		}
		copied := *item
		batch = append(batch, &copied)
	}
	return batch
}

// Remove deletes an item after a confirmed successful sync.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(id)
}

func (q *Queue) removeLocked(id string) error {
	if _, ok := q.index[id]; !ok {
		return errors.New(errors.ErrNotFound, "queue item not found: "+id)
	}
	if err := q.store.Delete(activePrefix + id); err != nil {
		return err
	}
	for i, item := range q.items {
		if item.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	delete(q.index, id)
	return nil
}

// Update applies a mutation to a single item and persists it. Position
// is re-derived in case the mutation changed the ordering key.
func (q *Queue) Update(id string, mutate func(*models.QueueItem)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.index[id]
	if !ok {
		return errors.New(errors.ErrNotFound, "queue item not found: "+id)
	}

	// Mutate a copy so a failed persist leaves in-memory state intact.
	updated := *item
	mutate(&updated)

	if err := q.persistLocked(&updated); err != nil {
		return err
	}
	*item = updated

	sort.SliceStable(q.items, func(i, j int) bool {
		return q.less(q.items[i], q.items[j])
	})
	return nil
}

// Get returns a copy of a single item.
func (q *Queue) Get(id string) (*models.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.index[id]
	if !ok {
		return nil, errors.New(errors.ErrNotFound, "queue item not found: "+id)
	}
	copied := *item
	return &copied, nil
}

// DeadLetter moves an item out of the active queue into dead-letter
// retention, keeping it inspectable after its retry budget is spent.
func (q *Queue) DeadLetter(id string, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.index[id]
	if !ok {
		return errors.New(errors.ErrNotFound, "queue item not found: "+id)
	}

	item.Status = models.ItemStatusFailed
	item.LastError = reason

	raw, err := json.Marshal(item)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "marshal dead letter", err)
	}
	if err := q.store.Put(deadLetterPrefix+item.ID, raw); err != nil {
		return err
	}

	return q.removeLocked(id)
}

// DeadLetters returns all retained dead-lettered items.
func (q *Queue) DeadLetters() ([]*models.QueueItem, error) {
	records, err := q.store.List(deadLetterPrefix)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "list dead letters", err)
	}

	items := make([]*models.QueueItem, 0, len(records))
	for storeKey, raw := range records {
		var item models.QueueItem
		if err := json.Unmarshal(raw, &item); err != nil {
			q.log.Warn("skipping corrupt dead letter",
				map[string]interface{}{"key": storeKey})
			continue
		}
		items = append(items, &item)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].EnqueuedAt < items[j].EnqueuedAt
	})
	return items, nil
}

// RetryDeadLetters moves all dead-lettered items back into the active
// queue with a fresh retry budget.
func (q *Queue) RetryDeadLetters() (int, error) {
	items, err := q.DeadLetters()
	if err != nil {
		return 0, err
	}

	q.mu.Lock()

	count := 0
	now := q.clk.Now()
	for _, item := range items {
		item.Status = models.ItemStatusPending
		item.Attempts = 0
		item.LastError = ""
		item.NextRetryAt = now.UnixMilli()

		if err := q.persistLocked(item); err != nil {
			q.mu.Unlock()
			return count, err
		}
		if err := q.store.Delete(deadLetterPrefix + item.ID); err != nil {
			q.mu.Unlock()
			return count, err
		}
		q.insertLocked(item)
		count++
	}

	// Reinsertion counts against capacity like any other enqueue.
	var droppedItems []*models.QueueItem
	for len(q.items) > q.maxSize {
		victim := q.trimLocked()
		if victim == nil {
			break
		}
		droppedItems = append(droppedItems, victim)
	}
	q.mu.Unlock()

	for _, victim := range droppedItems {
		q.log.Warn("queue over capacity, dropped item",
			map[string]interface{}{"id": victim.ID, "priority": victim.Priority.String()})
		event.Emit(q.handler, event.Event{
			Type: event.OperationDropped,
			Fields: map[string]interface{}{
				"id":     victim.ID,
				"action": victim.Operation.Action,
				"reason": "queue_full",
			},
		})
	}

	if count > 0 {
		q.log.Info("dead letters requeued",
			map[string]interface{}{"count": count})
	}
	return count, nil
}

// ReleaseSyncing resets every in-flight item back to pending and returns
// how many were reset. Called after an aborted sync cycle so items marked
// syncing for a batch that never fully resolved become eligible again.
// Persistence is best-effort; an item whose write fails is still released
// in memory and will be reset again by the next reload.
func (q *Queue) ReleaseSyncing() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	released := 0
	for _, item := range q.items {
		if item.Status != models.ItemStatusSyncing {
			continue
		}
		item.Status = models.ItemStatusPending
		if err := q.persistLocked(item); err != nil {
			q.log.Warn("failed to persist released item",
				map[string]interface{}{"id": item.ID})
		}
		released++
	}
	return released
}

// Len returns the number of active items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats returns a snapshot of queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Stats{Total: len(q.items), Dropped: q.dropped}
	for _, item := range q.items {
		switch item.Status {
		case models.ItemStatusPending:
			stats.Pending++
		case models.ItemStatusSyncing:
			stats.Syncing++
		}
	}

	if records, err := q.store.List(deadLetterPrefix); err == nil {
		stats.DeadLetters = len(records)
	}
	return stats
}
