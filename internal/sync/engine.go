package sync

import (
	"context"
	"sync"
	"time"

	"github.com/tablekit/ordersync/internal/cache"
	"github.com/tablekit/ordersync/internal/clock"
	"github.com/tablekit/ordersync/internal/config"
	"github.com/tablekit/ordersync/internal/conflict"
	"github.com/tablekit/ordersync/internal/errors"
	"github.com/tablekit/ordersync/internal/event"
	"github.com/tablekit/ordersync/internal/logging"
	"github.com/tablekit/ordersync/internal/models"
	"github.com/tablekit/ordersync/internal/queue"
)

// SyncStatus represents the current engine status.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusFailed  SyncStatus = "failed"
)

// SyncResult summarizes one sync cycle.
type SyncResult struct {
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Synced    int
	Retried   int
	Failed    int
	Conflicts int
}

// heldConflict is an escalated conflict waiting for a user-supplied
// strategy. Held items stay in the queue but are skipped by batch
// building until resolved.
type heldConflict struct {
	ctx *conflict.Context
}

// SyncEngine drains the offline queue against the Transport. A single
// cycle runs at a time; within a cycle, batch items execute concurrently
// and failures are isolated per item.
type SyncEngine struct {
	queue     *queue.Queue
	cache     *cache.Manager
	resolver  *conflict.Resolver
	transport Transport
	clk       clock.Clock
	cfg       *config.Config
	handler   event.Handler
	log       *logging.Logger

	mu        sync.Mutex
	isSyncing bool
	online    bool
	lastSync  *time.Time
	lastErr   error
	held      map[string]*heldConflict

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewSyncEngine creates a SyncEngine with injected collaborators. The
// engine starts assuming connectivity; a NetworkMonitor corrects that on
// its first observation.
func NewSyncEngine(q *queue.Queue, c *cache.Manager, r *conflict.Resolver, t Transport, clk clock.Clock, cfg *config.Config, handler event.Handler) *SyncEngine {
	return &SyncEngine{
		queue:     q,
		cache:     c,
		resolver:  r,
		transport: t,
		clk:       clk,
		cfg:       cfg,
		handler:   handler,
		log:       logging.Get().WithComponent("sync"),
		online:    true,
		held:      make(map[string]*heldConflict),
	}
}

// Status returns the current sync status.
func (e *SyncEngine) Status() SyncStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isSyncing {
		return SyncStatusSyncing
	}
	if e.lastErr != nil {
		return SyncStatusFailed
	}
	return SyncStatusIdle
}

// LastSync returns the completion time of the last successful cycle.
func (e *SyncEngine) LastSync() *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync
}

// PendingChanges returns the number of items in the active queue.
func (e *SyncEngine) PendingChanges() int {
	return e.queue.Len()
}

// LastError returns the last cycle-level error.
func (e *SyncEngine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// SetOnline records a connectivity transition. Going offline stops
// future batches; in-flight transport calls complete normally.
func (e *SyncEngine) SetOnline(online bool) {
	e.mu.Lock()
	e.online = online
	e.mu.Unlock()
}

// Online reports the last observed connectivity state.
func (e *SyncEngine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// SyncNow runs one sync cycle. It is a no-op (not an error) when a cycle
// is already running, the engine is offline, or the queue is empty. Only
// store-level I/O failure aborts a cycle; per-item failures are isolated
// and surfaced through events.
func (e *SyncEngine) SyncNow(ctx context.Context) (*SyncResult, error) {
	e.mu.Lock()
	if e.isSyncing || !e.online || e.queue.Len() == 0 {
		e.mu.Unlock()
		return nil, nil
	}
	e.isSyncing = true
	e.lastErr = nil
	e.mu.Unlock()

	result := &SyncResult{StartTime: e.clk.Now()}

	event.Emit(e.handler, event.Event{
		Type:   event.SyncStarted,
		Fields: map[string]interface{}{"pending": e.queue.Len()},
	})

	err := e.runCycle(ctx, result)

	result.EndTime = e.clk.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.isSyncing = false
	if err != nil {
		e.lastErr = err
	} else {
		t := result.EndTime
		e.lastSync = &t
	}
	e.mu.Unlock()

	if err != nil {
		e.log.Error("sync cycle aborted", err)
		if released := e.queue.ReleaseSyncing(); released > 0 {
			e.log.Warn("released in-flight items after aborted cycle", map[string]interface{}{"count": released})
		}
		event.Emit(e.handler, event.Event{
			Type:   event.SyncFailed,
			Fields: map[string]interface{}{"error": err.Error()},
		})
		return result, err
	}

	event.Emit(e.handler, event.Event{
		Type: event.SyncCompleted,
		Fields: map[string]interface{}{
			"synced":      result.Synced,
			"retried":     result.Retried,
			"failed":      result.Failed,
			"conflicts":   result.Conflicts,
			"duration_ms": result.Duration.Milliseconds(),
		},
	})
	return result, nil
}

// runCycle builds ordered batches from the queue and processes them until
// the queue has no more unprocessed ready items or connectivity drops.
func (e *SyncEngine) runCycle(ctx context.Context, result *SyncResult) error {
	items := e.queue.DequeueBatch(e.queue.Len())
	batch := make([]*models.QueueItem, 0, e.cfg.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := e.processBatch(ctx, batch, result); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for _, item := range items {
		if e.isHeld(item.ID) {
			continue
		}
		batch = append(batch, item)
		if len(batch) == e.cfg.BatchSize {
			if err := flush(); err != nil {
				return err
			}
			if !e.Online() {
				e.log.Info("connectivity lost mid-cycle, deferring remaining batches")
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			default:
			}
		}
	}
	return flush()
}

// processBatch dispatches one batch concurrently through the Transport
// and routes each result. The batch fully resolves before the cycle
// moves on, so a slow item cannot block persistence of completed ones.
func (e *SyncEngine) processBatch(ctx context.Context, batch []*models.QueueItem, result *SyncResult) error {
	for _, item := range batch {
		err := e.queue.Update(item.ID, func(it *models.QueueItem) {
			it.Status = models.ItemStatusSyncing
		})
		if err != nil {
			return errors.Wrap(errors.ErrStorage, "mark batch syncing", err)
		}
	}

	results := make([]*Result, len(batch))
	execErrs := make([]error, len(batch))

	var wg sync.WaitGroup
	for i, item := range batch {
		wg.Add(1)
		go func(i int, op models.Operation) {
			defer wg.Done()
			results[i], execErrs[i] = e.transport.Execute(ctx, op)
		}(i, item.Operation)
	}
	wg.Wait()

	// Mutations are applied serially after fan-in; the queue and cache
	// own their own locking, this just keeps routing deterministic.
	for i, item := range batch {
		if err := e.routeResult(item, results[i], execErrs[i], result); err != nil {
			return err
		}
	}
	return nil
}

// routeResult applies the outcome of one executed item. It returns an
// error only for store-level I/O failures, which abort the cycle.
func (e *SyncEngine) routeResult(item *models.QueueItem, res *Result, execErr error, result *SyncResult) error {
	switch {
	case execErr == nil && res != nil && res.Status == ResultOK:
		if err := e.queue.Remove(item.ID); err != nil {
			return errors.Wrap(errors.ErrStorage, "remove synced item", err)
		}
		result.Synced++
		event.Emit(e.handler, event.Event{
			Type: event.OperationSynced,
			Fields: map[string]interface{}{
				"id":     item.ID,
				"action": item.Operation.Action,
			},
		})
		return nil

	case execErr == nil && res != nil && res.Status == ResultConflict:
		result.Conflicts++
		return e.handleConflict(item, res, result)

	case errors.IsValidation(execErr):
		// Retrying a rejected operation cannot help.
		return e.deadLetter(item, execErr.Error(), item.Attempts+1, result)

	default:
		return e.retryOrDeadLetter(item, execErr, result)
	}
}

// retryOrDeadLetter handles a transient failure: exponential backoff
// while budget remains, dead-letter once attempts reach maxAttempts.
func (e *SyncEngine) retryOrDeadLetter(item *models.QueueItem, execErr error, result *SyncResult) error {
	reason := "transient failure"
	if execErr != nil {
		reason = execErr.Error()
	}

	attempts := item.Attempts + 1
	if attempts >= item.MaxAttempts {
		return e.deadLetter(item, reason, attempts, result)
	}

	delay := e.cfg.RetryDelay() * (1 << (attempts - 1))
	nextRetry := e.clk.Now().Add(delay)

	err := e.queue.Update(item.ID, func(it *models.QueueItem) {
		it.Status = models.ItemStatusPending
		it.Attempts = attempts
		it.NextRetryAt = nextRetry.UnixMilli()
		it.LastError = reason
	})
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "schedule retry", err)
	}

	result.Retried++
	event.Emit(e.handler, event.Event{
		Type: event.OperationRetry,
		Fields: map[string]interface{}{
			"id":            item.ID,
			"attempts":      attempts,
			"next_retry_at": nextRetry.UnixMilli(),
		},
	})
	return nil
}

// deadLetter retires an item from the active queue with a terminal
// failure event. The final attempt count is recorded first so the
// retained dead letter reflects the attempt that exhausted it.
func (e *SyncEngine) deadLetter(item *models.QueueItem, reason string, attempts int, result *SyncResult) error {
	err := e.queue.Update(item.ID, func(it *models.QueueItem) {
		it.Attempts = attempts
	})
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "record final attempt", err)
	}
	if err := e.queue.DeadLetter(item.ID, reason); err != nil {
		return errors.Wrap(errors.ErrStorage, "dead-letter item", err)
	}
	result.Failed++
	event.Emit(e.handler, event.Event{
		Type: event.OperationFailed,
		Fields: map[string]interface{}{
			"id":     item.ID,
			"action": item.Operation.Action,
			"error":  reason,
		},
	})
	return nil
}

// handleConflict routes a conflicting item through the resolver and
// applies the decision. Escalated items are held in the queue, skipped
// by batch building, until the resolve callback supplies a strategy.
// A resolver error is a terminal failure of that item alone and
// dead-letters it rather than aborting the cycle.
func (e *SyncEngine) handleConflict(item *models.QueueItem, res *Result, result *SyncResult) error {
	cctx := &conflict.Context{
		Item:            item,
		LocalPayload:    item.Operation.Payload,
		RemotePayload:   res.RemotePayload,
		RemoteTimestamp: res.RemoteTimestamp,
	}

	resolution, err := e.resolver.Resolve(cctx)
	if err != nil {
		e.log.Error("conflict resolution failed", err, map[string]interface{}{"id": item.ID})
		return e.deadLetter(item, "conflict resolution failed: "+err.Error(), item.Attempts+1, result)
	}

	if resolution.Action == conflict.ActionEscalate {
		return e.escalate(item, cctx)
	}
	return e.applyResolution(item, cctx, resolution)
}

// escalate holds the item and emits conflict_requires_resolution with a
// callback that accepts one of the non-escalating strategies.
func (e *SyncEngine) escalate(item *models.QueueItem, cctx *conflict.Context) error {
	err := e.queue.Update(item.ID, func(it *models.QueueItem) {
		it.Status = models.ItemStatusPending
	})
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "hold escalated item", err)
	}

	e.mu.Lock()
	e.held[item.ID] = &heldConflict{ctx: cctx}
	e.mu.Unlock()

	event.Emit(e.handler, event.Event{
		Type: event.ConflictRequiresResolution,
		Fields: map[string]interface{}{
			"id":               item.ID,
			"action":           item.Operation.Action,
			"local_payload":    string(cctx.LocalPayload),
			"remote_payload":   string(cctx.RemotePayload),
			"remote_timestamp": cctx.RemoteTimestamp,
		},
		Resolve: func(strategy string) error {
			return e.ResolveHeld(item.ID, strategy)
		},
	})
	return nil
}

// ResolveHeld applies a user-chosen strategy to a held conflict and
// releases the item back to normal processing.
func (e *SyncEngine) ResolveHeld(id string, strategy string) error {
	parsed, err := conflict.ParseStrategy(strategy)
	if err != nil {
		return err
	}

	e.mu.Lock()
	held, ok := e.held[id]
	e.mu.Unlock()
	if !ok {
		return errors.New(errors.ErrNotFound, "no held conflict for item: "+id)
	}

	resolution, err := e.resolver.ResolveWith(parsed, held.ctx)
	if err != nil {
		return err
	}
	if err := e.applyResolution(held.ctx.Item, held.ctx, resolution); err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.held, id)
	e.mu.Unlock()
	return nil
}

// isHeld reports whether an item is parked on an escalated conflict.
func (e *SyncEngine) isHeld(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.held[id]
	return ok
}

// HeldConflicts returns the ids of escalated items awaiting a choice.
func (e *SyncEngine) HeldConflicts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.held))
	for id := range e.held {
		ids = append(ids, id)
	}
	return ids
}

// applyResolution mutates queue and cache according to the resolver's
// decision. Resubmitted items go back to pending with the resolved
// payload; overwritten items leave the queue and the server payload
// replaces the cached value for the operation's target key.
func (e *SyncEngine) applyResolution(item *models.QueueItem, cctx *conflict.Context, resolution *conflict.Resolution) error {
	switch resolution.Action {
	case conflict.ActionResubmit:
		err := e.queue.Update(item.ID, func(it *models.QueueItem) {
			it.Status = models.ItemStatusPending
			it.Operation.Payload = resolution.Payload
			it.Operation.Force = resolution.Force
			it.NextRetryAt = e.clk.Now().UnixMilli()
		})
		if err != nil {
			return errors.Wrap(errors.ErrStorage, "resubmit resolved item", err)
		}
		return nil

	case conflict.ActionOverwrite:
		if err := e.queue.Remove(item.ID); err != nil {
			return errors.Wrap(errors.ErrStorage, "discard overwritten item", err)
		}
		if key := item.Operation.Key; key != "" && e.cache != nil {
			if err := e.cache.Overwrite(key, resolution.Payload); err != nil {
				e.log.Warn("failed to overwrite cache entry after conflict",
					map[string]interface{}{"key": key, "error": err.Error()})
			}
		}
		return nil

	default:
		return errors.New(errors.ErrInternal, "unexpected resolution action: "+string(resolution.Action))
	}
}

// Start launches the periodic sync loop for timer-driven strategies.
// immediate is driven by the NetworkMonitor and manual by explicit
// SyncNow calls, so Start is a no-op for both.
func (e *SyncEngine) Start() {
	if !e.cfg.SyncStrategy.UsesTimer() {
		return
	}

	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.wg.Add(1)
	go e.run(e.stopCh)
}

// run is the scheduler loop. Ticks are no-ops while a cycle is already
// in progress.
func (e *SyncEngine) run(stopCh chan struct{}) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.SyncInterval())
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if _, err := e.SyncNow(ctx); err != nil {
				e.log.Error("periodic sync failed", err)
			}
			cancel()
		}
	}
}

// Stop halts the periodic loop and waits for it to exit. In-flight
// transport calls from a running cycle complete normally.
func (e *SyncEngine) Stop() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if !e.running {
		return
	}
	e.running = false
	close(e.stopCh)
	e.wg.Wait()
}
