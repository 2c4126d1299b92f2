// Package models tests for data model definitions.
package models

import (
	"encoding/json"
	"testing"
	"time"
)

// TestPriorityOrdering verifies critical sorts ahead of low.
func TestPriorityOrdering(t *testing.T) {
	if !(PriorityCritical < PriorityHigh && PriorityHigh < PriorityMedium && PriorityMedium < PriorityLow) {
		t.Error("priorities should increase from critical to low")
	}
}

// TestPriorityString verifies human-readable names.
func TestPriorityString(t *testing.T) {
	tests := []struct {
		priority Priority
		want     string
	}{
		{PriorityCritical, "critical"},
		{PriorityHigh, "high"},
		{PriorityMedium, "medium"},
		{PriorityLow, "low"},
		{Priority(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.priority.String(); got != tt.want {
			t.Errorf("Priority(%d).String() = %q, want %q", tt.priority, got, tt.want)
		}
	}
}

// TestQueueItemReady verifies readiness depends on status and backoff.
func TestQueueItemReady(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	item := &QueueItem{
		Status:      ItemStatusPending,
		NextRetryAt: now.UnixMilli(),
	}
	if !item.Ready(now) {
		t.Error("pending item with due retry time should be ready")
	}

	item.NextRetryAt = now.Add(time.Minute).UnixMilli()
	if item.Ready(now) {
		t.Error("item waiting out backoff should not be ready")
	}

	item.NextRetryAt = now.UnixMilli()
	item.Status = ItemStatusFailed
	if item.Ready(now) {
		t.Error("failed item should not be ready")
	}
}

// TestCacheEntryExpiry verifies TTL expiry boundary.
func TestCacheEntryExpiry(t *testing.T) {
	cachedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	entry := &CacheEntry{
		Key:      "menu:42",
		CachedAt: cachedAt.UnixMilli(),
		TTL:      1000,
	}

	if entry.IsExpired(cachedAt.Add(500 * time.Millisecond)) {
		t.Error("entry should not be expired before TTL")
	}
	if entry.IsExpired(cachedAt.Add(1000 * time.Millisecond)) {
		t.Error("entry should not be expired exactly at TTL")
	}
	if !entry.IsExpired(cachedAt.Add(1500 * time.Millisecond)) {
		t.Error("entry should be expired past TTL")
	}
}

// TestCacheEntryStaleness verifies the 0.8 TTL revalidation point.
func TestCacheEntryStaleness(t *testing.T) {
	cachedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	entry := &CacheEntry{
		CachedAt: cachedAt.UnixMilli(),
		TTL:      1000,
		StaleAt:  cachedAt.UnixMilli() + 800,
	}

	if entry.IsStale(cachedAt.Add(500 * time.Millisecond)) {
		t.Error("entry should not be stale before StaleAt")
	}
	if !entry.IsStale(cachedAt.Add(900 * time.Millisecond)) {
		t.Error("entry should be stale between StaleAt and expiry")
	}
	if entry.IsStale(cachedAt.Add(2 * time.Second)) {
		t.Error("expired entry is a miss, not stale")
	}

	noStale := &CacheEntry{CachedAt: cachedAt.UnixMilli(), TTL: 1000}
	if noStale.IsStale(cachedAt.Add(900 * time.Millisecond)) {
		t.Error("entry without StaleAt never reports stale")
	}
}

// TestQueueItemRoundTrip verifies queue items survive JSON persistence.
func TestQueueItemRoundTrip(t *testing.T) {
	item := &QueueItem{
		ID: "item-1",
		Operation: Operation{
			ID:      "op-1",
			Action:  "create_order",
			Payload: json.RawMessage(`{"table":7}`),
		},
		EnqueuedAt:  time.Now().UnixMilli(),
		Priority:    PriorityHigh,
		MaxAttempts: 3,
		Status:      ItemStatusPending,
		Flags:       TransformFlags{Compressed: true},
	}

	data, err := json.Marshal(item)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var restored QueueItem
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if restored.ID != item.ID {
		t.Errorf("ID = %q, want %q", restored.ID, item.ID)
	}
	if restored.Operation.Action != "create_order" {
		t.Errorf("Action = %q, want 'create_order'", restored.Operation.Action)
	}
	if restored.Priority != PriorityHigh {
		t.Errorf("Priority = %v, want PriorityHigh", restored.Priority)
	}
	if !restored.Flags.Compressed {
		t.Error("Compressed flag should survive round trip")
	}
}
