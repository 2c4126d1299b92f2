package sync

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/tablekit/ordersync/internal/config"
	"github.com/tablekit/ordersync/internal/conflict"
	"github.com/tablekit/ordersync/internal/models"
)

// fakeNetworkStatus delivers connectivity transitions to subscribers.
type fakeNetworkStatus struct {
	callbacks []func(online bool)
}

func (s *fakeNetworkStatus) Subscribe(callback func(online bool)) {
	s.callbacks = append(s.callbacks, callback)
}

func (s *fakeNetworkStatus) transition(online bool) {
	for _, cb := range s.callbacks {
		cb(online)
	}
}

// TestMonitor_reconnectTriggersImmediateSync verifies offline→online
// starts a cycle under the immediate strategy.
func TestMonitor_reconnectTriggersImmediateSync(t *testing.T) {
	f := newEngineFixture(t, conflict.StrategyTimestamp)

	executed := make(chan string, 1)
	f.transport.on("create_order", func(op models.Operation) (*Result, error) {
		executed <- op.Action
		return &Result{Status: ResultOK}, nil
	})

	status := &fakeNetworkStatus{}
	NewNetworkMonitor(f.engine, status, config.StrategyImmediate)

	status.transition(false)
	f.enqueue(t, "create_order", models.PriorityHigh)

	// Offline: nothing runs.
	select {
	case <-executed:
		t.Fatal("no sync should run while offline")
	case <-time.After(50 * time.Millisecond):
	}

	status.transition(true)

	select {
	case action := <-executed:
		if action != "create_order" {
			t.Errorf("executed action = %q, want create_order", action)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect did not trigger a sync cycle")
	}
}

// TestMonitor_timerStrategyLeavesActivationToScheduler verifies
// offline→online does not start a cycle for scheduled strategies.
func TestMonitor_timerStrategyLeavesActivationToScheduler(t *testing.T) {
	f := newEngineFixture(t, conflict.StrategyTimestamp)

	executed := make(chan string, 1)
	f.transport.on("create_order", func(op models.Operation) (*Result, error) {
		executed <- op.Action
		return &Result{Status: ResultOK}, nil
	})

	status := &fakeNetworkStatus{}
	NewNetworkMonitor(f.engine, status, config.StrategyScheduled)

	status.transition(false)
	f.enqueue(t, "create_order", models.PriorityHigh)
	status.transition(true)

	select {
	case <-executed:
		t.Fatal("scheduled strategy should not sync on reconnect")
	case <-time.After(50 * time.Millisecond):
	}
	if !f.engine.Online() {
		t.Error("monitor should still record the online transition")
	}
}

// TestMonitor_offlineStopsFutureBatches verifies going offline mid-run
// prevents new cycles.
func TestMonitor_offlineStopsFutureBatches(t *testing.T) {
	f := newEngineFixture(t, conflict.StrategyTimestamp)

	status := &fakeNetworkStatus{}
	NewNetworkMonitor(f.engine, status, config.StrategyImmediate)

	status.transition(false)
	if f.engine.Online() {
		t.Fatal("engine should be offline after the transition")
	}

	f.queue.Enqueue(models.Operation{
		Action:  "create_order",
		Payload: json.RawMessage(`{}`),
	}, models.PriorityHigh, 3)

	result, err := f.engine.SyncNow(context.Background())
	if result != nil || err != nil {
		t.Errorf("SyncNow while offline = (%v, %v), want (nil, nil)", result, err)
	}
	if f.queue.Len() != 1 {
		t.Errorf("queue Len = %d, want 1", f.queue.Len())
	}
}
