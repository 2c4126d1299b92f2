package sync

import (
	"context"
	"time"

	"github.com/tablekit/ordersync/internal/config"
	"github.com/tablekit/ordersync/internal/logging"
)

// NetworkStatus observes binary connectivity. Subscribe registers a
// callback invoked on every transition with the new state; the current
// state is delivered immediately on registration.
type NetworkStatus interface {
	Subscribe(callback func(online bool))
}

// NetworkMonitor drives engine activation from connectivity transitions.
// Offline→online triggers an immediate cycle when the strategy is
// immediate; timer strategies leave activation to the scheduler loop.
// Online→offline stops future batches without aborting in-flight calls.
type NetworkMonitor struct {
	engine   *SyncEngine
	strategy config.SyncStrategy
	log      *logging.Logger
}

// NewNetworkMonitor creates a monitor bound to an engine and subscribes
// it to the given status source.
func NewNetworkMonitor(engine *SyncEngine, status NetworkStatus, strategy config.SyncStrategy) *NetworkMonitor {
	m := &NetworkMonitor{
		engine:   engine,
		strategy: strategy,
		log:      logging.Get().WithComponent("monitor"),
	}
	status.Subscribe(m.onTransition)
	return m
}

// onTransition applies one connectivity observation.
func (m *NetworkMonitor) onTransition(online bool) {
	wasOnline := m.engine.Online()
	m.engine.SetOnline(online)

	switch {
	case online && !wasOnline:
		m.log.Info("network restored", map[string]interface{}{
			"pending": m.engine.PendingChanges(),
		})
		if m.strategy == config.StrategyImmediate {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				defer cancel()
				if _, err := m.engine.SyncNow(ctx); err != nil {
					m.log.Error("sync after reconnect failed", err)
				}
			}()
		}

	case !online && wasOnline:
		m.log.Info("network lost, pausing sync")
	}
}
