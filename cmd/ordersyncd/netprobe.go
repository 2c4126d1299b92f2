package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/tablekit/ordersync/internal/logging"
)

// netProbe derives binary connectivity from periodic health probes
// against the order API. It implements sync.NetworkStatus: subscribers
// get the current state immediately and every transition afterwards.
type netProbe struct {
	url      string
	interval time.Duration
	client   *http.Client
	log      *logging.Logger

	mu          sync.Mutex
	online      bool
	subscribers []func(online bool)

	stopCh chan struct{}
}

func newNetProbe(url string, interval time.Duration) *netProbe {
	return &netProbe{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		log:      logging.Get().WithComponent("netprobe"),
		online:   true,
		stopCh:   make(chan struct{}),
	}
}

// Subscribe registers a callback and delivers the current state.
func (p *netProbe) Subscribe(callback func(online bool)) {
	p.mu.Lock()
	p.subscribers = append(p.subscribers, callback)
	current := p.online
	p.mu.Unlock()
	callback(current)
}

// Start launches the probe loop.
func (p *netProbe) Start() {
	go p.run()
}

// Stop halts probing.
func (p *netProbe) Stop() {
	close(p.stopCh)
}

func (p *netProbe) run() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.observe(p.probe())
		}
	}
}

// probe reports whether the order API answered a health check.
func (p *netProbe) probe() bool {
	resp, err := p.client.Get(p.url)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

// observe records one observation and notifies subscribers on change.
func (p *netProbe) observe(online bool) {
	p.mu.Lock()
	changed := online != p.online
	p.online = online
	subscribers := p.subscribers
	p.mu.Unlock()

	if !changed {
		return
	}
	p.log.Info("connectivity changed", map[string]interface{}{"online": online})
	for _, cb := range subscribers {
		cb(online)
	}
}
