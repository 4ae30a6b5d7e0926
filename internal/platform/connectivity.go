// Package platform abstracts the runtime's connectivity signal so the sync
// layer can be tested without a real network.
package platform

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Saymandev/Advanced-Poss-sub004/internal/logger"
)

// Network reports connectivity and announces transitions. Subscribers receive
// the new state on every offline<->online edge.
type Network interface {
	IsOnline() bool
	Subscribe() <-chan bool
}

// Monitor probes an upstream health endpoint on an interval and accepts
// manual signals from the request path (a failed call is a strong offline
// hint, a successful one proof of connectivity).
type Monitor struct {
	probeURL string
	interval time.Duration
	client   *http.Client

	mu     sync.Mutex
	online bool
	subs   []chan bool

	stopCh  chan struct{}
	stopped bool
}

func NewMonitor(probeURL string, interval time.Duration) *Monitor {
	return &Monitor{
		probeURL: probeURL,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		online:   true,
		stopCh:   make(chan struct{}),
	}
}

func (m *Monitor) Start() {
	go m.loop()
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stopped {
		m.stopped = true
		close(m.stopCh)
	}
}

func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe returns a channel carrying connectivity transitions. The channel
// is buffered; a slow consumer misses intermediate flaps, not the final state.
func (m *Monitor) Subscribe() <-chan bool {
	ch := make(chan bool, 1)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// SetOnline records a connectivity observation and notifies subscribers on a
// state change.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]chan bool, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	logger.Log.Info("Connectivity changed", zap.Bool("online", online))
	for _, ch := range subs {
		select {
		case ch <- online:
		default:
			// Replace a stale undelivered transition with the latest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- online:
			default:
			}
		}
	}
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.SetOnline(m.probe())
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.SetOnline(m.probe())
		}
	}
}

func (m *Monitor) probe() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	// Any HTTP answer, even an error status, proves the link is up.
	return true
}
