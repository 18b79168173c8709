// Package monitor sweeps sessions on a fixed tick and demotes the ones whose
// heartbeat lapsed.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/logger"
	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/registry"
)

// Monitor demotes an Online session as soon as it has been silent longer
// than the timeout: a single missed deadline suffices, there is no retry
// budget. Offline sessions past timeout+grace are retired from the registry
// entirely (grace 0 disables retirement).
type Monitor struct {
	registry *registry.Registry
	tick     time.Duration
	timeout  time.Duration
	grace    time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(reg *registry.Registry, tick, timeout, grace time.Duration) *Monitor {
	return &Monitor{
		registry: reg,
		tick:     tick,
		timeout:  timeout,
		grace:    grace,
		stop:     make(chan struct{}),
	}
}

func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
	logger.InfoF("Heartbeat monitor started, tick %v, timeout %v", m.tick, m.timeout)
}

func (m *Monitor) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep(time.Now())
		}
	}
}

func (m *Monitor) sweep(now time.Time) {
	m.registry.Range(func(s *registry.ClientSession) bool {
		silent := now.Sub(s.LastHeartbeat())
		switch {
		case s.Online() && silent > m.timeout:
			if s.MarkOffline() {
				logger.InfoF("Client %s timed out (last seen %d seconds ago)", s.ID, int(silent.Seconds()))
			}
		case !s.Online() && m.grace > 0 && silent > m.timeout+m.grace:
			if m.registry.Unregister(s) {
				logger.InfoF("Client %s retired after grace period", s.ID)
			}
		}
		return true
	})
}

func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
}

// Invoke lets the monitor register with the shutdown cleaner.
func (m *Monitor) Invoke(ctx context.Context) error {
	m.Stop()
	return nil
}
