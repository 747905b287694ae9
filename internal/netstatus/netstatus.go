// Package netstatus reports connectivity transitions to the sync engine.
package netstatus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultProbeInterval = 5 * time.Second

// Signal publishes online/offline transitions.
type Signal interface {
	// Online reports the latest known state.
	Online() bool
	// Subscribe delivers each transition until ctx is done or the cancel function is called.
	Subscribe(ctx context.Context) (<-chan bool, func())
}

// broadcaster holds subscriber bookkeeping shared by the Signal implementations.
type broadcaster struct {
	mu          sync.RWMutex
	online      bool
	subscribers map[int64]chan bool
	nextID      int64
}

func newBroadcaster(initial bool) *broadcaster {
	return &broadcaster{online: initial, subscribers: make(map[int64]chan bool)}
}

func (b *broadcaster) Online() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.online
}

func (b *broadcaster) Subscribe(ctx context.Context) (<-chan bool, func()) {
	stream := make(chan bool, 1)
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subscribers[id] = stream
	b.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return stream, cleanup
}

// set records the state and notifies subscribers when it changed. A subscriber that has not
// consumed the previous transition sees only the latest state.
func (b *broadcaster) set(online bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.online == online {
		return false
	}
	b.online = online
	for _, stream := range b.subscribers {
		select {
		case <-stream:
		default:
		}
		stream <- online
	}
	return true
}

// ManualSignal is driven explicitly, for tests and for forcing offline mode.
type ManualSignal struct {
	*broadcaster
}

// NewManualSignal returns a signal with the given initial state.
func NewManualSignal(online bool) *ManualSignal {
	return &ManualSignal{broadcaster: newBroadcaster(online)}
}

// Set changes the state, notifying subscribers on a transition.
func (s *ManualSignal) Set(online bool) {
	s.set(online)
}

// Probe checks reachability of the remote endpoint.
type Probe func(ctx context.Context) error

// ProbeMonitorConfig configures a ProbeMonitor.
type ProbeMonitorConfig struct {
	Probe    Probe
	Interval time.Duration
	Logger   *zap.Logger
}

// ProbeMonitor polls a probe and emits transitions. It starts offline until the first probe
// succeeds.
type ProbeMonitor struct {
	*broadcaster
	probe    Probe
	interval time.Duration
	logger   *zap.Logger
}

// NewProbeMonitor builds a monitor. Call Run to start polling.
func NewProbeMonitor(cfg ProbeMonitorConfig) *ProbeMonitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProbeMonitor{
		broadcaster: newBroadcaster(false),
		probe:       cfg.Probe,
		interval:    interval,
		logger:      logger,
	}
}

// Run probes immediately and then every interval until ctx is done.
func (m *ProbeMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		m.check(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (m *ProbeMonitor) check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()
	err := m.probe(probeCtx)
	if ctx.Err() != nil {
		return
	}
	online := err == nil
	if m.set(online) {
		if online {
			m.logger.Info("connectivity restored")
		} else {
			m.logger.Info("connectivity lost", zap.Error(err))
		}
	}
}
