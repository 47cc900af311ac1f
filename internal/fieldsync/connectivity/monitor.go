// Package connectivity tracks whether the API is reachable and reports
// offline/online transitions to subscribers.
package connectivity

import (
	"context"
	"sync"
	"time"

	"constructionpro/internal/logging"
)

// Prober checks reachability once. A nil error means online.
type Prober interface {
	Probe(ctx context.Context) error
}

// Change is delivered to subscribers whenever the state flips.
type Change struct {
	Online bool
	At     time.Time
}

type Monitor struct {
	prober   Prober
	interval time.Duration
	log      logging.Logger

	mu     sync.Mutex
	online bool
	subs   map[int]chan Change
	nextID int
}

// NewMonitor starts in the offline state until the first probe or Set.
func NewMonitor(prober Prober, interval time.Duration, log logging.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		prober:   prober,
		interval: interval,
		log:      log,
		subs:     make(map[int]chan Change),
	}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records the current state and notifies subscribers on a change.
// Repeating the current state is a no-op.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online == online {
		return
	}
	m.online = online

	change := Change{Online: online, At: time.Now()}
	for _, ch := range m.subs {
		// Subscribers only need the latest state; drop a stale one.
		select {
		case ch <- change:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- change
		}
	}
}

// Subscribe returns a channel of state changes and a function that ends the
// subscription.
func (m *Monitor) Subscribe() (<-chan Change, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan Change, 1)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
		})
	}
}

// Check probes once and updates the state.
func (m *Monitor) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	err := m.prober.Probe(probeCtx)
	online := err == nil
	if was := m.Online(); was != online {
		if online {
			m.log.Info(ctx, "api reachable")
		} else {
			m.log.Warn(ctx, "api unreachable", "error", err)
		}
	}
	m.Set(online)
	return online
}

// Run probes immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
