// Package netstate holds the process-wide connectivity snapshot and
// fans out changes to subscribers as a stream.
package netstate

import (
	"sync"

	"github.com/pawtrack/netguard/domain"
)

// Monitor is the single source of truth for connectivity. Platform
// integrations push snapshots in with Set; the executor reads Current
// for fast-path decisions and subscribes to react to reconnects.
type Monitor struct {
	mu      sync.RWMutex
	current domain.NetworkState
	subs    map[int]chan domain.NetworkState
	nextID  int
}

// NewMonitor starts optimistic: connected until told otherwise.
func NewMonitor() *Monitor {
	return &Monitor{
		current: domain.NetworkState{Connected: true, Type: "unknown", Reachable: true},
		subs:    make(map[int]chan domain.NetworkState),
	}
}

// Current returns the latest snapshot.
func (m *Monitor) Current() domain.NetworkState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Set records a new snapshot and notifies subscribers. Delivery is
// latest-wins: a subscriber that has not drained its channel gets the
// newest snapshot in place of the stale one rather than blocking Set.
func (m *Monitor) Set(state domain.NetworkState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = state
	for _, ch := range m.subs {
		select {
		case ch <- state:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- state:
			default:
			}
		}
	}
}

// Subscribe returns a snapshot stream and an unsubscribe func. The
// channel is closed on unsubscribe.
func (m *Monitor) Subscribe() (<-chan domain.NetworkState, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan domain.NetworkState, 1)
	m.subs[id] = ch

	unsubscribe := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(sub)
		}
	}
	return ch, unsubscribe
}
