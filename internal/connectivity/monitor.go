// Package connectivity derives the effective online signal from the
// transport signal and the user's offline override.
package connectivity

import (
	"sync"

	"github.com/roach88/offlinesync/internal/event"
	"github.com/roach88/offlinesync/internal/metrics"
)

// State is the raw input pair.
type State struct {
	TransportOnline   bool `json:"transport_online"`
	UserForcedOffline bool `json:"user_forced_offline"`
}

// Effective is the only value other components may act on.
func (s State) Effective() bool {
	return s.TransportOnline && !s.UserForcedOffline
}

// Change is published when the effective value flips.
type Change struct {
	Online bool
	State  State
}

// Monitor owns the connectivity state. Safe for concurrent use.
type Monitor struct {
	mu    sync.Mutex
	state State
	bus   *event.Bus[Change]
}

// New creates a monitor with the given initial transport signal and no
// user override.
func New(transportOnline bool) *Monitor {
	m := &Monitor{
		state: State{TransportOnline: transportOnline},
		bus:   event.NewBus[Change](),
	}
	metrics.Online.Set(boolGauge(m.state.Effective()))
	return m
}

// IsEffectivelyOnline reports transport online and not forced offline.
func (m *Monitor) IsEffectivelyOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Effective()
}

// State returns the raw inputs.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetTransportOnline records the host's transport signal.
func (m *Monitor) SetTransportOnline(online bool) {
	m.update(func(s *State) { s.TransportOnline = online })
}

// SetUserOfflineOverride forces the client offline (true) or lifts the
// override (false).
func (m *Monitor) SetUserOfflineOverride(offline bool) {
	m.update(func(s *State) { s.UserForcedOffline = offline })
}

// Subscribe returns a subscription to effective-value flips.
func (m *Monitor) Subscribe() *event.Subscription[Change] {
	return m.bus.Subscribe()
}

// Close ends every subscription.
func (m *Monitor) Close() {
	m.bus.Close()
}

// update publishes under mu so flips reach subscribers and the gauge in
// the order they happened. Publish never blocks.
func (m *Monitor) update(fn func(*State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	before := m.state.Effective()
	fn(&m.state)
	after := m.state
	if after.Effective() == before {
		return
	}
	metrics.Online.Set(boolGauge(after.Effective()))
	m.bus.Publish(Change{Online: after.Effective(), State: after})
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
