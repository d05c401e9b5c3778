// Package connectivity tracks whether the remote store is reachable and
// notifies subscribers when that changes.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultProbeInterval is how often Run probes when no interval is set
const DefaultProbeInterval = 15 * time.Second

// Event is a connectivity transition
type Event struct {
	Online bool
	At     time.Time
}

// ProbeFunc checks reachability. A nil error means online.
type ProbeFunc func(ctx context.Context) error

// Monitor records reachability observations and emits one Event per change.
type Monitor struct {
	probe    ProbeFunc
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	online bool
	nextID int
	subs   []subscriber
	emitMu sync.Mutex
}

type subscriber struct {
	id int
	fn func(Event)
}

// Option configures a Monitor
type Option func(*Monitor)

// WithInterval sets the probe interval used by Run
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithInitialState sets the state assumed before the first observation
func WithInitialState(online bool) Option {
	return func(m *Monitor) { m.online = online }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.log = l
		}
	}
}

// WithClock overrides the time source for event timestamps
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a monitor. probe may be nil when state is only fed via Report.
func New(probe ProbeFunc, opts ...Option) *Monitor {
	m := &Monitor{
		probe:    probe,
		interval: DefaultProbeInterval,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// IsOnline returns the last observed state
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers fn for transition events and returns a function that
// removes it. Subscribers run synchronously, in subscription order.
func (m *Monitor) Subscribe(fn func(Event)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs = append(m.subs, subscriber{id: id, fn: fn})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, s := range m.subs {
				if s.id == id {
					m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Report records an observation. Subscribers are notified only when the
// state differs from the previous observation. It reports whether a
// transition happened.
func (m *Monitor) Report(online bool) bool {
	// emitMu keeps transitions delivered in the order they were observed
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	subs := make([]subscriber, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	ev := Event{Online: online, At: m.now()}
	m.log.Info("connectivity changed", "online", online)
	for _, s := range subs {
		s.fn(ev)
	}
	return true
}

// Check runs the probe once and reports the result
func (m *Monitor) Check(ctx context.Context) bool {
	if m.probe == nil {
		return m.IsOnline()
	}
	err := m.probe(ctx)
	if ctx.Err() != nil {
		// shutting down, not an observation
		return m.IsOnline()
	}
	if err != nil {
		m.log.Debug("connectivity probe failed", "err", err)
	}
	m.Report(err == nil)
	return err == nil
}

// Run probes immediately and then once per interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
