// Package liveness tracks whether the controller board is alive, judged
// purely by how recently a status broadcast arrived. It knows nothing
// about the broker session, so a silent reconnect that keeps status
// messages flowing never registers as an outage.
//
// A background ticker recomputes the state every Interval and notifies
// observers on each connected/disconnected transition.
package liveness

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Defaults applied to zero-valued Config fields.
const (
	DefaultThreshold = 3001 * time.Millisecond
	DefaultInterval  = 100 * time.Millisecond
)

// Config tunes a Monitor.
type Config struct {
	// Threshold is the age below which the last status still counts as
	// live (exclusive).
	Threshold time.Duration

	// Interval is the sampling period of the background ticker.
	Interval time.Duration

	// Now returns the current time. Tests inject a fake clock.
	Now func() time.Time
}

// Status is a copy-safe view of the monitor, suitable for JSON.
type Status struct {
	Connected     bool          `json:"connected"`
	LastSeen      time.Time     `json:"last_seen"`
	SinceLastSeen time.Duration `json:"since_last_seen_ns"`
}

// SinceLastSeenMS is the age of the last status in whole milliseconds,
// or -1 when nothing has been seen yet.
func (s Status) SinceLastSeenMS() int64 {
	if s.LastSeen.IsZero() {
		return -1
	}
	return s.SinceLastSeen.Milliseconds()
}

// Monitor derives a connected flag from status recency.
type Monitor struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	lastSeen  time.Time
	connected bool
	observers map[int]func(Status)
	nextID    int

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Monitor. Zero-valued Config fields take their defaults.
func New(cfg Config, logger *slog.Logger) *Monitor {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:       cfg,
		logger:    logger,
		observers: make(map[int]func(Status)),
	}
}

// MarkSeen records a status arrival at t. Timestamps older than the
// current lastSeen are ignored, so lastSeen never moves backwards.
func (m *Monitor) MarkSeen(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.After(m.lastSeen) {
		m.lastSeen = t
	}
}

// ConnectedAt reports whether a status arrived less than Threshold
// before now. It is false until the first MarkSeen.
func (m *Monitor) ConnectedAt(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectedAtLocked(now)
}

func (m *Monitor) connectedAtLocked(now time.Time) bool {
	if m.lastSeen.IsZero() {
		return false
	}
	return now.Sub(m.lastSeen) < m.cfg.Threshold
}

// Connected evaluates liveness against the current clock.
func (m *Monitor) Connected() bool {
	return m.ConnectedAt(m.cfg.Now())
}

// Status returns the current view, evaluated against the current clock.
func (m *Monitor) Status() Status {
	now := m.cfg.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked(now)
}

func (m *Monitor) statusLocked(now time.Time) Status {
	s := Status{
		Connected: m.connectedAtLocked(now),
		LastSeen:  m.lastSeen,
	}
	if !m.lastSeen.IsZero() {
		s.SinceLastSeen = now.Sub(m.lastSeen)
	}
	return s
}

// Subscribe registers fn to be called on every connected/disconnected
// transition. The returned function removes the observer.
func (m *Monitor) Subscribe(fn func(Status)) (cancel func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.observers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}

// Sample recomputes the connected flag once and notifies observers if
// it changed. The background ticker calls it every Interval.
func (m *Monitor) Sample() {
	now := m.cfg.Now()

	m.mu.Lock()
	st := m.statusLocked(now)
	changed := st.Connected != m.connected
	m.connected = st.Connected
	var notify []func(Status)
	if changed {
		notify = make([]func(Status), 0, len(m.observers))
		for _, fn := range m.observers {
			notify = append(notify, fn)
		}
	}
	m.mu.Unlock()

	if !changed {
		return
	}
	if st.Connected {
		m.logger.Info("controller board connected", "last_seen", st.LastSeen)
	} else {
		m.logger.Warn("controller board silent", "since_last_seen", st.SinceLastSeen.Truncate(time.Millisecond).String())
	}
	for _, fn := range notify {
		fn(st)
	}
}

// Start launches the sampling ticker. It runs until ctx is cancelled or
// Stop is called. Calling Start twice is a programming error and panics.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.done != nil {
		m.mu.Unlock()
		panic("liveness: Monitor started twice")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go m.run(runCtx, done)
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sample()
		}
	}
}

// Stop cancels the ticker and waits for its goroutine to exit. It is a
// no-op if the monitor was never started.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
