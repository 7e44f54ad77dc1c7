// Package connwatch tracks whether a dependency outside the MQTT session
// answers, such as the controller board's REST surface.
//
// This is separate from httpkit's transport retry, which only papers over
// sub-second dial races. A Watcher handles outages that last seconds to
// hours: it probes on a backoff schedule while the service is down and on
// a fixed poll interval while it is up, and reports each transition.
package connwatch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ProbeFunc checks whether the service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// Backoff controls probe timing.
type Backoff struct {
	// Initial is the delay after the first failed probe.
	Initial time.Duration

	// Max caps the delay growth while the service stays down.
	Max time.Duration

	// Multiplier scales the delay after each consecutive failure.
	Multiplier float64

	// Poll is the interval between probes while the service is up.
	Poll time.Duration

	// Timeout bounds a single probe.
	Timeout time.Duration
}

// DefaultBackoff probes at 2s, 4s, 8s ... capped at 60s while down, and
// every 30s while up.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    2 * time.Second,
		Max:        60 * time.Second,
		Multiplier: 2.0,
		Poll:       30 * time.Second,
		Timeout:    5 * time.Second,
	}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Multiplier < 1 {
		b.Multiplier = d.Multiplier
	}
	if b.Poll <= 0 {
		b.Poll = d.Poll
	}
	if b.Timeout <= 0 {
		b.Timeout = d.Timeout
	}
	return b
}

// Config configures a Watcher.
type Config struct {
	// Name identifies the service in logs and health output.
	Name string

	// Probe checks service health. Required.
	Probe ProbeFunc

	Backoff Backoff

	// OnChange is called from the watcher goroutine after every
	// reachable/unreachable transition, including the first probe
	// result. It must not block. Optional.
	OnChange func(Status)

	Logger *slog.Logger
}

// Status is the health of the watched service, shaped for JSON.
type Status struct {
	Name      string    `json:"name"`
	Reachable bool      `json:"reachable"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`

	// Failures counts consecutive failed probes.
	Failures int `json:"failures"`
}

// Watcher monitors one service. A nil *Watcher reports an empty Status,
// so callers can hold one unconditionally.
type Watcher struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	status  Status
	checked bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Watcher. Nothing is probed until Start.
//
// Panics if Name is empty or Probe is nil.
func New(cfg Config) *Watcher {
	if cfg.Name == "" {
		panic("connwatch: Config.Name must not be empty")
	}
	if cfg.Probe == nil {
		panic("connwatch: Config.Probe must not be nil")
	}
	cfg.Backoff = cfg.Backoff.withDefaults()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		cfg:    cfg,
		logger: logger,
		status: Status{Name: cfg.Name},
	}
}

// Start probes immediately and keeps probing in the background until ctx
// is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(ctx)
}

// Stop cancels the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	if w == nil || w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
}

// Status returns the latest probe outcome.
func (w *Watcher) Status() Status {
	if w == nil {
		return Status{}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Reachable reports whether the last probe succeeded.
func (w *Watcher) Reachable() bool {
	return w.Status().Reachable
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	delay := w.cfg.Backoff.Initial
	for {
		err := w.probe(ctx)
		if ctx.Err() != nil {
			return
		}
		w.record(err)

		next := w.cfg.Backoff.Poll
		if err != nil {
			next = delay
			delay = time.Duration(float64(delay) * w.cfg.Backoff.Multiplier)
			if delay > w.cfg.Backoff.Max {
				delay = w.cfg.Backoff.Max
			}
		} else {
			delay = w.cfg.Backoff.Initial
		}

		if !sleepCtx(ctx, next) {
			return
		}
	}
}

func (w *Watcher) probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.cfg.Backoff.Timeout)
	defer cancel()
	return w.cfg.Probe(probeCtx)
}

// record stores the probe result and fires OnChange on a transition.
func (w *Watcher) record(err error) {
	w.mu.Lock()
	was, first := w.status.Reachable, !w.checked
	w.checked = true
	w.status.LastCheck = time.Now()
	w.status.Reachable = err == nil
	if err != nil {
		w.status.LastError = err.Error()
		w.status.Failures++
	} else {
		w.status.LastError = ""
		w.status.Failures = 0
	}
	st := w.status
	w.mu.Unlock()

	changed := first || was != st.Reachable
	switch {
	case changed && st.Reachable:
		w.logger.Info("service reachable", "service", w.cfg.Name)
	case changed:
		w.logger.Warn("service unreachable", "service", w.cfg.Name, "error", err)
	case err != nil:
		w.logger.Debug("service still unreachable", "service", w.cfg.Name, "failures", st.Failures, "error", err)
	}
	if changed && w.cfg.OnChange != nil {
		w.cfg.OnChange(st)
	}
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
