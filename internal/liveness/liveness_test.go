package liveness

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestMonitor(clock *fakeClock) *Monitor {
	return New(Config{Now: clock.Now}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestMonitor_FalseBeforeFirstStatus(t *testing.T) {
	m := newTestMonitor(&fakeClock{now: time.Unix(1000, 0)})
	if m.Connected() {
		t.Error("Connected() = true before any status")
	}
	if got := m.Status().SinceLastSeenMS(); got != -1 {
		t.Errorf("SinceLastSeenMS() = %d, want -1", got)
	}
}

func TestMonitor_Threshold(t *testing.T) {
	base := time.Unix(1000, 0)
	m := newTestMonitor(&fakeClock{now: base})
	m.MarkSeen(base)

	tests := []struct {
		age  time.Duration
		want bool
	}{
		{0, true},
		{500 * time.Millisecond, true},
		{3000 * time.Millisecond, true},
		{3001*time.Millisecond - time.Nanosecond, true},
		{3001 * time.Millisecond, false},
		{3500 * time.Millisecond, false},
	}
	for _, tt := range tests {
		if got := m.ConnectedAt(base.Add(tt.age)); got != tt.want {
			t.Errorf("ConnectedAt(+%v) = %v, want %v", tt.age, got, tt.want)
		}
	}
}

func TestMonitor_MarkSeenMonotonic(t *testing.T) {
	base := time.Unix(1000, 0)
	m := newTestMonitor(&fakeClock{now: base})

	m.MarkSeen(base.Add(2 * time.Second))
	m.MarkSeen(base)

	if got := m.Status().LastSeen; !got.Equal(base.Add(2 * time.Second)) {
		t.Errorf("LastSeen = %v, want %v", got, base.Add(2*time.Second))
	}
}

func TestMonitor_SampleNotifiesOnTransition(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	m := newTestMonitor(clock)

	var got []bool
	cancel := m.Subscribe(func(s Status) { got = append(got, s.Connected) })
	defer cancel()

	m.Sample() // still disconnected, no transition
	m.MarkSeen(clock.Now())
	m.Sample() // -> connected
	clock.Advance(time.Second)
	m.Sample() // unchanged
	clock.Advance(2500 * time.Millisecond)
	m.Sample() // -> disconnected

	want := []bool{true, false}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestMonitor_UnsubscribeStopsNotifications(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	m := newTestMonitor(clock)

	calls := 0
	cancel := m.Subscribe(func(Status) { calls++ })
	cancel()

	m.MarkSeen(clock.Now())
	m.Sample()
	if calls != 0 {
		t.Errorf("calls after unsubscribe = %d, want 0", calls)
	}
}

func TestMonitor_StartStop(t *testing.T) {
	m := New(Config{Interval: 5 * time.Millisecond}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	connected := make(chan struct{}, 1)
	m.Subscribe(func(s Status) {
		if s.Connected {
			select {
			case connected <- struct{}{}:
			default:
			}
		}
	})

	m.Start(t.Context())
	m.MarkSeen(time.Now())

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("ticker never reported connected")
	}

	m.Stop()
	m.Stop()
}

func TestMonitor_StopWithoutStart(t *testing.T) {
	m := newTestMonitor(&fakeClock{})
	m.Stop()
}
