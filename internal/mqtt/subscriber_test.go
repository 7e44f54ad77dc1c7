package mqtt

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDebugMessageHandler_Status(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	h := debugMessageHandler(logger)
	h("sensei/status", []byte(`{"ph":6.1,"ec":1.25,"dosers":[]}`))

	output := buf.String()
	for _, want := range []string{"ph=6.1", "ec=1.25", "payload_size="} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in log output, got: %s", want, output)
		}
	}
	if strings.Contains(output, "mqtt payload") {
		t.Errorf("payload dump should require trace level, got: %s", output)
	}
}

func TestDebugMessageHandler_PlainText(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	h := debugMessageHandler(logger)
	h("sensei/error", []byte("pump 2 stalled"))

	output := buf.String()
	if !strings.Contains(output, "topic=sensei/error") {
		t.Errorf("expected topic in log output, got: %s", output)
	}
	if !strings.Contains(output, "payload_size=14") {
		t.Errorf("expected payload_size=14 in log output, got: %s", output)
	}
}

func TestDebugMessageHandler_InfoLevelSilent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	debugMessageHandler(logger)("sensei/status", []byte(`{"ph":7}`))
	if buf.Len() != 0 {
		t.Errorf("expected no output at info level, got: %s", buf.String())
	}
}

// fakeClock is a settable time source for floodGuard.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestGuard(limit int64, w io.Writer) (*floodGuard, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	g := newFloodGuard(limit, time.Second, slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})))
	g.now = clock.now
	return g, clock
}

func TestFloodGuard_Windows(t *testing.T) {
	tests := []struct {
		name    string
		limit   int64
		bursts  []int         // messages sent per window
		advance time.Duration // clock step between bursts
		want    []int         // admitted per window
	}{
		{"under limit", 5, []int{3}, 0, []int{3}},
		{"at limit", 5, []int{5}, 0, []int{5}},
		{"over limit", 5, []int{8}, 0, []int{5}},
		{"window resets", 2, []int{4, 4}, time.Second, []int{2, 2}},
		{"same window", 3, []int{2, 2}, 500 * time.Millisecond, []int{2, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, clock := newTestGuard(tt.limit, io.Discard)
			for i, n := range tt.bursts {
				if i > 0 {
					clock.advance(tt.advance)
				}
				admitted := 0
				for range n {
					if g.allow("sensei/status") {
						admitted++
					}
				}
				if admitted != tt.want[i] {
					t.Errorf("burst %d admitted %d, want %d", i, admitted, tt.want[i])
				}
			}
		})
	}
}

func TestFloodGuard_SummarizesClosedWindow(t *testing.T) {
	var buf bytes.Buffer
	g, clock := newTestGuard(2, &buf)

	for range 5 {
		g.allow("sensei/status")
	}
	if !strings.Contains(buf.String(), "mqtt flood guard engaged") {
		t.Errorf("expected engage message, got: %s", buf.String())
	}
	if strings.Contains(buf.String(), "dropped by flood guard") {
		t.Fatal("summary logged before the window closed")
	}

	clock.advance(time.Second)
	g.allow("sensei/status")

	out := buf.String()
	for _, want := range []string{"dropped by flood guard", "admitted=2", "dropped=3", "limit=2"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
}

func TestFloodGuard_QuietWindowNotSummarized(t *testing.T) {
	var buf bytes.Buffer
	g, clock := newTestGuard(10, &buf)

	g.allow("sensei/status")
	clock.advance(2 * time.Second)
	g.allow("sensei/status")

	if buf.Len() != 0 {
		t.Errorf("expected no output for windows without drops, got: %s", buf.String())
	}
}

func TestFloodGuard_Concurrent(t *testing.T) {
	g, _ := newTestGuard(1000, io.Discard)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				if g.allow("sensei/status") {
					admitted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if got := admitted.Load(); got != 1000 {
		t.Errorf("admitted = %d, want 1000", got)
	}
	if g.dropped != 1000 {
		t.Errorf("dropped = %d, want 1000", g.dropped)
	}
}
