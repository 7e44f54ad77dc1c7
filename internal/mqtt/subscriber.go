package mqtt

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/cultimatics/growstudio/internal/config"
)

// MessageHandler receives every inbound PUBLISH that passed the flood
// guard. The session invokes it from the paho receive goroutine.
type MessageHandler func(topic string, payload []byte)

// debugMessageHandler logs inbound messages at debug level. Status
// broadcasts get their pH and EC readings pulled out so a debug log is
// useful without enabling trace-level payload dumps.
func debugMessageHandler(logger *slog.Logger) MessageHandler {
	return func(topic string, payload []byte) {
		ctx := context.Background()
		if !logger.Enabled(ctx, slog.LevelDebug) {
			return
		}

		fields := []any{
			"topic", topic,
			"payload_size", len(payload),
		}

		if topic == statusTopic {
			var reading struct {
				PH *float64 `json:"ph"`
				EC *float64 `json:"ec"`
			}
			if err := json.Unmarshal(payload, &reading); err == nil {
				if reading.PH != nil {
					fields = append(fields, "ph", *reading.PH)
				}
				if reading.EC != nil {
					fields = append(fields, "ec", *reading.EC)
				}
			}
		}

		logger.Debug("mqtt message received", fields...)
		logger.Log(ctx, config.LevelTrace, "mqtt payload", "topic", topic, "payload", string(payload))
	}
}

// statusTopic is matched by the debug logger only.
const statusTopic = "sensei/status"

// floodGuard admits at most limit inbound messages per window so a
// misbehaving board or a retained-message storm after reconnect cannot
// monopolize the dispatch mutex. The window rolls over lazily on the
// first message after it ends; a window that dropped anything is
// summarized at warn when it closes.
type floodGuard struct {
	limit  int64
	window time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	start    time.Time
	admitted int64
	dropped  int64
}

func newFloodGuard(limit int64, window time.Duration, logger *slog.Logger) *floodGuard {
	return &floodGuard{
		limit:  limit,
		window: window,
		now:    time.Now,
		logger: logger,
	}
}

// allow reports whether a message on topic fits in the current window.
func (g *floodGuard) allow(topic string) bool {
	now := g.now()

	g.mu.Lock()
	var closedAdmitted, closedDropped int64
	if now.Sub(g.start) >= g.window {
		closedAdmitted, closedDropped = g.admitted, g.dropped
		g.start, g.admitted, g.dropped = now, 0, 0
	}
	ok := g.admitted < g.limit
	if ok {
		g.admitted++
	} else {
		g.dropped++
	}
	first := !ok && g.dropped == 1
	g.mu.Unlock()

	if closedDropped > 0 {
		g.logger.Warn("mqtt inbound messages dropped by flood guard",
			"admitted", closedAdmitted,
			"dropped", closedDropped,
			"limit", g.limit,
			"window", g.window.String(),
		)
	}
	if first {
		g.logger.Debug("mqtt flood guard engaged", "topic", topic, "limit", g.limit)
	}
	return ok
}
