// Package events is a small broadcast bus that carries dashboard
// activity (status arrivals, liveness flips, published commands, device
// errors) to live consumers such as the websocket stream. A nil *Bus is
// valid and discards everything, so producers never need guard checks.
package events

import (
	"sync"
	"time"
)

// Sources.
const (
	SourceMQTT      = "mqtt"
	SourceDashboard = "dashboard"
	SourceLiveness  = "liveness"
	SourceDevice    = "device"
)

// Kinds.
const (
	// KindStatus is a decoded status broadcast. Data: ph, ec.
	KindStatus = "status"
	// KindConnected reports the board became live. Data: last_seen.
	KindConnected = "connected"
	// KindDisconnected reports the board went quiet. Data: last_seen.
	KindDisconnected = "disconnected"
	// KindCommand is a command handed to the transport. Data: topic.
	KindCommand = "command"
	// KindDeviceError is an exception text reported by the board. Data: message.
	KindDeviceError = "device_error"
	// KindBrokerUp and KindBrokerDown track the broker session itself.
	KindBrokerUp   = "broker_up"
	KindBrokerDown = "broker_down"
	// KindSettings is an operator setting change. Data: setting.
	KindSettings = "settings"
	// KindRESTUp and KindRESTDown track the board's REST surface. Data: url, error.
	KindRESTUp   = "rest_up"
	KindRESTDown = "rest_down"
)

// Event is one unit of activity.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus fans events out to subscribers. Each subscriber owns a buffered
// channel; a full channel loses the event instead of stalling Publish.
type Bus struct {
	mu   sync.RWMutex
	subs map[<-chan Event]chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[<-chan Event]chan Event)}
}

// Publish delivers e to every subscriber with room in its buffer.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit publishes an event stamped with the current time.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	if b == nil {
		return
	}
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe registers a new subscriber with the given buffer size.
// Callers must Unsubscribe when done.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	b.subs[ch] = ch
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch. Unknown channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	send, ok := b.subs[ch]
	if !ok {
		return
	}
	delete(b.subs, ch)
	close(send)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
