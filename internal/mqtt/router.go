package mqtt

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/cultimatics/growstudio/internal/metrics"
)

// Callback handles the raw payload of one message on a registered topic.
// A returned error is logged by the router; it never reaches the
// transport or other callbacks.
type Callback func(payload []byte) error

// Subscriber is the slice of the transport the router needs.
type Subscriber interface {
	Subscribe(topic string)
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterMetrics counts callback failures and unrouted messages on m.
func WithRouterMetrics(m *metrics.Recorder) RouterOption {
	return func(r *Router) { r.metrics = m }
}

// Router maps exact topic strings to ordered callback lists. Dispatch
// is serialized, so no two callbacks ever run at the same time.
type Router struct {
	sub     Subscriber
	logger  *slog.Logger
	metrics *metrics.Recorder

	mu     sync.RWMutex
	routes map[string][]Callback
	order  []string

	dispatchMu sync.Mutex
}

// NewRouter creates a Router that subscribes through sub.
func NewRouter(sub Subscriber, logger *slog.Logger, opts ...RouterOption) *Router {
	r := &Router{
		sub:    sub,
		logger: logger,
		routes: make(map[string][]Callback),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register appends cb to topic's callback list. The first registration
// for a topic subscribes it on the transport; later ones do not.
func (r *Router) Register(topic string, cb Callback) {
	r.mu.Lock()
	_, known := r.routes[topic]
	r.routes[topic] = append(r.routes[topic], cb)
	if !known {
		r.order = append(r.order, topic)
	}
	r.mu.Unlock()

	if !known {
		r.sub.Subscribe(topic)
	}
}

// Topics returns registered topics in first-registration order.
func (r *Router) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Dispatch invokes every callback registered for topic, in
// registration order. Messages on topics without callbacks are dropped.
func (r *Router) Dispatch(topic string, payload []byte) {
	r.mu.RLock()
	cbs := r.routes[topic]
	r.mu.RUnlock()

	if len(cbs) == 0 {
		r.metrics.MessageDropped(metrics.ReasonNoCallback)
		r.logger.Debug("mqtt message without callback dropped", "topic", topic)
		return
	}

	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()
	for i, cb := range cbs {
		if err := r.invoke(cb, payload); err != nil {
			r.metrics.CallbackFailed(topic)
			r.logger.Error("mqtt callback failed",
				"topic", topic,
				"callback", i,
				"error", err,
			)
		}
	}
}

// invoke runs cb and converts a panic into an error.
func (r *Router) invoke(cb Callback, payload []byte) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("callback panicked: %v", p)
		}
	}()
	return cb(payload)
}
