package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/cultimatics/growstudio/internal/config"
	"github.com/cultimatics/growstudio/internal/events"
	"github.com/cultimatics/growstudio/internal/metrics"
)

// ErrNotStarted is returned by [Session.AwaitConnection] before
// [Session.Start] has been called.
var ErrNotStarted = errors.New("mqtt session not started")

type outboundMessage struct {
	topic   string
	payload []byte
}

// SessionOption configures optional collaborators of a Session.
type SessionOption func(*Session)

// WithMetrics records traffic counters on m.
func WithMetrics(m *metrics.Recorder) SessionOption {
	return func(s *Session) { s.metrics = m }
}

// WithEvents publishes broker up/down transitions on bus.
func WithEvents(bus *events.Bus) SessionOption {
	return func(s *Session) { s.bus = bus }
}

// Session is the one long-lived broker connection. It is safe for
// concurrent use.
type Session struct {
	cfg      config.MQTTConfig
	clientID string
	logger   *slog.Logger
	metrics  *metrics.Recorder
	bus      *events.Bus

	mu       sync.Mutex
	cm       *autopaho.ConnectionManager
	topics   []string
	topicSet map[string]bool
	handler  MessageHandler

	connected atomic.Bool
	outbound  chan outboundMessage
	guard     *floodGuard
	debug     MessageHandler
}

// NewSession creates a Session but does not connect. Call [Session.Start]
// to begin connecting.
func NewSession(cfg config.MQTTConfig, clientID string, logger *slog.Logger, opts ...SessionOption) *Session {
	buf := cfg.OutboundBuffer
	if buf <= 0 {
		buf = 1
	}
	s := &Session{
		cfg:      cfg,
		clientID: clientID,
		logger:   logger,
		topicSet: make(map[string]bool),
		outbound: make(chan outboundMessage, buf),
		debug:    debugMessageHandler(logger),
	}
	if cfg.MaxMessagesPerSec > 0 {
		s.guard = newFloodGuard(int64(cfg.MaxMessagesPerSec), time.Second, logger)
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetMessageHandler installs the sink for inbound messages. Typically
// this is [Router.Dispatch].
func (s *Session) SetMessageHandler(h MessageHandler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Start begins connecting in the background and returns immediately.
// Network failures are never returned; they are logged and surface as
// Connected() == false while autopaho keeps retrying. Only an unusable
// broker URL is reported. The session runs until ctx is cancelled.
func (s *Session) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(s.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}
	switch brokerURL.Scheme {
	case "mqtt", "tcp", "ws", "mqtts", "ssl", "wss":
	default:
		return fmt.Errorf("unsupported mqtt broker scheme %q", brokerURL.Scheme)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       uint16(s.cfg.KeepAliveSec),
		ConnectTimeout:  time.Duration(s.cfg.ConnectTimeoutSec) * time.Second,
		ConnectUsername: s.cfg.Username,
		ConnectPassword: []byte(s.cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			s.connected.Store(true)
			s.metrics.SetBrokerConnected(true)
			s.bus.Emit(events.SourceMQTT, events.KindBrokerUp, map[string]any{"broker": s.cfg.Broker})
			s.logger.Info("mqtt connected to broker", "broker", s.cfg.Broker, "client_id", s.clientID)
			s.resubscribe(ctx, cm)
		},
		OnConnectError: func(err error) {
			s.logger.Warn("mqtt connection error", "broker", s.cfg.Broker, "error", err)
			s.markDown()
		},
		ClientConfig: paho.ClientConfig{
			ClientID: s.clientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				s.onPublishReceived,
			},
			OnClientError: func(err error) {
				s.logger.Warn("mqtt client error", "broker", s.cfg.Broker, "error", err)
				s.markDown()
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				s.logger.Warn("mqtt server disconnected", "broker", s.cfg.Broker, "reason_code", d.ReasonCode)
				s.markDown()
			},
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" || brokerURL.Scheme == "wss" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	s.mu.Lock()
	s.cm = cm
	s.mu.Unlock()

	go s.sendLoop(ctx)

	s.logger.Info("mqtt session starting", "broker", s.cfg.Broker, "client_id", s.clientID)
	return nil
}

// Stop disconnects from the broker. The sender goroutine exits when the
// context passed to Start is cancelled.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	cm := s.cm
	s.mu.Unlock()
	if cm == nil {
		return nil
	}
	s.markDown()
	return cm.Disconnect(ctx)
}

// Connected reports whether the broker session is currently up. This is
// broker reachability, not device liveness.
func (s *Session) Connected() bool {
	return s.connected.Load()
}

// AwaitConnection blocks until the broker connection is up or ctx expires.
func (s *Session) AwaitConnection(ctx context.Context) error {
	s.mu.Lock()
	cm := s.cm
	s.mu.Unlock()
	if cm == nil {
		return ErrNotStarted
	}
	return cm.AwaitConnection(ctx)
}

// Publish hands a command to the sender goroutine and returns at once.
// When the queue is full the command is dropped.
func (s *Session) Publish(topic string, payload []byte) {
	select {
	case s.outbound <- outboundMessage{topic: topic, payload: payload}:
	default:
		s.metrics.CommandDropped(topic, metrics.ReasonQueueFull)
		s.logger.Warn("mqtt command dropped, outbound queue full", "topic", topic)
	}
}

// Subscribe records topic and subscribes now if the session is up.
// All recorded topics are re-subscribed on every reconnect. Repeated
// calls for the same topic are no-ops.
func (s *Session) Subscribe(topic string) {
	s.mu.Lock()
	if s.topicSet[topic] {
		s.mu.Unlock()
		return
	}
	s.topicSet[topic] = true
	s.topics = append(s.topics, topic)
	cm := s.cm
	s.mu.Unlock()

	if cm == nil || !s.connected.Load() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PublishTimeout())
	defer cancel()
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: 0}},
	}); err != nil {
		s.logger.Warn("mqtt subscribe failed", "topic", topic, "error", err)
		return
	}
	s.logger.Debug("mqtt subscribed", "topic", topic)
}

// Topics returns the recorded subscriptions in the order they were added.
func (s *Session) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.topics...)
}

func (s *Session) resubscribe(ctx context.Context, cm *autopaho.ConnectionManager) {
	topics := s.Topics()
	if len(topics) == 0 {
		return
	}

	opts := make([]paho.SubscribeOptions, len(topics))
	for i, t := range topics {
		opts[i] = paho.SubscribeOptions{Topic: t, QoS: 0}
	}

	subCtx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout())
	defer cancel()
	if _, err := cm.Subscribe(subCtx, &paho.Subscribe{Subscriptions: opts}); err != nil {
		s.logger.Error("mqtt resubscribe failed", "topics", topics, "error", err)
		return
	}
	s.logger.Info("mqtt subscribed", "topics", topics)
}

func (s *Session) onPublishReceived(pr paho.PublishReceived) (bool, error) {
	if pr.Packet == nil {
		return false, nil
	}
	topic, payload := pr.Packet.Topic, pr.Packet.Payload

	if s.guard != nil && !s.guard.allow(topic) {
		s.metrics.MessageDropped(metrics.ReasonRateLimited)
		return true, nil
	}
	s.metrics.MessageReceived(topic)
	s.debug(topic, payload)

	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(topic, payload)
	}
	return true, nil
}

func (s *Session) sendLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.outbound:
			s.send(ctx, msg)
		}
	}
}

// send publishes one queued command. A command whose turn comes while
// the session is down is dropped, never retried.
func (s *Session) send(ctx context.Context, msg outboundMessage) {
	s.mu.Lock()
	cm := s.cm
	s.mu.Unlock()

	if cm == nil || !s.connected.Load() {
		s.metrics.CommandDropped(msg.topic, metrics.ReasonDisconnected)
		s.logger.Warn("mqtt command dropped, not connected", "topic", msg.topic)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout())
	defer cancel()
	if _, err := cm.Publish(pubCtx, &paho.Publish{
		Topic:   msg.topic,
		Payload: msg.payload,
		QoS:     0,
	}); err != nil {
		s.metrics.CommandDropped(msg.topic, metrics.ReasonPublishError)
		s.logger.Warn("mqtt command publish failed", "topic", msg.topic, "error", err)
		return
	}
	s.metrics.CommandPublished(msg.topic)
	s.logger.Debug("mqtt command published", "topic", msg.topic, "payload_size", len(msg.payload))
}

// markDown clears the connected flag. Only the up-to-down transition
// is published.
func (s *Session) markDown() {
	if !s.connected.Swap(false) {
		return
	}
	s.metrics.SetBrokerConnected(false)
	s.bus.Emit(events.SourceMQTT, events.KindBrokerDown, map[string]any{"broker": s.cfg.Broker})
	s.logger.Info("mqtt connection down", "broker", s.cfg.Broker)
}
