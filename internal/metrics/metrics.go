// Package metrics exposes GrowStudio's Prometheus instruments on a
// private registry. All recorder methods are safe on a nil *Recorder.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "growstudio"

// Drop reasons.
const (
	ReasonRateLimited  = "rate_limited"
	ReasonNoCallback   = "no_callback"
	ReasonQueueFull    = "queue_full"
	ReasonDisconnected = "disconnected"
	ReasonPublishError = "publish_error"
)

// Recorder owns the registry and every instrument.
type Recorder struct {
	registry *prometheus.Registry

	messagesReceived  *prometheus.CounterVec
	messagesDropped   *prometheus.CounterVec
	callbackFailures  *prometheus.CounterVec
	commandsPublished *prometheus.CounterVec
	commandsDropped   *prometheus.CounterVec
	deviceConnected   prometheus.Gauge
	brokerConnected   prometheus.Gauge
	sensorReading     *prometheus.GaugeVec
	controllerRunning *prometheus.GaugeVec
}

// New builds a Recorder with Go runtime and process collectors attached.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound MQTT messages by topic.",
		}, []string{"topic"}),
		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Inbound MQTT messages discarded before reaching a callback.",
		}, []string{"reason"}),
		callbackFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callback_failures_total",
			Help:      "Topic callbacks that returned an error or panicked.",
		}, []string{"topic"}),
		commandsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_published_total",
			Help:      "Commands accepted by the broker session.",
		}, []string{"topic"}),
		commandsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_dropped_total",
			Help:      "Commands that never reached the broker.",
		}, []string{"topic", "reason"}),
		deviceConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_connected",
			Help:      "1 while status broadcasts are arriving within the liveness threshold.",
		}),
		brokerConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broker_connected",
			Help:      "1 while the MQTT session is up.",
		}),
		sensorReading: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_reading",
			Help:      "Latest reported sensor value.",
		}, []string{"sensor"}),
		controllerRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "controller_running",
			Help:      "1 while the dashboard believes the controller is running.",
		}, []string{"controller"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.messagesReceived,
		r.messagesDropped,
		r.callbackFailures,
		r.commandsPublished,
		r.commandsDropped,
		r.deviceConnected,
		r.brokerConnected,
		r.sensorReading,
		r.controllerRunning,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) MessageReceived(topic string) {
	if r == nil {
		return
	}
	r.messagesReceived.WithLabelValues(topic).Inc()
}

func (r *Recorder) MessageDropped(reason string) {
	if r == nil {
		return
	}
	r.messagesDropped.WithLabelValues(reason).Inc()
}

func (r *Recorder) CallbackFailed(topic string) {
	if r == nil {
		return
	}
	r.callbackFailures.WithLabelValues(topic).Inc()
}

func (r *Recorder) CommandPublished(topic string) {
	if r == nil {
		return
	}
	r.commandsPublished.WithLabelValues(topic).Inc()
}

func (r *Recorder) CommandDropped(topic, reason string) {
	if r == nil {
		return
	}
	r.commandsDropped.WithLabelValues(topic, reason).Inc()
}

func (r *Recorder) SetDeviceConnected(connected bool) {
	if r == nil {
		return
	}
	r.deviceConnected.Set(boolToFloat(connected))
}

func (r *Recorder) SetBrokerConnected(connected bool) {
	if r == nil {
		return
	}
	r.brokerConnected.Set(boolToFloat(connected))
}

// ObserveReading records the latest value for a sensor ("ph" or "ec").
func (r *Recorder) ObserveReading(sensor string, value float64) {
	if r == nil {
		return
	}
	r.sensorReading.WithLabelValues(sensor).Set(value)
}

// SetControllerRunning records a controller's state ("ph" or "nutrient").
func (r *Recorder) SetControllerRunning(controller string, running bool) {
	if r == nil {
		return
	}
	r.controllerRunning.WithLabelValues(controller).Set(boolToFloat(running))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
