package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	r.MessageReceived("sensei/status")
	r.MessageDropped(ReasonRateLimited)
	r.CallbackFailed("sensei/status")
	r.CommandPublished("sensei/doser/on")
	r.CommandDropped("sensei/doser/on", ReasonDisconnected)
	r.SetDeviceConnected(true)
	r.SetBrokerConnected(true)
	r.ObserveReading("ph", 6.2)
	r.SetControllerRunning("ph", true)

	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != 404 {
		t.Errorf("nil recorder handler status = %d, want 404", w.Code)
	}
}

func TestCounters(t *testing.T) {
	r := New()
	r.MessageReceived("sensei/status")
	r.MessageReceived("sensei/status")
	r.CallbackFailed("sensei/status")
	r.CommandDropped("sensei/doser/off", ReasonQueueFull)

	if got := testutil.ToFloat64(r.messagesReceived.WithLabelValues("sensei/status")); got != 2 {
		t.Errorf("messages_received_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.callbackFailures.WithLabelValues("sensei/status")); got != 1 {
		t.Errorf("callback_failures_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.commandsDropped.WithLabelValues("sensei/doser/off", ReasonQueueFull)); got != 1 {
		t.Errorf("commands_dropped_total = %v, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	r := New()
	r.SetDeviceConnected(true)
	r.ObserveReading("ec", 1.4)

	if got := testutil.ToFloat64(r.deviceConnected); got != 1 {
		t.Errorf("device_connected = %v, want 1", got)
	}
	r.SetDeviceConnected(false)
	if got := testutil.ToFloat64(r.deviceConnected); got != 0 {
		t.Errorf("device_connected = %v, want 0", got)
	}
	if got := testutil.ToFloat64(r.sensorReading.WithLabelValues("ec")); got != 1.4 {
		t.Errorf("sensor_reading{ec} = %v, want 1.4", got)
	}
	r.SetControllerRunning("nutrient", true)
	if got := testutil.ToFloat64(r.controllerRunning.WithLabelValues("nutrient")); got != 1 {
		t.Errorf("controller_running{nutrient} = %v, want 1", got)
	}
}

func TestHandler_Exposition(t *testing.T) {
	r := New()
	r.CommandPublished("sensei/pHController/start")

	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(w.Body)

	want := `growstudio_commands_published_total{topic="sensei/pHController/start"} 1`
	if !strings.Contains(string(body), want) {
		t.Errorf("exposition missing %q", want)
	}
}
