// Package commands builds the JSON command messages the controller
// board accepts, and emits them through a fire-and-forget publisher.
//
// Builders are pure: they map parameters to a [Command] and never touch
// the network. Topic strings and payload field names are the board's
// wire contract and must not change.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Topics.
const (
	TopicStatus      = "sensei/status"
	TopicDeviceError = "sensei/error"

	TopicDoserOn  = "sensei/doser/on"
	TopicDoserOff = "sensei/doser/off"

	TopicPHControllerStart       = "sensei/pHController/start"
	TopicPHControllerStop        = "sensei/pHController/stop"
	TopicNutrientControllerStart = "sensei/nutrientController/start"
	TopicNutrientControllerStop  = "sensei/nutrientController/stop"

	TopicPHSensorCalibrate    = "sensei/pHSensor/calibrate"
	TopicPHSensorFactoryReset = "sensei/pHSensor/factoryReset"
	TopicECSensorCalibrate    = "sensei/ecSensor/calibrate"
	TopicECSensorFactoryReset = "sensei/ecSensor/factoryReset"

	TopicDoserManagerSetConfig = "sensei/doserManager/setConfig"
	TopicDoserManagerReset     = "sensei/doserManager/reset"
)

// NoDoser marks an unassigned pH doser role. The board ignores
// negative doser IDs.
const NoDoser = -1

// ErrUnknownSensor is returned for a sensor name other than "ph" or "ec".
var ErrUnknownSensor = errors.New("unknown sensor")

// Command is one message ready to publish. An empty Payload is valid
// for commands that carry no parameters.
type Command struct {
	Topic   string
	Payload []byte
}

// Sensor identifies a calibratable probe.
type Sensor string

const (
	SensorPH Sensor = "ph"
	SensorEC Sensor = "ec"
)

// ParseSensor maps a case-insensitive name to a Sensor.
func ParseSensor(s string) (Sensor, error) {
	switch Sensor(strings.ToLower(strings.TrimSpace(s))) {
	case SensorPH:
		return SensorPH, nil
	case SensorEC:
		return SensorEC, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSensor, s)
	}
}

// PHConfig is the full pH controller configuration sent on start.
type PHConfig struct {
	Target         float64 `json:"target"`
	AcceptedError  float64 `json:"acceptedError"`
	AdjustInterval float64 `json:"adjustInterval"`
	FlowRate       float64 `json:"flowRate"`
	DoseAmount     float64 `json:"doseAmount"`
	PHDownDoser    int     `json:"pHDownDoser"`
	PHUpDoser      int     `json:"pHUpDoser"`
}

// NutrientConfig is the nutrient (EC) controller configuration sent on
// start. The board's field name is adjustmentInterval here, unlike the
// pH controller's adjustInterval.
type NutrientConfig struct {
	Target             float64  `json:"target"`
	AcceptedError      float64  `json:"acceptedError"`
	AdjustmentInterval float64  `json:"adjustmentInterval"`
	FlowRate           float64  `json:"flowRate"`
	Schedule           Schedule `json:"schedule"`
}

// Schedule maps doser index to a dose in mL per liter.
type Schedule map[int]float64

// Positive returns a copy holding only entries with amount > 0.
func (s Schedule) Positive() Schedule {
	out := make(Schedule, len(s))
	for id, amount := range s {
		if amount > 0 {
			out[id] = amount
		}
	}
	return out
}

// Total sums every amount in the schedule.
func (s Schedule) Total() float64 {
	var total float64
	for _, amount := range s {
		total += amount
	}
	return total
}

// DoseMinutes is how long dosing Total() mL takes at flowRate mL/min.
// A zero flow rate yields +Inf.
func (s Schedule) DoseMinutes(flowRate float64) float64 {
	if flowRate == 0 {
		return math.Inf(1)
	}
	return s.Total() / flowRate
}

type configEnvelope struct {
	Config any `json:"config"`
}

type doserOnPayload struct {
	DoserID  int     `json:"doserID"`
	FlowRate float64 `json:"flowRate"`
}

type doserOffPayload struct {
	DoserID int `json:"doserID"`
}

type calibratePayload struct {
	Target float64 `json:"target"`
}

type doserManagerConfig struct {
	MaxParallelDosers int `json:"maxParallelDosers"`
}

func build(topic string, v any) (Command, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Command{}, fmt.Errorf("encode %s: %w", topic, err)
	}
	return Command{Topic: topic, Payload: payload}, nil
}

// DoserOn runs doser id continuously at flowRate mL/min.
func DoserOn(id int, flowRate float64) (Command, error) {
	return build(TopicDoserOn, doserOnPayload{DoserID: id, FlowRate: flowRate})
}

// DoserOff stops doser id.
func DoserOff(id int) (Command, error) {
	return build(TopicDoserOff, doserOffPayload{DoserID: id})
}

// StartPHController starts the pH loop with cfg.
func StartPHController(cfg PHConfig) (Command, error) {
	return build(TopicPHControllerStart, configEnvelope{Config: cfg})
}

// StopPHController stops the pH loop.
func StopPHController() Command {
	return Command{Topic: TopicPHControllerStop, Payload: []byte{}}
}

// StartNutrientController starts the EC loop with cfg. Only schedule
// entries with a positive amount are sent.
func StartNutrientController(cfg NutrientConfig) (Command, error) {
	cfg.Schedule = cfg.Schedule.Positive()
	return build(TopicNutrientControllerStart, configEnvelope{Config: cfg})
}

// StopNutrientController stops the EC loop.
func StopNutrientController() Command {
	return Command{Topic: TopicNutrientControllerStop, Payload: []byte{}}
}

// CalibrateSensor calibrates the given probe against a reference
// solution of value target.
func CalibrateSensor(sensor Sensor, target float64) (Command, error) {
	switch sensor {
	case SensorPH:
		return build(TopicPHSensorCalibrate, calibratePayload{Target: target})
	case SensorEC:
		return build(TopicECSensorCalibrate, calibratePayload{Target: target})
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownSensor, sensor)
	}
}

// FactoryResetSensor discards the probe's stored calibration.
func FactoryResetSensor(sensor Sensor) (Command, error) {
	switch sensor {
	case SensorPH:
		return Command{Topic: TopicPHSensorFactoryReset, Payload: []byte{}}, nil
	case SensorEC:
		return Command{Topic: TopicECSensorFactoryReset, Payload: []byte{}}, nil
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownSensor, sensor)
	}
}

// SetDoserManagerConfig limits how many dosers may run at once.
func SetDoserManagerConfig(maxParallelDosers int) (Command, error) {
	return build(TopicDoserManagerSetConfig, configEnvelope{
		Config: doserManagerConfig{MaxParallelDosers: maxParallelDosers},
	})
}

// ResetDoserManager stops every doser that was switched on manually.
func ResetDoserManager() Command {
	return Command{Topic: TopicDoserManagerReset, Payload: []byte{}}
}
