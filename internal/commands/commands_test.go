package commands

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

// mustBuild unwraps a builder result, failing the test on error. Use it
// as mustBuild(t)(DoserOn(0, 10)).
func mustBuild(t *testing.T) func(Command, error) Command {
	return func(cmd Command, err error) Command {
		t.Helper()
		if err != nil {
			t.Fatalf("build error: %v", err)
		}
		return cmd
	}
}

func TestBuilders_WireFormat(t *testing.T) {
	tests := []struct {
		name    string
		cmd     func(t *testing.T) Command
		topic   string
		payload string
	}{
		{
			name:    "doser on",
			cmd:     func(t *testing.T) Command { return mustBuild(t)(DoserOn(2, 42.5)) },
			topic:   "sensei/doser/on",
			payload: `{"doserID":2,"flowRate":42.5}`,
		},
		{
			name:    "doser off",
			cmd:     func(t *testing.T) Command { return mustBuild(t)(DoserOff(3)) },
			topic:   "sensei/doser/off",
			payload: `{"doserID":3}`,
		},
		{
			name: "ph start",
			cmd: func(t *testing.T) Command {
				return mustBuild(t)(StartPHController(PHConfig{
					Target: 6.5, AcceptedError: 0.2, AdjustInterval: 30,
					FlowRate: 12.5, DoseAmount: 1, PHDownDoser: 0, PHUpDoser: NoDoser,
				}))
			},
			topic:   "sensei/pHController/start",
			payload: `{"config":{"target":6.5,"acceptedError":0.2,"adjustInterval":30,"flowRate":12.5,"doseAmount":1,"pHDownDoser":0,"pHUpDoser":-1}}`,
		},
		{
			name:    "ph stop",
			cmd:     func(*testing.T) Command { return StopPHController() },
			topic:   "sensei/pHController/stop",
			payload: ``,
		},
		{
			name: "nutrient start",
			cmd: func(t *testing.T) Command {
				return mustBuild(t)(StartNutrientController(NutrientConfig{
					Target: 1.8, AcceptedError: 0.1, AdjustmentInterval: 60, FlowRate: 30,
					Schedule: Schedule{0: 0.5, 3: 0.25},
				}))
			},
			topic:   "sensei/nutrientController/start",
			payload: `{"config":{"target":1.8,"acceptedError":0.1,"adjustmentInterval":60,"flowRate":30,"schedule":{"0":0.5,"3":0.25}}}`,
		},
		{
			name:    "nutrient stop",
			cmd:     func(*testing.T) Command { return StopNutrientController() },
			topic:   "sensei/nutrientController/stop",
			payload: ``,
		},
		{
			name:    "ph calibrate",
			cmd:     func(t *testing.T) Command { return mustBuild(t)(CalibrateSensor(SensorPH, 7)) },
			topic:   "sensei/pHSensor/calibrate",
			payload: `{"target":7}`,
		},
		{
			name:    "ph factory reset",
			cmd:     func(t *testing.T) Command { return mustBuild(t)(FactoryResetSensor(SensorPH)) },
			topic:   "sensei/pHSensor/factoryReset",
			payload: ``,
		},
		{
			name:    "ec calibrate",
			cmd:     func(t *testing.T) Command { return mustBuild(t)(CalibrateSensor(SensorEC, 1.413)) },
			topic:   "sensei/ecSensor/calibrate",
			payload: `{"target":1.413}`,
		},
		{
			name:    "ec factory reset",
			cmd:     func(t *testing.T) Command { return mustBuild(t)(FactoryResetSensor(SensorEC)) },
			topic:   "sensei/ecSensor/factoryReset",
			payload: ``,
		},
		{
			name:    "doser manager config",
			cmd:     func(t *testing.T) Command { return mustBuild(t)(SetDoserManagerConfig(4)) },
			topic:   "sensei/doserManager/setConfig",
			payload: `{"config":{"maxParallelDosers":4}}`,
		},
		{
			name:    "doser manager reset",
			cmd:     func(*testing.T) Command { return ResetDoserManager() },
			topic:   "sensei/doserManager/reset",
			payload: ``,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := tt.cmd(t)
			if cmd.Topic != tt.topic {
				t.Errorf("topic = %q, want %q", cmd.Topic, tt.topic)
			}
			if string(cmd.Payload) != tt.payload {
				t.Errorf("payload = %s, want %s", cmd.Payload, tt.payload)
			}
		})
	}
}

func TestStartNutrientController_FiltersSchedule(t *testing.T) {
	cmd, err := StartNutrientController(NutrientConfig{
		Schedule: Schedule{0: 5, 1: 0, 2: -1},
	})
	if err != nil {
		t.Fatalf("StartNutrientController error: %v", err)
	}

	var got struct {
		Config struct {
			Schedule map[string]float64 `json:"schedule"`
		} `json:"config"`
	}
	if err := json.Unmarshal(cmd.Payload, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got.Config.Schedule) != 1 || got.Config.Schedule["0"] != 5 {
		t.Errorf("schedule = %v, want map[0:5]", got.Config.Schedule)
	}
}

func TestStartNutrientController_EmptySchedule(t *testing.T) {
	cmd, err := StartNutrientController(NutrientConfig{})
	if err != nil {
		t.Fatalf("StartNutrientController error: %v", err)
	}
	want := `{"config":{"target":0,"acceptedError":0,"adjustmentInterval":0,"flowRate":0,"schedule":{}}}`
	if string(cmd.Payload) != want {
		t.Errorf("payload = %s, want %s", cmd.Payload, want)
	}
}

func TestStartPHController_NumericRoundTrip(t *testing.T) {
	in := PHConfig{
		Target:         6.123456789012345,
		AcceptedError:  0.1 + 0.2,
		AdjustInterval: 99.9,
		FlowRate:       59.99999,
		DoseAmount:     0.001,
		PHDownDoser:    7,
		PHUpDoser:      NoDoser,
	}
	cmd, err := StartPHController(in)
	if err != nil {
		t.Fatalf("StartPHController error: %v", err)
	}

	var got struct {
		Config PHConfig `json:"config"`
	}
	if err := json.Unmarshal(cmd.Payload, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Config != in {
		t.Errorf("round trip = %+v, want %+v", got.Config, in)
	}
}

func TestBuild_RejectsNonFinite(t *testing.T) {
	if _, err := DoserOn(0, math.NaN()); err == nil {
		t.Error("DoserOn(NaN) should fail to encode")
	}
}

func TestSensor(t *testing.T) {
	for _, in := range []string{"ph", "PH", " ec "} {
		if _, err := ParseSensor(in); err != nil {
			t.Errorf("ParseSensor(%q) error: %v", in, err)
		}
	}
	if _, err := ParseSensor("orp"); !errors.Is(err, ErrUnknownSensor) {
		t.Errorf("ParseSensor(orp) = %v, want ErrUnknownSensor", err)
	}
	if _, err := CalibrateSensor("orp", 1); !errors.Is(err, ErrUnknownSensor) {
		t.Errorf("CalibrateSensor(orp) = %v, want ErrUnknownSensor", err)
	}
	if _, err := FactoryResetSensor("orp"); !errors.Is(err, ErrUnknownSensor) {
		t.Errorf("FactoryResetSensor(orp) = %v, want ErrUnknownSensor", err)
	}
}

func TestSchedule_TotalSparse(t *testing.T) {
	s := Schedule{2: 0.5, 5: 0.25, 7: 0}
	if got := s.Total(); got != 0.75 {
		t.Errorf("Total() = %v, want 0.75", got)
	}
	if got := s.DoseMinutes(0.25); got != 3 {
		t.Errorf("DoseMinutes(0.25) = %v, want 3", got)
	}
	if got := s.DoseMinutes(0); !math.IsInf(got, 1) {
		t.Errorf("DoseMinutes(0) = %v, want +Inf", got)
	}
}

func TestSchedule_PositiveDoesNotMutate(t *testing.T) {
	s := Schedule{0: 1, 1: -1}
	_ = s.Positive()
	if len(s) != 2 {
		t.Errorf("Positive() mutated the receiver: %v", s)
	}
}
