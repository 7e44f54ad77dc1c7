package dashboard

import (
	"fmt"
	"math"
)

// Range bounds one adjustable parameter. Step is advisory and only used
// by the HTML controls; values are clamped, never snapped.
type Range struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

// Clamp limits v to [Min, Max]. NaN becomes Min.
func (r Range) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return r.Min
	}
	return math.Max(r.Min, math.Min(r.Max, v))
}

// Parameter ranges offered by the dashboard controls.
var (
	PHTargetRange         = Range{0, 14, 0.1}
	PHAcceptedErrorRange  = Range{0, 1, 0.01}
	PHAdjustIntervalRange = Range{0, 100, 1}
	PHDoseAmountRange     = Range{0, 10, 0.1}

	ECTargetRange         = Range{0, 4, 0.1}
	ECAcceptedErrorRange  = Range{0, 1, 0.01}
	ECAdjustIntervalRange = Range{0, 120, 1}

	ControllerFlowRateRange = Range{0, 60, 1}
	ScheduleAmountRange     = Range{0, 1, 0.01}
	CalibrationTargetRange  = Range{0, 14, 0.1}
	MaxParallelDosersRange  = Range{1, 8, 1}
)

// DefaultDoserFlowRate is the manual run rate before the operator picks one.
const DefaultDoserFlowRate = 60

// PHParams are the tunable pH controller settings.
type PHParams struct {
	Target         float64 `json:"target"`
	AcceptedError  float64 `json:"accepted_error"`
	AdjustInterval float64 `json:"adjust_interval"`
	FlowRate       float64 `json:"flow_rate"`
	DoseAmount     float64 `json:"dose_amount"`
}

func (p PHParams) clamped() PHParams {
	return PHParams{
		Target:         PHTargetRange.Clamp(p.Target),
		AcceptedError:  PHAcceptedErrorRange.Clamp(p.AcceptedError),
		AdjustInterval: PHAdjustIntervalRange.Clamp(p.AdjustInterval),
		FlowRate:       ControllerFlowRateRange.Clamp(p.FlowRate),
		DoseAmount:     PHDoseAmountRange.Clamp(p.DoseAmount),
	}
}

// NutrientParams are the tunable nutrient controller settings.
type NutrientParams struct {
	Target             float64 `json:"target"`
	AcceptedError      float64 `json:"accepted_error"`
	AdjustmentInterval float64 `json:"adjustment_interval"`
	FlowRate           float64 `json:"flow_rate"`
}

func (p NutrientParams) clamped() NutrientParams {
	return NutrientParams{
		Target:             ECTargetRange.Clamp(p.Target),
		AcceptedError:      ECAcceptedErrorRange.Clamp(p.AcceptedError),
		AdjustmentInterval: ECAdjustIntervalRange.Clamp(p.AdjustmentInterval),
		FlowRate:           ControllerFlowRateRange.Clamp(p.FlowRate),
	}
}

// ControllerState is the run state of one feedback controller.
type ControllerState int

const (
	Stopped ControllerState = iota
	Running
)

func (c ControllerState) String() string {
	if c == Running {
		return "running"
	}
	return "stopped"
}

// MarshalText renders the state as "stopped" or "running".
func (c ControllerState) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func stateFromRunning(running bool) ControllerState {
	if running {
		return Running
	}
	return Stopped
}

// Role is a pH dosing duty a doser can be assigned to.
type Role int

const (
	RolePHDown Role = iota
	RolePHUp
)

func (r Role) String() string {
	switch r {
	case RolePHDown:
		return "ph_down"
	case RolePHUp:
		return "ph_up"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// ParseRole maps "down"/"ph_down" and "up"/"ph_up" to a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "down", "ph_down":
		return RolePHDown, nil
	case "up", "ph_up":
		return RolePHUp, nil
	default:
		return 0, fmt.Errorf("unknown pH doser role %q", s)
	}
}
