package dashboard

import (
	"time"

	"github.com/cultimatics/growstudio/internal/commands"
	"github.com/cultimatics/growstudio/internal/sensei"
)

// View is an immutable snapshot of everything the dashboard renders.
type View struct {
	Connected       bool                `json:"connected"`
	LastSeen        time.Time           `json:"last_seen"`
	SinceLastSeenMS int64               `json:"since_last_seen_ms"`
	Status          *sensei.Status      `json:"status,omitempty"`
	StatusAt        time.Time           `json:"status_at"`
	LastError       *sensei.DeviceError `json:"last_error,omitempty"`

	PH                PHView          `json:"ph_controller"`
	Nutrient          NutrientView    `json:"nutrient_controller"`
	Dosers            []DoserView     `json:"dosers"`
	Calibration       CalibrationView `json:"calibration"`
	MaxParallelDosers int             `json:"max_parallel_dosers"`
}

// PHView is the pH controller card.
type PHView struct {
	Params      PHParams        `json:"params"`
	DownDoser   int             `json:"ph_down_doser"`
	UpDoser     int             `json:"ph_up_doser"`
	DownOptions []int           `json:"ph_down_options"`
	UpOptions   []int           `json:"ph_up_options"`
	State       ControllerState `json:"state"`
}

// NutrientView is the nutrient controller card.
type NutrientView struct {
	Params   NutrientParams  `json:"params"`
	Schedule []ScheduleRow   `json:"schedule"`
	Total    float64         `json:"total_ml_per_l"`
	State    ControllerState `json:"state"`

	// DoseMinutes is nil when the flow rate is zero, which renders as "inf".
	DoseMinutes *float64 `json:"dose_minutes"`
}

// ScheduleRow is one doser's line in the nutrient schedule.
type ScheduleRow struct {
	DoserID  int     `json:"doser_id"`
	Amount   float64 `json:"amount"`
	ReadOnly bool    `json:"read_only"`
}

// DoserView is one manual doser control.
type DoserView struct {
	ID          int     `json:"id"`
	MaxFlowRate float64 `json:"max_flow_rate"`
	FlowRate    float64 `json:"flow_rate"`
	PHRole      bool    `json:"ph_role"`
}

// CalibrationView holds the reference values for the next calibration.
type CalibrationView struct {
	PH float64 `json:"ph"`
	EC float64 `json:"ec"`
}

// View returns the current snapshot.
func (s *State) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *State) viewLocked() View {
	live := s.monitor.Status()
	v := View{
		Connected:       live.Connected,
		LastSeen:        live.LastSeen,
		SinceLastSeenMS: live.SinceLastSeenMS(),
		StatusAt:        s.statusAt,
		PH: PHView{
			Params:      s.ph,
			DownDoser:   s.phDown,
			UpDoser:     s.phUp,
			DownOptions: s.phDoserOptionsLocked(RolePHDown),
			UpOptions:   s.phDoserOptionsLocked(RolePHUp),
			State:       s.phState,
		},
		Nutrient: NutrientView{
			Params: s.nutrient,
			Total:  s.schedule.Total(),
			State:  s.nutState,
		},
		Calibration: CalibrationView{
			PH: s.calibration[commands.SensorPH],
			EC: s.calibration[commands.SensorEC],
		},
		MaxParallelDosers: s.maxParallel,
	}
	if s.status != nil {
		st := s.status.Clone()
		v.Status = &st
	}
	if s.lastError != nil {
		de := *s.lastError
		v.LastError = &de
	}
	if s.nutrient.FlowRate != 0 {
		m := s.schedule.DoseMinutes(s.nutrient.FlowRate)
		v.Nutrient.DoseMinutes = &m
	}

	n := s.numDosersLocked()
	v.Nutrient.Schedule = make([]ScheduleRow, n)
	v.Dosers = make([]DoserView, n)
	for i := range n {
		onPH := s.assignment.Has(i)
		row := ScheduleRow{DoserID: i, ReadOnly: onPH}
		if !onPH {
			row.Amount = s.schedule[i]
		}
		v.Nutrient.Schedule[i] = row
		v.Dosers[i] = DoserView{
			ID:          i,
			MaxFlowRate: s.status.Dosers[i].MaxFlowRate,
			FlowRate:    s.doserFlowLocked(i),
			PHRole:      onPH,
		}
	}
	return v
}
