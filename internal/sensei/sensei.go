// Package sensei models the messages the Sensei controller board
// publishes: the periodic status broadcast and free-text error reports.
package sensei

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Doser describes one pump attached to the board.
type Doser struct {
	MaxFlowRate float64 `json:"maxFlowRate"`
}

// Status is one decoded status broadcast. Each broadcast replaces the
// previous one wholesale.
type Status struct {
	PH                        float64 `json:"ph"`
	EC                        float64 `json:"ec"`
	Dosers                    []Doser `json:"dosers"`
	PHControllerRunning       bool    `json:"pHControllerRunning"`
	NutrientControllerRunning bool    `json:"nutrientControllerRunning"`
}

// Clone returns a deep copy.
func (s Status) Clone() Status {
	s.Dosers = append([]Doser(nil), s.Dosers...)
	return s
}

// DecodeStatus parses a status payload. Both sensor readings must be
// present; everything else defaults to its zero value.
func DecodeStatus(payload []byte) (Status, error) {
	var raw struct {
		PH *float64 `json:"ph"`
		EC *float64 `json:"ec"`
		Status
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Status{}, fmt.Errorf("decode status: %w", err)
	}
	if raw.PH == nil || raw.EC == nil {
		return Status{}, errors.New("decode status: missing ph or ec reading")
	}
	st := raw.Status
	st.PH, st.EC = *raw.PH, *raw.EC
	return st, nil
}

// DeviceError is an exception message the board reported on its error topic.
type DeviceError struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// DecodeDeviceError wraps a plain-text error payload received at at.
func DecodeDeviceError(payload []byte, at time.Time) (DeviceError, error) {
	msg := strings.TrimSpace(string(payload))
	if msg == "" {
		return DeviceError{}, errors.New("decode device error: empty message")
	}
	return DeviceError{Message: msg, At: at}, nil
}
