package sensei

import (
	"testing"
	"time"
)

func TestDecodeStatus(t *testing.T) {
	payload := []byte(`{"ph":6.25,"ec":1.5,"dosers":[{"maxFlowRate":60},{"maxFlowRate":45.5}],"pHControllerRunning":true,"nutrientControllerRunning":false}`)

	st, err := DecodeStatus(payload)
	if err != nil {
		t.Fatalf("DecodeStatus error: %v", err)
	}
	if st.PH != 6.25 || st.EC != 1.5 {
		t.Errorf("readings = (%v, %v), want (6.25, 1.5)", st.PH, st.EC)
	}
	if len(st.Dosers) != 2 || st.Dosers[1].MaxFlowRate != 45.5 {
		t.Errorf("dosers = %+v", st.Dosers)
	}
	if !st.PHControllerRunning || st.NutrientControllerRunning {
		t.Errorf("controller flags = (%v, %v), want (true, false)", st.PHControllerRunning, st.NutrientControllerRunning)
	}
}

func TestDecodeStatus_ZeroReadingsAreValid(t *testing.T) {
	st, err := DecodeStatus([]byte(`{"ph":0,"ec":0}`))
	if err != nil {
		t.Fatalf("DecodeStatus error: %v", err)
	}
	if st.Dosers != nil {
		t.Errorf("dosers = %v, want nil", st.Dosers)
	}
}

func TestDecodeStatus_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty", ``},
		{"not json", `ph=7`},
		{"missing ec", `{"ph":7}`},
		{"wrong type", `{"ph":"7","ec":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeStatus([]byte(tt.payload)); err == nil {
				t.Errorf("DecodeStatus(%q) should fail", tt.payload)
			}
		})
	}
}

func TestStatus_CloneIsDeep(t *testing.T) {
	orig := Status{Dosers: []Doser{{MaxFlowRate: 60}}}
	c := orig.Clone()
	c.Dosers[0].MaxFlowRate = 1
	if orig.Dosers[0].MaxFlowRate != 60 {
		t.Error("Clone shares the dosers slice")
	}
}

func TestDecodeDeviceError(t *testing.T) {
	at := time.Unix(1700000000, 0)
	de, err := DecodeDeviceError([]byte("  doser 3 timeout\n"), at)
	if err != nil {
		t.Fatalf("DecodeDeviceError error: %v", err)
	}
	if de.Message != "doser 3 timeout" || !de.At.Equal(at) {
		t.Errorf("DeviceError = %+v", de)
	}
	if _, err := DecodeDeviceError([]byte("   "), at); err == nil {
		t.Error("blank payload should fail")
	}
}
