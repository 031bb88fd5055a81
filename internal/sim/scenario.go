package sim

import (
	"encoding/json"
	"fmt"
	"os"
)

// Scenario defines a scripted drive: what the planner asks for and what the
// driver does, over time.
type Scenario struct {
	Name     string    `json:"name"`
	Duration float64   `json:"duration_s"`
	Segments []Segment `json:"segments"`
}

// Segment is one time slice of the scenario. A negative T1 runs to the end.
type Segment struct {
	T0 float64 `json:"t0"`
	T1 float64 `json:"t1"`

	Engage           bool    `json:"engage"`
	DesiredCurvature float64 `json:"desired_curvature,omitempty"`
	VTarget          float64 `json:"v_target_mps,omitempty"`

	DriverTorqueNm float64 `json:"driver_torque_nm,omitempty"`
	GasPressed     bool    `json:"gas_pressed,omitempty"`
	BrakePressed   bool    `json:"brake_pressed,omitempty"`

	Comment string `json:"comment,omitempty"`
}

// LoadScenario loads a scenario from a JSON file.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	var scen Scenario
	if err := json.Unmarshal(data, &scen); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario: %w", err)
	}
	if scen.Duration <= 0 {
		return Scenario{}, fmt.Errorf("invalid duration_s: %f", scen.Duration)
	}
	return scen, nil
}

// Eval returns the active segment at time t, or the zero segment when no
// segment covers t.
func (s *Scenario) Eval(t float64) Segment {
	for _, seg := range s.Segments {
		t1 := seg.T1
		if t1 < 0 {
			t1 = s.Duration
		}
		if t >= seg.T0 && t < t1 {
			return seg
		}
	}
	return Segment{}
}
