// Package latctl computes the steering command. Three interchangeable
// controllers implement the same contract; the variant is selected once per
// session from the vehicle capability descriptor and never changes
// mid-session. Sign convention throughout: positive curvature, angle and
// torque all mean a left turn.
package latctl

import (
	"fmt"

	"github.com/banshee-data/drive.control/internal/rt"
	"github.com/banshee-data/drive.control/internal/vehicle"
)

// SteerMax is the normalized steer torque scale: outputs live in
// [-SteerMax, SteerMax].
const SteerMax = 1.0

// Inputs is the per-cycle input to a lateral controller.
type Inputs struct {
	Active bool // lateral authority held this cycle
	State  vehicle.State
	Live   vehicle.LiveParameters

	DesiredCurvature float64 // already rate/accel clipped (1/m)
	CurvatureLimited bool    // the clip bound this cycle

	// SteerLimitedByControls is true when the vehicle interface reported the
	// previous command was cut down by its own rate/torque limiter; such
	// cycles do not count toward saturation.
	SteerLimitedByControls bool
}

// Output is the steering command plus the published controller state.
type Output struct {
	Torque    float64 // [-1..1]; zero for angle-steer vehicles
	AngleDeg  float64 // desired road wheel angle; zero for torque PID variant
	Saturated bool
	Active    bool

	// Controller internals for the controls-state stream.
	Error float64
	P     float64
	I     float64
	F     float64
}

// Controller is the lateral control contract.
type Controller interface {
	// Update computes one cycle's steering command. With Active false the
	// command is neutral and internal state resets, so re-engagement starts
	// without a discontinuity.
	Update(in Inputs) Output
	// Reset clears integrators, filters and saturation accounting.
	Reset()
}

// ForCarParams selects the session's controller from the capability
// descriptor.
func ForCarParams(cp *vehicle.CarParams, m *vehicle.Model) (Controller, error) {
	if cp.SteerControlType == vehicle.SteerControlAngle {
		return NewAngle(cp, m), nil
	}
	switch cp.LateralTuning {
	case vehicle.LateralTuningPID:
		return NewPID(cp, m), nil
	case vehicle.LateralTuningTorque:
		return NewTorque(cp, m), nil
	}
	return nil, fmt.Errorf("latctl: no controller for steer type %q tuning %q",
		cp.SteerControlType, cp.LateralTuning)
}

// satTracker accumulates time spent saturated. The flag only latches after
// steerLimitTimer seconds of continuous saturation above a minimum speed, so
// momentary clamping does not alarm the driver.
type satTracker struct {
	limit    float64 // seconds
	minSpeed float64 // m/s
	count    float64
}

func newSatTracker(limitSeconds, minSpeed float64) satTracker {
	return satTracker{limit: limitSeconds, minSpeed: minSpeed}
}

func (s *satTracker) reset() { s.count = 0 }

func (s *satTracker) check(saturated bool, in Inputs) bool {
	// Output being limited by the car's own limiter, or by the driver, is
	// not controller saturation.
	charging := (saturated || in.CurvatureLimited) &&
		in.State.VEgo > s.minSpeed &&
		!in.SteerLimitedByControls &&
		!in.State.SteeringPressed
	if charging {
		s.count += rt.DTCtrl
	} else {
		s.count -= rt.DTCtrl
	}
	if s.count < 0 {
		s.count = 0
	}
	if s.count > s.limit {
		s.count = s.limit
	}
	return s.count > s.limit-1e-3
}
