package latctl

import (
	"math"

	"github.com/banshee-data/drive.control/internal/units"
	"github.com/banshee-data/drive.control/internal/vehicle"
)

// AngleSaturationThresholdDeg is the commanded-vs-actual divergence past
// which angle control counts as saturated. Angle-steer vehicles limit torque
// in their own EPS, so divergence is the only saturation signal available.
const AngleSaturationThresholdDeg = 2.5

// Angle is the controller for vehicles that accept a road wheel angle
// command directly: no feedback loop is needed, only the model conversion
// and the physical angle clamp.
type Angle struct {
	model       *vehicle.Model
	sat         satTracker
	maxAngleDeg float64
}

// NewAngle builds the angle variant from the session tuning.
func NewAngle(cp *vehicle.CarParams, m *vehicle.Model) *Angle {
	return &Angle{
		model:       m,
		sat:         newSatTracker(cp.SteerLimitTimer, 5.0),
		maxAngleDeg: cp.MaxSteerAngleDeg,
	}
}

// Reset clears the saturation counter.
func (c *Angle) Reset() { c.sat.reset() }

// Update implements Controller.
func (c *Angle) Update(in Inputs) Output {
	if !in.Active {
		c.Reset()
		// Hold the measured angle so the handoff is seamless.
		return Output{AngleDeg: in.State.SteeringAngleDeg}
	}

	desired := units.Degrees(c.model.SteerFromCurvature(in.DesiredCurvature, in.State.VEgo, in.Live.Roll))
	desired += in.Live.AngleOffsetDeg
	desired = clamp(desired, -c.maxAngleDeg, c.maxAngleDeg)

	saturated := math.Abs(desired-in.State.SteeringAngleDeg) > AngleSaturationThresholdDeg
	return Output{
		Active:    true,
		AngleDeg:  desired,
		Error:     desired - in.State.SteeringAngleDeg,
		Saturated: c.sat.check(saturated, in),
	}
}
