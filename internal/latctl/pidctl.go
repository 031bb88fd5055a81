package latctl

import (
	"github.com/banshee-data/drive.control/internal/pid"
	"github.com/banshee-data/drive.control/internal/rt"
	"github.com/banshee-data/drive.control/internal/units"
	"github.com/banshee-data/drive.control/internal/vehicle"
)

// PID is the steering-angle-domain controller: the desired curvature is
// converted to a desired road wheel angle through the vehicle model and a
// PID loop drives the angle error to zero with a kinematic feedforward.
type PID struct {
	pid   *pid.Controller
	model *vehicle.Model
	sat   satTracker
}

// NewPID builds the PID variant from the session tuning.
func NewPID(cp *vehicle.CarParams, m *vehicle.Model) *PID {
	t := cp.LateralPID
	return &PID{
		pid: pid.New(
			pid.Gain{BP: t.KpBP, V: t.KpV},
			pid.Gain{BP: t.KiBP, V: t.KiV},
			t.Kf, SteerMax, -SteerMax, rt.DTCtrl),
		model: m,
		sat:   newSatTracker(cp.SteerLimitTimer, 10.0),
	}
}

// Reset clears the PID integrator and the saturation counter.
func (c *PID) Reset() {
	c.pid.Reset()
	c.sat.reset()
}

// Update implements Controller.
func (c *PID) Update(in Inputs) Output {
	desiredNoOffset := units.Degrees(c.model.SteerFromCurvature(in.DesiredCurvature, in.State.VEgo, in.Live.Roll))
	desiredAngle := desiredNoOffset + in.Live.AngleOffsetDeg
	angleErr := desiredAngle - in.State.SteeringAngleDeg

	out := Output{AngleDeg: desiredAngle, Error: angleErr}
	if !in.Active {
		c.Reset()
		return out
	}

	// The offset does not contribute to resistive torque, so feedforward
	// comes from the offset-free angle.
	ff := desiredNoOffset * in.State.VEgo * in.State.VEgo
	torque := c.pid.Update(angleErr, pid.UpdateOpts{
		Feedforward: ff,
		Speed:       in.State.VEgo,
		Override:    in.State.SteeringPressed,
	})

	out.Active = true
	out.Torque = torque
	out.P = c.pid.P
	out.I = c.pid.I
	out.F = c.pid.F
	out.Saturated = c.sat.check(SteerMax-abs(torque) < 1e-3, in)
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
