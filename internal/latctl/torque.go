package latctl

import (
	"math"

	"github.com/banshee-data/drive.control/internal/pid"
	"github.com/banshee-data/drive.control/internal/rt"
	"github.com/banshee-data/drive.control/internal/units"
	"github.com/banshee-data/drive.control/internal/vehicle"
)

// At 25+ mph the torque applied to the steering rack correlates to lateral
// acceleration, largely independent of speed. This controller therefore
// works in the lateral-acceleration domain; below that a speed-dependent
// factor re-weights plain curvature error back in, and steering rack
// friction is compensated separately.

var (
	lowSpeedBP = []float64{0, 10, 20, 30}
	lowSpeedV  = []float64{15, 13, 10, 5}
)

// integrator freeze below this speed: low-speed torque response is too
// nonlinear to integrate against.
const torqueMinIntegrateSpeed = 5.0 // m/s

// Torque is the lateral-acceleration-domain controller used by vehicles
// whose steering response is best characterized by rack torque. Its model
// parameters are live-tuned mid-session by the external torque learner.
type Torque struct {
	pid   *pid.Controller
	model *vehicle.Model
	sat   satTracker

	latAccelFactor   float64
	latAccelOffset   float64
	friction         float64
	useSteeringAngle bool
	deadzoneDeg      float64
}

// NewTorque builds the torque variant from the session tuning.
func NewTorque(cp *vehicle.CarParams, m *vehicle.Model) *Torque {
	t := cp.LateralTorque
	return &Torque{
		pid: pid.New(
			pid.Constant(t.Kp), pid.Constant(t.Ki),
			t.Kf, SteerMax, -SteerMax, rt.DTCtrl),
		model:            m,
		sat:              newSatTracker(cp.SteerLimitTimer, 10.0),
		latAccelFactor:   t.LatAccelFactor,
		latAccelOffset:   t.LatAccelOffset,
		friction:         t.Friction,
		useSteeringAngle: t.UseSteeringAngle,
		deadzoneDeg:      t.DeadzoneDeg,
	}
}

// UpdateLiveParams applies a learner update between cycles. The factor is
// floored away from zero so a bad sample cannot invert the model.
func (c *Torque) UpdateLiveParams(lp vehicle.LiveTorqueParameters) {
	if !lp.UseParams {
		return
	}
	c.latAccelFactor = math.Max(lp.LatAccelFactor, 0.1)
	c.latAccelOffset = lp.LatAccelOffset
	c.friction = math.Max(lp.FrictionCoefficient, 0)
}

// Reset clears the PID integrator and the saturation counter.
func (c *Torque) Reset() {
	c.pid.Reset()
	c.sat.reset()
}

// torqueFromLatAccel maps a lateral acceleration to normalized rack torque
// through the live linear model; frictionErr adds the friction-breakaway
// compensation proportional to the signed error.
func (c *Torque) torqueFromLatAccel(latAccel, deadzone float64, frictionErr float64, compensateFriction bool) float64 {
	la := applyDeadzone(latAccel, deadzone)
	torque := (la - c.latAccelOffset) / c.latAccelFactor
	if compensateFriction {
		torque += pid.Interp(frictionErr, []float64{-0.3, 0.3}, []float64{-c.friction, c.friction})
	}
	return torque
}

// Update implements Controller.
func (c *Torque) Update(in Inputs) Output {
	if !in.Active {
		c.Reset()
		return Output{}
	}

	v := in.State.VEgo
	actualCurvature := c.model.CalcCurvature(
		units.Radians(in.State.SteeringAngleDeg-in.Live.AngleOffsetDeg), v, in.Live.Roll)
	curvatureDeadzone := 0.0
	if c.useSteeringAngle {
		curvatureDeadzone = math.Abs(c.model.CalcCurvature(units.Radians(c.deadzoneDeg), v, 0))
	}

	desiredLatAccel := in.DesiredCurvature * v * v
	actualLatAccel := actualCurvature * v * v
	latAccelDeadzone := curvatureDeadzone * v * v
	rollCompensation := in.Live.Roll * vehicle.AccelDueToGravity

	// Low-speed factor folds plain curvature error back in where the
	// lateral-acceleration correlation breaks down.
	lsf := pid.Interp(v, lowSpeedBP, lowSpeedV)
	lsf *= lsf
	setpoint := desiredLatAccel + lsf*in.DesiredCurvature
	measurement := actualLatAccel + lsf*actualCurvature

	torqueErr := c.torqueFromLatAccel(setpoint, latAccelDeadzone, 0, false) -
		c.torqueFromLatAccel(measurement, latAccelDeadzone, 0, false)
	ff := c.torqueFromLatAccel(desiredLatAccel-rollCompensation, latAccelDeadzone,
		desiredLatAccel-actualLatAccel, true)

	freeze := in.SteerLimitedByControls || in.State.SteeringPressed || v < torqueMinIntegrateSpeed
	torque := c.pid.Update(torqueErr, pid.UpdateOpts{
		Feedforward:      ff,
		Speed:            v,
		FreezeIntegrator: freeze,
	})

	return Output{
		Active:    true,
		Torque:    torque,
		Error:     torqueErr,
		P:         c.pid.P,
		I:         c.pid.I,
		F:         c.pid.F,
		Saturated: c.sat.check(SteerMax-math.Abs(torque) < 1e-3, in),
	}
}
