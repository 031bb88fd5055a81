// Package longctl computes the acceleration command: a PID loop closed
// around the planned acceleration, compensating for plan/actual speed
// tracking error, with dedicated stopping and starting phases around
// standstill. Output is always clamped to the vehicle's declared
// acceleration limits and slewed by its jerk limit.
package longctl

import (
	"math"

	"github.com/banshee-data/drive.control/internal/pid"
	"github.com/banshee-data/drive.control/internal/rt"
	"github.com/banshee-data/drive.control/internal/vehicle"
)

// State is the longitudinal control phase.
type State string

const (
	StateOff      State = "off"
	StatePID      State = "pid"
	StateStopping State = "stopping"
	StateStarting State = "starting"
)

// startingAccel is the gentle creep used to come off the brakes before the
// PID loop takes over.
const startingAccel = 0.6 // m/s^2

// Inputs is the per-cycle input to the controller.
type Inputs struct {
	Active bool // longitudinal authority held this cycle
	State  vehicle.State
	Plan   vehicle.LongitudinalPlan
}

// Output is the acceleration command plus published controller state.
type Output struct {
	Accel     float64 // m/s^2, clamped and jerk-limited
	State     State
	Saturated bool

	P float64
	I float64
	F float64
}

// Controller is the longitudinal controller. Single-threaded; owned by the
// cycle orchestrator.
type Controller struct {
	cp  *vehicle.CarParams
	pid *pid.Controller

	state     State
	prevAccel float64
}

// New builds the controller from the session CarParams.
func New(cp *vehicle.CarParams) *Controller {
	t := cp.LongitudinalPID
	return &Controller{
		cp: cp,
		pid: pid.New(
			pid.Gain{BP: t.KpBP, V: t.KpV},
			pid.Gain{BP: t.KiBP, V: t.KiV},
			t.Kf, cp.AccelMax, cp.AccelMin, rt.DTCtrl),
		state: StateOff,
	}
}

// State returns the current phase.
func (c *Controller) State() State { return c.state }

// Reset clears the PID and returns to the off phase with a neutral command.
func (c *Controller) Reset() {
	c.pid.Reset()
	c.state = StateOff
	c.prevAccel = 0
}

// transition advances the phase machine. Stopping wins over everything while
// the plan wants a stop; starting bridges standstill back to the PID loop.
func (c *Controller) transition(in Inputs) {
	if !in.Active {
		c.state = StateOff
		return
	}

	// The dedicated stopping phase takes over only near standstill; above
	// VEgoStopping the PID loop keeps tracking the plan's decel profile.
	stopping := in.Plan.ShouldStop && in.State.VEgo < c.cp.VEgoStopping
	starting := !in.Plan.ShouldStop && in.State.VEgo < c.cp.VEgoStarting

	switch c.state {
	case StateOff:
		if stopping {
			c.state = StateStopping
		} else {
			c.state = StatePID
		}
	case StatePID:
		if stopping {
			c.state = StateStopping
		}
	case StateStopping:
		if starting {
			c.state = StateStarting
		}
	case StateStarting:
		switch {
		case stopping:
			c.state = StateStopping
		case in.State.VEgo > c.cp.VEgoStarting:
			c.state = StatePID
		}
	}
}

// Update computes one cycle's acceleration command.
func (c *Controller) Update(in Inputs) Output {
	c.transition(in)

	var accel float64
	switch c.state {
	case StateOff:
		c.pid.Reset()
		accel = 0
		c.prevAccel = 0

	case StateStopping:
		// Walk the command down to the hold accel at the declared rate; never
		// command positive acceleration while stopping.
		c.pid.Reset()
		accel = math.Min(c.prevAccel, 0)
		if accel > c.cp.StopAccel {
			accel -= c.cp.StoppingDecelRate * rt.DTCtrl
		}
		accel = math.Max(accel, c.cp.StopAccel)

	case StateStarting:
		c.pid.Reset()
		accel = startingAccel

	case StatePID:
		speedErr := in.Plan.VTarget - in.State.VEgo
		accel = c.pid.Update(speedErr, pid.UpdateOpts{
			Feedforward: in.Plan.ATarget,
			Speed:       in.State.VEgo,
		})
	}

	out := Output{State: c.state, P: c.pid.P, I: c.pid.I, F: c.pid.F}
	out.Accel, out.Saturated = c.clampAndSlew(accel)
	c.prevAccel = out.Accel
	return out
}

// clampAndSlew applies the declared accel bounds and jerk limit. The
// saturated flag reports only the accel clamp: jerk slewing is the normal
// shaping of every aggressive request.
func (c *Controller) clampAndSlew(accel float64) (float64, bool) {
	clamped := math.Min(math.Max(accel, c.cp.AccelMin), c.cp.AccelMax)
	saturated := clamped != accel

	maxStep := c.cp.JerkLimit * rt.DTCtrl
	slewed := math.Min(math.Max(clamped, c.prevAccel-maxStep), c.prevAccel+maxStep)
	return slewed, saturated
}
