// Package sim provides a small vehicle plant and a scenario runner for
// closed-loop testing and offline replay. The plant is deliberately simple;
// it only needs enough dynamics for the controllers to have something to
// converge against.
package sim

import (
	"math"

	"github.com/banshee-data/drive.control/internal/actuation"
	"github.com/banshee-data/drive.control/internal/rt"
	"github.com/banshee-data/drive.control/internal/vehicle"
)

// steerRateGainDegPerS maps one unit of normalized steer torque to a steering
// wheel rate.
const steerRateGainDegPerS = 60.0

// angleTrackTau is the first-order time constant an angle-steer rack tracks
// its setpoint with.
const angleTrackTau = 0.15 // s

// Plant integrates a point-mass longitudinal model and a steering rack
// driven by the actuator command.
type Plant struct {
	cp    *vehicle.CarParams
	model *vehicle.Model

	// Plant state.
	VEgo             float64
	AEgo             float64
	SteeringAngleDeg float64

	// Driver inputs injected by the scenario.
	DriverTorqueNm float64
	GasPressed     bool
	BrakePressed   bool
}

// NewPlant returns a plant at standstill.
func NewPlant(cp *vehicle.CarParams) *Plant {
	return &Plant{cp: cp, model: vehicle.NewModel(cp)}
}

// Step advances the plant by dt under the given actuator command.
func (p *Plant) Step(cmd actuation.Command, dt float64) {
	// Longitudinal: the actuator tracks the accel request directly.
	accel := 0.0
	if cmd.LongActive {
		accel = cmd.Accel
	}
	if p.BrakePressed {
		accel = math.Min(accel, -2.0)
	}
	p.AEgo = accel
	p.VEgo += accel * dt
	if p.VEgo < 0 {
		p.VEgo = 0
	}

	// Lateral: torque moves the wheel at a bounded rate, an angle command is
	// tracked first-order. Driver torque adds on top of the controller's.
	switch p.cp.SteerControlType {
	case vehicle.SteerControlAngle:
		if cmd.LatActive {
			p.SteeringAngleDeg += (cmd.SteeringAngleDeg - p.SteeringAngleDeg) * dt / angleTrackTau
		}
	default:
		torque := p.DriverTorqueNm / 3.0 // normalize driver Nm to command scale
		if cmd.LatActive {
			torque += cmd.SteerTorque
		}
		p.SteeringAngleDeg += torque * steerRateGainDegPerS * dt
	}
	if p.SteeringAngleDeg > p.cp.MaxSteerAngleDeg {
		p.SteeringAngleDeg = p.cp.MaxSteerAngleDeg
	}
	if p.SteeringAngleDeg < -p.cp.MaxSteerAngleDeg {
		p.SteeringAngleDeg = -p.cp.MaxSteerAngleDeg
	}
}

// State snapshots the plant as a vehicle state sample.
func (p *Plant) State() vehicle.State {
	return vehicle.State{
		VEgo:             p.VEgo,
		AEgo:             p.AEgo,
		SteeringAngleDeg: p.SteeringAngleDeg,
		SteeringTorque:   p.DriverTorqueNm,
		SteeringPressed:  math.Abs(p.DriverTorqueNm) > 3.0,
		GasPressed:       p.GasPressed,
		BrakePressed:     p.BrakePressed,
		Standstill:       p.VEgo < 0.01,
		CANValid:         true,
	}
}

// Curvature returns the plant's current path curvature.
func (p *Plant) Curvature() float64 {
	return p.model.CalcCurvature(p.SteeringAngleDeg*math.Pi/180, math.Max(p.VEgo, 1), 0)
}

// DT is the plant integration step, matching the control period.
const DT = rt.DTCtrl
