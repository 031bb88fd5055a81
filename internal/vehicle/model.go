package vehicle

import "math"

// AccelDueToGravity is used for road roll compensation.
const AccelDueToGravity = 9.81 // m/s^2

// minModelSpeed floors the speed used in curvature math so standstill does
// not divide by zero.
const minModelSpeed = 1.0 // m/s

// referenceTireStiffness is the lumped per-axle cornering stiffness (N/rad)
// the live stiffness factor scales. With it, mass over wheelbase sets the
// baseline understeer gradient for the platform.
const referenceTireStiffness = 2.0e5

// Model is a kinematic bicycle model relating steering angle and path
// curvature. Steer ratio and stiffness factor are live-tuned and updated
// between cycles via UpdateParams.
type Model struct {
	wheelbase  float64
	steerRatio float64
	stiffness  float64
	understeer float64 // baseline understeer gradient, from mass and wheelbase
}

// NewModel builds a Model from the session CarParams.
func NewModel(cp *CarParams) *Model {
	return &Model{
		wheelbase:  cp.Wheelbase,
		steerRatio: cp.SteerRatio,
		stiffness:  1.0,
		understeer: cp.Mass / (cp.Wheelbase * referenceTireStiffness),
	}
}

// UpdateParams applies live-tuned stiffness and steer ratio. Values are
// floored away from zero so a bad learner sample cannot blow up the model.
func (m *Model) UpdateParams(stiffnessFactor, steerRatio float64) {
	m.stiffness = math.Max(stiffnessFactor, 0.1)
	m.steerRatio = math.Max(steerRatio, 0.1)
}

// SteerRatio returns the current (possibly live-tuned) steer ratio.
func (m *Model) SteerRatio() float64 { return m.steerRatio }

// curvatureFactor is the speed-dependent understeer correction. Stiffness
// below 1.0 increases understeer, shrinking achieved curvature at speed.
func (m *Model) curvatureFactor(vEgo float64) float64 {
	return 1.0 / (1.0 + (m.understeer/m.stiffness)*vEgo*vEgo)
}

// CalcCurvature returns path curvature (1/m) for a road wheel angle input
// (rad), compensating for road roll.
func (m *Model) CalcCurvature(steerAngleRad, vEgo, roll float64) float64 {
	v := math.Max(vEgo, minModelSpeed)
	return (steerAngleRad/m.steerRatio)/m.wheelbase*m.curvatureFactor(v) - m.RollCompensation(roll, v)
}

// SteerFromCurvature is the inverse of CalcCurvature: the steering wheel
// angle (rad) that yields the desired curvature at the given speed and roll.
func (m *Model) SteerFromCurvature(curvature, vEgo, roll float64) float64 {
	v := math.Max(vEgo, minModelSpeed)
	return (curvature + m.RollCompensation(roll, v)) * m.steerRatio * m.wheelbase / m.curvatureFactor(v)
}

// RollCompensation is the curvature produced by road roll alone.
func (m *Model) RollCompensation(roll, vEgo float64) float64 {
	v := math.Max(vEgo, minModelSpeed)
	return roll * AccelDueToGravity / (v * v)
}
