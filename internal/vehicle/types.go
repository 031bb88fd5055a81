// Package vehicle defines the read-only snapshot types delivered by external
// collaborators each cycle, and the per-session capability descriptor the
// control core is configured from.
package vehicle

// State is the latest vehicle state sample. It is produced by the vehicle
// interface collaborator and treated as read-only by the control core.
type State struct {
	VEgo             float64 // longitudinal speed (m/s)
	AEgo             float64 // longitudinal acceleration (m/s^2)
	SteeringAngleDeg float64
	SteeringRateDeg  float64
	SteeringTorque   float64 // driver torque at the wheel (Nm, sign = direction)
	SteeringPressed  bool    // driver torque above the override threshold
	GasPressed       bool
	BrakePressed     bool
	Standstill       bool
	LeftBlinker      bool
	RightBlinker     bool
	VCruiseKPH       float64 // cruise set speed as shown to the driver
	CANValid         bool

	SteerFaultTemporary bool
	SteerFaultPermanent bool
	ActuatorFault       bool // vehicle interface reports an actuation failure
}

// LiveParameters is the live-tuned parameter stream from the external
// learner. Values may change between any two cycles.
type LiveParameters struct {
	AngleOffsetDeg  float64
	StiffnessFactor float64
	SteerRatio      float64
	Roll            float64 // road roll (rad), positive = right side low
	Valid           bool
}

// LiveTorqueParameters is the torque-controller learner stream.
type LiveTorqueParameters struct {
	LatAccelFactor      float64
	LatAccelOffset      float64
	FrictionCoefficient float64
	UseParams           bool
}

// LaneChangeDirection mirrors the model's lane change intent.
type LaneChangeDirection int

const (
	LaneChangeNone LaneChangeDirection = iota
	LaneChangeLeft
	LaneChangeRight
)

// ModelOutput is the lateral plan snapshot from the perception model.
type ModelOutput struct {
	DesiredCurvature    float64 // 1/m, positive = left
	LaneChangeActive    bool
	LaneChangeDirection LaneChangeDirection
}

// LongitudinalPlan is the longitudinal plan snapshot from the planner.
type LongitudinalPlan struct {
	ATarget    float64 // target acceleration (m/s^2)
	VTarget    float64 // target speed (m/s)
	ShouldStop bool
	HasLead    bool
	Speeds     []float64 // planned speed trajectory tail (m/s)
}

// Calibration is the camera-to-vehicle calibration snapshot.
type Calibration struct {
	Calibrated  bool
	RollOffset  float64
	PitchOffset float64
	YawOffset   float64
}

// RadarState carries the lead vehicle estimate from radar processing.
type RadarState struct {
	LeadValid bool
	LeadDRel  float64 // distance to lead (m)
	LeadVRel  float64 // relative speed (m/s)
}
