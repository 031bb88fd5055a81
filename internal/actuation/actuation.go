// Package actuation merges the controller outputs into the outbound command.
// The builder is the last gate before publication: whatever the controllers
// produced, nothing non-neutral leaves here unless the engagement state holds
// authority for that axis, and nothing ever leaves outside the vehicle's
// declared physical limits.
package actuation

import (
	"math"

	"github.com/banshee-data/drive.control/internal/engage"
	"github.com/banshee-data/drive.control/internal/latctl"
	"github.com/banshee-data/drive.control/internal/longctl"
	"github.com/banshee-data/drive.control/internal/monitoring"
	"github.com/banshee-data/drive.control/internal/units"
	"github.com/banshee-data/drive.control/internal/vehicle"
)

// softDisableDecel is the handback deceleration target applied while
// steering authority ramps out.
const softDisableDecel = -0.5 // m/s^2

// HUD carries the driver-display fields that ride along with the command.
type HUD struct {
	SetSpeed     float64 // m/s
	SpeedVisible bool
	LanesVisible bool
	LeadVisible  bool
	VisualAlert  string
}

// Command is the outbound actuator command. A fresh value is built and
// published every cycle and never retained.
type Command struct {
	Seq         uint64
	EngageState engage.State
	Enabled     bool
	LatActive   bool
	LongActive  bool

	SteerTorque      float64 // [-1..1]
	SteeringAngleDeg float64
	Accel            float64 // m/s^2
	LongState        longctl.State

	DesiredCurvature float64
	CurrentCurvature float64

	LeftBlinker  bool
	RightBlinker bool
	CruiseCancel bool
	CruiseResume bool

	HUD HUD
}

// Inputs is everything the builder folds into one command.
type Inputs struct {
	State       vehicle.State
	Plan        vehicle.LongitudinalPlan
	Model       vehicle.ModelOutput
	Machine     *engage.Machine
	Lat         latctl.Output
	Long        longctl.Output
	VisualAlert string

	DesiredCurvature float64
	CurrentCurvature float64

	// SuppressSteer is the cross-axis interlock: a critical longitudinal
	// fault with full-stop policy also takes the steering axis down.
	SuppressSteer bool
}

// Builder assembles and clamps the outbound command. It owns the session
// sequence counter.
type Builder struct {
	cp  *vehicle.CarParams
	seq uint64
}

// NewBuilder returns a builder for the session's vehicle.
func NewBuilder(cp *vehicle.CarParams) *Builder {
	return &Builder{cp: cp}
}

// Build produces this cycle's command.
func (b *Builder) Build(in Inputs) Command {
	b.seq++
	st := in.Machine.State()

	cmd := Command{
		Seq:              b.seq,
		EngageState:      st,
		Enabled:          st.ControlAllowed(),
		LatActive:        in.Machine.LatActive() && !in.SuppressSteer,
		LongActive:       in.Machine.LongActive(),
		LongState:        in.Long.State,
		DesiredCurvature: in.DesiredCurvature,
		CurrentCurvature: in.CurrentCurvature,
	}

	if cmd.LatActive {
		cmd.SteerTorque = in.Lat.Torque
		cmd.SteeringAngleDeg = in.Lat.AngleDeg
		// During the soft-disable handback steering authority ramps out
		// linearly instead of cutting.
		if ramp := 1 - in.Machine.SoftDisableProgress(); ramp < 1 {
			cmd.SteerTorque *= ramp
		}
	}
	if cmd.LongActive {
		cmd.Accel = in.Long.Accel
		// Slow the car through the handback window, except once stopped.
		if in.Machine.SoftDisableProgress() > 0 && !in.State.Standstill {
			cmd.Accel = math.Min(cmd.Accel, softDisableDecel)
		}
	}

	b.clamp(&cmd)
	b.scrub(&cmd)

	// Blinker cues while the model is lane changing.
	if in.Model.LaneChangeActive {
		cmd.LeftBlinker = in.Model.LaneChangeDirection == vehicle.LaneChangeLeft
		cmd.RightBlinker = in.Model.LaneChangeDirection == vehicle.LaneChangeRight
	}

	cmd.CruiseCancel = !cmd.Enabled && in.State.VCruiseKPH > 0
	cmd.CruiseResume = cmd.Enabled && in.State.Standstill &&
		len(in.Plan.Speeds) > 0 && in.Plan.Speeds[len(in.Plan.Speeds)-1] > 0.1

	cmd.HUD = HUD{
		SetSpeed:     in.State.VCruiseKPH * units.KPHToMPS,
		SpeedVisible: cmd.Enabled,
		LanesVisible: cmd.Enabled,
		LeadVisible:  in.Plan.HasLead,
		VisualAlert:  in.VisualAlert,
	}
	return cmd
}

// clamp bounds every numeric command to the declared physical limits.
func (b *Builder) clamp(cmd *Command) {
	cmd.SteerTorque = math.Min(math.Max(cmd.SteerTorque, -latctl.SteerMax), latctl.SteerMax)
	if b.cp.MaxSteerAngleDeg > 0 {
		cmd.SteeringAngleDeg = math.Min(math.Max(cmd.SteeringAngleDeg, -b.cp.MaxSteerAngleDeg), b.cp.MaxSteerAngleDeg)
	}
	cmd.Accel = math.Min(math.Max(cmd.Accel, b.cp.AccelMin), b.cp.AccelMax)
}

// scrub zeroes any non-finite actuation field rather than publishing it.
func (b *Builder) scrub(cmd *Command) {
	for _, f := range []*float64{&cmd.SteerTorque, &cmd.SteeringAngleDeg, &cmd.Accel, &cmd.DesiredCurvature} {
		if math.IsNaN(*f) || math.IsInf(*f, 0) {
			monitoring.Logf("actuation: non-finite command value scrubbed (seq=%d)", cmd.Seq)
			*f = 0
		}
	}
}
