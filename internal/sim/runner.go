package sim

import (
	"math"
	"time"

	"github.com/banshee-data/drive.control/internal/config"
	"github.com/banshee-data/drive.control/internal/loop"
	"github.com/banshee-data/drive.control/internal/vehicle"
)

// planGain converts the speed error into the accel target the way a trivial
// planner would.
const planGain = 0.5

// Runner wires a plant to a control loop and drives both with a synthetic
// clock, one cycle per 10 ms of scenario time.
type Runner struct {
	Loop  *loop.Loop
	Plant *Plant
	scen  Scenario
	cp    *vehicle.CarParams
}

// NewRunner builds a closed loop around a fresh plant.
func NewRunner(cp *vehicle.CarParams, cfg *config.ControlsConfig, scen Scenario) (*Runner, error) {
	l, err := loop.New(cp, cfg)
	if err != nil {
		return nil, err
	}
	return &Runner{
		Loop:  l,
		Plant: NewPlant(cp),
		scen:  scen,
		cp:    cp,
	}, nil
}

// Run executes the whole scenario and returns every cycle's state.
func (r *Runner) Run() []loop.ControlsState {
	cycles := int(r.scen.Duration / DT)
	out := make([]loop.ControlsState, 0, cycles)
	now := time.Unix(1700000000, 0)
	s := r.Loop.Sockets()

	for i := 0; i < cycles; i++ {
		t := float64(i) * DT
		seg := r.scen.Eval(t)

		r.Plant.DriverTorqueNm = seg.DriverTorqueNm
		r.Plant.GasPressed = seg.GasPressed
		r.Plant.BrakePressed = seg.BrakePressed

		aTarget := clampAccel(planGain*(seg.VTarget-r.Plant.VEgo), r.cp)

		s.VehicleState.PublishAt(r.Plant.State(), now)
		s.Model.PublishAt(vehicle.ModelOutput{DesiredCurvature: seg.DesiredCurvature}, now)
		s.Plan.PublishAt(vehicle.LongitudinalPlan{
			ATarget: aTarget,
			VTarget: seg.VTarget,
			Speeds:  []float64{seg.VTarget},
		}, now)
		s.Calibration.PublishAt(vehicle.Calibration{Calibrated: true}, now)
		s.LiveParams.PublishAt(vehicle.LiveParameters{
			StiffnessFactor: 1.0,
			SteerRatio:      r.cp.SteerRatio,
			Valid:           true,
		}, now)
		s.TorqueParams.PublishAt(vehicle.LiveTorqueParameters{}, now)
		s.Radar.PublishAt(vehicle.RadarState{}, now)
		s.Request.PublishAt(loop.Request{Engage: seg.Engage}, now)

		st := r.Loop.StepAt(now)
		r.Plant.Step(st.Command, DT)

		out = append(out, st)
		now = now.Add(10 * time.Millisecond)
	}
	return out
}

func clampAccel(a float64, cp *vehicle.CarParams) float64 {
	return math.Min(math.Max(a, cp.AccelMin), cp.AccelMax)
}
