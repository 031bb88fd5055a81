// Package loop runs the 100 Hz control cycle: poll inputs, scan faults,
// advance the engagement machine, run the lateral and longitudinal
// controllers, and publish one actuator command per cycle. Everything here is
// single-threaded; producers hand samples over through bus sockets and sinks
// receive the finished cycle state.
package loop

import (
	"context"
	"math"
	"time"

	"github.com/banshee-data/drive.control/internal/actuation"
	"github.com/banshee-data/drive.control/internal/alerts"
	"github.com/banshee-data/drive.control/internal/bus"
	"github.com/banshee-data/drive.control/internal/config"
	"github.com/banshee-data/drive.control/internal/engage"
	"github.com/banshee-data/drive.control/internal/latctl"
	"github.com/banshee-data/drive.control/internal/longctl"
	"github.com/banshee-data/drive.control/internal/monitoring"
	"github.com/banshee-data/drive.control/internal/rt"
	"github.com/banshee-data/drive.control/internal/units"
	"github.com/banshee-data/drive.control/internal/vehicle"
)

// Channel names, used as keys in the per-cycle status map.
const (
	ChanVehicleState = "vehicleState"
	ChanModel        = "model"
	ChanPlan         = "plan"
	ChanCalibration  = "calibration"
	ChanLiveParams   = "liveParams"
	ChanTorqueParams = "torqueParams"
	ChanRadar        = "radar"
	ChanRequest      = "request"
)

// Request is the driver's engagement intent, delivered as a level: true means
// the driver wants the system engaged. Dropping it to false disengages the
// same cycle.
type Request struct {
	Engage bool
}

// Sockets holds the input mailboxes external producers publish into.
type Sockets struct {
	VehicleState *bus.Socket[vehicle.State]
	Model        *bus.Socket[vehicle.ModelOutput]
	Plan         *bus.Socket[vehicle.LongitudinalPlan]
	Calibration  *bus.Socket[vehicle.Calibration]
	LiveParams   *bus.Socket[vehicle.LiveParameters]
	TorqueParams *bus.Socket[vehicle.LiveTorqueParameters]
	Radar        *bus.Socket[vehicle.RadarState]
	Request      *bus.Socket[Request]
}

// ControlsState is the full result of one cycle, published to every sink and
// exposed on the debug API.
type ControlsState struct {
	Frame uint64    `json:"frame"`
	Time  time.Time `json:"time"`

	State      engage.State `json:"state"`
	Enabled    bool         `json:"enabled"`
	LatActive  bool         `json:"lat_active"`
	LongActive bool         `json:"long_active"`

	VEgo float64 `json:"v_ego"`
	AEgo float64 `json:"a_ego"`

	DesiredCurvature float64 `json:"desired_curvature"`
	CurrentCurvature float64 `json:"current_curvature"`
	CurvatureLimited bool    `json:"curvature_limited"`

	Lat     latctl.Output     `json:"lat"`
	Long    longctl.Output    `json:"long"`
	Command actuation.Command `json:"command"`

	Alerts   []alerts.Alert        `json:"alerts"`
	Channels map[string]bus.Status `json:"channels"`
	Lagging  bool                  `json:"lagging"`
}

// Sink receives the finished state of every cycle. Sinks must not block; slow
// consumers are expected to queue internally.
type Sink interface {
	Publish(st ControlsState)
}

// Loop is the cycle orchestrator.
type Loop struct {
	cp    *vehicle.CarParams
	cfg   *config.ControlsConfig
	model *vehicle.Model

	sockets  Sockets
	registry bus.Registry

	machine *engage.Machine
	am      *alerts.Manager
	lat     latctl.Controller
	long    *longctl.Controller
	builder *actuation.Builder
	rk      *rt.Ratekeeper

	sinks []Sink

	cycle uint64

	// desiredCurvature is the rate-limited curvature state carried between
	// cycles; it re-seeds from the measured curvature whenever lateral
	// authority is regained so engagement never steps the command.
	desiredCurvature float64
	latWasActive     bool
}

// New builds a loop for one session. cp must already be validated.
func New(cp *vehicle.CarParams, cfg *config.ControlsConfig) (*Loop, error) {
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.EmptyControlsConfig()
	}

	model := vehicle.NewModel(cp)
	lat, err := latctl.ForCarParams(cp, model)
	if err != nil {
		return nil, err
	}

	l := &Loop{
		cp:    cp,
		cfg:   cfg,
		model: model,
		sockets: Sockets{
			VehicleState: bus.NewSocket[vehicle.State](ChanVehicleState, cfg.GetVehicleStateTimeout()),
			Model:        bus.NewSocket[vehicle.ModelOutput](ChanModel, cfg.GetModelTimeout()),
			Plan:         bus.NewSocket[vehicle.LongitudinalPlan](ChanPlan, cfg.GetPlanTimeout()),
			Calibration:  bus.NewSocket[vehicle.Calibration](ChanCalibration, cfg.GetCalibrationTimeout()),
			LiveParams:   bus.NewSocket[vehicle.LiveParameters](ChanLiveParams, cfg.GetLiveParamsTimeout()),
			TorqueParams: bus.NewSocket[vehicle.LiveTorqueParameters](ChanTorqueParams, cfg.GetTorqueParamsTimeout()),
			Radar:        bus.NewSocket[vehicle.RadarState](ChanRadar, cfg.GetRadarTimeout()),
			Request:      bus.NewSocket[Request](ChanRequest, 0),
		},
		machine: engage.NewMachine(engage.Config{
			PreEnableTimeoutCycles: cfg.GetPreEnableTimeoutCycles(),
			SoftDisableCycles:      cfg.GetSoftDisableCycles(),
			OverrideTorqueNm:       cfg.GetOverrideTorqueNm(),
			ReleaseTorqueNm:        cfg.GetReleaseTorqueNm(),
		}),
		am:      alerts.NewManager(),
		lat:     lat,
		long:    longctl.New(cp),
		builder: actuation.NewBuilder(cp),
		rk:      rt.NewRatekeeper(rt.CtrlRateHz, 5*time.Millisecond),
	}
	l.rk.Tune(cfg.GetLagWindowCycles(), cfg.GetLagFactor())

	l.registry.Add(l.sockets.VehicleState)
	l.registry.Add(l.sockets.Model)
	l.registry.Add(l.sockets.Plan)
	l.registry.Add(l.sockets.Calibration)
	l.registry.Add(l.sockets.LiveParams)
	l.registry.Add(l.sockets.TorqueParams)
	l.registry.Add(l.sockets.Radar)
	return l, nil
}

// Sockets returns the input mailboxes for producers to publish into.
func (l *Loop) Sockets() *Sockets { return &l.sockets }

// AddSink registers a per-cycle state consumer. Not safe to call once Run has
// started.
func (l *Loop) AddSink(s Sink) { l.sinks = append(l.sinks, s) }

// Run executes cycles at the control rate until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	monitoring.Logf("control loop starting at %d Hz", rt.CtrlRateHz)
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("control loop stopping: %v", ctx.Err())
			return ctx.Err()
		default:
		}
		l.Step()
		l.rk.KeepTime()
	}
}

// RunPaced executes cycles paced by the vehicle state stream instead of the
// wall clock: each cycle starts when a fresh state sample lands, falling back
// to the channel's freshness budget so fault scanning still runs when the
// stream stalls.
func (l *Loop) RunPaced(ctx context.Context) error {
	monitoring.Logf("control loop starting, paced by %s input", ChanVehicleState)
	timeout := l.cfg.GetVehicleStateTimeout()
	for {
		l.sockets.VehicleState.WaitFresh(ctx, timeout)
		if ctx.Err() != nil {
			monitoring.Logf("control loop stopping: %v", ctx.Err())
			return ctx.Err()
		}
		l.Step()
		l.rk.MonitorTime()
	}
}

// Step runs one cycle against the wall clock.
func (l *Loop) Step() ControlsState {
	return l.StepAt(time.Now())
}

// StepAt runs one cycle as of now. Exposed for tests and replay, which drive
// the loop with a synthetic clock.
func (l *Loop) StepAt(now time.Time) ControlsState {
	l.cycle++
	l.am.BeginCycle()
	statuses := l.registry.PollAll(now)

	cs := l.sockets.VehicleState.Value()
	model := l.sockets.Model.Value()
	plan := l.sockets.Plan.Value()
	calib := l.sockets.Calibration.Value()
	lp := l.sockets.LiveParams.Value()
	req := l.sockets.Request.Value()

	// Live learner updates apply before the controllers run.
	if statuses[ChanLiveParams].Updated && lp.Valid {
		l.model.UpdateParams(lp.StiffnessFactor, lp.SteerRatio)
	}
	if statuses[ChanTorqueParams].Updated {
		if tc, ok := l.lat.(*latctl.Torque); ok {
			tc.UpdateLiveParams(l.sockets.TorqueParams.Value())
		}
	}

	scan := l.scanFaults(statuses, cs, calib, req)
	state := l.machine.Update(engage.Inputs{
		EnableRequest:       req.Engage,
		DisableRequest:      !req.Engage,
		SteeringTorque:      cs.SteeringTorque,
		GasPressed:          cs.GasPressed,
		BrakePressed:        cs.BrakePressed,
		Standstill:          cs.Standstill,
		SoftFault:           scan.soft,
		SoftFaultCause:      scan.softCause,
		ImmediateFault:      scan.immediate,
		ImmediateFaultCause: scan.immediateCause,
		ChecksPass:          scan.checksPass,
	}, l.am)

	// The handback warning stays up for the whole ramp, not just the
	// transition cycle.
	if state == engage.StateSoftDisabling {
		l.am.Raise(alerts.AlertSoftDisabling, alerts.SeverityCritical, "take over immediately")
	}

	// A temporary steer fault suppresses the steering axis without dropping
	// engagement; the vehicle interface clears it on its own. The same
	// suppression applies below the platform's minimum steering speed, unless
	// it can steer at standstill.
	steerStandstill := cs.VEgo <= math.Max(l.cp.MinSteerSpeed, 0.3) || cs.Standstill
	belowSteerSpeed := steerStandstill && !l.cp.SteerAtStandstill
	suppressSteer := cs.SteerFaultTemporary || belowSteerSpeed
	if state.ControlAllowed() {
		switch {
		case cs.SteerFaultTemporary:
			l.am.Raise(alerts.AlertSteerFault, alerts.SeverityWarning, "temporary steering fault, steering paused")
		case belowSteerSpeed:
			l.am.Raise(alerts.AlertBelowSteerSpeed, alerts.SeverityWarning, "below minimum steering speed, steering paused")
		}
		if l.machine.SteerOverride() {
			l.am.Raise(alerts.AlertSteerOverride, alerts.SeverityWarning, "driver steering, lateral control paused")
		}
	}
	latAuthority := l.machine.LatActive() && !suppressSteer

	currentCurvature := l.model.CalcCurvature(
		units.Radians(cs.SteeringAngleDeg-lp.AngleOffsetDeg), cs.VEgo, lp.Roll)

	var curvatureLimited bool
	if latAuthority {
		if !l.latWasActive {
			// Regained authority: continue from where the wheel actually is.
			l.desiredCurvature = currentCurvature
		}
		l.desiredCurvature, curvatureLimited = latctl.ClipCurvature(
			cs.VEgo, l.desiredCurvature, model.DesiredCurvature, lp.Roll)
	} else {
		l.desiredCurvature = currentCurvature
	}
	l.latWasActive = latAuthority

	latOut := l.lat.Update(latctl.Inputs{
		Active:           latAuthority,
		State:            cs,
		Live:             lp,
		DesiredCurvature: l.desiredCurvature,
		CurvatureLimited: curvatureLimited,
	})
	longOut := l.long.Update(longctl.Inputs{
		Active: l.machine.LongActive(),
		State:  cs,
		Plan:   plan,
	})

	if latOut.Saturated {
		l.am.Raise(alerts.AlertSteerSaturated, alerts.SeverityWarning, "steering torque at limit, curvature not reached")
	}
	if longOut.Saturated {
		l.am.Raise(alerts.AlertLongSaturated, alerts.SeverityWarning, "acceleration request at limit")
	}
	lagging := l.rk.Lagging()
	if lagging {
		l.am.Raise(alerts.AlertLoopLagging, alerts.SeverityWarning, "control loop behind schedule")
	}

	cmd := l.builder.Build(actuation.Inputs{
		State:            cs,
		Plan:             plan,
		Model:            model,
		Machine:          l.machine,
		Lat:              latOut,
		Long:             longOut,
		DesiredCurvature: l.desiredCurvature,
		CurrentCurvature: currentCurvature,
		SuppressSteer:    suppressSteer,
		VisualAlert:      l.visualAlert(),
	})

	st := ControlsState{
		Frame:            l.cycle,
		Time:             now,
		State:            state,
		Enabled:          state.ControlAllowed(),
		LatActive:        latAuthority,
		LongActive:       l.machine.LongActive(),
		VEgo:             cs.VEgo,
		AEgo:             cs.AEgo,
		DesiredCurvature: l.desiredCurvature,
		CurrentCurvature: currentCurvature,
		CurvatureLimited: curvatureLimited,
		Lat:              latOut,
		Long:             longOut,
		Command:          cmd,
		Alerts:           l.am.Active(),
		Channels:         statuses,
		Lagging:          lagging,
	}
	for _, s := range l.sinks {
		s.Publish(st)
	}
	return st
}

// scan is the resolved fault picture for one cycle.
type scan struct {
	soft           bool
	softCause      string
	immediate      bool
	immediateCause string
	checksPass     bool
}

// scanFaults folds channel freshness and vehicle fault flags into the two
// fault classes the engagement machine understands. Losing the vehicle state
// stream or CAN validity means override detection is blind, so those disable
// immediately; a stale model or plan still leaves a controlled handback
// possible.
func (l *Loop) scanFaults(statuses map[string]bus.Status, cs vehicle.State, calib vehicle.Calibration, req Request) scan {
	var sc scan
	engaged := l.machine.State() != engage.StateDisabled

	raiseStale := func(name string) {
		l.am.Raise(alerts.AlertInputStale, alerts.SeverityWarning, name+" input stale")
	}

	vsSt := statuses[ChanVehicleState]
	switch {
	case vsSt.Ever && !vsSt.Alive:
		raiseStale(ChanVehicleState)
		sc.immediate, sc.immediateCause = true, "vehicle state stale"
	case engaged && !vsSt.Ever:
		sc.immediate, sc.immediateCause = true, "vehicle state unavailable"
	}
	if vsSt.Ever && vsSt.Alive && !cs.CANValid {
		l.am.Raise(alerts.AlertCANInvalid, alerts.SeverityCritical, "CAN bus invalid")
		sc.immediate, sc.immediateCause = true, "CAN invalid"
	}
	if cs.ActuatorFault {
		l.am.Raise(alerts.AlertActuatorFault, alerts.SeverityCritical, "actuator fault reported")
		sc.immediate, sc.immediateCause = true, "actuator fault"
	}
	if cs.SteerFaultPermanent {
		l.am.Raise(alerts.AlertSteerFault, alerts.SeverityCritical, "permanent steering fault")
		sc.immediate, sc.immediateCause = true, "permanent steering fault"
	}

	for _, name := range []string{ChanModel, ChanPlan, ChanCalibration} {
		st := statuses[name]
		if st.Ever && !st.Alive {
			raiseStale(name)
			if !sc.soft {
				sc.soft, sc.softCause = true, name+" input stale"
			}
		}
	}

	// Pre-engagement availability: everything the controllers read must have
	// delivered at least one live sample, and the calibration must be usable.
	required := []string{ChanVehicleState, ChanModel, ChanPlan, ChanCalibration}
	available := true
	for _, name := range required {
		st := statuses[name]
		if !st.Ever || !st.Alive {
			available = false
			if req.Engage && !st.Ever {
				l.am.Raise(alerts.AlertInputUnavailable, alerts.SeverityWarning, name+" input not yet received")
			}
		}
	}
	sc.checksPass = available && cs.CANValid && calib.Calibrated &&
		!sc.immediate && !sc.soft &&
		!cs.ActuatorFault && !cs.SteerFaultPermanent && !cs.SteerFaultTemporary
	if req.Engage && available && !calib.Calibrated && l.machine.State() == engage.StatePreEnabled {
		l.am.Raise(alerts.AlertParamsInvalid, alerts.SeverityWarning, "calibration not ready")
	}
	return sc
}

// visualAlert picks the HUD cue for the most severe active alert.
func (l *Loop) visualAlert() string {
	if l.am.HasCritical() {
		return "critical"
	}
	for _, a := range l.am.Active() {
		if a.Severity == alerts.SeverityWarning {
			return "warning"
		}
	}
	return ""
}
