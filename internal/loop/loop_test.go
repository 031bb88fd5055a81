package loop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/drive.control/internal/alerts"
	"github.com/banshee-data/drive.control/internal/engage"
	"github.com/banshee-data/drive.control/internal/testutil"
	"github.com/banshee-data/drive.control/internal/vehicle"
)

// harness drives a loop with a synthetic clock, one call per 10 ms cycle.
type harness struct {
	t   *testing.T
	l   *Loop
	now time.Time

	state vehicle.State
	model vehicle.ModelOutput
	plan  vehicle.LongitudinalPlan
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithParams(t, testutil.CarParams())
}

func newHarnessWithParams(t *testing.T, cp *vehicle.CarParams) *harness {
	t.Helper()
	l, err := New(cp, nil)
	require.NoError(t, err)
	return &harness{
		t:   t,
		l:   l,
		now: time.Unix(1700000000, 0),
		state: vehicle.State{
			VEgo:     15,
			CANValid: true,
		},
		model: vehicle.ModelOutput{},
		plan:  vehicle.LongitudinalPlan{VTarget: 15},
	}
}

// publishAll refreshes every input channel at the current synthetic time.
func (h *harness) publishAll(skip ...string) {
	skipped := func(name string) bool {
		for _, s := range skip {
			if s == name {
				return true
			}
		}
		return false
	}
	s := h.l.Sockets()
	if !skipped(ChanVehicleState) {
		s.VehicleState.PublishAt(h.state, h.now)
	}
	if !skipped(ChanModel) {
		s.Model.PublishAt(h.model, h.now)
	}
	if !skipped(ChanPlan) {
		s.Plan.PublishAt(h.plan, h.now)
	}
	if !skipped(ChanCalibration) {
		s.Calibration.PublishAt(vehicle.Calibration{Calibrated: true}, h.now)
	}
	if !skipped(ChanLiveParams) {
		s.LiveParams.PublishAt(vehicle.LiveParameters{
			StiffnessFactor: 1.0,
			SteerRatio:      15.0,
			Valid:           true,
		}, h.now)
	}
	if !skipped(ChanTorqueParams) {
		s.TorqueParams.PublishAt(vehicle.LiveTorqueParameters{}, h.now)
	}
	if !skipped(ChanRadar) {
		s.Radar.PublishAt(vehicle.RadarState{}, h.now)
	}
}

// step publishes fresh inputs (minus the skipped channels), runs one cycle
// and advances the clock.
func (h *harness) step(skip ...string) ControlsState {
	h.publishAll(skip...)
	st := h.l.StepAt(h.now)
	h.now = h.now.Add(10 * time.Millisecond)
	return st
}

func (h *harness) enable() {
	h.t.Helper()
	h.l.Sockets().Request.PublishAt(Request{Engage: true}, h.now)
	st := h.step()
	require.Equal(h.t, engage.StatePreEnabled, st.State)
	st = h.step()
	require.Equal(h.t, engage.StateEnabled, st.State)
}

func hasAlert(st ControlsState, id string) bool {
	for _, a := range st.Alerts {
		if a.ID == id {
			return true
		}
	}
	return false
}

func TestEngagementSequence(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	// Before any request the loop idles disabled with a neutral command.
	st := h.step()
	assert.Equal(t, engage.StateDisabled, st.State)
	assert.Zero(t, st.Command.SteerTorque)
	assert.Zero(t, st.Command.Accel)

	h.l.Sockets().Request.PublishAt(Request{Engage: true}, h.now)
	st = h.step()
	assert.Equal(t, engage.StatePreEnabled, st.State)
	assert.True(t, hasAlert(st, alerts.AlertPreEnabled))

	st = h.step()
	assert.Equal(t, engage.StateEnabled, st.State)
	assert.True(t, hasAlert(st, alerts.AlertEngaged))
	assert.True(t, st.Enabled)
}

func TestEnableFailsWithoutCalibration(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.l.Sockets().Request.PublishAt(Request{Engage: true}, h.now)

	st := h.step(ChanCalibration)
	require.Equal(t, engage.StatePreEnabled, st.State)
	assert.True(t, hasAlert(st, alerts.AlertInputUnavailable))

	// Checks never pass, so PreEnabled times out back to Disabled.
	for i := 0; i < 60 && st.State == engage.StatePreEnabled; i++ {
		st = h.step(ChanCalibration)
	}
	assert.Equal(t, engage.StateDisabled, st.State)
	assert.True(t, hasAlert(st, alerts.AlertEnableFailed))
}

func TestSteadyCruiseConverges(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.enable()

	h.model.DesiredCurvature = 0.001 // gentle left
	h.plan.ATarget = 0.3

	var st ControlsState
	for i := 0; i < 100; i++ {
		st = h.step()
	}

	require.Equal(t, engage.StateEnabled, st.State)
	assert.InDelta(t, 0.001, st.DesiredCurvature, 1e-9, "rate limit had time to reach the request")
	assert.Greater(t, st.Command.SteerTorque, 0.0, "left curvature needs left torque")
	assert.LessOrEqual(t, st.Command.SteerTorque, 1.0)
	assert.Greater(t, st.Command.Accel, 0.2)
	assert.LessOrEqual(t, st.Command.Accel, 2.0)
	assert.False(t, st.Lat.Saturated)
	assert.False(t, hasAlert(st, alerts.AlertInputStale))
}

func TestBrakeOverrideSameCycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.enable()
	h.plan.ATarget = 1.0
	for i := 0; i < 20; i++ {
		h.step()
	}

	h.state.BrakePressed = true
	st := h.step()

	assert.Equal(t, engage.StateOverriding, st.State)
	assert.True(t, hasAlert(st, alerts.AlertDriverOverride))
	assert.Zero(t, st.Command.Accel, "pedal override suspends longitudinal output the same cycle")
	assert.True(t, st.LatActive, "steering keeps running under a pedal override")

	// Releasing the pedal resumes Enabled.
	h.state.BrakePressed = false
	st = h.step()
	assert.Equal(t, engage.StateEnabled, st.State)
}

func TestStalePlanSoftDisables(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.enable()
	for i := 0; i < 10; i++ {
		h.step()
	}

	// Stop refreshing the plan; everything else stays live. The plan budget
	// is 200 ms, so the fault lands within ~25 cycles.
	var st ControlsState
	for i := 0; i < 40; i++ {
		st = h.step(ChanPlan)
		if st.State == engage.StateSoftDisabling {
			break
		}
	}
	require.Equal(t, engage.StateSoftDisabling, st.State)
	assert.True(t, hasAlert(st, alerts.AlertInputStale))
	assert.True(t, hasAlert(st, alerts.AlertSoftDisabling))

	// The handback window runs out and the loop fully disengages.
	for i := 0; i < 400 && st.State == engage.StateSoftDisabling; i++ {
		st = h.step(ChanPlan)
		assert.True(t, hasAlert(st, alerts.AlertSoftDisabling) || st.State != engage.StateSoftDisabling)
	}
	require.Equal(t, engage.StateDisabled, st.State)
	assert.Zero(t, st.Command.SteerTorque)
	assert.Zero(t, st.Command.Accel)

	// The stale fault blocks re-engagement even though the request level is
	// still up.
	st = h.step(ChanPlan)
	assert.Equal(t, engage.StateDisabled, st.State)
}

func TestCANInvalidDisablesImmediately(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.enable()
	for i := 0; i < 5; i++ {
		h.step()
	}

	h.state.CANValid = false
	st := h.step()

	assert.Equal(t, engage.StateDisabled, st.State)
	assert.True(t, hasAlert(st, alerts.AlertCANInvalid))
	assert.Zero(t, st.Command.SteerTorque)
	assert.Zero(t, st.Command.Accel)
}

func TestTemporarySteerFaultSuppressesSteerOnly(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.enable()
	h.model.DesiredCurvature = 0.001
	h.plan.ATarget = 0.5
	for i := 0; i < 50; i++ {
		h.step()
	}

	h.state.SteerFaultTemporary = true
	st := h.step()

	assert.Equal(t, engage.StateEnabled, st.State, "temporary fault does not disengage")
	assert.True(t, hasAlert(st, alerts.AlertSteerFault))
	assert.False(t, st.LatActive)
	assert.Zero(t, st.Command.SteerTorque)
	assert.Greater(t, st.Command.Accel, 0.0, "longitudinal control continues")

	// Fault clears, steering resumes without a step: desired curvature
	// re-seeds from the measured value.
	h.state.SteerFaultTemporary = false
	st = h.step()
	assert.True(t, st.LatActive)
	assert.InDelta(t, st.CurrentCurvature, st.DesiredCurvature, 1e-3)
}

func TestBelowMinSteerSpeedSuppressesSteerOnly(t *testing.T) {
	t.Parallel()

	cp := testutil.CarParams()
	cp.MinSteerSpeed = 3.0
	h := newHarnessWithParams(t, cp)
	h.enable()
	h.model.DesiredCurvature = 0.001

	h.state.VEgo = 2.0
	st := h.step()

	assert.Equal(t, engage.StateEnabled, st.State, "low speed does not disengage")
	assert.True(t, hasAlert(st, alerts.AlertBelowSteerSpeed))
	assert.False(t, st.LatActive)
	assert.Zero(t, st.Command.SteerTorque)
	assert.True(t, st.LongActive, "longitudinal control continues")

	// Back above the minimum, steering resumes.
	h.state.VEgo = 5.0
	st = h.step()
	assert.True(t, st.LatActive)
	assert.False(t, hasAlert(st, alerts.AlertBelowSteerSpeed))
}

func TestSteerAtStandstillKeepsLatActive(t *testing.T) {
	t.Parallel()

	cp := testutil.CarParams()
	cp.SteerAtStandstill = true
	h := newHarnessWithParams(t, cp)
	h.enable()

	h.state.VEgo = 0
	h.state.Standstill = true
	h.plan.VTarget = 0
	st := h.step()

	assert.True(t, st.LatActive, "platform steers at standstill")
	assert.False(t, hasAlert(st, alerts.AlertBelowSteerSpeed))
}

func TestSteerOverrideRaisesAlert(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.enable()

	h.state.SteeringTorque = 4.0
	st := h.step()

	assert.Equal(t, engage.StateOverriding, st.State)
	assert.True(t, hasAlert(st, alerts.AlertSteerOverride))
	assert.False(t, st.LatActive)
	assert.True(t, st.LongActive, "pedals remain under control")

	h.state.SteeringTorque = 0
	st = h.step()
	assert.Equal(t, engage.StateEnabled, st.State)
	assert.False(t, hasAlert(st, alerts.AlertSteerOverride))
}

func TestRunPacedFollowsStateStream(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	var frames atomic.Int64
	h.l.AddSink(sinkFunc(func(ControlsState) { frames.Add(1) }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.l.RunPaced(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for frames.Load() < 5 {
		if time.Now().After(deadline) {
			t.Fatal("loop did not cycle on published state samples")
		}
		h.l.Sockets().VehicleState.Publish(h.state)
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("RunPaced did not stop after cancel")
	}
}

func TestSinkReceivesEveryCycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	var got []ControlsState
	h.l.AddSink(sinkFunc(func(st ControlsState) { got = append(got, st) }))

	for i := 0; i < 5; i++ {
		h.step()
	}

	require.Len(t, got, 5)
	for i, st := range got {
		assert.Equal(t, uint64(i+1), st.Frame)
	}
}

type sinkFunc func(ControlsState)

func (f sinkFunc) Publish(st ControlsState) { f(st) }

func TestChannelStatusesReported(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	st := h.step(ChanRadar)

	require.Contains(t, st.Channels, ChanVehicleState)
	assert.True(t, st.Channels[ChanVehicleState].Alive)
	assert.False(t, st.Channels[ChanRadar].Ever)
}
