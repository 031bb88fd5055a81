package longctl

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/drive.control/internal/rt"
	"github.com/banshee-data/drive.control/internal/testutil"
	"github.com/banshee-data/drive.control/internal/vehicle"
)

func cruiseInputs(vEgo, vTarget, aTarget float64) Inputs {
	return Inputs{
		Active: true,
		State:  vehicle.State{VEgo: vEgo},
		Plan:   vehicle.LongitudinalPlan{VTarget: vTarget, ATarget: aTarget},
	}
}

func TestInactiveIsNeutral(t *testing.T) {
	t.Parallel()

	c := New(testutil.CarParams())
	out := c.Update(Inputs{Active: false, State: vehicle.State{VEgo: 20}})
	assert.Zero(t, out.Accel)
	assert.Equal(t, StateOff, out.State)
}

func TestSteadyCruiseConvergesToZeroAccel(t *testing.T) {
	t.Parallel()

	c := New(testutil.CarParams())

	// Constant target 20 m/s, already at 20 m/s: the command must converge
	// to zero net acceleration and stay there.
	var out Output
	for i := 0; i < 200; i++ {
		out = c.Update(cruiseInputs(20, 20, 0))
	}
	assert.InDelta(t, 0.0, out.Accel, 1e-6)
	assert.Equal(t, StatePID, out.State)
	assert.False(t, out.Saturated)
}

func TestTrackingErrorProducesCorrection(t *testing.T) {
	t.Parallel()

	c := New(testutil.CarParams())

	// Below target: positive accel. Above target: negative accel.
	var out Output
	for i := 0; i < 50; i++ {
		out = c.Update(cruiseInputs(18, 20, 0))
	}
	assert.Positive(t, out.Accel)

	c.Reset()
	for i := 0; i < 50; i++ {
		out = c.Update(cruiseInputs(22, 20, 0))
	}
	assert.Negative(t, out.Accel)
}

func TestPlannedAccelFeedsForward(t *testing.T) {
	t.Parallel()

	c := New(testutil.CarParams())
	var out Output
	for i := 0; i < 100; i++ {
		out = c.Update(cruiseInputs(20, 20, 1.0))
	}
	// On-speed with a planned 1 m/s^2: the feedforward should carry most of it.
	assert.InDelta(t, 1.0, out.Accel, 0.1)
}

func TestAccelAlwaysWithinDeclaredLimits(t *testing.T) {
	t.Parallel()

	cp := testutil.CarParams()
	c := New(cp)

	// Wildly out-of-range plans in both directions.
	for i := 0; i < 300; i++ {
		out := c.Update(cruiseInputs(0, 50, 10))
		require.LessOrEqual(t, out.Accel, cp.AccelMax)
		require.GreaterOrEqual(t, out.Accel, cp.AccelMin)
	}
	var saturatedSeen bool
	for i := 0; i < 300; i++ {
		out := c.Update(cruiseInputs(40, 0, -10))
		require.GreaterOrEqual(t, out.Accel, cp.AccelMin)
		if out.Saturated {
			saturatedSeen = true
		}
	}
	assert.True(t, saturatedSeen, "an unachievable plan must report saturation")
}

func TestJerkLimitBetweenCycles(t *testing.T) {
	t.Parallel()

	cp := testutil.CarParams()
	c := New(cp)
	maxStep := cp.JerkLimit*rt.DTCtrl + 1e-9

	prev := 0.0
	for i := 0; i < 400; i++ {
		out := c.Update(cruiseInputs(10, 30, 2))
		require.LessOrEqual(t, math.Abs(out.Accel-prev), maxStep, "cycle %d", i)
		prev = out.Accel
	}
}

func TestStoppingRampsToHoldAccel(t *testing.T) {
	t.Parallel()

	cp := testutil.CarParams()
	c := New(cp)

	in := Inputs{
		Active: true,
		State:  vehicle.State{VEgo: 0.2, Standstill: false},
		Plan:   vehicle.LongitudinalPlan{ShouldStop: true},
	}
	var out Output
	for i := 0; i < 2000; i++ {
		prev := out.Accel
		out = c.Update(in)
		require.Equal(t, StateStopping, out.State)
		require.LessOrEqual(t, out.Accel, 0.0, "never positive while stopping")
		require.LessOrEqual(t, out.Accel, prev+1e-9, "monotonically toward the hold accel")
	}
	assert.InDelta(t, cp.StopAccel, out.Accel, 1e-6)
}

func TestStopRequestAboveStoppingSpeedStaysOnPID(t *testing.T) {
	t.Parallel()

	cp := testutil.CarParams()
	c := New(cp)

	// Plan wants a stop while still rolling: the PID loop keeps tracking the
	// decel profile until the car is nearly stationary.
	rolling := Inputs{
		Active: true,
		State:  vehicle.State{VEgo: cp.VEgoStopping + 2},
		Plan:   vehicle.LongitudinalPlan{ShouldStop: true, VTarget: 0, ATarget: -1},
	}
	out := c.Update(rolling)
	assert.Equal(t, StatePID, out.State)

	slow := rolling
	slow.State.VEgo = cp.VEgoStopping / 2
	out = c.Update(slow)
	assert.Equal(t, StateStopping, out.State)
}

func TestStartingBridgesToPID(t *testing.T) {
	t.Parallel()

	cp := testutil.CarParams()
	c := New(cp)

	// Stop first.
	stop := Inputs{Active: true, State: vehicle.State{VEgo: 0}, Plan: vehicle.LongitudinalPlan{ShouldStop: true}}
	for i := 0; i < 500; i++ {
		c.Update(stop)
	}
	require.Equal(t, StateStopping, c.State())

	// Plan releases the stop at standstill: starting phase, positive accel.
	go1 := Inputs{Active: true, State: vehicle.State{VEgo: 0}, Plan: vehicle.LongitudinalPlan{VTarget: 5, ATarget: 1}}
	var out Output
	for i := 0; i < 300; i++ {
		out = c.Update(go1)
	}
	assert.Equal(t, StateStarting, out.State)
	assert.Positive(t, out.Accel)

	// Once rolling past the starting speed the PID loop takes over.
	rolling := cruiseInputs(cp.VEgoStarting+0.5, 5, 1)
	out = c.Update(rolling)
	assert.Equal(t, StatePID, out.State)
}

func TestResetClearsState(t *testing.T) {
	t.Parallel()

	c := New(testutil.CarParams())
	for i := 0; i < 100; i++ {
		c.Update(cruiseInputs(10, 30, 2))
	}
	c.Reset()
	assert.Equal(t, StateOff, c.State())
	out := c.Update(Inputs{Active: false})
	assert.Zero(t, out.Accel)
}
