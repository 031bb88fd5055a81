package engage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/drive.control/internal/alerts"
)

func newTestMachine() (*Machine, *alerts.Manager) {
	return NewMachine(DefaultConfig()), alerts.NewManager()
}

// step runs one cycle with a fresh alert set, like the orchestrator does.
func step(m *Machine, am *alerts.Manager, in Inputs) State {
	am.BeginCycle()
	return m.Update(in, am)
}

func engaged(t *testing.T) (*Machine, *alerts.Manager) {
	t.Helper()
	m, am := newTestMachine()
	require.Equal(t, StatePreEnabled, step(m, am, Inputs{EnableRequest: true}))
	require.Equal(t, StateEnabled, step(m, am, Inputs{EnableRequest: true, ChecksPass: true}))
	return m, am
}

func TestInitialState(t *testing.T) {
	t.Parallel()

	m, _ := newTestMachine()
	assert.Equal(t, StateDisabled, m.State())
	assert.False(t, m.LatActive())
	assert.False(t, m.LongActive())
}

func TestEnableSequence(t *testing.T) {
	t.Parallel()

	m, am := newTestMachine()

	got := step(m, am, Inputs{EnableRequest: true})
	assert.Equal(t, StatePreEnabled, got)
	require.Len(t, am.Active(), 1)
	assert.Equal(t, alerts.AlertPreEnabled, am.Active()[0].ID)
	assert.False(t, m.LatActive(), "no authority before checks pass")

	got = step(m, am, Inputs{EnableRequest: true, ChecksPass: true})
	assert.Equal(t, StateEnabled, got)
	assert.True(t, am.Has(alerts.AlertEngaged))
	assert.True(t, m.LatActive())
	assert.True(t, m.LongActive())
}

func TestPreEnabledNeverEngagesWithUnavailableChannel(t *testing.T) {
	t.Parallel()

	m, am := newTestMachine()
	step(m, am, Inputs{EnableRequest: true})

	// ChecksPass stays false: the machine must never reach Enabled, and must
	// give up after the bounded window.
	for i := 0; i <= DefaultConfig().PreEnableTimeoutCycles; i++ {
		got := step(m, am, Inputs{EnableRequest: true, ChecksPass: false})
		require.NotEqual(t, StateEnabled, got)
	}
	assert.Equal(t, StateDisabled, m.State())
	assert.True(t, am.Has(alerts.AlertEnableFailed))
}

func TestPreEnabledAbortsOnFault(t *testing.T) {
	t.Parallel()

	m, am := newTestMachine()
	step(m, am, Inputs{EnableRequest: true})
	got := step(m, am, Inputs{EnableRequest: true, SoftFault: true, SoftFaultCause: "plan stale"})
	assert.Equal(t, StateDisabled, got)
	assert.True(t, am.Has(alerts.AlertEnableFailed))
}

func TestDriverOverrideRoundTrip(t *testing.T) {
	t.Parallel()

	m, am := engaged(t)

	// Brake pedal: Overriding that same cycle, longitudinal authority gone,
	// override alert raised.
	got := step(m, am, Inputs{BrakePressed: true})
	assert.Equal(t, StateOverriding, got)
	assert.False(t, m.LongActive())
	assert.True(t, m.LatActive(), "steering authority survives a pedal override")
	require.True(t, am.Has(alerts.AlertDriverOverride))

	// Pedal released: back to Enabled with a resume alert.
	got = step(m, am, Inputs{})
	assert.Equal(t, StateEnabled, got)
	assert.True(t, m.LongActive())
	assert.True(t, am.Has(alerts.AlertEngaged))
}

func TestSteerOverrideHysteresis(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	m, am := engaged(t)

	// Above the override threshold: overriding.
	step(m, am, Inputs{SteeringTorque: cfg.OverrideTorqueNm + 0.5})
	assert.Equal(t, StateOverriding, m.State())
	assert.False(t, m.LatActive())
	assert.True(t, m.LongActive(), "pedals untouched, longitudinal authority stays")

	// Between release and override thresholds: still overriding.
	step(m, am, Inputs{SteeringTorque: cfg.ReleaseTorqueNm + 0.1})
	assert.Equal(t, StateOverriding, m.State())

	// Below the release threshold: back to Enabled.
	step(m, am, Inputs{SteeringTorque: cfg.ReleaseTorqueNm - 0.5})
	assert.Equal(t, StateEnabled, m.State())
	assert.True(t, m.LatActive())
}

func TestSoftDisableSequence(t *testing.T) {
	t.Parallel()

	m, am := engaged(t)

	got := step(m, am, Inputs{SoftFault: true, SoftFaultCause: "plan stale"})
	assert.Equal(t, StateSoftDisabling, got)
	require.True(t, am.Has(alerts.AlertSoftDisabling))
	assert.True(t, m.LatActive(), "authority is held during the handback")

	// Progress ramps over the window, then the machine fully disables.
	var sawProgress bool
	for i := 0; i < DefaultConfig().SoftDisableCycles; i++ {
		if m.State() != StateSoftDisabling {
			break
		}
		if m.SoftDisableProgress() > 0 {
			sawProgress = true
		}
		step(m, am, Inputs{SoftFault: true})
	}
	assert.True(t, sawProgress)
	assert.Equal(t, StateDisabled, m.State())
	assert.True(t, am.Has(alerts.AlertDisengaged))
	assert.False(t, m.LatActive())
}

func TestSoftDisableCompletesEarlyAtStandstill(t *testing.T) {
	t.Parallel()

	m, am := engaged(t)
	step(m, am, Inputs{SoftFault: true})
	require.Equal(t, StateSoftDisabling, m.State())

	got := step(m, am, Inputs{SoftFault: true, Standstill: true})
	assert.Equal(t, StateDisabled, got)
}

func TestImmediateFaultFromAnyState(t *testing.T) {
	t.Parallel()

	build := map[string]func(t *testing.T) (*Machine, *alerts.Manager){
		"enabled": engaged,
		"preEnabled": func(t *testing.T) (*Machine, *alerts.Manager) {
			m, am := newTestMachine()
			step(m, am, Inputs{EnableRequest: true})
			return m, am
		},
		"overriding": func(t *testing.T) (*Machine, *alerts.Manager) {
			m, am := engaged(t)
			step(m, am, Inputs{GasPressed: true})
			require.Equal(t, StateOverriding, m.State())
			return m, am
		},
		"softDisabling": func(t *testing.T) (*Machine, *alerts.Manager) {
			m, am := engaged(t)
			step(m, am, Inputs{SoftFault: true})
			require.Equal(t, StateSoftDisabling, m.State())
			return m, am
		},
	}

	for name, setup := range build {
		t.Run(name, func(t *testing.T) {
			m, am := setup(t)
			got := step(m, am, Inputs{ImmediateFault: true, ImmediateFaultCause: "actuator fault"})
			assert.Equal(t, StateDisabled, got, "critical fault must disable within one cycle")
			assert.True(t, am.Has(alerts.AlertActuatorFault))
			assert.False(t, m.LatActive())
			assert.False(t, m.LongActive())
		})
	}
}

func TestDisableRequestHonoredSameCycle(t *testing.T) {
	t.Parallel()

	m, am := engaged(t)
	got := step(m, am, Inputs{DisableRequest: true})
	assert.Equal(t, StateDisabled, got)
	assert.True(t, am.Has(alerts.AlertDisengaged))
}

func TestStaleThenTimeoutEmitsTwoAlertsInOrder(t *testing.T) {
	t.Parallel()

	m, am := engaged(t)

	var seen []string
	step(m, am, Inputs{SoftFault: true, SoftFaultCause: "plan stream stale"})
	for _, a := range am.Active() {
		seen = append(seen, a.ID)
	}
	for m.State() == StateSoftDisabling {
		step(m, am, Inputs{SoftFault: true})
		for _, a := range am.Active() {
			seen = append(seen, a.ID)
		}
	}

	require.GreaterOrEqual(t, len(seen), 2)
	assert.Equal(t, alerts.AlertSoftDisabling, seen[0])
	assert.Equal(t, alerts.AlertDisengaged, seen[len(seen)-1])
}

func TestEveryTransitionEmitsExactlyOneAlert(t *testing.T) {
	t.Parallel()

	m, am := newTestMachine()
	prev := m.State()
	script := []Inputs{
		{EnableRequest: true},
		{EnableRequest: true, ChecksPass: true},
		{GasPressed: true},
		{},
		{SoftFault: true},
		{ImmediateFault: true},
	}
	for i, in := range script {
		got := step(m, am, in)
		if got != prev {
			assert.Len(t, am.Active(), 1, "step %d: transition %s -> %s", i, prev, got)
		}
		prev = got
	}
}
