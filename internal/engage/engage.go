// Package engage implements the engagement state machine: it owns the single
// source of truth for whether the control core holds actuation authority, per
// axis, and emits exactly one alert for every transition.
package engage

import (
	"fmt"

	"github.com/banshee-data/drive.control/internal/alerts"
)

// State is the engagement state. Exactly one state is active at any time.
type State string

const (
	StateDisabled      State = "disabled"
	StatePreEnabled    State = "preEnabled"
	StateEnabled       State = "enabled"
	StateOverriding    State = "overriding"
	StateSoftDisabling State = "softDisabling"
)

// ControlAllowed reports whether the state grants any actuation authority.
func (s State) ControlAllowed() bool {
	switch s {
	case StateEnabled, StateOverriding, StateSoftDisabling:
		return true
	}
	return false
}

// Config holds the state machine timing and override thresholds. Cycle counts
// are in loop cycles (100 Hz).
type Config struct {
	PreEnableTimeoutCycles int     // bound on PreEnabled before giving up
	SoftDisableCycles      int     // handback window before full disable
	OverrideTorqueNm       float64 // driver torque that starts a steer override
	ReleaseTorqueNm        float64 // torque below which the override releases
}

// DefaultConfig returns the conservative defaults used when the tuning file
// does not override them.
func DefaultConfig() Config {
	return Config{
		PreEnableTimeoutCycles: 50,  // 0.5 s
		SoftDisableCycles:      300, // 3 s
		OverrideTorqueNm:       3.0,
		ReleaseTorqueNm:        1.5,
	}
}

// Inputs is everything the machine looks at in one cycle. The orchestrator's
// fault scan resolves channel criticality into the two fault classes before
// calling Update.
type Inputs struct {
	EnableRequest  bool // external engagement request (level)
	DisableRequest bool // explicit disable; honored this cycle

	SteeringTorque float64 // driver torque at the wheel (Nm)
	GasPressed     bool
	BrakePressed   bool
	Standstill     bool

	SoftFault           bool // requires controlled handback
	SoftFaultCause      string
	ImmediateFault      bool // requires abrupt disable
	ImmediateFaultCause string

	ChecksPass bool // pre-engagement checks: channels alive, params valid
}

// Machine is the engagement state machine. It is single-threaded: Update is
// called exactly once per cycle by the orchestrator.
type Machine struct {
	cfg Config

	state            State
	preEnabledCycles int
	softCycles       int

	steerOverride bool
	longOverride  bool
}

// NewMachine returns a machine in Disabled.
func NewMachine(cfg Config) *Machine {
	return &Machine{cfg: cfg, state: StateDisabled}
}

// State returns the current engagement state.
func (m *Machine) State() State { return m.state }

// SteerOverride reports whether the driver currently holds the steering axis.
func (m *Machine) SteerOverride() bool { return m.steerOverride }

// LongOverride reports whether the driver currently holds the pedals.
func (m *Machine) LongOverride() bool { return m.longOverride }

// LatActive reports whether the lateral controller output should reach the
// actuators this cycle.
func (m *Machine) LatActive() bool {
	return m.state.ControlAllowed() && !m.steerOverride
}

// LongActive reports whether the longitudinal controller output should reach
// the actuators this cycle.
func (m *Machine) LongActive() bool {
	return m.state.ControlAllowed() && !m.longOverride
}

// SoftDisableProgress returns handback progress in [0,1]; 0 outside of
// SoftDisabling. The command builder uses it to ramp steering authority out.
func (m *Machine) SoftDisableProgress() float64 {
	if m.state != StateSoftDisabling || m.cfg.SoftDisableCycles <= 0 {
		return 0
	}
	p := float64(m.softCycles) / float64(m.cfg.SoftDisableCycles)
	if p > 1 {
		p = 1
	}
	return p
}

// Update advances the machine by one cycle and emits transition alerts into
// am. It returns the state after the update.
func (m *Machine) Update(in Inputs, am *alerts.Manager) State {
	m.updateOverrides(in)

	// Critical faults drop authority immediately, from any state.
	if in.ImmediateFault && m.state != StateDisabled {
		m.transition(StateDisabled, am, alerts.AlertActuatorFault, alerts.SeverityCritical,
			fmt.Sprintf("critical fault: %s", in.ImmediateFaultCause))
		return m.state
	}

	// An explicit disable request is honored the same cycle.
	if in.DisableRequest && m.state != StateDisabled {
		m.transition(StateDisabled, am, alerts.AlertDisengaged, alerts.SeverityInfo, "disable requested")
		return m.state
	}

	switch m.state {
	case StateDisabled:
		if in.EnableRequest && !in.SoftFault && !in.ImmediateFault {
			m.preEnabledCycles = 0
			m.transition(StatePreEnabled, am, alerts.AlertPreEnabled, alerts.SeverityInfo, "engagement requested")
		}

	case StatePreEnabled:
		m.preEnabledCycles++
		switch {
		case in.SoftFault:
			m.transition(StateDisabled, am, alerts.AlertEnableFailed, alerts.SeverityWarning,
				fmt.Sprintf("engagement aborted: %s", in.SoftFaultCause))
		case in.ChecksPass:
			m.transition(StateEnabled, am, alerts.AlertEngaged, alerts.SeverityInfo, "controls engaged")
		case m.preEnabledCycles > m.cfg.PreEnableTimeoutCycles:
			m.transition(StateDisabled, am, alerts.AlertEnableFailed, alerts.SeverityWarning,
				"engagement checks did not pass in time")
		}

	case StateEnabled:
		switch {
		case in.SoftFault:
			m.beginSoftDisable(am, in.SoftFaultCause)
		case m.steerOverride || m.longOverride:
			m.transition(StateOverriding, am, alerts.AlertDriverOverride, alerts.SeverityInfo,
				m.overrideCause())
		}

	case StateOverriding:
		switch {
		case in.SoftFault:
			m.beginSoftDisable(am, in.SoftFaultCause)
		case !m.steerOverride && !m.longOverride:
			m.transition(StateEnabled, am, alerts.AlertEngaged, alerts.SeverityInfo, "driver override released")
		}

	case StateSoftDisabling:
		m.softCycles++
		if m.softCycles >= m.cfg.SoftDisableCycles || in.Standstill {
			m.transition(StateDisabled, am, alerts.AlertDisengaged, alerts.SeverityWarning, "soft disable complete")
		}
	}

	return m.state
}

func (m *Machine) beginSoftDisable(am *alerts.Manager, cause string) {
	m.softCycles = 0
	m.transition(StateSoftDisabling, am, alerts.AlertSoftDisabling, alerts.SeverityCritical,
		fmt.Sprintf("soft disabling: %s", cause))
}

// updateOverrides applies the torque hysteresis and pedal detection. Override
// tracking runs in every state so the flags are current the cycle a
// transition looks at them.
func (m *Machine) updateOverrides(in Inputs) {
	torque := in.SteeringTorque
	if torque < 0 {
		torque = -torque
	}
	if m.steerOverride {
		m.steerOverride = torque > m.cfg.ReleaseTorqueNm
	} else {
		m.steerOverride = torque > m.cfg.OverrideTorqueNm
	}
	m.longOverride = in.GasPressed || in.BrakePressed
}

func (m *Machine) overrideCause() string {
	switch {
	case m.steerOverride && m.longOverride:
		return "driver steering and pedal input"
	case m.steerOverride:
		return "driver steering input"
	default:
		return "driver pedal input"
	}
}

func (m *Machine) transition(to State, am *alerts.Manager, id string, sev alerts.Severity, cause string) {
	m.state = to
	am.Raise(id, sev, cause)
}
