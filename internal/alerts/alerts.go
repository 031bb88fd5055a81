// Package alerts collects the driver-facing alert set. The set is rebuilt
// from scratch every cycle: a condition that persists must re-raise its alert
// each cycle, so downstream consumers can treat presence-in-cycle as the sole
// currency signal.
package alerts

// Severity ranks an alert. Critical alerts always accompany loss of control
// authority.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// rank orders severities for dedup; higher wins.
func rank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Stable alert identifiers.
const (
	AlertEngaged          = "engaged"
	AlertPreEnabled       = "preEnabled"
	AlertDisengaged       = "disengaged"
	AlertDriverOverride   = "driverOverride"
	AlertSteerOverride    = "steerOverride"
	AlertBelowSteerSpeed  = "belowSteerSpeed"
	AlertSteerSaturated   = "steerSaturated"
	AlertLongSaturated    = "longSaturated"
	AlertInputStale       = "inputStale"
	AlertInputUnavailable = "inputUnavailable"
	AlertSoftDisabling    = "softDisabling"
	AlertActuatorFault    = "actuatorFault"
	AlertSteerFault       = "steerFault"
	AlertCANInvalid       = "canInvalid"
	AlertParamsInvalid    = "paramsInvalid"
	AlertEnableFailed     = "enableFailed"
	AlertLoopLagging      = "loopLagging"
)

// Alert is one active alert for the current cycle.
type Alert struct {
	ID       string
	Severity Severity
	Cause    string
}

// Manager owns the per-cycle alert set. It is not goroutine-safe: it belongs
// to the cycle orchestrator and is only touched during its own cycle.
type Manager struct {
	order   []string
	current map[string]Alert
}

// NewManager returns an empty alert manager scoped to one control session.
func NewManager() *Manager {
	return &Manager{current: make(map[string]Alert)}
}

// BeginCycle drops the previous cycle's set.
func (m *Manager) BeginCycle() {
	m.order = m.order[:0]
	clear(m.current)
}

// Raise adds an alert for this cycle. Raising the same ID twice in one cycle
// keeps the raise order of the first and the highest severity seen.
func (m *Manager) Raise(id string, severity Severity, cause string) {
	if existing, ok := m.current[id]; ok {
		if rank(severity) > rank(existing.Severity) {
			m.current[id] = Alert{ID: id, Severity: severity, Cause: cause}
		}
		return
	}
	m.current[id] = Alert{ID: id, Severity: severity, Cause: cause}
	m.order = append(m.order, id)
}

// Active returns this cycle's alerts in raise order.
func (m *Manager) Active() []Alert {
	out := make([]Alert, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.current[id])
	}
	return out
}

// HasCritical reports whether any active alert is critical.
func (m *Manager) HasCritical() bool {
	for _, a := range m.current {
		if a.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// Has reports whether the given alert ID is active this cycle.
func (m *Manager) Has(id string) bool {
	_, ok := m.current[id]
	return ok
}
