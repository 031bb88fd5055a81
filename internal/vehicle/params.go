package vehicle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SteerControlType selects which actuation signal the vehicle accepts.
type SteerControlType string

const (
	SteerControlTorque SteerControlType = "torque" // steer torque scale [-1..1]
	SteerControlAngle  SteerControlType = "angle"  // commanded road wheel angle (deg)
)

// LateralTuningKind selects the lateral control algorithm for torque-steer
// vehicles. Angle-steer vehicles always use the angle controller.
type LateralTuningKind string

const (
	LateralTuningPID    LateralTuningKind = "pid"
	LateralTuningTorque LateralTuningKind = "torque"
)

// PIDTuning is a speed-scheduled PID gain set.
type PIDTuning struct {
	KpBP []float64 `json:"kp_bp"`
	KpV  []float64 `json:"kp_v"`
	KiBP []float64 `json:"ki_bp"`
	KiV  []float64 `json:"ki_v"`
	Kf   float64   `json:"kf"`
}

// TorqueTuning parameterizes the lateral-acceleration torque controller.
type TorqueTuning struct {
	Kp               float64 `json:"kp"`
	Ki               float64 `json:"ki"`
	Kf               float64 `json:"kf"`
	LatAccelFactor   float64 `json:"lat_accel_factor"`
	LatAccelOffset   float64 `json:"lat_accel_offset"`
	Friction         float64 `json:"friction"`
	UseSteeringAngle bool    `json:"use_steering_angle"`
	DeadzoneDeg      float64 `json:"deadzone_deg"`
}

// CarParams is the per-session vehicle capability and limits descriptor.
// It is loaded once before engagement and never changes mid-session; the
// live-tuned values ride on LiveParameters instead.
type CarParams struct {
	CarFingerprint string `json:"car_fingerprint"`

	SteerControlType SteerControlType  `json:"steer_control_type"`
	LateralTuning    LateralTuningKind `json:"lateral_tuning"`
	LateralPID       *PIDTuning        `json:"lateral_pid,omitempty"`
	LateralTorque    *TorqueTuning     `json:"lateral_torque,omitempty"`

	// Geometry and mass
	Wheelbase  float64 `json:"wheelbase"`   // m
	SteerRatio float64 `json:"steer_ratio"` // unitless
	Mass       float64 `json:"mass"`        // kg

	// Lateral limits
	SteerLimitTimer   float64 `json:"steer_limit_timer"`   // s of saturation before the flag latches
	MinSteerSpeed     float64 `json:"min_steer_speed"`     // m/s below which steering is unavailable
	MaxSteerAngleDeg  float64 `json:"max_steer_angle_deg"` // physical road wheel limit
	SteerAtStandstill bool    `json:"steer_at_standstill"`

	// Longitudinal limits
	AccelMin          float64 `json:"accel_min"`           // m/s^2 (negative)
	AccelMax          float64 `json:"accel_max"`           // m/s^2
	JerkLimit         float64 `json:"jerk_limit"`          // m/s^3 magnitude
	VEgoStopping      float64 `json:"v_ego_stopping"`      // m/s
	VEgoStarting      float64 `json:"v_ego_starting"`      // m/s
	StoppingDecelRate float64 `json:"stopping_decel_rate"` // m/s^2 per s toward stop accel
	StopAccel         float64 `json:"stop_accel"`          // m/s^2 held while stopped

	// Longitudinal feedback gains
	LongitudinalPID *PIDTuning `json:"longitudinal_pid,omitempty"`
}

// Validate checks the descriptor for the fields the control core cannot run
// without. A failure here is fatal at session start: the state machine will
// refuse to leave Disabled.
func (cp *CarParams) Validate() error {
	if cp.Wheelbase <= 0 {
		return fmt.Errorf("car params: wheelbase must be positive, got %v", cp.Wheelbase)
	}
	if cp.SteerRatio <= 0 {
		return fmt.Errorf("car params: steer_ratio must be positive, got %v", cp.SteerRatio)
	}
	if cp.Mass <= 0 {
		return fmt.Errorf("car params: mass must be positive, got %v", cp.Mass)
	}
	if cp.AccelMin >= 0 {
		return fmt.Errorf("car params: accel_min must be negative, got %v", cp.AccelMin)
	}
	if cp.AccelMax <= 0 {
		return fmt.Errorf("car params: accel_max must be positive, got %v", cp.AccelMax)
	}
	if cp.JerkLimit <= 0 {
		return fmt.Errorf("car params: jerk_limit must be positive, got %v", cp.JerkLimit)
	}
	switch cp.SteerControlType {
	case SteerControlAngle:
		if cp.MaxSteerAngleDeg <= 0 {
			return fmt.Errorf("car params: max_steer_angle_deg required for angle control")
		}
	case SteerControlTorque:
		switch cp.LateralTuning {
		case LateralTuningPID:
			if cp.LateralPID == nil {
				return fmt.Errorf("car params: lateral_pid tuning missing")
			}
			if len(cp.LateralPID.KpBP) == 0 || len(cp.LateralPID.KpBP) != len(cp.LateralPID.KpV) {
				return fmt.Errorf("car params: lateral_pid kp table malformed")
			}
			if len(cp.LateralPID.KiBP) == 0 || len(cp.LateralPID.KiBP) != len(cp.LateralPID.KiV) {
				return fmt.Errorf("car params: lateral_pid ki table malformed")
			}
		case LateralTuningTorque:
			if cp.LateralTorque == nil {
				return fmt.Errorf("car params: lateral_torque tuning missing")
			}
			if cp.LateralTorque.LatAccelFactor <= 0 {
				return fmt.Errorf("car params: lateral_torque lat_accel_factor must be positive")
			}
		default:
			return fmt.Errorf("car params: unsupported lateral tuning %q", cp.LateralTuning)
		}
	default:
		return fmt.Errorf("car params: unsupported steer control type %q", cp.SteerControlType)
	}
	if cp.LongitudinalPID == nil {
		return fmt.Errorf("car params: longitudinal_pid tuning missing")
	}
	return nil
}

// LoadCarParams loads a CarParams descriptor from a JSON file and validates
// it. Like the controls config, the file must carry a .json extension and
// stay under 1MB.
func LoadCarParams(path string) (*CarParams, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("car params file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat car params file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("car params file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read car params file: %w", err)
	}

	cp := &CarParams{}
	if err := json.Unmarshal(data, cp); err != nil {
		return nil, fmt.Errorf("failed to parse car params JSON: %w", err)
	}
	if err := cp.Validate(); err != nil {
		return nil, fmt.Errorf("invalid car params: %w", err)
	}
	return cp, nil
}
