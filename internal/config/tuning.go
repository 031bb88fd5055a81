package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical controls defaults file.
// This is the single source of truth for all default loop and engagement
// values. Per-vehicle tuning lives in vehicle.CarParams, not here.
const DefaultConfigPath = "config/controls.defaults.json"

// ControlsConfig represents the root configuration for the control loop.
// The schema matches the /api/controls/params endpoint so the same JSON
// can be used for both startup configuration and runtime inspection.
type ControlsConfig struct {
	// Input freshness. A channel older than its timeout is stale; a
	// stale critical channel starts a soft disable.
	VehicleStateTimeout *string `json:"vehicle_state_timeout,omitempty"` // duration string like "100ms"
	ModelTimeout        *string `json:"model_timeout,omitempty"`
	PlanTimeout         *string `json:"plan_timeout,omitempty"`
	CalibrationTimeout  *string `json:"calibration_timeout,omitempty"`
	LiveParamsTimeout   *string `json:"live_params_timeout,omitempty"`
	TorqueParamsTimeout *string `json:"torque_params_timeout,omitempty"`
	RadarTimeout        *string `json:"radar_timeout,omitempty"`

	// Engagement params
	OverrideTorqueNm       *float64 `json:"override_torque_nm,omitempty"`
	ReleaseTorqueNm        *float64 `json:"release_torque_nm,omitempty"`
	PreEnableTimeoutCycles *int     `json:"pre_enable_timeout_cycles,omitempty"`
	SoftDisableCycles      *int     `json:"soft_disable_cycles,omitempty"`

	// Loop params
	LagWindowCycles *int     `json:"lag_window_cycles,omitempty"`
	LagFactor       *float64 `json:"lag_factor,omitempty"`

	// Session recording params (optional)
	SessionDBPath   *string `json:"session_db_path,omitempty"`
	RecordDecimate  *int    `json:"record_decimate,omitempty"`
	RecordQueueSize *int    `json:"record_queue_size,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyControlsConfig returns a ControlsConfig with all fields set to nil.
// Use LoadControlsConfig to load actual values from the defaults file.
func EmptyControlsConfig() *ControlsConfig {
	return &ControlsConfig{}
}

// LoadControlsConfig loads a ControlsConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadControlsConfig(path string) (*ControlsConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyControlsConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical controls defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *ControlsConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadControlsConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *ControlsConfig) Validate() error {
	durations := map[string]*string{
		"vehicle_state_timeout": c.VehicleStateTimeout,
		"model_timeout":         c.ModelTimeout,
		"plan_timeout":          c.PlanTimeout,
		"calibration_timeout":   c.CalibrationTimeout,
		"live_params_timeout":   c.LiveParamsTimeout,
		"torque_params_timeout": c.TorqueParamsTimeout,
		"radar_timeout":         c.RadarTimeout,
	}
	for name, v := range durations {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if c.OverrideTorqueNm != nil && *c.OverrideTorqueNm <= 0 {
		return fmt.Errorf("override_torque_nm must be positive, got %f", *c.OverrideTorqueNm)
	}
	if c.ReleaseTorqueNm != nil && *c.ReleaseTorqueNm < 0 {
		return fmt.Errorf("release_torque_nm must be non-negative, got %f", *c.ReleaseTorqueNm)
	}
	if c.OverrideTorqueNm != nil && c.ReleaseTorqueNm != nil && *c.ReleaseTorqueNm > *c.OverrideTorqueNm {
		return fmt.Errorf("release_torque_nm (%f) must not exceed override_torque_nm (%f)",
			*c.ReleaseTorqueNm, *c.OverrideTorqueNm)
	}

	if c.PreEnableTimeoutCycles != nil && *c.PreEnableTimeoutCycles <= 0 {
		return fmt.Errorf("pre_enable_timeout_cycles must be positive, got %d", *c.PreEnableTimeoutCycles)
	}
	if c.SoftDisableCycles != nil && *c.SoftDisableCycles <= 0 {
		return fmt.Errorf("soft_disable_cycles must be positive, got %d", *c.SoftDisableCycles)
	}

	if c.LagFactor != nil && (*c.LagFactor <= 0 || *c.LagFactor > 1) {
		return fmt.Errorf("lag_factor must be in (0,1], got %f", *c.LagFactor)
	}
	if c.LagWindowCycles != nil && *c.LagWindowCycles <= 0 {
		return fmt.Errorf("lag_window_cycles must be positive, got %d", *c.LagWindowCycles)
	}

	if c.RecordDecimate != nil && *c.RecordDecimate <= 0 {
		return fmt.Errorf("record_decimate must be positive, got %d", *c.RecordDecimate)
	}
	if c.RecordQueueSize != nil && *c.RecordQueueSize <= 0 {
		return fmt.Errorf("record_queue_size must be positive, got %d", *c.RecordQueueSize)
	}

	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetVehicleStateTimeout returns the vehicle_state_timeout value or the default.
func (c *ControlsConfig) GetVehicleStateTimeout() time.Duration {
	return durationOr(c.VehicleStateTimeout, 100*time.Millisecond)
}

// GetModelTimeout returns the model_timeout value or the default.
func (c *ControlsConfig) GetModelTimeout() time.Duration {
	return durationOr(c.ModelTimeout, 300*time.Millisecond)
}

// GetPlanTimeout returns the plan_timeout value or the default.
func (c *ControlsConfig) GetPlanTimeout() time.Duration {
	return durationOr(c.PlanTimeout, 200*time.Millisecond)
}

// GetCalibrationTimeout returns the calibration_timeout value or the default.
func (c *ControlsConfig) GetCalibrationTimeout() time.Duration {
	return durationOr(c.CalibrationTimeout, 5*time.Second)
}

// GetLiveParamsTimeout returns the live_params_timeout value or the default.
func (c *ControlsConfig) GetLiveParamsTimeout() time.Duration {
	return durationOr(c.LiveParamsTimeout, 10*time.Second)
}

// GetTorqueParamsTimeout returns the torque_params_timeout value or the default.
func (c *ControlsConfig) GetTorqueParamsTimeout() time.Duration {
	return durationOr(c.TorqueParamsTimeout, 10*time.Second)
}

// GetRadarTimeout returns the radar_timeout value or the default.
func (c *ControlsConfig) GetRadarTimeout() time.Duration {
	return durationOr(c.RadarTimeout, 1*time.Second)
}

// GetOverrideTorqueNm returns the override_torque_nm value or the default.
func (c *ControlsConfig) GetOverrideTorqueNm() float64 {
	if c.OverrideTorqueNm == nil {
		return 3.0
	}
	return *c.OverrideTorqueNm
}

// GetReleaseTorqueNm returns the release_torque_nm value or the default.
func (c *ControlsConfig) GetReleaseTorqueNm() float64 {
	if c.ReleaseTorqueNm == nil {
		return 1.5
	}
	return *c.ReleaseTorqueNm
}

// GetPreEnableTimeoutCycles returns the pre_enable_timeout_cycles value or the default.
func (c *ControlsConfig) GetPreEnableTimeoutCycles() int {
	if c.PreEnableTimeoutCycles == nil {
		return 50 // half a second at 100 Hz
	}
	return *c.PreEnableTimeoutCycles
}

// GetSoftDisableCycles returns the soft_disable_cycles value or the default.
func (c *ControlsConfig) GetSoftDisableCycles() int {
	if c.SoftDisableCycles == nil {
		return 300 // three seconds at 100 Hz
	}
	return *c.SoftDisableCycles
}

// GetLagWindowCycles returns the lag_window_cycles value or the default.
func (c *ControlsConfig) GetLagWindowCycles() int {
	if c.LagWindowCycles == nil {
		return 100
	}
	return *c.LagWindowCycles
}

// GetLagFactor returns the lag_factor value or the default.
func (c *ControlsConfig) GetLagFactor() float64 {
	if c.LagFactor == nil {
		return 0.9
	}
	return *c.LagFactor
}

// GetSessionDBPath returns the session_db_path value or the default.
func (c *ControlsConfig) GetSessionDBPath() string {
	if c.SessionDBPath == nil || *c.SessionDBPath == "" {
		return "sessions.db"
	}
	return *c.SessionDBPath
}

// GetRecordDecimate returns the record_decimate value or the default.
func (c *ControlsConfig) GetRecordDecimate() int {
	if c.RecordDecimate == nil {
		return 5 // record every 5th cycle (20 Hz)
	}
	return *c.RecordDecimate
}

// GetRecordQueueSize returns the record_queue_size value or the default.
func (c *ControlsConfig) GetRecordQueueSize() int {
	if c.RecordQueueSize == nil {
		return 1024
	}
	return *c.RecordQueueSize
}
