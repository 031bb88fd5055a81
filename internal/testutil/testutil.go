// Package testutil provides shared test fixtures.
//
// This package centralises the canonical test vehicle so closed-loop tests
// across packages all run against the same capability descriptor.
package testutil

import (
	"testing"

	"github.com/banshee-data/drive.control/internal/vehicle"
)

// CarParams returns a valid torque-steer test vehicle with the PID lateral
// tuning. Callers may mutate the returned copy.
func CarParams() *vehicle.CarParams {
	return &vehicle.CarParams{
		CarFingerprint:   "TEST VEHICLE",
		SteerControlType: vehicle.SteerControlTorque,
		LateralTuning:    vehicle.LateralTuningPID,
		LateralPID: &vehicle.PIDTuning{
			KpBP: []float64{0, 30},
			KpV:  []float64{0.2, 0.1},
			KiBP: []float64{0},
			KiV:  []float64{0.05},
			Kf:   0.00006,
		},
		LateralTorque: &vehicle.TorqueTuning{
			Kp:               1.0,
			Ki:               0.1,
			Kf:               1.0,
			LatAccelFactor:   2.5,
			LatAccelOffset:   0.0,
			Friction:         0.1,
			UseSteeringAngle: true,
			DeadzoneDeg:      0.0,
		},
		Wheelbase:         2.7,
		SteerRatio:        15.0,
		Mass:              1600,
		SteerLimitTimer:   0.4,
		MinSteerSpeed:     0.3,
		MaxSteerAngleDeg:  90,
		SteerAtStandstill: false,
		AccelMin:          -3.5,
		AccelMax:          2.0,
		JerkLimit:         5.0,
		VEgoStopping:      0.25,
		VEgoStarting:      0.25,
		StoppingDecelRate: 0.8,
		StopAccel:         -2.0,
		LongitudinalPID: &vehicle.PIDTuning{
			KpBP: []float64{0, 35},
			KpV:  []float64{1.2, 0.7},
			KiBP: []float64{0, 35},
			KiV:  []float64{0.25, 0.2},
			Kf:   1.0,
		},
	}
}

// AngleCarParams returns a valid angle-steer test vehicle.
func AngleCarParams() *vehicle.CarParams {
	cp := CarParams()
	cp.SteerControlType = vehicle.SteerControlAngle
	return cp
}

// MustValidate fails the test if the params do not validate.
func MustValidate(t *testing.T, cp *vehicle.CarParams) {
	t.Helper()
	if err := cp.Validate(); err != nil {
		t.Fatalf("test car params invalid: %v", err)
	}
}
