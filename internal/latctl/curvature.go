package latctl

import (
	"math"

	"github.com/banshee-data/drive.control/internal/rt"
	"github.com/banshee-data/drive.control/internal/vehicle"
)

// Curvature safety envelope (EU guideline values).
const (
	minClipSpeed          = 1.0 // m/s floor for the curvature math
	MaxCurvature          = 0.2 // 1/m, tighter turn radius than most cars achieve
	MaxLateralJerk        = 5.0 // m/s^3
	MaxLateralAccelNoRoll = 3.0 // m/s^2
)

// ClipCurvature bounds the requested curvature against lateral jerk, lateral
// acceleration (roll compensated) and the absolute curvature cap. The rate
// clamp is relative to the previous cycle's desired curvature, so the
// command can never step discontinuously. The bool reports whether an
// acceleration or absolute bound was binding (rate limiting alone is
// expected during normal driving and does not count).
func ClipCurvature(vEgo, prevCurvature, newCurvature, roll float64) (float64, bool) {
	v := math.Max(vEgo, minClipSpeed)

	maxRate := MaxLateralJerk / (v * v)
	clipped := clamp(newCurvature,
		prevCurvature-maxRate*rt.DTCtrl,
		prevCurvature+maxRate*rt.DTCtrl)

	rollCompensation := roll * vehicle.AccelDueToGravity
	maxLatAccel := MaxLateralAccelNoRoll + rollCompensation
	minLatAccel := -MaxLateralAccelNoRoll + rollCompensation

	withAccel := clamp(clipped, minLatAccel/(v*v), maxLatAccel/(v*v))
	limitedAccel := withAccel != clipped

	final := clamp(withAccel, -MaxCurvature, MaxCurvature)
	limitedMax := final != withAccel

	return final, limitedAccel || limitedMax
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// applyDeadzone zeros small values and re-centers the rest, so noise around
// zero does not produce torque chatter.
func applyDeadzone(v, deadzone float64) float64 {
	switch {
	case v > deadzone:
		return v - deadzone
	case v < -deadzone:
		return v + deadzone
	default:
		return 0
	}
}
