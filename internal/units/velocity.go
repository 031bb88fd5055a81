// Package units provides shared constants and conversions for the speed and
// angle quantities flowing through the control core. Internal values are
// always SI (m/s, radians); conversions exist only at the edges (cruise
// set-speed arrives in km/h, steering angles arrive in degrees).
package units

import "math"

// Unit constants
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// Conversion factors
const (
	MPHToMPS = 0.44704
	MPSToMPH = 1.0 / MPHToMPS
	KPHToMPS = 1.0 / 3.6
	MPSToKPH = 3.6

	DegToRad = math.Pi / 180.0
	RadToDeg = 180.0 / math.Pi
)

// ValidUnits contains all valid speed unit values
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// ConvertSpeed converts a speed from meters per second to the target units.
// Unknown units pass the value through unchanged.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPS:
		return speedMPS
	case MPH:
		return speedMPS * MPSToMPH
	case KMPH, KPH:
		return speedMPS * MPSToKPH
	default:
		return speedMPS
	}
}

// Radians converts degrees to radians.
func Radians(deg float64) float64 { return deg * DegToRad }

// Degrees converts radians to degrees.
func Degrees(rad float64) float64 { return rad * RadToDeg }
