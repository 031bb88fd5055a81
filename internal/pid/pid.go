// Package pid implements the discrete PI(D)+feedforward controller used by
// both control axes. Gains may be scheduled against vehicle speed through
// breakpoint tables.
package pid

import "math"

// Gain is a speed-scheduled gain: V[i] applies at speed BP[i], with linear
// interpolation between breakpoints. A single-element table is a constant
// gain.
type Gain struct {
	BP []float64
	V  []float64
}

// Constant returns a Gain with a single breakpoint.
func Constant(v float64) Gain {
	return Gain{BP: []float64{0}, V: []float64{v}}
}

// At evaluates the gain at the given speed.
func (g Gain) At(speed float64) float64 {
	return Interp(speed, g.BP, g.V)
}

// Interp is linear interpolation over (xp, fp) with flat extrapolation,
// matching the breakpoint-table convention used throughout the tuning
// parameters.
func Interp(x float64, xp, fp []float64) float64 {
	if len(xp) == 0 || len(xp) != len(fp) {
		return 0
	}
	if x <= xp[0] {
		return fp[0]
	}
	if x >= xp[len(xp)-1] {
		return fp[len(fp)-1]
	}
	for i := 1; i < len(xp); i++ {
		if x < xp[i] {
			t := (x - xp[i-1]) / (xp[i] - xp[i-1])
			return fp[i-1] + t*(fp[i]-fp[i-1])
		}
	}
	return fp[len(fp)-1]
}

// Controller is a discrete PID controller with feedforward. Output is clamped
// to [NegLimit, PosLimit]; the integrator only accumulates when doing so does
// not push the output further past a binding limit (conditional anti-windup).
type Controller struct {
	kp Gain
	ki Gain
	kd float64
	kf float64

	posLimit float64
	negLimit float64
	dt       float64

	// Last-update terms, exposed for the published controls state.
	P float64
	I float64
	D float64
	F float64

	control   float64
	prevError float64
}

// New returns a controller with speed-scheduled P and I gains. dt is the
// update period in seconds.
func New(kp, ki Gain, kf, posLimit, negLimit, dt float64) *Controller {
	return &Controller{
		kp:       kp,
		ki:       ki,
		kf:       kf,
		posLimit: posLimit,
		negLimit: negLimit,
		dt:       dt,
	}
}

// SetDerivative sets the derivative gain. Most tunings leave it at zero.
func (c *Controller) SetDerivative(kd float64) { c.kd = kd }

// Reset clears all internal state. Call whenever the controller loses
// authority so re-engagement starts from a neutral command.
func (c *Controller) Reset() {
	c.P, c.I, c.D, c.F = 0, 0, 0, 0
	c.control = 0
	c.prevError = 0
}

// UpdateOpts carries the per-cycle optional inputs to Update.
type UpdateOpts struct {
	Feedforward      float64
	Speed            float64
	Override         bool // driver override: bleed the integrator toward zero
	FreezeIntegrator bool // hold the integrator (e.g. output limited downstream)
}

// Update advances the controller by one cycle and returns the clamped output.
func (c *Controller) Update(err float64, opts UpdateOpts) float64 {
	c.P = err * c.kp.At(opts.Speed)
	c.F = opts.Feedforward * c.kf
	if c.dt > 0 {
		c.D = c.kd * (err - c.prevError) / c.dt
	}
	c.prevError = err

	if opts.Override {
		c.I -= c.I * c.dt / 0.25
	} else if !opts.FreezeIntegrator {
		i := c.I + err*c.ki.At(opts.Speed)*c.dt
		// Only wind the integrator while it is not pushing the output
		// further past a binding limit.
		u := c.P + i + c.D + c.F
		if (err >= 0 && (u <= c.posLimit || i <= 0)) ||
			(err <= 0 && (u >= c.negLimit || i >= 0)) {
			c.I = i
		}
	}

	c.control = math.Min(math.Max(c.P+c.I+c.D+c.F, c.negLimit), c.posLimit)
	return c.control
}

// Control returns the last computed output.
func (c *Controller) Control() float64 { return c.control }
