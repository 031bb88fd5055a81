// Package rt keeps the control loop's soft real-time constraints: the cycle
// period constants and a Ratekeeper that holds a monotonic 100 Hz schedule
// while accounting for lag.
package rt

import (
	"time"

	"github.com/banshee-data/drive.control/internal/filter"
	"github.com/banshee-data/drive.control/internal/monitoring"
	"github.com/banshee-data/drive.control/internal/timeutil"
)

// Cycle periods.
const (
	DTCtrl = 0.01 // control loop period (s), 100 Hz
	DTPlan = 0.05 // planner/model period (s), 20 Hz
)

// CtrlRateHz is the control loop rate.
const CtrlRateHz = 100

// Ratekeeper maintains a fixed-rate schedule against the monotonic clock.
// Missed deadlines shift subsequent frames rather than accumulating: the
// schedule is anchored to the next frame time, not to sleep durations.
type Ratekeeper struct {
	clock        timeutil.Clock
	interval     time.Duration
	lagThreshold time.Duration // warn when a frame runs this far late; 0 disables
	lagFactor    float64
	frame        uint64
	next         time.Time
	last         time.Time
	started      bool
	avgDt        *filter.MovingAverage
}

// NewRatekeeper returns a keeper for the given rate running on the wall
// clock. lagThreshold enables a log line when a frame overruns by more than
// the threshold; pass 0 to disable the warnings.
func NewRatekeeper(rateHz int, lagThreshold time.Duration) *Ratekeeper {
	return NewRatekeeperWithClock(rateHz, lagThreshold, timeutil.RealClock{})
}

// NewRatekeeperWithClock is NewRatekeeper on an injected clock, for tests.
func NewRatekeeperWithClock(rateHz int, lagThreshold time.Duration, clock timeutil.Clock) *Ratekeeper {
	interval := time.Second / time.Duration(rateHz)
	rk := &Ratekeeper{
		clock:        clock,
		interval:     interval,
		lagThreshold: lagThreshold,
		lagFactor:    0.9,
		avgDt:        filter.NewMovingAverage(100),
	}
	rk.avgDt.Add(interval.Seconds())
	return rk
}

// Tune adjusts lag detection: the averaging window in cycles and the factor
// the average frame time is compared against. Call before the first frame.
func (rk *Ratekeeper) Tune(windowCycles int, lagFactor float64) {
	if windowCycles > 0 {
		rk.avgDt = filter.NewMovingAverage(windowCycles)
		rk.avgDt.Add(rk.interval.Seconds())
	}
	if lagFactor > 0 && lagFactor <= 1 {
		rk.lagFactor = lagFactor
	}
}

// Frame returns the number of completed frames.
func (rk *Ratekeeper) Frame() uint64 { return rk.frame }

// Interval returns the frame period.
func (rk *Ratekeeper) Interval() time.Duration { return rk.interval }

// Lagging reports whether the observed average frame time has drifted past
// the target interval divided by the lag factor (default ~10% slack).
func (rk *Ratekeeper) Lagging() bool {
	return rk.avgDt.Average() > rk.interval.Seconds()/rk.lagFactor
}

// KeepTime ends the current frame: it records frame timing, sleeps out any
// remaining budget, and returns true if the frame overran its deadline.
func (rk *Ratekeeper) KeepTime() bool {
	lagged := rk.MonitorTime()
	if remaining := rk.clock.Until(rk.next.Add(-rk.interval)); remaining > 0 {
		rk.clock.Sleep(remaining)
	}
	return lagged
}

// MonitorTime records frame timing without enforcing the rate. Used when an
// input channel paces the loop externally.
func (rk *Ratekeeper) MonitorTime() bool {
	now := rk.clock.Now()
	if !rk.started {
		rk.started = true
		rk.next = now.Add(rk.interval)
		rk.last = now
	}

	rk.avgDt.Add(now.Sub(rk.last).Seconds())
	rk.last = now

	remaining := rk.next.Sub(now)
	rk.next = rk.next.Add(rk.interval)
	rk.frame++

	if rk.lagThreshold > 0 && remaining < -rk.lagThreshold {
		monitoring.Logf("control loop lagging by %.2f ms", float64(-remaining)/float64(time.Millisecond))
		return true
	}
	return remaining < 0
}
