// Package filter holds the small smoothing primitives shared by the
// controllers and the rate keeper.
package filter

// FirstOrderFilter is a discrete first-order low-pass filter with time
// constant rc, sampled at a fixed dt.
type FirstOrderFilter struct {
	x           float64
	dt          float64
	alpha       float64
	initialized bool
}

// NewFirstOrderFilter returns a filter seeded at x0. If initialized is false
// the first Update replaces the seed instead of blending with it.
func NewFirstOrderFilter(x0, rc, dt float64, initialized bool) *FirstOrderFilter {
	f := &FirstOrderFilter{x: x0, dt: dt, initialized: initialized}
	f.UpdateAlpha(rc)
	return f
}

// UpdateAlpha recomputes the blend factor for a new time constant. A zero
// time constant makes the filter a pass-through.
func (f *FirstOrderFilter) UpdateAlpha(rc float64) {
	if rc+f.dt == 0 {
		f.alpha = 1.0
		return
	}
	f.alpha = f.dt / (rc + f.dt)
}

// Update feeds one sample and returns the filtered value.
func (f *FirstOrderFilter) Update(x float64) float64 {
	if f.initialized {
		f.x = (1.0-f.alpha)*f.x + f.alpha*x
	} else {
		f.initialized = true
		f.x = x
	}
	return f.x
}

// Value returns the current filtered value without feeding a sample.
func (f *FirstOrderFilter) Value() float64 { return f.x }

// Reset re-seeds the filter.
func (f *FirstOrderFilter) Reset(x0 float64, initialized bool) {
	f.x = x0
	f.initialized = initialized
}

// MovingAverage is a fixed-window running mean over float64 samples.
type MovingAverage struct {
	window []float64
	next   int
	count  int
	sum    float64
}

// NewMovingAverage returns a moving average over the last size samples.
func NewMovingAverage(size int) *MovingAverage {
	if size < 1 {
		size = 1
	}
	return &MovingAverage{window: make([]float64, size)}
}

// Add feeds one sample, evicting the oldest once the window is full.
func (m *MovingAverage) Add(v float64) {
	if m.count == len(m.window) {
		m.sum -= m.window[m.next]
	} else {
		m.count++
	}
	m.window[m.next] = v
	m.sum += v
	m.next = (m.next + 1) % len(m.window)
}

// Average returns the mean of the current window, or 0 with no samples.
func (m *MovingAverage) Average() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

// Count returns the number of samples currently in the window.
func (m *MovingAverage) Count() int { return m.count }
