package control

// LowPassFilter is a first-order exponential smoother:
//
//	y[n] = a*x[n] + (1-a)*y[n-1],  a = ts / (tau + ts)
//
// The first sample after construction or Reset passes through unchanged.
type LowPassFilter struct {
	a     float64
	last  float64
	ready bool
}

// NewLowPassFilter creates a filter with time constant tau and sample period
// ts, both in seconds. A non-positive tau disables smoothing.
func NewLowPassFilter(tau, ts float64) *LowPassFilter {
	a := 1.0
	if tau > 0 && ts > 0 {
		a = ts / (tau + ts)
	}
	return &LowPassFilter{a: a}
}

// Filter feeds one sample and returns the smoothed value.
func (f *LowPassFilter) Filter(sample float64) float64 {
	if !f.ready {
		f.last = sample
		f.ready = true
		return sample
	}
	f.last = f.a*sample + (1-f.a)*f.last
	return f.last
}

// Get returns the last smoothed value.
func (f *LowPassFilter) Get() float64 { return f.last }

// Ready reports whether the filter holds state from a previous sample.
func (f *LowPassFilter) Ready() bool { return f.ready }

// Reset drops the filter state; the next sample passes through.
func (f *LowPassFilter) Reset() {
	f.last = 0
	f.ready = false
}
