package cplscheme

// CompensatedClock accumulates a monotonically increasing time value
// using Kahan summation, so that many small additions (one per substep
// across a long-running simulation) don't drift away from the true sum
// the way naive floating point addition would.
type CompensatedClock struct {
	sum        float64
	correction float64
}

// NewCompensatedClock returns a clock initialized to v.
func NewCompensatedClock(v float64) *CompensatedClock {
	c := &CompensatedClock{}
	c.Reset(v)
	return c
}

// Reset discards any accumulated correction and sets the clock to v.
func (c *CompensatedClock) Reset(v float64) {
	c.sum = v
	c.correction = 0
}

// Add advances the clock by dv using Kahan compensated summation.
func (c *CompensatedClock) Add(dv float64) {
	y := dv - c.correction
	t := c.sum + y
	c.correction = (t - c.sum) - y
	c.sum = t
}

// Sum returns the clock's current value.
func (c *CompensatedClock) Sum() float64 {
	return c.sum
}
