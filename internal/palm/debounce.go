package palm

// Debouncer only trusts a positive result after it has been seen on
// Required consecutive frames. Any negative frame resets the streak.
type Debouncer struct {
	Required int
	streak   int
}

// NewDebouncer returns a Debouncer requiring n consecutive hits.
// n below 1 is treated as 1.
func NewDebouncer(n int) *Debouncer {
	if n < 1 {
		n = 1
	}
	return &Debouncer{Required: n}
}

// Observe records one frame result and reports whether the streak is long enough.
func (d *Debouncer) Observe(open bool) bool {
	if !open {
		d.streak = 0
		return false
	}
	d.streak++
	return d.streak >= d.Required
}

// Reset clears the streak.
func (d *Debouncer) Reset() {
	d.streak = 0
}
