// Package clock provides an injectable time source so that expiry and
// backoff logic can be tested deterministically.
package clock

import "time"

// Clock supplies the current time. Production code uses System; tests
// substitute a manually advanced fake.
type Clock interface {
	Now() time.Time
}

// System returns a Clock backed by time.Now.
func System() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// Fake is a manually controlled Clock for tests.
type Fake struct {
	current time.Time
}

// NewFake creates a Fake clock starting at the given instant.
func NewFake(start time.Time) *Fake {
	return &Fake{current: start}
}

// Now returns the fake's current instant.
func (f *Fake) Now() time.Time {
	return f.current
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.current = f.current.Add(d)
}

// Set moves the fake clock to a specific instant.
func (f *Fake) Set(t time.Time) {
	f.current = t
}
