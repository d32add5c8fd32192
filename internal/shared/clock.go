package shared

import "time"

// Clock supplies the current time to services.
type Clock func() time.Time

// SystemClock returns time.Now.
func SystemClock() Clock { return time.Now }

// FixedClock always returns t.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// OrSystem returns c, or the system clock when c is nil.
func (c Clock) OrSystem() Clock {
	if c == nil {
		return time.Now
	}
	return c
}
