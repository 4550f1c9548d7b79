package clock

import "time"

// Layout is the timestamp format carried in message envelopes.
const Layout = "2006-01-02 15:04:05.000"

// Clock supplies the current time. The zero value uses time.Now.
type Clock func() time.Time

// System returns the wall clock.
func System() Clock {
	return time.Now
}

// Fixed returns a clock frozen at t.
func Fixed(t time.Time) Clock {
	return func() time.Time { return t }
}

// Now returns the current time.
func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}

// Stamp formats the current time with Layout.
func (c Clock) Stamp() string {
	return c.Now().Format(Layout)
}
