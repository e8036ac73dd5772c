// Package clock abstracts time for components with TTL and cooldown logic.
package clock

import "time"

// Clock returns the current time. Tests substitute a fake.
type Clock interface {
	Now() time.Time
}

// System implements Clock using time.Now.
type System struct{}

// NewSystem creates a real clock.
func NewSystem() *System {
	return &System{}
}

// Now returns the current UTC time.
func (System) Now() time.Time {
	return time.Now().UTC()
}
