// Package system provides the wall clock used for envelope stamps, event
// timestamps and sampler wall time.
package system

import "time"

// Clock implements protocol.Clock and discovery.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
