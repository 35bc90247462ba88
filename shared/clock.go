package shared

import "time"

//go:generate mockgen -package mocks -destination mocks/clock.go . Clock

// Clock abstracts wall time so units and the timelock can be tested at
// fixed instants.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }
