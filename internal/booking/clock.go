package booking

import "time"

// Clock is the injectable time source. Every "now" comparison in the engine
// goes through it so tests can pin time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// RealClock returns the wall clock in UTC.
func RealClock() Clock { return realClock{} }

// FixedClock always returns the same instant. For tests.
type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now() time.Time { return c.T }
