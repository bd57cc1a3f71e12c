package scheduler

import "time"

// Clock is the scheduler's source of time. Deadlines are compared against
// Now and armed through AfterFunc, so tests can swap in a manual clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the part of *time.Timer the scheduler needs to disarm a deadline.
type Timer interface {
	Stop() bool
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

// *time.Timer satisfies Timer as is.
func (wallClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
