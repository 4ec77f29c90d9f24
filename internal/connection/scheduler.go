package connection

import "time"

// Timer is a pending deferred task.
type Timer interface {
	// Stop cancels the task; it reports false if the task already ran.
	Stop() bool
}

// Scheduler runs a task once after a delay.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// clockScheduler schedules on the wall clock.
type clockScheduler struct{}

func (clockScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealScheduler returns a Scheduler backed by time.AfterFunc.
func RealScheduler() Scheduler {
	return clockScheduler{}
}
