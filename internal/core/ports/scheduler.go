package ports

import "time"

// SchedulerService runs periodic maintenance jobs: wallet balance refresh
// and terminal-swap archival sweeps.
type SchedulerService interface {
	Start()
	Stop()

	// ScheduleRecurring runs fn every interval until Stop, under the given
	// job name (used for logging and duplicate-schedule detection).
	ScheduleRecurring(name string, interval time.Duration, fn func()) error
}
