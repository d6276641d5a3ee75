// Package scheduler implements ports.SchedulerService on top of
// go-co-op/gocron, running the two periodic maintenance jobs the node
// needs outside the watcher/engine event loop: wallet balance refresh and
// the terminal-swap archival sweep.
package scheduler

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/flowswap/lp-node/internal/core/ports"
)

type service struct {
	scheduler *gocron.Scheduler
	jobs      map[string]*gocron.Job
}

// New returns a ports.SchedulerService backed by a UTC gocron.Scheduler.
func New() ports.SchedulerService {
	return &service{
		scheduler: gocron.NewScheduler(time.UTC),
		jobs:      make(map[string]*gocron.Job),
	}
}

func (s *service) Start() {
	s.scheduler.StartAsync()
}

func (s *service) Stop() {
	s.scheduler.Stop()
}

// ScheduleRecurring runs fn every interval under name, replacing any
// previous job registered under the same name.
func (s *service) ScheduleRecurring(name string, interval time.Duration, fn func()) error {
	if existing, ok := s.jobs[name]; ok {
		s.scheduler.RemoveByReference(existing)
		delete(s.jobs, name)
	}

	seconds := int(interval.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	job, err := s.scheduler.Every(seconds).Seconds().Do(fn)
	if err != nil {
		return fmt.Errorf("scheduler: scheduling job %q: %w", name, err)
	}
	s.jobs[name] = job
	return nil
}
