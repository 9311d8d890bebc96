package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

type Schedules struct {
	NoShow  string
	Archive string
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron      *cron.Cron
	jobs      *Jobs
	log       logrus.FieldLogger
	schedules Schedules
}

func NewScheduler(jobs *Jobs, log logrus.FieldLogger, schedules Schedules) *Scheduler {
	cronLogger := cron.PrintfLogger(log)
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))

	return &Scheduler{
		cron:      c,
		jobs:      jobs,
		log:       log,
		schedules: schedules,
	}
}

// Start registers the jobs and starts the cron scheduler. An invalid
// schedule is an error; nothing is started in that case.
func (s *Scheduler) Start() error {
	entries := []struct {
		name     string
		schedule string
		run      func()
	}{
		{"no_show_sweep", s.schedules.NoShow, s.jobs.SweepNoShows},
		{"archive", s.schedules.Archive, s.jobs.ArchiveExpired},
	}
	for _, e := range entries {
		if _, err := s.cron.AddFunc(e.schedule, e.run); err != nil {
			return fmt.Errorf("schedule %s job %q: %w", e.name, e.schedule, err)
		}
		s.log.WithFields(logrus.Fields{"job": e.name, "schedule": e.schedule}).Info("scheduled job")
	}

	s.cron.Start()
	return nil
}

// Stop stops the scheduler; the returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunNow runs every job once, synchronously.
func (s *Scheduler) RunNow() {
	s.jobs.SweepNoShows()
	s.jobs.ArchiveExpired()
}
