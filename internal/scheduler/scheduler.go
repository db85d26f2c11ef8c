// Package scheduler owns the periodic jobs: token validation, portfolio
// monitoring and market monitoring. Jobs that overrun their interval are
// skipped, never stacked.
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one periodic task. Failures are logged; the schedule keeps going.
type Job func(ctx context.Context) error

// Scheduler wraps a cron runner with the chain every job gets: panic
// recovery and skip-if-still-running.
type Scheduler struct {
	cron    *cron.Cron
	baseCtx context.Context
}

func New(baseCtx context.Context) *Scheduler {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	logger := cron.PrintfLogger(log.Default())
	return &Scheduler{
		cron: cron.New(
			cron.WithChain(
				cron.SkipIfStillRunning(logger),
				cron.Recover(logger),
			),
		),
		baseCtx: baseCtx,
	}
}

// Every registers a job on a fixed interval.
func (s *Scheduler) Every(name string, interval time.Duration, job Job) error {
	_, err := s.cron.AddFunc("@every "+interval.String(), func() {
		if err := job(s.baseCtx); err != nil {
			log.Printf("job %s: %v", name, err)
		}
	})
	return err
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Print("scheduler started")
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Print("scheduler stopped")
}
