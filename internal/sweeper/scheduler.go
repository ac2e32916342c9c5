// Package sweeper runs the process's periodic background jobs: forcing
// abandoned RUNNING tasks to FAILED, garbage-collecting aged screenshot
// files, pruning old terminal tasks, and promoting queued evaluation runs.
// The Job/Scheduler shape is grounded on emergent-company-specmcp's
// internal/scheduler/scheduler.go ticker-per-job design (reference-only,
// not a teacher), swapped from that package's slog.Logger onto plain
// log.Printf.
package sweeper

import (
	"context"
	"log"
	"time"
)

// Job is one periodic unit of work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type scheduledJob struct {
	job      Job
	interval time.Duration
	ticker   *time.Ticker
	stop     chan struct{}
}

// Scheduler runs a fixed set of Jobs, each on its own ticker.
type Scheduler struct {
	jobs []scheduledJob
}

// NewScheduler creates an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// AddJob registers job to run every interval once Start is called.
func (s *Scheduler) AddJob(job Job, interval time.Duration) {
	s.jobs = append(s.jobs, scheduledJob{job: job, interval: interval, stop: make(chan struct{})})
}

// Start launches one goroutine per registered job. It returns immediately;
// jobs run until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	for i := range s.jobs {
		sj := &s.jobs[i]
		sj.ticker = time.NewTicker(sj.interval)

		go func(sj *scheduledJob) {
			log.Printf("[sweeper] starting job %q every %v", sj.job.Name(), sj.interval)
			for {
				select {
				case <-sj.ticker.C:
					if err := sj.job.Run(ctx); err != nil {
						log.Printf("[sweeper] job %q failed: %v", sj.job.Name(), err)
					}
				case <-sj.stop:
					return
				case <-ctx.Done():
					return
				}
			}
		}(sj)
	}
}

// Stop halts every job's ticker goroutine. Safe to call once.
func (s *Scheduler) Stop() {
	for i := range s.jobs {
		if s.jobs[i].ticker != nil {
			s.jobs[i].ticker.Stop()
		}
		close(s.jobs[i].stop)
	}
	log.Printf("[sweeper] scheduler stopped")
}
