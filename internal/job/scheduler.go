// Package job schedules the daily acquisition run.
package job

import (
	"context"
	"fmt"
	"log"

	"morning-dispatch/internal/domain"

	"github.com/robfig/cron/v3"
)

// Runner is the unit the scheduler drives, one pipeline run per invocation.
type Runner interface {
	Run(ctx context.Context) (domain.RunState, error)
}

// Scheduler wraps a cron instance around the daily runner. With an empty
// schedule expression the caller should invoke RunOnce instead.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	ctx    context.Context
}

func NewScheduler(ctx context.Context, runner Runner) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		runner: runner,
		ctx:    ctx,
	}
}

// Register installs the daily job under a standard 5-field cron expression.
func (s *Scheduler) Register(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.runDaily); err != nil {
		return fmt.Errorf("register daily run: %w", err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Println("scheduler started")
}

// Stop stops scheduling and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Println("scheduler stopped")
}

func (s *Scheduler) runDaily() {
	state, err := s.runner.Run(s.ctx)
	if err != nil {
		log.Printf("Warning: daily run failed: %v", err)
		return
	}
	log.Printf("daily run finished: %s", state)
}

// RunOnce executes a single run immediately.
func (s *Scheduler) RunOnce() (domain.RunState, error) {
	return s.runner.Run(s.ctx)
}
