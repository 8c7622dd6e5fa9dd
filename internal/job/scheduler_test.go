package job

import (
	"context"
	"errors"
	"testing"

	"morning-dispatch/internal/domain"
)

type countingRunner struct {
	runs  int
	state domain.RunState
	err   error
}

func (r *countingRunner) Run(ctx context.Context) (domain.RunState, error) {
	r.runs++
	return r.state, r.err
}

func TestRegisterRejectsBadSpec(t *testing.T) {
	s := NewScheduler(context.Background(), &countingRunner{})
	if err := s.Register("not a cron spec"); err == nil {
		t.Fatal("expected error for invalid expression")
	}
	if err := s.Register("30 6 * * 1-5"); err != nil {
		t.Fatalf("valid weekday expression rejected: %v", err)
	}
}

func TestRunOnce(t *testing.T) {
	r := &countingRunner{state: domain.RunCompleted}
	s := NewScheduler(context.Background(), r)

	state, err := s.RunOnce()
	if err != nil || state != domain.RunCompleted {
		t.Fatalf("state=%v err=%v", state, err)
	}
	if r.runs != 1 {
		t.Fatalf("runs = %d", r.runs)
	}
}

func TestRunDailyLogsFailure(t *testing.T) {
	r := &countingRunner{err: errors.New("degraded")}
	s := NewScheduler(context.Background(), r)

	s.runDaily()
	if r.runs != 1 {
		t.Fatalf("runs = %d", r.runs)
	}
}
