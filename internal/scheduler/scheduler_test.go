package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func newScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestAddAndList(t *testing.T) {
	s := newScheduler(t)
	noop := func(context.Context) error { return nil }

	if err := s.Add("rebuild", "0 */6 * * *", noop); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add("prune", "30 0 3 * * *", noop); err != nil {
		t.Fatalf("Add 6-field: %v", err)
	}
	if err := s.Add("rebuild", "* * * * *", noop); err == nil {
		t.Error("duplicate name accepted")
	}
	if err := s.Add("broken", "not cron", noop); err == nil {
		t.Error("invalid cron accepted")
	}

	jobs := s.Jobs()
	if len(jobs) != 2 || jobs[0].Name != "prune" || jobs[1].Name != "rebuild" {
		t.Fatalf("Jobs = %+v", jobs)
	}
	if jobs[1].Schedule != "0 */6 * * *" {
		t.Errorf("schedule = %q", jobs[1].Schedule)
	}

	s.Remove("prune")
	s.Remove("prune")
	if got := len(s.Jobs()); got != 1 {
		t.Errorf("after remove: %d jobs", got)
	}
}

func TestRunNow(t *testing.T) {
	s := newScheduler(t)
	ran := make(chan struct{}, 1)
	var calls atomic.Int32
	err := s.Add("rebuild", "0 0 1 1 *", func(ctx context.Context) error {
		calls.Add(1)
		ran <- struct{}{}
		return errors.New("logged, not fatal")
	})
	if err != nil {
		t.Fatal(err)
	}
	s.Start()

	if err := s.RunNow("rebuild"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d", calls.Load())
	}

	if err := s.RunNow("missing"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("RunNow(missing) = %v", err)
	}
}
