package scheduler_test

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maziarzamani/spaceduck-sub000/internal/budget"
	"github.com/maziarzamani/spaceduck-sub000/internal/scheduler"
	"github.com/maziarzamani/spaceduck-sub000/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "scheduler-test-*.db")
	if err != nil {
		t.Fatalf("create temp db: %v", err)
	}
	f.Close()

	s, err := store.New(f.Name())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type countingRunner struct {
	calls int32
	err   error
}

func (r *countingRunner) Run(ctx context.Context, task store.Task) (budget.Usage, error) {
	atomic.AddInt32(&r.calls, 1)
	return budget.Usage{}, r.err
}

func createDueTask(t *testing.T, s *store.Store, kind store.ScheduleKind, value string) *store.Task {
	t.Helper()
	ctx := context.Background()
	now := time.Now().Add(-time.Second)
	task := &store.Task{
		ID:            "task-" + value,
		Definition:    "do the thing",
		ScheduleKind:  kind,
		ScheduleValue: value,
		Budget:        "",
		Status:        store.TaskStatusScheduled,
		NextRunAt:     &now,
	}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return task
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestSchedulerRunsDueTaskAndReschedulesInterval(t *testing.T) {
	s := newTestStore(t)
	createDueTask(t, s, store.ScheduleInterval, "1h")

	runner := &countingRunner{}
	sched := scheduler.New(scheduler.Config{
		Store:       s,
		Runner:      runner,
		HeartbeatMs: 20,
	})
	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)
	defer func() {
		cancel()
		sched.Stop()
	}()

	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&runner.calls) == 1 })

	got, err := s.GetTask(context.Background(), "task-1h")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != store.TaskStatusScheduled {
		t.Fatalf("status = %s, want scheduled (rescheduled)", got.Status)
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(time.Now()) {
		t.Fatalf("expected next run in the future, got %v", got.NextRunAt)
	}
}

func TestSchedulerOneShotCompletes(t *testing.T) {
	s := newTestStore(t)
	createDueTask(t, s, store.ScheduleOneShot, "once")

	runner := &countingRunner{}
	sched := scheduler.New(scheduler.Config{Store: s, Runner: runner, HeartbeatMs: 20})
	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)
	defer func() {
		cancel()
		sched.Stop()
	}()

	waitFor(t, 2*time.Second, func() bool {
		got, err := s.GetTask(context.Background(), "task-once")
		return err == nil && got.Status == store.TaskStatusCompleted
	})
}

func TestSchedulerDeadLettersAfterMaxAttempts(t *testing.T) {
	s := newTestStore(t)
	createDueTask(t, s, store.ScheduleInterval, "1h")

	runner := &countingRunner{err: errors.New("boom")}
	sched := scheduler.New(scheduler.Config{
		Store:         s,
		Runner:        runner,
		HeartbeatMs:   10,
		BackoffBaseMs: 1,
		BackoffMaxMs:  2,
		MaxAttempts:   2,
	})
	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)
	defer func() {
		cancel()
		sched.Stop()
	}()

	waitFor(t, 3*time.Second, func() bool {
		got, err := s.GetTask(context.Background(), "task-1h")
		return err == nil && got.Status == store.TaskStatusDeadLetter
	})
}

func TestSchedulerSkipsWhenGuardTripped(t *testing.T) {
	s := newTestStore(t)
	createDueTask(t, s, store.ScheduleInterval, "1h")

	// Record spend already over the daily cap so Allow reports false.
	if err := s.RecordSpend(context.Background(), "spend-1", "", 100); err != nil {
		t.Fatalf("RecordSpend: %v", err)
	}

	runner := &countingRunner{}
	guard := budget.NewGuard(s, 1.0, 0)
	sched := scheduler.New(scheduler.Config{Store: s, Runner: runner, Guard: guard, HeartbeatMs: 10})
	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)
	defer func() {
		cancel()
		sched.Stop()
	}()

	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&runner.calls) != 0 {
		t.Fatalf("expected runner not to be called while guard is tripped, got %d calls", runner.calls)
	}
}

func TestValidateScheduleInterval(t *testing.T) {
	next, err := scheduler.ValidateSchedule(store.ScheduleInterval, "30m")
	if err != nil {
		t.Fatalf("ValidateSchedule: %v", err)
	}
	if !next.After(time.Now()) {
		t.Fatalf("expected future next run, got %v", next)
	}
}

func TestValidateScheduleRejectsBadCron(t *testing.T) {
	if _, err := scheduler.ValidateSchedule(store.ScheduleCron, "not a cron"); !errors.Is(err, scheduler.ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule, got %v", err)
	}
}
