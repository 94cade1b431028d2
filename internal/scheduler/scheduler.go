// Package scheduler runs background tasks on their declared schedule
// (interval, cron, or one-shot), enforcing per-task budgets and a
// scheduler-wide daily/monthly spend guard before any run starts. Due
// tasks are found by a polling tick loop and claimed with a
// compare-and-swap status transition before they run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maziarzamani/spaceduck-sub000/internal/agent"
	"github.com/maziarzamani/spaceduck-sub000/internal/budget"
	"github.com/maziarzamani/spaceduck-sub000/internal/store"
)

// Runner executes one task's definition and reports resource usage.
// The concrete implementation wired in cmd/spaceduckd drives an
// agent.Loop turn against the task's conversation; tests substitute a
// stub.
type Runner interface {
	Run(ctx context.Context, task store.Task) (budget.Usage, error)
}

// AgentRunner adapts an agent.Loop into a Runner: each task run is one
// synthetic turn against the task's bound conversation, observed with
// a NoopSink since there is no live connection to stream to.
type AgentRunner struct {
	Loop *agent.Loop
}

// Run executes task.Definition as a user turn and reports a minimal
// usage reading: only StartedAt is set; no token or cost figures are
// recorded.
func (r AgentRunner) Run(ctx context.Context, task store.Task) (budget.Usage, error) {
	start := time.Now()
	_, err := r.Loop.RunTurn(ctx, task.ConversationID, task.Definition, agent.NoopSink{})
	usage := budget.Usage{StartedAt: start}
	if err != nil {
		return usage, err
	}
	return usage, nil
}

// Config bundles the Scheduler's dependencies.
type Config struct {
	Store              *store.Store
	Runner             Runner
	Guard              *budget.Guard
	HeartbeatMs        int
	MaxConcurrentTasks int
	BackoffBaseMs      int64
	BackoffMaxMs       int64
	MaxAttempts        int
	Log                *slog.Logger
}

// Scheduler polls for due tasks and dispatches them up to a
// concurrency cap, gated by the spend guard.
type Scheduler struct {
	db     *store.Store
	runner Runner
	guard  *budget.Guard
	log    *slog.Logger

	heartbeat     time.Duration
	sem           chan struct{}
	backoffBase   time.Duration
	backoffMax    time.Duration
	maxAttempts   int

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs a Scheduler from cfg, applying the usual
// zero-means-default convention for unset tuning knobs.
func New(cfg Config) *Scheduler {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	heartbeat := time.Duration(cfg.HeartbeatMs) * time.Millisecond
	if heartbeat <= 0 {
		heartbeat = 5 * time.Second
	}
	concurrency := cfg.MaxConcurrentTasks
	if concurrency <= 0 {
		concurrency = 4
	}
	backoffBase := time.Duration(cfg.BackoffBaseMs) * time.Millisecond
	if backoffBase <= 0 {
		backoffBase = time.Second
	}
	backoffMax := time.Duration(cfg.BackoffMaxMs) * time.Millisecond
	if backoffMax <= 0 {
		backoffMax = 5 * time.Minute
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	return &Scheduler{
		db:          cfg.Store,
		runner:      cfg.Runner,
		guard:       cfg.Guard,
		log:         log,
		heartbeat:   heartbeat,
		sem:         make(chan struct{}, concurrency),
		backoffBase: backoffBase,
		backoffMax:  backoffMax,
		maxAttempts: maxAttempts,
	}
}

// Start runs the polling loop in a background goroutine until ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop cancels the polling loop and waits for in-flight dispatch
// goroutines, including the task runs they started, to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// tick polls for due tasks and dispatches each one, subject to the
// spend guard and the concurrency semaphore.
func (s *Scheduler) tick(ctx context.Context) {
	if s.guard != nil {
		allowed, err := s.guard.Allow(ctx)
		if err != nil {
			s.log.Error("scheduler: spend guard check failed", "err", err)
			return
		}
		if !allowed {
			s.log.Warn("scheduler: paused, spend guard tripped")
			return
		}
	}

	due, err := s.db.DueTasks(ctx, time.Now())
	if err != nil {
		s.log.Error("scheduler: due tasks query failed", "err", err)
		return
	}

	for _, task := range due {
		task := task
		select {
		case s.sem <- struct{}{}:
		default:
			// at concurrency cap; this task waits for the next tick
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			s.dispatch(ctx, task)
		}()
	}
}

// dispatch claims a single task via CAS, runs it, and records the
// outcome, retrying with exponential backoff up to maxAttempts before
// moving the task to dead_letter.
func (s *Scheduler) dispatch(ctx context.Context, task store.Task) {
	claimed, err := s.db.TransitionTaskRunning(ctx, task.ID)
	if err != nil {
		s.log.Error("scheduler: claim task failed", "task_id", task.ID, "err", err)
		return
	}
	if !claimed {
		return // another scheduler instance won the race
	}

	run := &store.TaskRun{ID: uuid.NewString(), TaskID: task.ID, Outcome: "running"}
	if err := s.db.CreateTaskRun(ctx, run); err != nil {
		s.log.Error("scheduler: create task run failed", "task_id", task.ID, "err", err)
		return
	}

	taskBudget, err := budget.Decode(task.Budget)
	if err != nil {
		s.log.Warn("scheduler: invalid task budget, treating as unbounded", "task_id", task.ID, "err", err)
	}

	usage, runErr := s.runner.Run(ctx, task)
	if runErr == nil {
		if budgetErr := usage.Check(taskBudget); budgetErr != nil {
			runErr = budgetErr
		}
	}

	run.TokensUsed = usage.Tokens
	run.CostUSD = usage.CostUSD
	run.ToolCalls = usage.ToolCalls
	run.MemoryWrites = usage.MemoryWrites

	if usage.CostUSD > 0 {
		if err := s.db.RecordSpend(ctx, uuid.NewString(), task.ID, usage.CostUSD); err != nil {
			s.log.Error("scheduler: record spend failed", "task_id", task.ID, "err", err)
		}
	}

	if runErr != nil {
		run.Outcome = "error"
		run.Error = runErr.Error()
		if err := s.db.FinishTaskRun(ctx, run); err != nil {
			s.log.Error("scheduler: finish task run failed", "task_id", task.ID, "err", err)
		}
		s.retryOrDeadLetter(ctx, task, runErr)
		return
	}

	run.Outcome = "ok"
	if err := s.db.FinishTaskRun(ctx, run); err != nil {
		s.log.Error("scheduler: finish task run failed", "task_id", task.ID, "err", err)
	}

	s.reschedule(ctx, task)
}

// retryOrDeadLetter advances task to a retry (with backoff) or to the
// dead_letter terminal state once maxAttempts is exhausted.
func (s *Scheduler) retryOrDeadLetter(ctx context.Context, task store.Task, runErr error) {
	retryCount := task.RetryCount + 1
	if retryCount >= s.maxAttempts {
		if err := s.db.CompleteTask(ctx, task.ID, store.TaskStatusDeadLetter, nil, retryCount); err != nil {
			s.log.Error("scheduler: dead-letter task failed", "task_id", task.ID, "err", err)
		}
		s.log.Error("scheduler: task moved to dead letter", "task_id", task.ID, "attempts", retryCount, "err", runErr)
		return
	}

	delay := backoffDelay(s.backoffBase, s.backoffMax, retryCount)
	next := time.Now().Add(delay)
	if err := s.db.CompleteTask(ctx, task.ID, store.TaskStatusScheduled, &next, retryCount); err != nil {
		s.log.Error("scheduler: reschedule after failure failed", "task_id", task.ID, "err", err)
	}
}

// backoffDelay returns min(max, base*2^attempt).
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d > max {
			return max
		}
	}
	return d
}

// reschedule advances a successfully completed task to its next
// occurrence (interval/cron) or to "completed" for a one-shot task.
func (s *Scheduler) reschedule(ctx context.Context, task store.Task) {
	switch task.ScheduleKind {
	case store.ScheduleOneShot:
		if err := s.db.CompleteTask(ctx, task.ID, store.TaskStatusCompleted, nil, 0); err != nil {
			s.log.Error("scheduler: complete one-shot task failed", "task_id", task.ID, "err", err)
		}

	case store.ScheduleInterval:
		d, err := time.ParseDuration(task.ScheduleValue)
		if err != nil {
			s.log.Error("scheduler: invalid interval schedule, dead-lettering", "task_id", task.ID, "value", task.ScheduleValue, "err", err)
			_ = s.db.CompleteTask(ctx, task.ID, store.TaskStatusDeadLetter, nil, task.RetryCount)
			return
		}
		next := time.Now().Add(d)
		if err := s.db.CompleteTask(ctx, task.ID, store.TaskStatusScheduled, &next, 0); err != nil {
			s.log.Error("scheduler: reschedule interval task failed", "task_id", task.ID, "err", err)
		}

	case store.ScheduleCron:
		sched, err := parseCron(task.ScheduleValue)
		if err != nil {
			s.log.Error("scheduler: invalid cron schedule, dead-lettering", "task_id", task.ID, "value", task.ScheduleValue, "err", err)
			_ = s.db.CompleteTask(ctx, task.ID, store.TaskStatusDeadLetter, nil, task.RetryCount)
			return
		}
		next, err := sched.next(time.Now())
		if err != nil {
			s.log.Error("scheduler: compute next cron run failed", "task_id", task.ID, "err", err)
			_ = s.db.CompleteTask(ctx, task.ID, store.TaskStatusDeadLetter, nil, task.RetryCount)
			return
		}
		if err := s.db.CompleteTask(ctx, task.ID, store.TaskStatusScheduled, &next, 0); err != nil {
			s.log.Error("scheduler: reschedule cron task failed", "task_id", task.ID, "err", err)
		}

	default:
		s.log.Error("scheduler: unknown schedule kind, dead-lettering", "task_id", task.ID, "kind", task.ScheduleKind)
		_ = s.db.CompleteTask(ctx, task.ID, store.TaskStatusDeadLetter, nil, task.RetryCount)
	}
}

// ErrInvalidSchedule is returned by ValidateSchedule when a task's
// schedule kind/value combination could not be parsed, so the HTTP
// layer can reject a bad task definition at creation time instead of
// discovering it on the first dispatch.
var ErrInvalidSchedule = errors.New("scheduler: invalid schedule")

// ValidateSchedule checks that value parses for kind, returning the
// first run time a newly created task should be scheduled at.
func ValidateSchedule(kind store.ScheduleKind, value string) (time.Time, error) {
	switch kind {
	case store.ScheduleOneShot:
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: one_shot value must be a unix millisecond timestamp: %v", ErrInvalidSchedule, err)
		}
		return time.UnixMilli(ms), nil

	case store.ScheduleInterval:
		d, err := time.ParseDuration(value)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
		}
		return time.Now().Add(d), nil

	case store.ScheduleCron:
		sched, err := parseCron(value)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
		}
		return sched.next(time.Now())

	default:
		return time.Time{}, fmt.Errorf("%w: unknown schedule kind %q", ErrInvalidSchedule, kind)
	}
}
