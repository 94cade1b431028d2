// Package budget enforces the per-task spend/usage limits a scheduled
// task declares and the scheduler-wide
// daily/monthly spend guard that pauses the scheduler
// once accumulated cost crosses a configured cap.
package budget

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/maziarzamani/spaceduck-sub000/internal/store"
)

// Budget is the set of limits a single task run must stay within.
// Zero means "unbounded" for that dimension, following the
// convention of zero-value-as-disabled for optional limits.
type Budget struct {
	MaxTokens      int     `json:"maxTokens,omitempty"`
	MaxCostUSD     float64 `json:"maxCostUsd,omitempty"`
	MaxWallClockMs int64   `json:"maxWallClockMs,omitempty"`
	MaxToolCalls   int     `json:"maxToolCalls,omitempty"`
	MaxMemoryWrites int    `json:"maxMemoryWrites,omitempty"`
}

// Encode serializes b for storage in store.Task.Budget.
func (b Budget) Encode() (string, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("budget: encode: %w", err)
	}
	return string(raw), nil
}

// Decode parses a task's stored budget column back into a Budget. An
// empty string decodes to the zero value (unbounded).
func Decode(raw string) (Budget, error) {
	if raw == "" {
		return Budget{}, nil
	}
	var b Budget
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return Budget{}, fmt.Errorf("budget: decode: %w", err)
	}
	return b, nil
}

// Usage tracks what a single run has consumed so far, checked against
// Budget after every tool call / token chunk the runner observes.
type Usage struct {
	Tokens       int
	CostUSD      float64
	ToolCalls    int
	MemoryWrites int
	StartedAt    time.Time
}

// ErrExceeded is returned by Usage.Check when any declared limit has
// been crossed. The message names which dimension tripped.
type ErrExceeded struct {
	Dimension string
}

func (e *ErrExceeded) Error() string {
	return fmt.Sprintf("budget: %s limit exceeded", e.Dimension)
}

// Check reports the first dimension of b that u has exceeded, or nil
// if the run is still within budget.
func (u Usage) Check(b Budget) error {
	if b.MaxTokens > 0 && u.Tokens > b.MaxTokens {
		return &ErrExceeded{Dimension: "tokens"}
	}
	if b.MaxCostUSD > 0 && u.CostUSD > b.MaxCostUSD {
		return &ErrExceeded{Dimension: "cost"}
	}
	if b.MaxToolCalls > 0 && u.ToolCalls > b.MaxToolCalls {
		return &ErrExceeded{Dimension: "tool_calls"}
	}
	if b.MaxMemoryWrites > 0 && u.MemoryWrites > b.MaxMemoryWrites {
		return &ErrExceeded{Dimension: "memory_writes"}
	}
	if b.MaxWallClockMs > 0 && !u.StartedAt.IsZero() {
		if time.Since(u.StartedAt) > time.Duration(b.MaxWallClockMs)*time.Millisecond {
			return &ErrExceeded{Dimension: "wall_clock"}
		}
	}
	return nil
}

// SpendStore is the subset of internal/store.Store the Guard reads
// accumulated spend from.
type SpendStore interface {
	SpendSince(ctx context.Context, since time.Time) (float64, error)
}

// Guard is the scheduler-wide daily/monthly spend cap:
// when either threshold is crossed, Allow reports the scheduler should
// pause and skip dispatching further tasks until spend falls back
// under the cap on a new day/month, not mid-window.
type Guard struct {
	store             SpendStore
	maxDailyUSD       float64
	maxMonthlyUSD     float64
	now               func() time.Time
}

// NewGuard returns a Guard backed by store, enforcing maxDaily/maxMonthly
// USD caps (either may be zero to disable that dimension).
func NewGuard(s SpendStore, maxDailyUSD, maxMonthlyUSD float64) *Guard {
	return &Guard{store: s, maxDailyUSD: maxDailyUSD, maxMonthlyUSD: maxMonthlyUSD, now: time.Now}
}

// Allow reports whether the scheduler may dispatch another task run
// right now, per the accumulated daily and monthly spend. Because
// "paused is a pre-run gate" resolution, a paused guard causes the
// caller to skip the task entirely — no task_runs row is written for
// a skipped dispatch.
func (g *Guard) Allow(ctx context.Context) (bool, error) {
	now := g.now()

	if g.maxDailyUSD > 0 {
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		spent, err := g.store.SpendSince(ctx, dayStart)
		if err != nil {
			return false, fmt.Errorf("budget: daily spend query: %w", err)
		}
		if spent >= g.maxDailyUSD {
			return false, nil
		}
	}

	if g.maxMonthlyUSD > 0 {
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		spent, err := g.store.SpendSince(ctx, monthStart)
		if err != nil {
			return false, fmt.Errorf("budget: monthly spend query: %w", err)
		}
		if spent >= g.maxMonthlyUSD {
			return false, nil
		}
	}

	return true, nil
}

var _ SpendStore = (*store.Store)(nil)
