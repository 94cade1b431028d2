package scheduler

import (
	"testing"
	"time"
)

func mustParseCron(t *testing.T, expr string) cronSchedule {
	t.Helper()
	sched, err := parseCron(expr)
	if err != nil {
		t.Fatalf("parseCron(%q) = %v", expr, err)
	}
	return sched
}

func TestParseCronRejectsBadFieldCount(t *testing.T) {
	if _, err := parseCron("* * * *"); err == nil {
		t.Fatal("expected error for 4-field expression")
	}
	if _, err := parseCron("* * * * * *"); err == nil {
		t.Fatal("expected error for 6-field expression")
	}
}

func TestParseCronRejectsOutOfRange(t *testing.T) {
	cases := []string{"60 * * * *", "* 24 * * *", "* * 0 * *", "* * * 13 *", "* * * * 7"}
	for _, c := range cases {
		if _, err := parseCron(c); err == nil {
			t.Errorf("parseCron(%q) expected error, got none", c)
		}
	}
}

func TestCronNextEveryMinute(t *testing.T) {
	sched := mustParseCron(t, "* * * * *")
	after := time.Date(2026, 1, 1, 10, 30, 15, 0, time.UTC)
	next, err := sched.next(after)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	want := time.Date(2026, 1, 1, 10, 31, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestCronNextDailyAtSpecificTime(t *testing.T) {
	sched := mustParseCron(t, "30 9 * * *") // 09:30 every day
	after := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	next, err := sched.next(after)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	want := time.Date(2026, 3, 6, 9, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestCronNextStepValues(t *testing.T) {
	sched := mustParseCron(t, "*/15 * * * *")
	after := time.Date(2026, 1, 1, 10, 1, 0, 0, time.UTC)
	next, err := sched.next(after)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	want := time.Date(2026, 1, 1, 10, 15, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestCronNextWeekday(t *testing.T) {
	// Every weekday (Mon-Fri) at 08:00.
	sched := mustParseCron(t, "0 8 * * 1-5")
	// 2026-03-07 is a Saturday.
	after := time.Date(2026, 3, 7, 9, 0, 0, 0, time.UTC)
	next, err := sched.next(after)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	// Next weekday at 08:00 is Monday 2026-03-09.
	want := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestBackoffDelayCapsAtMax(t *testing.T) {
	base := time.Second
	max := 10 * time.Second
	if d := backoffDelay(base, max, 1); d != 2*time.Second {
		t.Errorf("attempt 1: got %v, want 2s", d)
	}
	if d := backoffDelay(base, max, 10); d != max {
		t.Errorf("attempt 10: got %v, want capped at %v", d, max)
	}
}
