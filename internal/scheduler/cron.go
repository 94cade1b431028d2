package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// cronSchedule is a parsed 5-field cron expression: minute hour
// day-of-month month day-of-week. Each field is a bitmask of the
// values that satisfy it.
type cronSchedule struct {
	minute  uint64 // bits 0-59
	hour    uint32 // bits 0-23
	dom     uint32 // bits 1-31
	month   uint16 // bits 1-12
	dow     uint8  // bits 0-6, 0 = Sunday
}

var fieldBounds = [5][2]int{
	{0, 59}, // minute
	{0, 23}, // hour
	{1, 31}, // day of month
	{1, 12}, // month
	{0, 6},  // day of week
}

// parseCron parses a standard 5-field cron expression. It supports `*`,
// comma-separated lists, `a-b` ranges, and `*/n` or `a-b/n` step values.
func parseCron(expr string) (cronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return cronSchedule{}, fmt.Errorf("scheduler: cron expression %q must have 5 fields, got %d", expr, len(fields))
	}

	var sched cronSchedule
	masks := make([]uint64, 5)
	for i, f := range fields {
		mask, err := parseCronField(f, fieldBounds[i][0], fieldBounds[i][1])
		if err != nil {
			return cronSchedule{}, fmt.Errorf("scheduler: field %d (%q): %w", i, f, err)
		}
		masks[i] = mask
	}

	sched.minute = masks[0]
	sched.hour = uint32(masks[1])
	sched.dom = uint32(masks[2])
	sched.month = uint16(masks[3])
	sched.dow = uint8(masks[4])
	return sched, nil
}

// parseCronField turns one cron field into a bitmask over [lo, hi].
func parseCronField(field string, lo, hi int) (uint64, error) {
	var mask uint64

	for _, part := range strings.Split(field, ",") {
		rangeExpr, step := part, 1
		if idx := strings.IndexByte(part, '/'); idx >= 0 {
			rangeExpr = part[:idx]
			n, err := strconv.Atoi(part[idx+1:])
			if err != nil || n <= 0 {
				return 0, fmt.Errorf("invalid step %q", part[idx+1:])
			}
			step = n
		}

		start, end := lo, hi
		switch {
		case rangeExpr == "*":
			// start/end already cover the full range
		case strings.Contains(rangeExpr, "-"):
			bounds := strings.SplitN(rangeExpr, "-", 2)
			a, err1 := strconv.Atoi(bounds[0])
			b, err2 := strconv.Atoi(bounds[1])
			if err1 != nil || err2 != nil || a > b {
				return 0, fmt.Errorf("invalid range %q", rangeExpr)
			}
			start, end = a, b
		default:
			v, err := strconv.Atoi(rangeExpr)
			if err != nil {
				return 0, fmt.Errorf("invalid value %q", rangeExpr)
			}
			start, end = v, v
		}

		if start < lo || end > hi {
			return 0, fmt.Errorf("value out of range [%d,%d]: %q", lo, hi, part)
		}

		for v := start; v <= end; v += step {
			mask |= 1 << uint(v)
		}
	}

	if mask == 0 {
		return 0, fmt.Errorf("field matches no values")
	}
	return mask, nil
}

// next returns the first instant strictly after after that satisfies
// sched, searching minute-by-minute up to two years out (enough to
// cover even a Feb-29-only expression before giving up).
func (c cronSchedule) next(after time.Time) (time.Time, error) {
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.AddDate(2, 0, 0)

	for t.Before(limit) {
		if c.matches(t) {
			return t, nil
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("scheduler: no matching time found within 2 years")
}

func (c cronSchedule) matches(t time.Time) bool {
	if c.minute&(1<<uint(t.Minute())) == 0 {
		return false
	}
	if c.hour&(1<<uint(t.Hour())) == 0 {
		return false
	}
	if c.month&(1<<uint(t.Month())) == 0 {
		return false
	}
	// Standard cron semantics: if both day-of-month and day-of-week are
	// restricted (not "*"), a match on either is sufficient.
	domRestricted := c.dom != fullMask(1, 31)
	dowRestricted := c.dow != uint8(fullMask(0, 6))
	domMatch := c.dom&(1<<uint(t.Day())) != 0
	dowMatch := c.dow&(1<<uint(t.Weekday())) != 0

	switch {
	case domRestricted && dowRestricted:
		return domMatch || dowMatch
	case domRestricted:
		return domMatch
	case dowRestricted:
		return dowMatch
	default:
		return true
	}
}

func fullMask(lo, hi int) uint32 {
	var m uint32
	for v := lo; v <= hi; v++ {
		m |= 1 << uint(v)
	}
	return m
}

func fullMask64(lo, hi int) uint64 {
	var m uint64
	for v := lo; v <= hi; v++ {
		m |= 1 << uint(v)
	}
	return m
}

func init() {
	// Sanity-check at package init that the full-mask helpers produce a
	// non-empty mask, so a slip here fails loudly in tests rather than
	// silently misclassifying every "*" field.
	if fullMask64(0, 59) == 0 || fullMask(0, 23) == 0 {
		panic("scheduler: cron full-mask helpers misconfigured")
	}
}
