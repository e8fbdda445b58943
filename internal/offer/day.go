package offer

import (
	"context"
	"fmt"
	"strconv"
)

// DayDecision is the calendar day to pick for a window.
type DayDecision struct {
	Day        string
	RolledOver bool
}

// Decide computes the day to pick in the date picker. Windows that cross
// midnight move to the next day number; the addition is plain integer
// arithmetic, so the 31st rolls over to "32" and relies on the fallback in
// ResolveDay.
func Decide(w Window) DayDecision {
	day := w.Date.Day()
	if w.RollsOver() {
		return DayDecision{Day: strconv.Itoa(day + 1), RolledOver: true}
	}
	return DayDecision{Day: strconv.Itoa(day)}
}

// DayPicker reports which day numbers the calendar currently offers.
type DayPicker interface {
	DayIsSelectable(ctx context.Context, day string) (bool, error)
}

// ResolveDay returns the day number to select for w. When a rolled-over day
// is missing from the calendar the previous day is tried once; a base day
// has no fallback.
func ResolveDay(ctx context.Context, w Window, picker DayPicker) (string, error) {
	d := Decide(w)

	ok, err := picker.DayIsSelectable(ctx, d.Day)
	if err != nil {
		return "", fmt.Errorf("check day %s: %w", d.Day, err)
	}
	if ok {
		return d.Day, nil
	}
	if !d.RolledOver {
		return "", fmt.Errorf("%w: %s", ErrDayUnavailable, d.Day)
	}

	n, _ := strconv.Atoi(d.Day)
	prev := strconv.Itoa(n - 1)

	ok, err = picker.DayIsSelectable(ctx, prev)
	if err != nil {
		return "", fmt.Errorf("check day %s: %w", prev, err)
	}
	if !ok {
		return "", fmt.Errorf("%w: %s (fallback %s)", ErrDayUnavailable, d.Day, prev)
	}
	return prev, nil
}
