package offer

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Window is the date and time range printed on an offer card.
type Window struct {
	Label string    // raw label as captured from the page
	Date  time.Time // calendar date, midnight UTC
	Start string    // HH:MM
	End   string    // HH:MM, empty for single-time labels
}

var windowPattern = regexp.MustCompile(`^(\d{2}/\d{2}/\d{4}) (\d{2}:\d{2})(?: - (\d{2}:\d{2}))?$`)

// ParseWindow parses an offer label. Two shapes are accepted:
//   - "15/06/2025 09:00"          (DD/MM/YYYY HH:MM)
//   - "15/06/2025 23:30 - 00:15"  (DD/MM/YYYY HH:MM - HH:MM)
//
// Anything else, including impossible dates or times, is rejected with
// ErrMalformedWindow.
func ParseWindow(label string) (Window, error) {
	s := strings.TrimSpace(label)

	m := windowPattern.FindStringSubmatch(s)
	if m == nil {
		return Window{}, fmt.Errorf("%w: %q", ErrMalformedWindow, label)
	}

	date, err := time.Parse("02/01/2006", m[1])
	if err != nil {
		return Window{}, fmt.Errorf("%w: %q: invalid date", ErrMalformedWindow, label)
	}

	for _, hm := range m[2:] {
		if hm == "" {
			continue
		}
		if _, err := time.Parse("15:04", hm); err != nil {
			return Window{}, fmt.Errorf("%w: %q: invalid time %s", ErrMalformedWindow, label, hm)
		}
	}

	return Window{
		Label: label,
		Date:  date,
		Start: m[2],
		End:   m[3],
	}, nil
}

// HasEnd reports whether the label carried an end time.
func (w Window) HasEnd() bool {
	return w.End != ""
}

// RollsOver reports whether the window ends on the following day.
// HH:MM strings are zero padded, so string order is time order.
func (w Window) RollsOver() bool {
	return w.HasEnd() && w.End < w.Start
}
