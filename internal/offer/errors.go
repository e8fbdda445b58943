package offer

import "errors"

var (
	// ErrMalformedWindow is returned when an offer label is not a date/time window.
	ErrMalformedWindow = errors.New("malformed offer window")

	// ErrDayUnavailable is returned when neither the resolved day nor its fallback
	// can be picked in the calendar.
	ErrDayUnavailable = errors.New("day not selectable")

	// ErrNoEnabledOptions is returned when a time control has no enabled numeric option.
	ErrNoEnabledOptions = errors.New("no enabled options")

	// ErrUITimeout wraps failures caused by an expected element not appearing in time.
	ErrUITimeout = errors.New("ui timeout")
)
