package offer

import (
	"context"
	"time"
)

// Offer is one card on the travel offers screen.
type Offer struct {
	ID    string
	Label string
}

// Source is the offers screen of the portal. Methods that wait for an element
// return an error wrapping ErrUITimeout when it does not show up in time.
type Source interface {
	DayPicker

	ListVisibleOffers(ctx context.Context) ([]Offer, error)
	SelectDay(ctx context.Context, day string) error
	Options(ctx context.Context, c Control) ([]Option, error)
	SelectOption(ctx context.Context, c Control, o Option) error
	Commit(ctx context.Context) error
	Refresh(ctx context.Context) error
}

// Reloader is implemented by sources that can rebuild the offers screen from
// scratch. The scanner uses it after repeated UI timeouts.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Record is the audit row written for every committed offer.
type Record struct {
	ID            int64     `json:"id"`
	RunID         string    `json:"run_id"`
	OfferID       string    `json:"offer_id"`
	Origin        string    `json:"origin"`
	Window        string    `json:"window"`
	Day           string    `json:"day"`
	StartTime     string    `json:"start_time"`
	EndTime       string    `json:"end_time,omitempty"`
	SelectedTime  *string   `json:"selected_time"`
	HourOptions   []int     `json:"hour_options"`
	MinuteOptions []int     `json:"minute_options"`
	ProcessedAt   time.Time `json:"processed_at"`
}

// Recorder appends records. Appends are not deduplicated.
type Recorder interface {
	Append(ctx context.Context, r Record) error
}

// Logger is the leveled logger the scanner reports through.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}
