// Package store persists the audit trail of confirmed offers. Rows are only
// ever appended.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"offerbot/internal/offer"
)

// Store appends offer records and reads them back, newest first.
type Store interface {
	offer.Recorder
	List(ctx context.Context, limit int) ([]offer.Record, error)
	Close() error
}

// Open picks the backend from the DSN: postgres:// and postgresql:// URLs use
// Postgres, anything else is a SQLite file path (an optional sqlite:// prefix
// is stripped).
func Open(ctx context.Context, dsn string) (Store, error) {
	switch {
	case dsn == "":
		return nil, fmt.Errorf("store: empty database DSN")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return OpenPostgres(ctx, dsn)
	default:
		return OpenSQLite(strings.TrimPrefix(dsn, "sqlite://"))
	}
}

const selectColumns = `id, run_id, offer_id, origin, window_label, day, start_time, end_time,
	selected_time, hour_options, minute_options, processed_at`

// row is the text form of a record shared by both backends.
type row struct {
	hourOptions   string
	minuteOptions string
	processedAt   string
}

func encodeRow(r offer.Record) (row, error) {
	hours, err := encodeInts(r.HourOptions)
	if err != nil {
		return row{}, err
	}
	minutes, err := encodeInts(r.MinuteOptions)
	if err != nil {
		return row{}, err
	}
	return row{
		hourOptions:   hours,
		minuteOptions: minutes,
		processedAt:   r.ProcessedAt.Format(time.RFC3339Nano),
	}, nil
}

func (rw row) decodeInto(r *offer.Record) error {
	var err error
	if r.HourOptions, err = decodeInts(rw.hourOptions); err != nil {
		return fmt.Errorf("hour_options: %w", err)
	}
	if r.MinuteOptions, err = decodeInts(rw.minuteOptions); err != nil {
		return fmt.Errorf("minute_options: %w", err)
	}
	if r.ProcessedAt, err = time.Parse(time.RFC3339Nano, rw.processedAt); err != nil {
		return fmt.Errorf("processed_at: %w", err)
	}
	return nil
}

func encodeInts(v []int) (string, error) {
	if v == nil {
		v = []int{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeInts(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	var v []int
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, nil
	}
	return v, nil
}
