package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"offerbot/internal/offer"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS offer_records (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id         TEXT NOT NULL DEFAULT '',
	offer_id       TEXT NOT NULL,
	origin         TEXT NOT NULL,
	window_label   TEXT NOT NULL,
	day            TEXT NOT NULL,
	start_time     TEXT NOT NULL,
	end_time       TEXT NOT NULL DEFAULT '',
	selected_time  TEXT,
	hour_options   TEXT NOT NULL DEFAULT '[]',
	minute_options TEXT NOT NULL DEFAULT '[]',
	processed_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_offer_records_offer_id ON offer_records(offer_id);
`

// SQLite is the default local store.
type SQLite struct {
	conn *sql.DB
}

// OpenSQLite creates or opens the database file at path and applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := conn.Exec(sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{conn: conn}, nil
}

func (s *SQLite) Close() error {
	return s.conn.Close()
}

// Append inserts r as a new row.
func (s *SQLite) Append(ctx context.Context, r offer.Record) error {
	rw, err := encodeRow(r)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	var selected sql.NullString
	if r.SelectedTime != nil {
		selected = sql.NullString{String: *r.SelectedTime, Valid: true}
	}

	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO offer_records (run_id, offer_id, origin, window_label, day, start_time, end_time,
			selected_time, hour_options, minute_options, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.OfferID, r.Origin, r.Window, r.Day, r.StartTime, r.EndTime,
		selected, rw.hourOptions, rw.minuteOptions, rw.processedAt,
	)
	if err != nil {
		return fmt.Errorf("insert offer record: %w", err)
	}
	return nil
}

// List returns up to limit records, newest first. A limit <= 0 returns all.
func (s *SQLite) List(ctx context.Context, limit int) ([]offer.Record, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM offer_records ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list offer records: %w", err)
	}
	defer rows.Close()

	var out []offer.Record
	for rows.Next() {
		var (
			r        offer.Record
			rw       row
			selected sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.OfferID, &r.Origin, &r.Window, &r.Day,
			&r.StartTime, &r.EndTime, &selected, &rw.hourOptions, &rw.minuteOptions, &rw.processedAt); err != nil {
			return nil, err
		}
		if selected.Valid {
			v := selected.String
			r.SelectedTime = &v
		}
		if err := rw.decodeInto(&r); err != nil {
			return nil, fmt.Errorf("offer record %d: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
