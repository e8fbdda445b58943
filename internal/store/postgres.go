package store

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"offerbot/internal/offer"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Postgres stores records in a shared database, for setups where several
// machines run the bot.
type Postgres struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConnLifetime = 5 * time.Minute
	cfg.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return p.pool.Ping(ctx)
}

// migrate applies the embedded migrations that have not run yet, in file
// name order.
func (p *Postgres) migrate(ctx context.Context) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	if _, err := p.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, f := range files {
		var applied bool
		if err := p.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, f).Scan(&applied); err != nil {
			return err
		}
		if applied {
			continue
		}

		b, err := migrations.ReadFile("migrations/" + f)
		if err != nil {
			return err
		}
		if _, err := p.pool.Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("apply %s: %w", f, err)
		}
		if _, err := p.pool.Exec(ctx, `INSERT INTO schema_migrations(version) VALUES ($1)`, f); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) Append(ctx context.Context, r offer.Record) error {
	rw, err := encodeRow(r)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO offer_records (run_id, offer_id, origin, window_label, day, start_time, end_time,
			selected_time, hour_options, minute_options, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.RunID, r.OfferID, r.Origin, r.Window, r.Day, r.StartTime, r.EndTime,
		r.SelectedTime, rw.hourOptions, rw.minuteOptions, rw.processedAt,
	)
	if err != nil {
		return fmt.Errorf("insert offer record: %w", err)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context, limit int) ([]offer.Record, error) {
	query := `SELECT ` + selectColumns + ` FROM offer_records ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list offer records: %w", err)
	}
	defer rows.Close()

	var out []offer.Record
	for rows.Next() {
		var (
			r  offer.Record
			rw row
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.OfferID, &r.Origin, &r.Window, &r.Day,
			&r.StartTime, &r.EndTime, &r.SelectedTime, &rw.hourOptions, &rw.minuteOptions, &rw.processedAt); err != nil {
			return nil, err
		}
		if err := rw.decodeInto(&r); err != nil {
			return nil, fmt.Errorf("offer record %d: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
