package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joss/playsync/internal/domain"
)

const backendPostgres = "postgres"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS played_games (
	title TEXT PRIMARY KEY,
	first_seen TIMESTAMPTZ NOT NULL,
	last_seen TIMESTAMPTZ NOT NULL
)`

const postgresUpsert = `
INSERT INTO played_games (title, first_seen, last_seen)
VALUES ($1, $2, $2)
ON CONFLICT (title) DO UPDATE SET last_seen = GREATEST(played_games.last_seen, EXCLUDED.last_seen)
RETURNING title, first_seen, last_seen`

const postgresUpsertBatch = `
INSERT INTO played_games (title, first_seen, last_seen)
SELECT t, $2, $2 FROM unnest($1::text[]) AS t
ON CONFLICT (title) DO UPDATE SET last_seen = GREATEST(played_games.last_seen, EXCLUDED.last_seen)
RETURNING title, first_seen, last_seen`

// Postgres stores played games in a PostgreSQL table.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ GameStore = (*Postgres)(nil)

// OpenPostgres connects a pool and creates the table if missing.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, classifyPostgres(fmt.Errorf("migrate: %w", err))
	}
	return &Postgres{pool: pool}, nil
}

// Upsert implements Upserter.
func (p *Postgres) Upsert(ctx context.Context, title string, at time.Time) (domain.PlayedGame, error) {
	title = domain.NormalizeTitle(title)
	if title == "" {
		return domain.PlayedGame{}, ErrInvalidTitle
	}

	var g domain.PlayedGame
	err := p.pool.QueryRow(ctx, postgresUpsert, title, at.UTC()).Scan(&g.Title, &g.FirstSeen, &g.LastSeen)
	if err != nil {
		return domain.PlayedGame{}, classifyPostgres(fmt.Errorf("upsert %q: %w", title, err))
	}
	return g, nil
}

// UpsertBatch implements Upserter in a single statement over unnest.
func (p *Postgres) UpsertBatch(ctx context.Context, titles []string, at time.Time) ([]domain.PlayedGame, error) {
	titles = domain.DedupeTitles(titles)
	if len(titles) == 0 {
		return nil, nil
	}

	rows, err := p.pool.Query(ctx, postgresUpsertBatch, titles, at.UTC())
	if err != nil {
		return nil, classifyPostgres(fmt.Errorf("upsert batch of %d: %w", len(titles), err))
	}
	games, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.PlayedGame, error) {
		var g domain.PlayedGame
		err := row.Scan(&g.Title, &g.FirstSeen, &g.LastSeen)
		return g, err
	})
	if err != nil {
		return nil, classifyPostgres(fmt.Errorf("upsert batch of %d: %w", len(titles), err))
	}
	return games, nil
}

// Get implements GameStore.
func (p *Postgres) Get(ctx context.Context, title string) (domain.PlayedGame, error) {
	title = domain.NormalizeTitle(title)
	var g domain.PlayedGame
	err := p.pool.QueryRow(ctx,
		`SELECT title, first_seen, last_seen FROM played_games WHERE title = $1`, title).
		Scan(&g.Title, &g.FirstSeen, &g.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PlayedGame{}, NewNotFoundError(title)
	}
	if err != nil {
		return domain.PlayedGame{}, classifyPostgres(err)
	}
	return g, nil
}

// Ping implements Store.
func (p *Postgres) Ping(ctx context.Context) error {
	return classifyPostgres(p.pool.Ping(ctx))
}

// Close implements Store.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// classifyPostgres marks connection-level failures as transient.
func classifyPostgres(err error) error {
	if err == nil {
		return nil
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return Unavailable(backendPostgres, err)
	}
	return err
}
