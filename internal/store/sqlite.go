package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/joss/playsync/internal/domain"
)

const backendSQLite = "sqlite"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS played_games (
	title TEXT PRIMARY KEY,
	first_seen INTEGER NOT NULL,
	last_seen INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_played_games_last_seen ON played_games(last_seen DESC);
`

const sqliteUpsert = `
INSERT INTO played_games (title, first_seen, last_seen)
VALUES (?, ?, ?)
ON CONFLICT(title) DO UPDATE SET last_seen = max(played_games.last_seen, excluded.last_seen)
RETURNING title, first_seen, last_seen
`

// SQLite stores played games in a local database file.
type SQLite struct {
	db   *sql.DB
	path string
}

var _ GameStore = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One writer connection keeps concurrent upserts from tripping SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLite) migrate() error {
	_, err := s.db.Exec(sqliteSchema)
	return err
}

// Upsert implements Upserter.
func (s *SQLite) Upsert(ctx context.Context, title string, at time.Time) (domain.PlayedGame, error) {
	title = domain.NormalizeTitle(title)
	if title == "" {
		return domain.PlayedGame{}, ErrInvalidTitle
	}

	ms := domain.Millis(at)
	g, err := scanGame(s.db.QueryRowContext(ctx, sqliteUpsert, title, ms, ms))
	if err != nil {
		return domain.PlayedGame{}, classifySQLite(fmt.Errorf("upsert %q: %w", title, err))
	}
	return g, nil
}

// UpsertBatch implements Upserter inside one transaction.
func (s *SQLite) UpsertBatch(ctx context.Context, titles []string, at time.Time) ([]domain.PlayedGame, error) {
	titles = domain.DedupeTitles(titles)
	if len(titles) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classifySQLite(fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, sqliteUpsert)
	if err != nil {
		return nil, classifySQLite(fmt.Errorf("prepare: %w", err))
	}
	defer stmt.Close()

	ms := domain.Millis(at)
	games := make([]domain.PlayedGame, 0, len(titles))
	for _, t := range titles {
		g, err := scanGame(stmt.QueryRowContext(ctx, t, ms, ms))
		if err != nil {
			return nil, classifySQLite(fmt.Errorf("upsert %q: %w", t, err))
		}
		games = append(games, g)
	}

	if err := tx.Commit(); err != nil {
		return nil, classifySQLite(fmt.Errorf("commit: %w", err))
	}
	return games, nil
}

// Get implements GameStore.
func (s *SQLite) Get(ctx context.Context, title string) (domain.PlayedGame, error) {
	title = domain.NormalizeTitle(title)
	g, err := scanGame(s.db.QueryRowContext(ctx,
		`SELECT title, first_seen, last_seen FROM played_games WHERE title = ?`, title))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PlayedGame{}, NewNotFoundError(title)
	}
	if err != nil {
		return domain.PlayedGame{}, classifySQLite(err)
	}
	return g, nil
}

// Ping implements Store.
func (s *SQLite) Ping(ctx context.Context) error {
	return classifySQLite(s.db.PingContext(ctx))
}

// Close implements Store.
func (s *SQLite) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGame(row rowScanner) (domain.PlayedGame, error) {
	var (
		g           domain.PlayedGame
		first, last int64
	)
	if err := row.Scan(&g.Title, &first, &last); err != nil {
		return domain.PlayedGame{}, err
	}
	g.FirstSeen = domain.FromMillis(first)
	g.LastSeen = domain.FromMillis(last)
	return g, nil
}

// classifySQLite marks lock contention as transient.
func classifySQLite(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) &&
		(sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
		return Unavailable(backendSQLite, err)
	}
	return err
}
