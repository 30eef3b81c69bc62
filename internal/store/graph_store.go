package store

import (
	"context"
	"fmt"
	"time"

	"github.com/joss/playsync/internal/domain"
	"github.com/joss/playsync/internal/graph"
)

const backendNeo4j = "neo4j"

// upsertGameQuery merges on title. lastSeen only moves forward so an
// older concurrent write cannot rewind it.
const upsertGameQuery = `
	MERGE (g:Game {title: $title})
	ON CREATE SET g.firstSeen = $now
	SET g.lastSeen = CASE
		WHEN g.lastSeen IS NULL OR g.lastSeen < $now THEN $now
		ELSE g.lastSeen
	END
	RETURN g.title AS title, g.firstSeen AS firstSeen, g.lastSeen AS lastSeen
`

const upsertGamesQuery = `
	UNWIND $titles AS title
	MERGE (g:Game {title: title})
	ON CREATE SET g.firstSeen = $now
	SET g.lastSeen = CASE
		WHEN g.lastSeen IS NULL OR g.lastSeen < $now THEN $now
		ELSE g.lastSeen
	END
	RETURN g.title AS title, g.firstSeen AS firstSeen, g.lastSeen AS lastSeen
`

const getGameQuery = `
	MATCH (g:Game {title: $title})
	RETURN g.title AS title, g.firstSeen AS firstSeen, g.lastSeen AS lastSeen
`

// The unique constraint is what makes MERGE safe under concurrent writers.
const gameConstraintQuery = `CREATE CONSTRAINT game_title IF NOT EXISTS FOR (g:Game) REQUIRE g.title IS UNIQUE`

// GraphStore keeps (:Game) nodes in a Neo4j-compatible graph.
type GraphStore struct {
	driver graph.Driver
}

var _ GameStore = (*GraphStore)(nil)

// NewGraphStore wraps a connected graph driver. The store owns the driver
// and closes it on Close.
func NewGraphStore(driver graph.Driver) *GraphStore {
	return &GraphStore{driver: driver}
}

// EnsureSchema creates the uniqueness constraint on :Game(title).
func (s *GraphStore) EnsureSchema(ctx context.Context) error {
	if err := s.driver.ExecuteWrite(ctx, gameConstraintQuery, nil); err != nil {
		return s.classify(fmt.Errorf("ensure schema: %w", err))
	}
	return nil
}

// Upsert implements Upserter.
func (s *GraphStore) Upsert(ctx context.Context, title string, at time.Time) (domain.PlayedGame, error) {
	title = domain.NormalizeTitle(title)
	if title == "" {
		return domain.PlayedGame{}, ErrInvalidTitle
	}

	records, err := s.driver.ExecuteWriteReturning(ctx, upsertGameQuery, map[string]any{
		"title": title,
		"now":   domain.Millis(at),
	})
	if err != nil {
		return domain.PlayedGame{}, s.classify(fmt.Errorf("upsert %q: %w", title, err))
	}
	if len(records) == 0 {
		return domain.PlayedGame{}, fmt.Errorf("upsert %q: no row returned", title)
	}
	return toGame(records[0]), nil
}

// UpsertBatch implements Upserter with a single UNWIND statement.
func (s *GraphStore) UpsertBatch(ctx context.Context, titles []string, at time.Time) ([]domain.PlayedGame, error) {
	titles = domain.DedupeTitles(titles)
	if len(titles) == 0 {
		return nil, nil
	}

	records, err := s.driver.ExecuteWriteReturning(ctx, upsertGamesQuery, map[string]any{
		"titles": titles,
		"now":    domain.Millis(at),
	})
	if err != nil {
		return nil, s.classify(fmt.Errorf("upsert batch of %d: %w", len(titles), err))
	}

	games := make([]domain.PlayedGame, 0, len(records))
	for _, r := range records {
		games = append(games, toGame(r))
	}
	return games, nil
}

// Get implements GameStore.
func (s *GraphStore) Get(ctx context.Context, title string) (domain.PlayedGame, error) {
	title = domain.NormalizeTitle(title)
	records, err := s.driver.Execute(ctx, getGameQuery, map[string]any{"title": title})
	if err != nil {
		return domain.PlayedGame{}, s.classify(fmt.Errorf("get %q: %w", title, err))
	}
	if len(records) == 0 {
		return domain.PlayedGame{}, NewNotFoundError(title)
	}
	return toGame(records[0]), nil
}

// Ping implements Store.
func (s *GraphStore) Ping(ctx context.Context) error {
	if err := s.driver.Ping(ctx); err != nil {
		return Unavailable(backendNeo4j, err)
	}
	return nil
}

// Close implements Store.
func (s *GraphStore) Close() error {
	return s.driver.Close()
}

func (s *GraphStore) classify(err error) error {
	if graph.IsConnectionError(err) {
		return Unavailable(backendNeo4j, err)
	}
	return err
}

func toGame(r graph.Record) domain.PlayedGame {
	return domain.PlayedGame{
		Title:     graph.GetString(r, "title"),
		FirstSeen: domain.FromMillis(graph.GetInt64(r, "firstSeen")),
		LastSeen:  domain.FromMillis(graph.GetInt64(r, "lastSeen")),
	}
}
