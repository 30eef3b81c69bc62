package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/joss/playsync/internal/domain"
)

// Memory is an in-process GameStore for dry runs. The mutex plays the
// role of the database's atomic merge.
type Memory struct {
	mu     sync.Mutex
	games  map[string]domain.PlayedGame
	closed bool
}

var _ GameStore = (*Memory)(nil)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{games: make(map[string]domain.PlayedGame)}
}

// Upsert implements Upserter.
func (m *Memory) Upsert(ctx context.Context, title string, at time.Time) (domain.PlayedGame, error) {
	title = domain.NormalizeTitle(title)
	if title == "" {
		return domain.PlayedGame{}, ErrInvalidTitle
	}
	if err := ctx.Err(); err != nil {
		return domain.PlayedGame{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return domain.PlayedGame{}, ErrClosed
	}
	return m.upsertLocked(title, at), nil
}

func (m *Memory) upsertLocked(title string, at time.Time) domain.PlayedGame {
	g, ok := m.games[title]
	if !ok {
		g = domain.PlayedGame{Title: title, FirstSeen: at, LastSeen: at}
	} else if at.After(g.LastSeen) {
		g.LastSeen = at
	}
	m.games[title] = g
	return g
}

// UpsertBatch implements Upserter.
func (m *Memory) UpsertBatch(ctx context.Context, titles []string, at time.Time) ([]domain.PlayedGame, error) {
	titles = domain.DedupeTitles(titles)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]domain.PlayedGame, 0, len(titles))
	for _, t := range titles {
		out = append(out, m.upsertLocked(t, at))
	}
	return out, nil
}

// Get implements GameStore.
func (m *Memory) Get(ctx context.Context, title string) (domain.PlayedGame, error) {
	title = domain.NormalizeTitle(title)
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[title]
	if !ok {
		return domain.PlayedGame{}, NewNotFoundError(title)
	}
	return g, nil
}

// Games returns all records sorted by title.
func (m *Memory) Games() []domain.PlayedGame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.PlayedGame, 0, len(m.games))
	for _, g := range m.games {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out
}

// Ping implements Store.
func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close implements Store.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
