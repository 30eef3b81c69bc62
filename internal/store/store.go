// Package store persists played games. Every backend implements the
// merge-or-create as one store-side atomic statement so concurrent
// writers can never create the same title twice.
package store

import (
	"context"
	"time"

	"github.com/joss/playsync/internal/domain"
)

// Store is the minimal interface all stores must implement.
type Store interface {
	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
	// Close releases any resources held by the store.
	Close() error
}

// Upserter records sightings of titles.
type Upserter interface {
	// Upsert creates the game with firstSeen=at if absent and moves
	// lastSeen forward to at. firstSeen is never overwritten.
	Upsert(ctx context.Context, title string, at time.Time) (domain.PlayedGame, error)

	// UpsertBatch applies Upsert to every title in one round trip.
	// Titles are normalized and deduplicated before writing.
	UpsertBatch(ctx context.Context, titles []string, at time.Time) ([]domain.PlayedGame, error)
}

// GameStore is a complete played-games backend.
type GameStore interface {
	Store
	Upserter

	// Get returns the stored record for title or a NotFoundError.
	Get(ctx context.Context, title string) (domain.PlayedGame, error)
}
