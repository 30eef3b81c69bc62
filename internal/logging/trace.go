// Package logging provides run and fetch identifiers for correlating events.
package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

type contextKey string

const runIDKey contextKey = "run_id"

// NewRunID returns a time-sortable run identifier.
func NewRunID() string {
	return ulid.Make().String()
}

// NewFetchID returns a random identifier shared by the retries of one
// page fetch or session attempt.
func NewFetchID() string {
	return uuid.NewString()
}

// WithRunID adds a run ID to context.
// If id is empty, generates a new one.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = NewRunID()
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunID extracts the run ID from context.
// Returns empty string if not present.
func RunID(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey).(string); ok {
		return v
	}
	return ""
}
