// Package graph provides the graph database abstraction used by the
// played-games store. Consumers depend on the narrow reader/writer
// interfaces, not on the neo4j driver.
package graph

import (
	"context"
)

// Record represents a single result row from a query.
type Record map[string]any

// GraphReader provides read-only graph database operations.
type GraphReader interface {
	// Execute runs a Cypher query and returns results.
	Execute(ctx context.Context, query string, params map[string]any) ([]Record, error)
}

// GraphWriter provides write graph database operations.
type GraphWriter interface {
	// ExecuteWrite runs a write query (CREATE, MERGE, SET, DELETE).
	ExecuteWrite(ctx context.Context, query string, params map[string]any) error

	// ExecuteWriteReturning runs a write query inside one managed write
	// transaction and returns the rows it produced.
	ExecuteWriteReturning(ctx context.Context, query string, params map[string]any) ([]Record, error)
}

// Driver defines the full interface for graph database operations.
type Driver interface {
	GraphReader
	GraphWriter

	// Close releases database resources.
	Close() error

	// Ping checks if the database is reachable.
	Ping(ctx context.Context) error
}

// Config holds database connection configuration.
type Config struct {
	URI      string
	Username string
	Password string
	Database string
}
