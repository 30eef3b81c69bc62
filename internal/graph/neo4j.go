// Package graph provides the Neo4j implementation.
package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4j implements Driver on the official neo4j driver. Works against
// Neo4j and Memgraph over bolt.
type Neo4j struct {
	driver neo4j.DriverWithContext
	config Config
}

// NewNeo4j creates a new driver. No connection is made until first use;
// call Ping to verify reachability.
func NewNeo4j(cfg Config) (*Neo4j, error) {
	var auth neo4j.AuthToken
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	} else {
		auth = neo4j.NoAuth()
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create driver: %w", err)
	}

	return &Neo4j{
		driver: driver,
		config: cfg,
	}, nil
}

func (n *Neo4j) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return n.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: n.config.Database,
	})
}

// Execute runs a read query and returns results.
func (n *Neo4j) Execute(ctx context.Context, query string, params map[string]any) ([]Record, error) {
	session := n.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	var records []Record
	for result.Next(ctx) {
		records = append(records, toRecord(result.Record()))
	}

	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("result iteration failed: %w", err)
	}

	return records, nil
}

// ExecuteWrite runs a write query.
func (n *Neo4j) ExecuteWrite(ctx context.Context, query string, params map[string]any) error {
	_, err := n.ExecuteWriteReturning(ctx, query, params)
	return err
}

// ExecuteWriteReturning runs a write query in a managed transaction. The
// driver retries transient cluster errors inside the transaction function.
func (n *Neo4j) ExecuteWriteReturning(ctx context.Context, query string, params map[string]any) ([]Record, error) {
	session := n.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		rows, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		records := make([]Record, 0, len(rows))
		for _, row := range rows {
			records = append(records, toRecord(row))
		}
		return records, nil
	})
	if err != nil {
		return nil, fmt.Errorf("write query failed: %w", err)
	}

	return out.([]Record), nil
}

func toRecord(rec *neo4j.Record) Record {
	record := make(Record, len(rec.Keys))
	for _, key := range rec.Keys {
		val, _ := rec.Get(key)
		record[key] = val
	}
	return record
}

// Close releases the database driver.
func (n *Neo4j) Close() error {
	return n.driver.Close(context.Background())
}

// Ping checks database connectivity.
func (n *Neo4j) Ping(ctx context.Context) error {
	return n.driver.VerifyConnectivity(ctx)
}

// IsConnectionError checks if an error is a connection-related error
// worth retrying.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var connErr *neo4j.ConnectivityError
	if errors.As(err, &connErr) {
		return true
	}
	if neo4j.IsRetryable(err) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "EOF")
}
