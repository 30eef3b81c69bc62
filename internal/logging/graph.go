// Package logging provides graph persistence for run events.
package logging

import (
	"context"
	"sync"
	"time"
)

// GraphWriter persists events to the graph database.
// Uses interface to avoid import cycle with graph package.
type GraphWriter interface {
	ExecuteWrite(ctx context.Context, query string, params map[string]any) error
}

var (
	graphDriver GraphWriter
	graphMu     sync.RWMutex
)

// SetGraphDriver configures the graph database for event persistence.
// Pass nil to disable.
func SetGraphDriver(driver GraphWriter) {
	graphMu.Lock()
	defer graphMu.Unlock()
	graphDriver = driver
}

// PersistRunEvent stores a pipeline event in the graph as a
// (:SyncEvent) node linked to its (:SyncRun).
func PersistRunEvent(runID, event string, fields map[string]any) {
	graphMu.RLock()
	driver := graphDriver
	graphMu.RUnlock()

	if driver == nil || runID == "" {
		return
	}

	query := `
		MERGE (r:SyncRun {id: $run})
		CREATE (e:SyncEvent {
			event: $event,
			timestamp: $timestamp
		})
		SET e += $fields
		CREATE (r)-[:HAS_EVENT]->(e)
	`
	if fields == nil {
		fields = map[string]any{}
	}

	params := map[string]any{
		"run":       runID,
		"event":     event,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"fields":    fields,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Best effort: a failed audit write never fails the run.
	if err := driver.ExecuteWrite(ctx, query, params); err != nil {
		New("logging").Debug("persist_event_failed", map[string]any{"run": runID, "event": event, "error": err.Error()})
	}
}

// PersistRunSummary stores the final counters on the (:SyncRun) node.
func PersistRunSummary(runID string, summary map[string]any) {
	graphMu.RLock()
	driver := graphDriver
	graphMu.RUnlock()

	if driver == nil || runID == "" {
		return
	}

	query := `
		MERGE (r:SyncRun {id: $run})
		SET r += $summary, r.finishedAt = $timestamp
	`

	params := map[string]any{
		"run":       runID,
		"summary":   summary,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = driver.ExecuteWrite(ctx, query, params)
}
