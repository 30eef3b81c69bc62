package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/playsync/internal/domain"
	"github.com/joss/playsync/internal/graph"
)

// mockDriver implements graph.Driver for testing.
type mockDriver struct {
	records    []graph.Record
	executeErr error
	writeErr   error
	lastQuery  string
	lastParams map[string]any
	closed     bool
}

func (m *mockDriver) Execute(ctx context.Context, query string, params map[string]any) ([]graph.Record, error) {
	m.lastQuery = query
	m.lastParams = params
	return m.records, m.executeErr
}

func (m *mockDriver) ExecuteWrite(ctx context.Context, query string, params map[string]any) error {
	m.lastQuery = query
	m.lastParams = params
	return m.writeErr
}

func (m *mockDriver) ExecuteWriteReturning(ctx context.Context, query string, params map[string]any) ([]graph.Record, error) {
	m.lastQuery = query
	m.lastParams = params
	return m.records, m.writeErr
}

func (m *mockDriver) Close() error {
	m.closed = true
	return nil
}

func (m *mockDriver) Ping(ctx context.Context) error { return m.executeErr }

func TestGraphStoreUpsert(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	mock := &mockDriver{records: []graph.Record{{
		"title":     "ELDEN RING",
		"firstSeen": domain.Millis(at.Add(-time.Hour)),
		"lastSeen":  domain.Millis(at),
	}}}
	s := NewGraphStore(mock)

	g, err := s.Upsert(context.Background(), " ELDEN  RING ", at)
	require.NoError(t, err)

	assert.Contains(t, mock.lastQuery, "MERGE (g:Game {title: $title})")
	assert.Contains(t, mock.lastQuery, "ON CREATE SET g.firstSeen = $now")
	assert.Equal(t, "ELDEN RING", mock.lastParams["title"])
	assert.Equal(t, domain.Millis(at), mock.lastParams["now"])
	assert.Equal(t, at.Add(-time.Hour), g.FirstSeen)
	assert.Equal(t, at, g.LastSeen)
}

func TestGraphStoreUpsertBatch(t *testing.T) {
	mock := &mockDriver{records: []graph.Record{
		{"title": "A", "firstSeen": int64(1), "lastSeen": int64(2)},
		{"title": "B", "firstSeen": int64(2), "lastSeen": int64(2)},
	}}
	s := NewGraphStore(mock)

	games, err := s.UpsertBatch(context.Background(), []string{"A", "B", "A", ""}, time.UnixMilli(2))
	require.NoError(t, err)
	assert.Len(t, games, 2)
	assert.Contains(t, mock.lastQuery, "UNWIND $titles AS title")
	assert.Equal(t, []string{"A", "B"}, mock.lastParams["titles"])
}

func TestGraphStoreClassifiesConnectionErrors(t *testing.T) {
	mock := &mockDriver{writeErr: errors.New("dial tcp: connection refused")}
	s := NewGraphStore(mock)

	_, err := s.Upsert(context.Background(), "ELDEN RING", time.Now())
	assert.True(t, IsUnavailable(err))

	mock.writeErr = errors.New("Neo.ClientError.Statement.SyntaxError")
	_, err = s.Upsert(context.Background(), "ELDEN RING", time.Now())
	require.Error(t, err)
	assert.False(t, IsUnavailable(err))
}

func TestGraphStoreGetNotFound(t *testing.T) {
	s := NewGraphStore(&mockDriver{})
	_, err := s.Get(context.Background(), "Astro Bot")
	assert.True(t, IsNotFound(err))
}

func TestGraphStoreEnsureSchemaAndClose(t *testing.T) {
	mock := &mockDriver{}
	s := NewGraphStore(mock)

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.Contains(t, mock.lastQuery, "CREATE CONSTRAINT game_title")

	require.NoError(t, s.Close())
	assert.True(t, mock.closed)
}
