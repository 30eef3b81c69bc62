package store

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/joss/playsync/internal/graph"
)

// Set PLAYSYNC_INTEGRATION=1 to run against a disposable Neo4j container.
func setupNeo4j(t testing.TB) *GraphStore {
	if os.Getenv("PLAYSYNC_INTEGRATION") != "1" {
		t.Skip("PLAYSYNC_INTEGRATION not set")
	}
	ctx := context.Background()

	// suppress logging
	testcontainers.Logger = log.New(io.Discard, "", 0)

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		Started: true,
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "neo4j:5",
			ExposedPorts: []string{"7687/tcp"},
			Env:          map[string]string{"NEO4J_AUTH": "neo4j/playsync-test"},
			WaitingFor:   wait.ForLog("Started.").WithStartupTimeout(2 * time.Minute),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "7687")
	require.NoError(t, err)

	driver, err := graph.NewNeo4j(graph.Config{
		URI:      fmt.Sprintf("bolt://%s:%s", host, port.Port()),
		Username: "neo4j",
		Password: "playsync-test",
	})
	require.NoError(t, err)

	s := NewGraphStore(driver)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

func TestGraphStoreIntegration(t *testing.T) {
	s := setupNeo4j(t)
	exerciseGameStore(t, s)
}
