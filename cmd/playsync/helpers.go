package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joss/playsync/internal/config"
	"github.com/joss/playsync/internal/graph"
	"github.com/joss/playsync/internal/logging"
	"github.com/joss/playsync/internal/remote"
	"github.com/joss/playsync/internal/retry"
	"github.com/joss/playsync/internal/store"
)

// errRunFailed marks a run whose report was already printed.
var errRunFailed = errors.New("run failed")

// exitOnError prints err and exits. Failed runs only set the exit code.
func exitOnError(command string, err error) {
	if !errors.Is(err, errRunFailed) {
		logging.New("cli").Error("command_failed", map[string]any{"command": command}, err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(1)
}

// applyOverrides copies explicitly set flags over environment values.
func applyOverrides(cmd *cobra.Command) error {
	flags := cmd.Flags()
	var errs []error
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			v, err := flags.GetString(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if flags.Changed(name) {
			v, err := flags.GetInt(name)
			errs = append(errs, err)
			*dst = v
		}
	}

	str("store", &cfg.Store)
	str("games-url", &cfg.GamesURL)
	str("backend-url", &cfg.BackendURL)
	num("max-pages", &cfg.MaxPages)
	num("batch-size", &cfg.BatchSize)
	num("metrics-port", &cfg.MetricsPort)
	if flags.Changed("login-timeout") {
		v, err := flags.GetDuration("login-timeout")
		errs = append(errs, err)
		cfg.LoginTimeout = v
	}
	if flags.Changed("headless") {
		v, err := flags.GetBool("headless")
		errs = append(errs, err)
		cfg.Headless = v
	}
	return errors.Join(errs...)
}

// openStore builds the configured backend. The caller owns Close.
func openStore(ctx context.Context, c *config.Config) (store.GameStore, error) {
	switch c.Store {
	case config.StoreNeo4j:
		driver, err := graph.NewNeo4j(graph.Config{
			URI:      c.Neo4jURI,
			Username: c.Neo4jUser,
			Password: c.Neo4jPassword,
			Database: c.Neo4jDatabase,
		})
		if err != nil {
			return nil, err
		}
		gs := store.NewGraphStore(driver)
		if err := gs.EnsureSchema(ctx); err != nil {
			// Memgraph and unreachable servers land here; writes report their own errors.
			logging.New("cli").Warn("ensure_schema_failed", map[string]any{"uri": c.Neo4jURI}, err)
		}
		logging.SetGraphDriver(driver)
		return gs, nil
	case config.StoreSQLite:
		st, err := store.OpenSQLite(c.SQLitePath)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.StorePostgres:
		st, err := store.OpenPostgres(ctx, c.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.StoreMemory:
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store %q", c.Store)
	}
}

// newManager builds the session manager from configuration.
func newManager(c *config.Config) (*remote.Manager, error) {
	w, h, err := c.Window()
	if err != nil {
		return nil, err
	}
	return remote.NewManager(remote.Config{
		BackendURL:       c.BackendURL,
		ReadinessTimeout: c.ReadinessTimeout,
		Create:           retry.Fixed(c.SessionAttempts, c.SessionDelay),
		Capabilities: remote.Capabilities{
			Width:    w,
			Height:   h,
			Headless: c.Headless,
		},
	}), nil
}
