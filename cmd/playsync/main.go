// Package main provides the playsync CLI entrypoint.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joss/playsync/internal/config"
	"github.com/joss/playsync/internal/logging"
	"github.com/joss/playsync/internal/render"
)

var (
	version = "0.1.0"
	cfg     *config.Config
	rend    *render.Renderer
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "playsync",
		Short: "Sync your played-games list into a graph database",
		Long: `playsync drives a remote browser through the played-games listing and
records every title with the time it was first and last seen.

Login is manual: the run opens the login page in the remote browser and
waits while you sign in through the viewer.

Configuration comes from the environment (and .env); flags override it.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}

			var err error
			cfg, err = config.Load()
			if err != nil {
				return err
			}

			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				logging.SetDebug(true)
			}

			asJSON, _ := cmd.Flags().GetBool("json")
			if asJSON {
				rend = render.New(false)
			} else {
				rend = render.Auto(os.Stdout)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().Bool("debug", false, "Emit debug log events")
	rootCmd.PersistentFlags().String("env-file", ".env", "Environment file loaded before reading configuration")
	rootCmd.PersistentFlags().String("store", "", "Store backend: neo4j, sqlite, postgres, memory")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "ops", Title: "Operations:"},
	)

	sync := syncCmd()
	sync.GroupID = "sync"
	rootCmd.AddCommand(sync)

	record := recordCmd()
	record.GroupID = "sync"
	rootCmd.AddCommand(record)

	status := statusCmd()
	status.GroupID = "ops"
	rootCmd.AddCommand(status)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
