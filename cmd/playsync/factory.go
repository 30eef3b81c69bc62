package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/joss/playsync/internal/logging"
)

// CommandFunc defines the function signature for command execution.
type CommandFunc func(cmd *cobra.Command, args []string) error

// CommandConfig holds configuration for creating standardized commands.
type CommandConfig struct {
	Use     string
	Short   string
	Long    string
	Args    cobra.PositionalArgs
	Example string
	Aliases []string
	// Validate runs Config.Validate before RunFunc.
	Validate bool
	RunFunc  CommandFunc
}

// newCommand creates a cobra command that logs its outcome and exits
// non-zero on error.
func newCommand(c CommandConfig) *cobra.Command {
	return &cobra.Command{
		Use:     c.Use,
		Short:   c.Short,
		Long:    c.Long,
		Args:    c.Args,
		Example: c.Example,
		Aliases: c.Aliases,
		Run: func(cmd *cobra.Command, args []string) {
			log := logging.New("cli")
			start := time.Now()

			if err := applyOverrides(cmd); err != nil {
				exitOnError(cmd.Name(), err)
			}
			if c.Validate {
				if err := cfg.Validate(); err != nil {
					exitOnError(cmd.Name(), err)
				}
			}

			err := c.RunFunc(cmd, args)
			log.TimedEvent("command", start, map[string]any{"command": cmd.Name()}, err)
			if err != nil {
				exitOnError(cmd.Name(), err)
			}
		},
	}
}
