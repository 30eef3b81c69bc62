package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joss/playsync/internal/domain"
	"github.com/joss/playsync/internal/sink"
)

func recordCmd() *cobra.Command {
	return newCommand(CommandConfig{
		Use:   "record <title>...",
		Short: "Record titles as played now, without a browser",
		Long: `Upsert the given titles directly. A title seen before keeps its
first-seen time and gets a new last-seen time.`,
		Example: `  playsync record "ELDEN RING" "Ghost of Tsushima"`,
		Args:    cobra.MinimumNArgs(1),
		RunFunc: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			s := sink.New(st, sinkConfig(cfg))
			var games []domain.PlayedGame
			var failed int
			for _, title := range args {
				g, err := s.Record(ctx, title)
				if err != nil {
					failed++
					fmt.Fprintf(os.Stderr, "%q: %v\n", title, err)
					continue
				}
				games = append(games, g)
			}

			fmt.Fprint(os.Stdout, rend.Games(games))
			if failed > 0 {
				return fmt.Errorf("%d of %d titles failed", failed, len(args))
			}
			return nil
		},
	})
}
