package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/joss/playsync/internal/render"
	"github.com/joss/playsync/internal/remote"
)

func statusCmd() *cobra.Command {
	cmd := newCommand(CommandConfig{
		Use:   "status",
		Short: "Check the automation backend and the store",
		Args:  cobra.NoArgs,
		RunFunc: func(cmd *cobra.Command, args []string) error {
			timeout, _ := cmd.Flags().GetDuration("timeout")
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			checks := []render.Check{backendCheck(ctx), storeCheck(ctx)}
			fmt.Fprint(os.Stdout, rend.Status(checks))

			for _, c := range checks {
				if !c.OK {
					return errRunFailed
				}
			}
			return nil
		},
	})
	cmd.Flags().Duration("timeout", 10*time.Second, "Time allowed for all checks")
	return cmd
}

func backendCheck(ctx context.Context) render.Check {
	check := render.Check{Name: "backend"}
	ready, msg, err := remote.NewClient(cfg.BackendURL, 5*time.Second).Ready(ctx)
	switch {
	case err != nil:
		check.Detail = err.Error()
	case !ready:
		check.Detail = "not ready: " + msg
	default:
		check.OK = true
		check.Detail = cfg.BackendURL
	}
	return check
}

func storeCheck(ctx context.Context) render.Check {
	check := render.Check{Name: "store"}
	st, err := openStore(ctx, cfg)
	if err != nil {
		check.Detail = err.Error()
		return check
	}
	defer st.Close()

	if err := st.Ping(ctx); err != nil {
		check.Detail = err.Error()
		return check
	}
	check.OK = true
	check.Detail = cfg.Store
	return check
}
