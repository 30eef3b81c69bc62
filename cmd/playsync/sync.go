package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/joss/playsync/internal/auth"
	"github.com/joss/playsync/internal/config"
	"github.com/joss/playsync/internal/extract"
	"github.com/joss/playsync/internal/logging"
	"github.com/joss/playsync/internal/metrics"
	"github.com/joss/playsync/internal/pipeline"
	"github.com/joss/playsync/internal/retry"
	"github.com/joss/playsync/internal/runtime"
	"github.com/joss/playsync/internal/sink"
)

func syncCmd() *cobra.Command {
	cmd := newCommand(CommandConfig{
		Use:   "sync",
		Short: "Run one sync of the played-games list",
		Long: `Acquire a remote browser, wait for manual login, walk the played-games
listing and upsert every title. Prints a run report and exits non-zero
when the run ends in failure.`,
		Example: `  playsync sync
  playsync sync --store sqlite --max-pages 5
  playsync sync --json > report.json`,
		Args:     cobra.NoArgs,
		Validate: true,
		RunFunc:  runSync,
	})

	cmd.Flags().String("games-url", "", "First page of the played-games listing")
	cmd.Flags().String("backend-url", "", "Remote automation backend URL")
	cmd.Flags().Int("max-pages", 0, "Maximum listing pages to read")
	cmd.Flags().Int("batch-size", 0, "Titles written per batch")
	cmd.Flags().Duration("login-timeout", 0, "How long to wait for manual login")
	cmd.Flags().Bool("headless", false, "Request a headless browser (manual login needs a visible one)")
	cmd.Flags().Int("metrics-port", 0, "Serve /metrics on this port during the run")
	return cmd
}

func runSync(cmd *cobra.Command, args []string) error {
	shutdown := runtime.NewShutdownManager(runtime.DefaultShutdownTimeout)
	// Registered first so signals stay handled until the last handler ran.
	shutdown.RegisterSimple("signals", shutdown.ListenForSignals())
	defer shutdown.Shutdown()

	ctx := logging.WithRunID(shutdown.Context(), "")

	if cfg.MetricsPort > 0 {
		srv := metrics.NewServer(cfg.MetricsPort)
		srv.Start(nil)
		shutdown.Register("metrics", srv.Stop)
	}

	storeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	st, err := openStore(storeCtx, cfg)
	cancel()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	shutdown.RegisterCloser("store", st)

	p, err := buildPipeline(cfg, sink.New(st, sinkConfig(cfg)))
	if err != nil {
		return err
	}

	rep := p.Run(ctx)
	logging.New("metrics").WithRun(rep.RunID).Info("run_metrics", metrics.Global().Snapshot())

	out, err := rend.Report(rep)
	if err != nil {
		return err
	}
	fmt.Fprint(os.Stdout, out)

	if !rep.Success() {
		return errRunFailed
	}
	return nil
}

func sinkConfig(c *config.Config) sink.Config {
	return sink.Config{
		Write:       retry.Exponential(c.WriteAttempts, c.WriteDelay, 10*time.Second),
		Concurrency: c.WriteConcurrency,
	}
}

// buildPipeline wires the stages of a sync from configuration.
func buildPipeline(c *config.Config, rec pipeline.Recorder) (*pipeline.Pipeline, error) {
	mgr, err := newManager(c)
	if err != nil {
		return nil, err
	}

	gate := auth.NewGate(auth.Config{
		LoginURL:        c.LoginURL,
		SuccessSelector: c.SuccessSelector,
		SignInSelector:  c.SignInSelector,
		ViewerURL:       c.ViewerURL,
		LoginTimeout:    c.LoginTimeout,
		SignInTimeout:   c.SignInTimeout,
	})
	gate.Prompt = func(viewerURL string, timeout time.Duration) {
		fmt.Fprint(os.Stderr, rend.LoginPrompt(viewerURL, timeout))
	}

	ext := extract.New(extract.Config{
		StartURL: c.GamesURL,
		Selectors: extract.Selectors{
			List:  c.ListSelector,
			Item:  c.ItemSelector,
			Title: c.TitleSelector,
			Next:  c.NextSelector,
		},
		PageTimeout:  c.PageTimeout,
		PageInterval: c.PageInterval,
		MaxPages:     c.MaxPages,
		Page:         retry.Fixed(c.PageAttempts, c.PageDelay),
	})

	return pipeline.New(mgr, gate, ext, rec, pipeline.Config{BatchSize: c.BatchSize}), nil
}
