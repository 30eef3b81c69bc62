// Package pipeline runs one sync: acquire a remote session, wait for the
// operator to log in, stream listing titles into the sink, then tear down.
package pipeline

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joss/playsync/internal/domain"
	"github.com/joss/playsync/internal/logging"
	"github.com/joss/playsync/internal/metrics"
	"github.com/joss/playsync/internal/remote"
	"github.com/joss/playsync/internal/sink"
)

var tracer = otel.Tracer("github.com/joss/playsync/internal/pipeline")

// Acquirer hands out remote sessions.
type Acquirer interface {
	Acquire(ctx context.Context) (remote.Session, error)
}

// Authenticator blocks until the session is logged in.
type Authenticator interface {
	Authenticate(ctx context.Context, page remote.Page, state *domain.ExtractionSession) error
}

// TitleSource lazily yields listing titles.
type TitleSource interface {
	Titles(ctx context.Context, page remote.Page, state *domain.ExtractionSession) iter.Seq2[string, error]
}

// Recorder persists a batch of titles.
type Recorder interface {
	RecordAll(ctx context.Context, titles []string) sink.BatchResult
}

// Config tunes a run.
type Config struct {
	// BatchSize is how many titles are written together. Values below 1 mean 1.
	BatchSize int
}

// Pipeline wires the stages of one run.
type Pipeline struct {
	acquirer Acquirer
	auth     Authenticator
	source   TitleSource
	recorder Recorder
	cfg      Config
	log      *logging.Logger

	// OnState observes every transition. Optional.
	OnState func(State)
}

// New creates a pipeline.
func New(acq Acquirer, auth Authenticator, src TitleSource, rec Recorder, cfg Config) *Pipeline {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	return &Pipeline{
		acquirer: acq,
		auth:     auth,
		source:   src,
		recorder: rec,
		cfg:      cfg,
		log:      logging.New("pipeline"),
	}
}

// run carries per-run mutable state.
type run struct {
	p      *Pipeline
	report *Report
	log    *logging.Logger

	sess      remote.Session
	closeOnce sync.Once
	closeErr  error
}

// Run executes one sync and returns its report. The run id is taken from
// ctx (logging.WithRunID) or generated. Run never panics; a panic inside a
// stage ends the run in failure.
func (p *Pipeline) Run(ctx context.Context) *Report {
	runID := logging.RunID(ctx)
	if runID == "" {
		runID = logging.NewRunID()
		ctx = logging.WithRunID(ctx, runID)
	}

	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	r := &run{
		p:   p,
		log: p.log.WithRun(runID),
		report: &Report{
			RunID:     runID,
			Durations: make(map[string]int64),
			StartedAt: time.Now(),
		},
	}
	r.log.Info("run_started", nil)

	recovery := logging.NewRecoveryHandler("pipeline")
	recovery.OnPanic = func(rec any, stack string) {
		logging.PersistRunEvent(runID, "panic", map[string]any{"panic": fmt.Sprint(rec)})
	}
	err := recovery.WrapError(func() error {
		return r.execute(ctx)
	})

	// Teardown precedes the terminal report, even if Close panics.
	r.timed(ctx, "close", func(ctx context.Context) error {
		r.closeErr = recovery.WrapError(r.closeSession)
		return r.closeErr
	})
	r.finish(err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		attribute.Int("titles.extracted", r.report.Extracted),
		attribute.Int("titles.upserted", r.report.Upserted),
		attribute.Int("titles.failed", r.report.Failed),
		attribute.String("run.terminal_state", r.report.TerminalState),
	)
	return r.report
}

func (r *run) execute(ctx context.Context) error {
	r.transition(StateIdle)

	err := r.timed(ctx, "acquire", func(ctx context.Context) error {
		sess, err := r.p.acquirer.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("acquire session: %w", err)
		}
		r.sess = sess
		return nil
	})
	if err != nil {
		return err
	}
	r.transition(StateSessionAcquired)

	state := domain.NewExtractionSession()
	err = r.timed(ctx, "authenticate", func(ctx context.Context) error {
		if err := r.p.auth.Authenticate(ctx, r.sess, state); err != nil {
			return fmt.Errorf("authenticate: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.transition(StateAuthenticated)

	r.transition(StateExtracting)
	var pending []string
	extractErr := r.timed(ctx, "extract", func(ctx context.Context) error {
		for title, err := range r.p.source.Titles(ctx, r.sess, state) {
			if err != nil {
				return fmt.Errorf("extract: %w", err)
			}
			r.report.Extracted++
			pending = append(pending, title)
			if len(pending) >= r.p.cfg.BatchSize {
				r.flush(ctx, pending)
				pending = nil
			}
		}
		return nil
	})

	// Titles already extracted are written even when extraction failed.
	r.transition(StateDraining)
	r.timed(ctx, "drain", func(ctx context.Context) error {
		r.flush(ctx, pending)
		return nil
	})

	if extractErr != nil {
		return extractErr
	}
	return ctx.Err()
}

// flush writes one batch and folds the result into the report.
func (r *run) flush(ctx context.Context, titles []string) {
	if len(titles) == 0 {
		return
	}
	res := r.p.recorder.RecordAll(ctx, titles)
	r.report.Upserted += res.Accepted
	r.report.Failed += res.Failed
	r.report.FailedTitles = append(r.report.FailedTitles, res.FailedTitles...)
	if res.Failed > 0 {
		r.log.Warn("titles_failed", map[string]any{"count": res.Failed, "titles": res.FailedTitles}, nil)
	}
}

// closeSession releases the remote session exactly once.
func (r *run) closeSession() error {
	r.closeOnce.Do(func() {
		if r.sess == nil {
			return
		}
		r.closeErr = r.sess.Close()
	})
	return r.closeErr
}

func (r *run) transition(s State) {
	r.report.LastState = s
	r.report.States = append(r.report.States, s)
	r.log.Debug("state", map[string]any{"state": string(s)})
	logging.PersistRunEvent(r.report.RunID, "state", map[string]any{"state": string(s)})
	if r.p.OnState != nil {
		r.p.OnState(s)
	}
}

// timed runs one stage inside its own span and records its duration.
func (r *run) timed(ctx context.Context, stage string, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "pipeline."+stage)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	r.report.Durations[stage] = time.Since(start).Milliseconds()
	r.log.TimedEvent(stage, start, nil, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *run) finish(err error) {
	rep := r.report
	rep.FinishedAt = time.Now()
	rep.Err = err

	if r.closeErr != nil {
		rep.CloseError = r.closeErr.Error()
	}
	if err != nil {
		rep.Error = err.Error()
		rep.TerminalState = TerminalFailure
	} else {
		rep.TerminalState = TerminalSuccess
	}
	rep.States = append(rep.States, StateClosed)

	metrics.Global().RecordRun(err == nil, rep.FinishedAt.Sub(rep.StartedAt).Milliseconds())
	logging.PersistRunSummary(rep.RunID, rep.summary())

	fields := map[string]any{
		"extracted":     rep.Extracted,
		"upserted":      rep.Upserted,
		"failed":        rep.Failed,
		"terminalState": rep.TerminalState,
		"lastState":     string(rep.LastState),
	}
	r.log.TimedEvent("run_finished", rep.StartedAt, fields, err)
}
