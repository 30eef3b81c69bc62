// Package sink persists extracted titles with retrying, batched upserts.
package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joss/playsync/internal/domain"
	"github.com/joss/playsync/internal/logging"
	"github.com/joss/playsync/internal/metrics"
	"github.com/joss/playsync/internal/retry"
	"github.com/joss/playsync/internal/store"
)

// BatchResult counts the outcome of RecordAll.
type BatchResult struct {
	Accepted     int
	Failed       int
	FailedTitles []string
	Games        []domain.PlayedGame
}

// Add merges other into r.
func (r *BatchResult) Add(other BatchResult) {
	r.Accepted += other.Accepted
	r.Failed += other.Failed
	r.FailedTitles = append(r.FailedTitles, other.FailedTitles...)
	r.Games = append(r.Games, other.Games...)
}

// Config tunes writes.
type Config struct {
	Write retry.Policy
	// Concurrency bounds per-title fallback writes. Values below 1 mean 1.
	Concurrency int
}

// Sink writes titles to an upserter.
type Sink struct {
	store store.Upserter
	cfg   Config
	now   func() time.Time
	log   *logging.Logger
}

// Option customizes a Sink.
type Option func(*Sink)

// WithClock replaces time.Now as the write timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// New creates a sink on top of st.
func New(st store.Upserter, cfg Config, opts ...Option) *Sink {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	s := &Sink{
		store: st,
		cfg:   cfg,
		now:   time.Now,
		log:   logging.New("sink"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record upserts one title, retrying while the store is unavailable.
func (s *Sink) Record(ctx context.Context, title string) (domain.PlayedGame, error) {
	title = domain.NormalizeTitle(title)
	if title == "" {
		return domain.PlayedGame{}, store.ErrInvalidTitle
	}

	var game domain.PlayedGame
	err := s.withRetry(ctx, "upsert", map[string]any{"title": title}, func(ctx context.Context) error {
		g, err := s.store.Upsert(ctx, title, s.now())
		if err != nil {
			return err
		}
		game = g
		return nil
	})
	if err != nil {
		return domain.PlayedGame{}, err
	}
	return game, nil
}

// RecordAll upserts titles as one batch. If the batch cannot be written
// every title is retried on its own, so one bad title only fails itself.
// Errors are reported per title in the result, never returned.
func (s *Sink) RecordAll(ctx context.Context, titles []string) BatchResult {
	titles = domain.DedupeTitles(titles)
	if len(titles) == 0 {
		return BatchResult{}
	}
	log := s.log.FromContext(ctx)
	start := time.Now()

	var games []domain.PlayedGame
	err := s.withRetry(ctx, "upsert_batch", map[string]any{"size": len(titles)}, func(ctx context.Context) error {
		g, err := s.store.UpsertBatch(ctx, titles, s.now())
		if err != nil {
			return err
		}
		games = g
		return nil
	})
	if err == nil {
		res := BatchResult{Accepted: len(titles), Games: games}
		metrics.Global().RecordWrites(res.Accepted, 0)
		log.TimedEvent("batch_written", start, map[string]any{"size": len(titles)}, nil)
		return res
	}
	if ctx.Err() != nil {
		res := BatchResult{Failed: len(titles), FailedTitles: titles}
		metrics.Global().RecordWrites(0, res.Failed)
		log.TimedEvent("batch_written", start, map[string]any{"size": len(titles)}, ctx.Err())
		return res
	}

	log.Warn("batch_fallback", map[string]any{"size": len(titles)}, err)
	res := s.recordEach(ctx, titles)
	metrics.Global().RecordWrites(res.Accepted, res.Failed)
	log.TimedEvent("batch_written", start, map[string]any{
		"size":     len(titles),
		"accepted": res.Accepted,
		"failed":   res.Failed,
		"fallback": true,
	}, nil)
	return res
}

// recordEach writes titles individually with bounded concurrency.
func (s *Sink) recordEach(ctx context.Context, titles []string) BatchResult {
	var (
		mu  sync.Mutex
		res BatchResult
	)
	failed := make([]bool, len(titles))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, title := range titles {
		g.Go(func() error {
			game, err := s.Record(gctx, title)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[i] = true
				s.log.FromContext(ctx).Error("title_failed", map[string]any{"title": title}, err)
				return nil
			}
			res.Accepted++
			res.Games = append(res.Games, game)
			return nil
		})
	}
	_ = g.Wait()

	// Keep failed titles in input order.
	for i, f := range failed {
		if f {
			res.Failed++
			res.FailedTitles = append(res.FailedTitles, titles[i])
		}
	}
	return res
}

// withRetry runs op under the write policy. Only store-unavailable errors
// are retried.
func (s *Sink) withRetry(ctx context.Context, op string, extra map[string]any, fn func(ctx context.Context) error) error {
	log := s.log.FromContext(ctx)
	err := s.cfg.Write.Do(ctx, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && !store.IsUnavailable(err) {
			return retry.Permanent(err)
		}
		return err
	}, func(attempt int, err error, wait time.Duration) {
		metrics.Global().RecordRetry()
		fields := map[string]any{"op": op, "attempt": attempt, "wait_ms": wait.Milliseconds()}
		for k, v := range extra {
			fields[k] = v
		}
		log.Warn("write_retry", fields, err)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
