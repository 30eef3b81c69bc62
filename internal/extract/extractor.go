// Package extract walks the paginated played-games listing and yields each
// distinct title once per run.
package extract

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/joss/playsync/internal/domain"
	"github.com/joss/playsync/internal/logging"
	"github.com/joss/playsync/internal/metrics"
	"github.com/joss/playsync/internal/remote"
	"github.com/joss/playsync/internal/retry"
)

// Config tunes listing traversal.
type Config struct {
	StartURL  string
	Selectors Selectors
	// PageTimeout bounds the wait for the listing selector on each load.
	PageTimeout time.Duration
	// PageInterval is the minimum gap between page loads.
	PageInterval time.Duration
	MaxPages     int
	Page         retry.Policy
}

// Extractor reads titles from a logged-in session.
type Extractor struct {
	cfg     Config
	limiter *rate.Limiter
	log     *logging.Logger
}

// New creates an extractor. A zero PageInterval disables rate limiting.
func New(cfg Config) *Extractor {
	limit := rate.Inf
	if cfg.PageInterval > 0 {
		limit = rate.Every(cfg.PageInterval)
	}
	if cfg.MaxPages < 1 {
		cfg.MaxPages = 1
	}
	return &Extractor{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		log:     logging.New("extract"),
	}
}

// Titles lazily walks the listing. Each normalized title is yielded once.
// The sequence stops after the first error, which is yielded with an empty
// title. state may be nil.
func (e *Extractor) Titles(ctx context.Context, page remote.Page, state *domain.ExtractionSession) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		log := e.log.FromContext(ctx)
		seen := make(map[string]struct{})
		visited := make(map[string]struct{})
		fingerprints := make(map[string]struct{})

		base := e.cfg.StartURL
		load := e.navigator(page, base)
		cursor := base
		total := 0
		// stale is the previous page's fingerprint while a click is
		// settling; empty after a navigation.
		stale := ""

		for n := 1; ; n++ {
			visited[cursor] = struct{}{}

			titles, html, err := e.readPage(ctx, page, n, load, stale)
			if errors.Is(err, errPageNotAdvanced) {
				log.Warn("listing_not_advancing", map[string]any{"page": n, "cursor": cursor, "titles": total}, err)
				return
			}
			if err != nil {
				yield("", err)
				return
			}

			fp := fingerprint(titles)
			if _, dup := fingerprints[fp]; dup && len(titles) > 0 {
				log.Info("listing_repeated", map[string]any{"page": n, "cursor": cursor})
				return
			}
			fingerprints[fp] = struct{}{}
			if state != nil {
				state.Advance(cursor)
			}

			fresh := 0
			for _, t := range titles {
				if _, ok := seen[t]; ok {
					continue
				}
				seen[t] = struct{}{}
				fresh++
				total++
				metrics.Global().RecordExtracted(1)
				if !yield(t, nil) {
					return
				}
			}
			log.Info("page_extracted", map[string]any{"page": n, "titles": len(titles), "new": fresh, "total": total})

			next := parseNext(html, e.cfg.Selectors.Next, base)
			if !next.found || next.disabled {
				log.Info("listing_done", map[string]any{"pages": n, "titles": total})
				return
			}
			if n >= e.cfg.MaxPages {
				log.Warn("max_pages_reached", map[string]any{"max_pages": e.cfg.MaxPages, "titles": total}, nil)
				return
			}

			switch {
			case next.href != "":
				if _, ok := visited[next.href]; ok {
					log.Info("listing_repeated", map[string]any{"page": n, "cursor": next.href})
					return
				}
				base, cursor = next.href, next.href
				load = e.navigator(page, next.href)
				stale = ""
			default:
				if err := e.clickNext(ctx, page); err != nil {
					yield("", err)
					return
				}
				cursor = fmt.Sprintf("%s#page=%d", base, n+1)
				load = nil
				stale = fp
			}
		}
	}
}

// navigator returns a load step that waits for the rate limiter and opens
// url. It is repeated on each retry.
func (e *Extractor) navigator(page remote.Page, url string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}
		return page.Navigate(ctx, url)
	}
}

// clickNext presses the next control once. Clicking is not repeated on
// retry since a second click would skip a page.
func (e *Extractor) clickNext(ctx context.Context, page remote.Page) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}
	el, err := page.Locate(ctx, e.cfg.Selectors.Next, e.cfg.PageTimeout)
	if err != nil {
		return fmt.Errorf("locate next page control: %w", err)
	}
	if err := el.Click(ctx); err != nil {
		return fmt.Errorf("click next page control: %w", err)
	}
	return nil
}

// readPage loads (if load is set) and parses one listing page under the
// page retry policy. A read whose fingerprint equals stale is the page
// from before a click and is retried like a page that has not rendered.
func (e *Extractor) readPage(ctx context.Context, page remote.Page, n int, load func(context.Context) error, stale string) ([]string, string, error) {
	fetchID := logging.NewFetchID()
	log := e.log.FromContext(ctx)
	start := time.Now()

	var titles []string
	var html string
	err := e.cfg.Page.Do(ctx, func(ctx context.Context) error {
		if load != nil {
			if err := load(ctx); err != nil {
				metrics.Global().RecordPage(false)
				if ctx.Err() != nil {
					return retry.Permanent(ctx.Err())
				}
				return fmt.Errorf("%w: load page %d: %v", ErrExtractionTransient, n, err)
			}
		}

		if _, err := page.Locate(ctx, e.cfg.Selectors.List, e.cfg.PageTimeout); err != nil {
			metrics.Global().RecordPage(false)
			if ctx.Err() != nil {
				return retry.Permanent(ctx.Err())
			}
			return fmt.Errorf("%w: page %d: %v", ErrExtractionTransient, n, err)
		}

		h, err := page.HTML(ctx)
		if err != nil {
			metrics.Global().RecordPage(false)
			return fmt.Errorf("%w: read page %d: %v", ErrExtractionTransient, n, err)
		}

		t, err := ParseTitles(h, e.cfg.Selectors, n)
		if err != nil {
			metrics.Global().RecordPage(false)
			return retry.Permanent(err)
		}
		if stale != "" && len(t) > 0 && fingerprint(t) == stale {
			metrics.Global().RecordPage(false)
			return fmt.Errorf("page %d: %w", n, errPageNotAdvanced)
		}

		metrics.Global().RecordPage(true)
		titles, html = t, h
		return nil
	}, func(attempt int, err error, wait time.Duration) {
		metrics.Global().RecordRetry()
		log.Warn("page_retry", map[string]any{
			"page":     n,
			"fetch_id": fetchID,
			"attempt":  attempt,
			"wait_ms":  wait.Milliseconds(),
		}, err)
	})

	log.TimedEvent("page_fetched", start, map[string]any{"page": n, "fetch_id": fetchID}, err)
	if err != nil && !errors.Is(err, ErrExtractionTransient) && !IsFormatError(err) && ctx.Err() == nil {
		err = fmt.Errorf("%w: page %d: %v", ErrExtractionTransient, n, err)
	}
	return titles, html, err
}

// fingerprint identifies a page by its titles so click pagination that
// stops advancing is detected.
func fingerprint(titles []string) string {
	return strings.Join(titles, "\x1f")
}
