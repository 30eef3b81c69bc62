// Package metrics provides a simple Prometheus-compatible metrics endpoint.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joss/playsync/internal/logging"
)

// Metrics holds runtime metrics for playsync
type Metrics struct {
	// Remote sessions
	SessionAttempts atomic.Int64
	SessionErrors   atomic.Int64

	// Extraction
	PagesFetched    atomic.Int64
	PageErrors      atomic.Int64
	TitlesExtracted atomic.Int64

	// Store writes
	TitlesUpserted atomic.Int64
	TitlesFailed   atomic.Int64

	// Retries across every stage
	Retries atomic.Int64

	// Runs
	Runs        atomic.Int64
	RunFailures atomic.Int64

	// Timing (last run duration in ms)
	LastRunDurationMs atomic.Int64

	startTime time.Time
}

var (
	global     *Metrics
	globalOnce sync.Once
)

// Global returns the global metrics instance
func Global() *Metrics {
	globalOnce.Do(func() {
		global = New()
	})
	return global
}

// New returns an empty metrics set.
func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordSession records a remote session creation attempt
func (m *Metrics) RecordSession(success bool) {
	m.SessionAttempts.Add(1)
	if !success {
		m.SessionErrors.Add(1)
	}
}

// RecordPage records a listing page fetch
func (m *Metrics) RecordPage(success bool) {
	m.PagesFetched.Add(1)
	if !success {
		m.PageErrors.Add(1)
	}
}

// RecordExtracted counts titles yielded by the extractor
func (m *Metrics) RecordExtracted(n int) {
	m.TitlesExtracted.Add(int64(n))
}

// RecordWrites counts persisted and failed titles
func (m *Metrics) RecordWrites(upserted, failed int) {
	m.TitlesUpserted.Add(int64(upserted))
	m.TitlesFailed.Add(int64(failed))
}

// RecordRetry counts one retried attempt in any stage
func (m *Metrics) RecordRetry() {
	m.Retries.Add(1)
}

// RecordRun records a finished pipeline run
func (m *Metrics) RecordRun(success bool, durationMs int64) {
	m.Runs.Add(1)
	if !success {
		m.RunFailures.Add(1)
	}
	m.LastRunDurationMs.Store(durationMs)
}

type series struct {
	name, help, kind string
	value            func() int64
}

func (m *Metrics) series() []series {
	return []series{
		{"playsync_session_attempts_total", "Remote session creation attempts", "counter", m.SessionAttempts.Load},
		{"playsync_session_errors_total", "Failed remote session creations", "counter", m.SessionErrors.Load},
		{"playsync_pages_fetched_total", "Listing page fetch attempts", "counter", m.PagesFetched.Load},
		{"playsync_page_errors_total", "Failed listing page fetches", "counter", m.PageErrors.Load},
		{"playsync_titles_extracted_total", "Distinct titles extracted", "counter", m.TitlesExtracted.Load},
		{"playsync_titles_upserted_total", "Titles written to the store", "counter", m.TitlesUpserted.Load},
		{"playsync_titles_failed_total", "Titles that could not be written", "counter", m.TitlesFailed.Load},
		{"playsync_retries_total", "Retried attempts across all stages", "counter", m.Retries.Load},
		{"playsync_runs_total", "Pipeline runs", "counter", m.Runs.Load},
		{"playsync_run_failures_total", "Pipeline runs ending in failure", "counter", m.RunFailures.Load},
		{"playsync_last_run_duration_ms", "Last pipeline run duration", "gauge", m.LastRunDurationMs.Load},
	}
}

// Handler returns an HTTP handler for /metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")

		uptime := time.Since(m.startTime).Seconds()

		fmt.Fprintf(w, "# HELP playsync_uptime_seconds Time since playsync started\n")
		fmt.Fprintf(w, "# TYPE playsync_uptime_seconds gauge\n")
		fmt.Fprintf(w, "playsync_uptime_seconds %.2f\n", uptime)

		for _, s := range m.series() {
			fmt.Fprintf(w, "\n# HELP %s %s\n", s.name, s.help)
			fmt.Fprintf(w, "# TYPE %s %s\n", s.name, s.kind)
			fmt.Fprintf(w, "%s %d\n", s.name, s.value())
		}
	}
}

// Snapshot returns the current counter values keyed by metric name, in
// the shape logging fields take.
func (m *Metrics) Snapshot() map[string]any {
	out := make(map[string]any)
	for _, s := range m.series() {
		out[s.name] = s.value()
	}
	return out
}

// Server wraps the metrics HTTP server
type Server struct {
	srv *http.Server
}

// NewServer creates a metrics server on the given port
func NewServer(port int) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", Global().Handler())
	mux.HandleFunc("/health", healthHandler)

	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Start starts the metrics server in background. Listen errors are
// logged, and also sent on errc when it is non-nil.
func (s *Server) Start(errc chan<- error) {
	logging.SafeGo("metrics", func() {
		err := s.srv.ListenAndServe()
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return
		}
		logging.New("metrics").Error("listen_failed", map[string]any{"addr": s.srv.Addr}, err)
		if errc != nil {
			errc <- err
		}
	})
}

// Stop gracefully shuts down the metrics server
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
