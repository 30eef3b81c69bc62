package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joss/playsync/internal/logging"
	"github.com/joss/playsync/internal/metrics"
	"github.com/joss/playsync/internal/retry"
)

// Connector attaches a browser to the CDP endpoint of a created session.
type Connector func(ctx context.Context, created Created) (Page, error)

// Config tunes session acquisition.
type Config struct {
	BackendURL       string
	ReadinessTimeout time.Duration
	// PollInterval is the wait between readiness probes. Zero means 1s.
	PollInterval time.Duration
	Create       retry.Policy
	Capabilities Capabilities
}

// Manager acquires sessions from one backend.
type Manager struct {
	cfg     Config
	client  *Client
	connect Connector
	log     *logging.Logger
}

// Option customizes a Manager.
type Option func(*Manager)

// WithConnector replaces the rod connector. Tests use it to avoid a browser.
func WithConnector(c Connector) Option {
	return func(m *Manager) { m.connect = c }
}

// NewManager creates a manager for cfg.BackendURL.
func NewManager(cfg Config, opts ...Option) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	m := &Manager{
		cfg:     cfg,
		client:  NewClient(cfg.BackendURL, 30*time.Second),
		connect: ConnectRod,
		log:     logging.New("remote"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Client exposes the backend client for status checks.
func (m *Manager) Client() *Client {
	return m.client
}

// WaitReady polls the backend until it reports ready or the readiness
// timeout passes.
func (m *Manager) WaitReady(ctx context.Context) error {
	log := m.log.FromContext(ctx)
	start := time.Now()

	readyCtx, cancel := context.WithTimeout(ctx, m.cfg.ReadinessTimeout)
	defer cancel()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	var lastErr error
	probes := 0
	for {
		probes++
		ready, msg, err := m.client.Ready(readyCtx)
		if err == nil && ready {
			log.TimedEvent("backend_ready", start, map[string]any{"probes": probes}, nil)
			return nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("backend says not ready: %s", msg)
		}
		log.Debug("backend_not_ready", map[string]any{"probe": probes, "reason": lastErr.Error()})

		select {
		case <-readyCtx.Done():
			if err := ctx.Err(); err != nil {
				return err
			}
			log.TimedEvent("backend_ready", start, map[string]any{"probes": probes}, lastErr)
			return fmt.Errorf("%w after %s: %v", ErrBackendNotReady, m.cfg.ReadinessTimeout, lastErr)
		case <-ticker.C:
		}
	}
}

// Acquire waits for readiness and then creates a session, retrying
// transient failures under the create policy.
func (m *Manager) Acquire(ctx context.Context) (Session, error) {
	if err := m.WaitReady(ctx); err != nil {
		return nil, err
	}

	log := m.log.FromContext(ctx)
	start := time.Now()
	var sess Session

	err := m.cfg.Create.Do(ctx, func(ctx context.Context) error {
		s, err := m.create(ctx)
		metrics.Global().RecordSession(err == nil)
		if err != nil {
			return err
		}
		sess = s
		return nil
	}, func(attempt int, err error, wait time.Duration) {
		metrics.Global().RecordRetry()
		log.Warn("session_create_retry", map[string]any{
			"attempt": attempt,
			"wait_ms": wait.Milliseconds(),
		}, err)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.TimedEvent("session_acquired", start, nil, err)
		return nil, fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
	}

	log.TimedEvent("session_acquired", start, map[string]any{"session": sess.ID()}, nil)
	return sess, nil
}

func (m *Manager) create(ctx context.Context) (Session, error) {
	created, err := m.client.CreateSession(ctx, m.cfg.Capabilities)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && !se.Transient() {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}

	release := func(ctx context.Context) error {
		return m.client.DeleteSession(ctx, created.ID)
	}

	page, err := m.connect(ctx, created)
	if err != nil {
		// Free the slot before the next attempt asks for another.
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if relErr := release(relCtx); relErr != nil {
			m.log.FromContext(ctx).Warn("session_release_failed", map[string]any{"session": created.ID}, relErr)
		}
		return nil, fmt.Errorf("connect session %s: %w", created.ID, err)
	}

	return &session{id: created.ID, page: page, release: release}, nil
}
