// Package auth holds the manual login gate: the operator signs in through
// the remote viewer while the run waits for a post-login marker.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joss/playsync/internal/domain"
	"github.com/joss/playsync/internal/logging"
	"github.com/joss/playsync/internal/remote"
)

// ErrLoginTimeout means the success marker never appeared within the login
// timeout. It is terminal for the run.
var ErrLoginTimeout = errors.New("manual login timed out")

// Config describes the login surface.
type Config struct {
	LoginURL        string
	SuccessSelector string
	// SignInSelector is clicked best-effort before waiting. Empty skips it.
	SignInSelector string
	ViewerURL      string
	LoginTimeout   time.Duration
	SignInTimeout  time.Duration
}

// Gate blocks a run until the operator has logged in.
type Gate struct {
	cfg Config
	log *logging.Logger

	// Prompt tells the operator where to log in. Nil only logs.
	Prompt func(viewerURL string, timeout time.Duration)
}

// NewGate creates a gate for cfg.
func NewGate(cfg Config) *Gate {
	return &Gate{cfg: cfg, log: logging.New("auth")}
}

// Authenticate opens the login page and waits for the success selector.
// state may be nil; when set it follows the login flow.
func (g *Gate) Authenticate(ctx context.Context, page remote.Page, state *domain.ExtractionSession) error {
	log := g.log.FromContext(ctx)
	start := time.Now()

	if err := page.Navigate(ctx, g.cfg.LoginURL); err != nil {
		return fmt.Errorf("open login page: %w", err)
	}

	g.clickSignIn(ctx, page)

	if state != nil {
		state.SetAuth(domain.AuthAwaitingLogin)
	}
	log.Info("awaiting_login", map[string]any{
		"viewer":     g.cfg.ViewerURL,
		"timeout_s":  int(g.cfg.LoginTimeout.Seconds()),
		"login_url":  g.cfg.LoginURL,
		"success_on": g.cfg.SuccessSelector,
	})
	if g.Prompt != nil {
		g.Prompt(g.cfg.ViewerURL, g.cfg.LoginTimeout)
	}

	waitCtx, cancel := context.WithTimeout(ctx, g.cfg.LoginTimeout)
	defer cancel()

	_, err := page.Locate(waitCtx, g.cfg.SuccessSelector, g.cfg.LoginTimeout)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, remote.ErrNotFound), errors.Is(err, context.DeadlineExceeded):
		err = fmt.Errorf("%w after %s", ErrLoginTimeout, g.cfg.LoginTimeout)
		log.TimedEvent("login", start, nil, err)
		return err
	default:
		log.TimedEvent("login", start, nil, err)
		return fmt.Errorf("wait for login: %w", err)
	}

	if state != nil {
		state.SetAuth(domain.AuthAuthenticated)
	}
	log.TimedEvent("login", start, nil, nil)
	return nil
}

// clickSignIn presses the sign-in affordance if it shows up quickly.
func (g *Gate) clickSignIn(ctx context.Context, page remote.Page) {
	if g.cfg.SignInSelector == "" || g.cfg.SignInTimeout <= 0 {
		return
	}
	el, err := page.Locate(ctx, g.cfg.SignInSelector, g.cfg.SignInTimeout)
	if err != nil {
		g.log.FromContext(ctx).Debug("signin_not_found", map[string]any{"selector": g.cfg.SignInSelector})
		return
	}
	if err := el.Click(ctx); err != nil {
		g.log.FromContext(ctx).Warn("signin_click_failed", map[string]any{"selector": g.cfg.SignInSelector}, err)
	}
}
