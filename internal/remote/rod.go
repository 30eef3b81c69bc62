package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// rodPage drives the remote browser through go-rod.
type rodPage struct {
	browser *rod.Browser
	page    *rod.Page
}

// ConnectRod attaches to the session's se:cdp websocket and picks the
// session's first tab.
func ConnectRod(ctx context.Context, created Created) (Page, error) {
	if created.CDPURL == "" {
		return nil, errors.New("backend did not advertise a se:cdp endpoint")
	}

	// The connection outlives ctx; only the handshake is bounded by it.
	browser := rod.New().ControlURL(created.CDPURL).NoDefaultDevice()
	if err := handshake(ctx, browser.Connect, func() { browser.Close() }); err != nil {
		return nil, err
	}

	pages, err := browser.Pages()
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("list pages: %w", err)
	}

	var page *rod.Page
	if len(pages) > 0 {
		page = pages.First()
	} else if page, err = browser.Page(proto.TargetCreateTarget{}); err != nil {
		browser.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}

	return &rodPage{browser: browser, page: page}, nil
}

// handshake runs connect bounded by ctx. A connect that completes after
// ctx is done is torn down with abandon so the connection does not leak.
func handshake(ctx context.Context, connect func() error, abandon func()) error {
	done := make(chan error, 1)
	go func() { done <- connect() }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("connect cdp: %w", err)
		}
		return nil
	case <-ctx.Done():
		go func() {
			if err := <-done; err == nil {
				abandon()
			}
		}()
		return ctx.Err()
	}
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

func (p *rodPage) Locate(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
	el, err := p.page.Context(ctx).Timeout(timeout).Element(selector)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %s", ErrNotFound, selector, timeout)
		}
		return nil, fmt.Errorf("locate %s: %w", selector, err)
	}
	return &rodElement{el: el.CancelTimeout(), page: p.page}, nil
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

func (p *rodPage) Close() error {
	return p.browser.Close()
}

type rodElement struct {
	el   *rod.Element
	page *rod.Page
}

func (e *rodElement) Text(ctx context.Context) (string, error) {
	return e.el.Context(ctx).Text()
}

func (e *rodElement) Attr(ctx context.Context, name string) (string, bool, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil || v == nil {
		return "", false, err
	}
	return *v, true, nil
}

func (e *rodElement) Click(ctx context.Context) error {
	if err := e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1); err != nil {
		return err
	}
	// Wait for any navigation or DOM changes
	return e.page.Context(ctx).WaitStable(500 * time.Millisecond)
}
