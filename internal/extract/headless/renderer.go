// Package headless renders a page in headless Chrome via chromedp and writes
// the resulting DOM to a writer.
package headless

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultSettle            = 500 * time.Millisecond
)

// ErrStatus is returned when the main document loaded with a non-2xx status.
var ErrStatus = errors.New("unexpected document status")

// Config controls the behavior of the renderer.
type Config struct {
	UserAgent         string
	NavigationTimeout time.Duration
	// Settle is how long to wait after the body is ready before snapshotting.
	Settle  time.Duration
	Headers http.Header
	// ExecPath overrides the Chrome binary. Empty uses chromedp's lookup.
	ExecPath string
}

// Result describes a rendered document.
type Result struct {
	URL        string
	StatusCode int
	Bytes      int64
	Duration   time.Duration
}

// Renderer drives one browser allocator for any number of renders.
type Renderer struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a Renderer. Chrome is not started until the first Render.
func New(cfg Config) (*Renderer, error) {
	if cfg.NavigationTimeout < 0 || cfg.Settle < 0 {
		return nil, fmt.Errorf("timeouts must be >= 0")
	}
	if cfg.NavigationTimeout == 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.Settle == 0 {
		cfg.Settle = defaultSettle
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts the browser down.
func (r *Renderer) Close() {
	r.allocCancel()
}

// Render navigates to url and writes the outer HTML of the document to w.
func (r *Renderer) Render(ctx context.Context, url string, w io.Writer) (Result, error) {
	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()
	// Tie the browser tab to the caller's context as well as the allocator.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, r.cfg.NavigationTimeout)
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := r.run(taskCtx, url)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, fmt.Errorf("render canceled: %w", ctxErr)
		}
		return Result{}, err
	}

	status, responseURL := meta.snapshotWithFallbacks(url, finalURL)
	res := Result{URL: responseURL, StatusCode: status, Duration: time.Since(start)}
	if status < 200 || status > 299 {
		return res, fmt.Errorf("%w: %d", ErrStatus, status)
	}
	n, err := io.WriteString(w, html)
	res.Bytes = int64(n)
	if err != nil {
		return res, fmt.Errorf("write document: %w", err)
	}
	return res, nil
}

func (r *Renderer) run(ctx context.Context, url string) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		r.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.cfg.Settle),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (r *Renderer) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(r.cfg.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(r.cfg.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// responseMeta records the main document response seen on the wire.
type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.url = resp.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()

	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	// No document event (for example about:blank or a cached page).
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			headers[key] = values[0]
		default:
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
