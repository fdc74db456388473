// Package collyextract fetches a single URL over plain HTTP using gocolly and
// writes the response body to a writer.
package collyextract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

const defaultTimeout = 15 * time.Second

// ErrStatus is returned when the final response is not 2xx.
var ErrStatus = errors.New("unexpected HTTP status")

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	Headers       http.Header
}

// Result describes a fetched document.
type Result struct {
	URL         string
	StatusCode  int
	ContentType string
	Bytes       int64
	Duration    time.Duration
}

// Fetcher performs one GET per call using a fresh Colly collector.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Fetcher{cfg: cfg, transport: newHTTPTransport()}
}

// fetchState collects what the collector callbacks observe.
type fetchState struct {
	result   Result
	fetchErr error
}

// Fetch requests url and copies the body to w. Nothing is written to w when
// the response is not 2xx.
func (f *Fetcher) Fetch(ctx context.Context, url string, w io.Writer) (Result, error) {
	state := &fetchState{}
	start := time.Now()
	collector := f.buildCollector(ctx)
	f.configureCollectorHooks(collector, w, start, state)
	if err := runCollector(ctx, collector, url, state); err != nil {
		return state.result, err
	}
	return state.result, nil
}

func (f *Fetcher) buildCollector(ctx context.Context) *colly.Collector {
	collector := colly.NewCollector(colly.Async(false))
	collector.Context = ctx
	collector.WithTransport(f.transport)
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.MaxBodySize = 0
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, w io.Writer, start time.Time, state *fetchState) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range f.cfg.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	hooks.OnResponse(func(r *colly.Response) {
		state.result = Result{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Duration:    time.Since(start),
		}
		if r.StatusCode < 200 || r.StatusCode > 299 {
			state.fetchErr = fmt.Errorf("%w: %d", ErrStatus, r.StatusCode)
			return
		}
		n, err := w.Write(r.Body)
		state.result.Bytes = int64(n)
		if err != nil {
			state.fetchErr = fmt.Errorf("write body: %w", err)
		}
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			state.result.StatusCode = r.StatusCode
			state.fetchErr = fmt.Errorf("%w: %d", ErrStatus, r.StatusCode)
			return
		}
		state.fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, state *fetchState) error {
	// The collector carries ctx, so Visit returns promptly on cancellation.
	err := collector.Visit(url)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("colly fetch canceled: %w", ctxErr)
	}
	// Visit reports status failures too; prefer the typed callback error.
	if state.fetchErr != nil {
		return fmt.Errorf("colly response failed: %w", state.fetchErr)
	}
	if err != nil {
		return fmt.Errorf("colly visit failed: %w", err)
	}
	return nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
