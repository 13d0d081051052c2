// Package collydriver fetches the leaderboard over plain HTTP with gocolly.
// It suits endpoints that need no browser; cookies persist in the collector's
// jar until Reload.
package collydriver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/arena-leaderboard-sync/internal/driver"
)

// DefaultTimeout bounds a single request.
const DefaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Driver implements driver.Driver using the Colly collector.
type Driver struct {
	cfg       Config
	pacer     driver.Pacer
	transport *http.Transport

	mu   sync.Mutex
	base *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Driver.
func New(cfg Config, pacer driver.Pacer) *Driver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	d := &Driver{
		cfg:       cfg,
		pacer:     pacer,
		transport: newHTTPTransport(),
	}
	d.base = d.newCollector()
	return d
}

func (d *Driver) newCollector() *colly.Collector {
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	c.WithTransport(d.transport)
	c.SetRequestTimeout(d.cfg.Timeout)
	c.ParseHTTPErrorResponse = true
	if d.cfg.UserAgent != "" {
		c.UserAgent = d.cfg.UserAgent
	}
	return c
}

// Open performs a warm-up request so the jar holds any session cookies.
func (d *Driver) Open(ctx context.Context, targetURL string) error {
	if _, err := d.Fetch(ctx, driver.FetchRequest{URL: targetURL, Headers: driver.NoCacheHeaders()}); err != nil {
		return fmt.Errorf("open %s: %w", targetURL, err)
	}
	return nil
}

// Fetch executes a single HTTP GET.
func (d *Driver) Fetch(ctx context.Context, req driver.FetchRequest) (driver.FetchResult, error) {
	if d.pacer != nil {
		if err := d.pacer.Wait(ctx, req.URL); err != nil {
			return driver.FetchResult{}, fmt.Errorf("pace fetch: %w", err)
		}
	}
	var (
		result   driver.FetchResult
		fetchErr error
	)
	d.mu.Lock()
	collector := d.base.Clone()
	d.mu.Unlock()

	d.configureCollectorHooks(collector, req, time.Now(), &result, &fetchErr)
	if err := runCollector(ctx, collector, req.URL, &fetchErr); err != nil {
		return driver.FetchResult{}, err
	}
	if err := driver.CheckStatus(result.URL, result.StatusCode); err != nil {
		return driver.FetchResult{}, err
	}
	return result, nil
}

// Reload drops cookies and pooled connections by starting a fresh collector.
func (d *Driver) Reload(_ context.Context) error {
	d.transport.CloseIdleConnections()
	d.mu.Lock()
	d.base = d.newCollector()
	d.mu.Unlock()
	return nil
}

// Close releases pooled connections.
func (d *Driver) Close() error {
	d.transport.CloseIdleConnections()
	return nil
}

func (d *Driver) configureCollectorHooks(
	hooks collectorHooks,
	req driver.FetchRequest,
	start time.Time,
	result *driver.FetchResult,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(req.Headers, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		now := time.Now()
		*result = driver.FetchResult{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			FetchedAt:  now.UTC(),
			Duration:   now.Sub(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func copyHeaders(h http.Header, r *colly.Request) {
	for key, values := range h {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
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
