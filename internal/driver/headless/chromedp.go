// Package headless drives a Chrome tab with chromedp. The tab is opened once
// and kept, so fetches run inside a context that already passed any
// bot-mitigation challenge.
package headless

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/arena-leaderboard-sync/internal/driver"
)

// Default timeouts.
const (
	DefaultNavigationTimeout = 45 * time.Second
	DefaultFetchTimeout      = 30 * time.Second
	DefaultReloadTimeout     = 60 * time.Second
	DefaultScreenshotQuality = 70
)

// Config controls the browser.
type Config struct {
	// RemoteURL is a DevTools websocket URL of an already running browser.
	// Empty launches a local Chrome.
	RemoteURL string
	Headless  bool
	// UserDataDir keeps cookies between process restarts.
	UserDataDir       string
	UserAgent         string
	NavigationTimeout time.Duration
	FetchTimeout      time.Duration
	ReloadTimeout     time.Duration
	ScreenshotQuality int
}

// Driver implements driver.Driver and driver.Screenshotter.
type Driver struct {
	cfg    Config
	pacer  driver.Pacer
	logger *zap.Logger
	run    func(context.Context, ...chromedp.Action) error

	// mu guards the tab and allocator fields. Fetch and Screenshot hold it
	// only to read tabCtx.
	mu          sync.Mutex
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	targetURL   string
}

// New creates a Driver. The browser starts on Open.
func New(cfg Config, pacer driver.Pacer, logger *zap.Logger) *Driver {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = DefaultNavigationTimeout
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.ReloadTimeout <= 0 {
		cfg.ReloadTimeout = DefaultReloadTimeout
	}
	if cfg.ScreenshotQuality <= 0 || cfg.ScreenshotQuality > 100 {
		cfg.ScreenshotQuality = DefaultScreenshotQuality
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{cfg: cfg, pacer: pacer, logger: logger.Named("headless"), run: chromedp.Run}
}

func (d *Driver) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if d.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if d.cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(d.cfg.UserDataDir))
	}
	if d.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(d.cfg.UserAgent))
	}
	return opts
}

// Open starts or attaches to the browser and navigates to targetURL.
func (d *Driver) Open(ctx context.Context, targetURL string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.tabCtx == nil {
		var allocCtx context.Context
		if d.cfg.RemoteURL != "" {
			allocCtx, d.allocCancel = chromedp.NewRemoteAllocator(context.Background(), d.cfg.RemoteURL)
		} else {
			allocCtx, d.allocCancel = chromedp.NewExecAllocator(context.Background(), d.allocatorOptions()...)
		}
		d.tabCtx, d.tabCancel = chromedp.NewContext(allocCtx,
			chromedp.WithLogf(d.logger.Sugar().Debugf),
			chromedp.WithErrorf(d.logger.Sugar().Debugf),
		)
		// The first Run starts the browser; it must not carry a deadline.
		if err := chromedp.Run(d.tabCtx); err != nil {
			d.closeLocked()
			return fmt.Errorf("start browser: %w", err)
		}
	}

	runCtx, cancel := bounded(d.tabCtx, ctx, d.cfg.NavigationTimeout)
	defer cancel()
	err := d.run(runCtx,
		d.setupAction(),
		chromedp.Navigate(targetURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("open %s: %w", targetURL, err)
	}
	d.targetURL = targetURL
	d.logger.Info("page opened", zap.String("url", targetURL), zap.Bool("remote", d.cfg.RemoteURL != ""))
	return nil
}

func (d *Driver) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := network.SetCacheDisabled(true).Do(ctx); err != nil {
			return fmt.Errorf("disable cache: %w", err)
		}
		if d.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(d.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// Fetch runs a fetch() call inside the open page so the request carries the
// page's cookies and clearance state.
func (d *Driver) Fetch(ctx context.Context, req driver.FetchRequest) (driver.FetchResult, error) {
	if d.pacer != nil {
		if err := d.pacer.Wait(ctx, req.URL); err != nil {
			return driver.FetchResult{}, fmt.Errorf("pace fetch: %w", err)
		}
	}
	script, err := fetchScript(req)
	if err != nil {
		return driver.FetchResult{}, err
	}

	tab, ok := d.tab()
	if !ok {
		return driver.FetchResult{}, driver.ErrNotOpen
	}

	runCtx, cancel := bounded(tab, ctx, d.cfg.FetchTimeout)
	defer cancel()

	var res evalResult
	start := time.Now()
	err = d.run(runCtx, chromedp.Evaluate(script, &res, awaitPromise))
	if err != nil {
		return driver.FetchResult{}, fmt.Errorf("evaluate fetch: %w", err)
	}
	return res.toResult(req.URL, start)
}

// Reload clears the browser cache and reloads the page, ignoring cached
// resources.
func (d *Driver) Reload(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tabCtx == nil {
		return driver.ErrNotOpen
	}

	runCtx, cancel := bounded(d.tabCtx, ctx, d.cfg.ReloadTimeout)
	defer cancel()
	err := d.run(runCtx,
		network.ClearBrowserCache(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return page.Reload().WithIgnoreCache(true).Do(ctx)
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("reload page: %w", err)
	}
	d.logger.Debug("page reloaded", zap.String("url", d.targetURL))
	return nil
}

// Screenshot captures the full page as JPEG.
func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	tab, ok := d.tab()
	if !ok {
		return nil, driver.ErrNotOpen
	}

	runCtx, cancel := bounded(tab, ctx, d.cfg.FetchTimeout)
	defer cancel()
	var buf []byte
	if err := d.run(runCtx, chromedp.FullScreenshot(&buf, d.cfg.ScreenshotQuality)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

// Close shuts down the tab and the browser (or detaches from a remote one).
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeLocked()
	return nil
}

func (d *Driver) closeLocked() {
	if d.tabCancel != nil {
		d.tabCancel()
		d.tabCancel = nil
	}
	if d.allocCancel != nil {
		d.allocCancel()
		d.allocCancel = nil
	}
	d.tabCtx = nil
}

func (d *Driver) tab() (context.Context, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tabCtx, d.tabCtx != nil
}

// bounded derives a context from the tab that is canceled by ctx or after timeout.
func bounded(tab, ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(tab, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

type evalResult struct {
	Status int    `json:"status"`
	URL    string `json:"url"`
	Body   string `json:"body"`
}

func (r evalResult) toResult(requestURL string, start time.Time) (driver.FetchResult, error) {
	finalURL := r.URL
	if finalURL == "" {
		finalURL = requestURL
	}
	if err := driver.CheckStatus(finalURL, r.Status); err != nil {
		return driver.FetchResult{}, err
	}
	now := time.Now()
	return driver.FetchResult{
		URL:        finalURL,
		StatusCode: r.Status,
		Body:       []byte(r.Body),
		FetchedAt:  now.UTC(),
		Duration:   now.Sub(start),
	}, nil
}

const fetchTemplate = `(async () => {
  const r = await fetch(%s, {method: "GET", cache: "no-store", credentials: "include", headers: %s});
  return {status: r.status, url: r.url, body: await r.text()};
})()`

func fetchScript(req driver.FetchRequest) (string, error) {
	urlJSON, err := json.Marshal(req.URL)
	if err != nil {
		return "", fmt.Errorf("encode url: %w", err)
	}
	headersJSON, err := json.Marshal(flattenHeaders(req.Headers))
	if err != nil {
		return "", fmt.Errorf("encode headers: %w", err)
	}
	return fmt.Sprintf(fetchTemplate, urlJSON, headersJSON), nil
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		out[key] = values[0]
	}
	return out
}
