package headless

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/arena-leaderboard-sync/internal/driver"
)

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	d := New(Config{ScreenshotQuality: 150}, nil, nil)
	assert.Equal(t, DefaultNavigationTimeout, d.cfg.NavigationTimeout)
	assert.Equal(t, DefaultFetchTimeout, d.cfg.FetchTimeout)
	assert.Equal(t, DefaultReloadTimeout, d.cfg.ReloadTimeout)
	assert.Equal(t, DefaultScreenshotQuality, d.cfg.ScreenshotQuality)

	custom := New(Config{ReloadTimeout: time.Second, ScreenshotQuality: 90}, nil, nil)
	assert.Equal(t, time.Second, custom.cfg.ReloadTimeout)
	assert.Equal(t, 90, custom.cfg.ScreenshotQuality)
}

func TestAllocatorOptionsGrowWithConfig(t *testing.T) {
	t.Parallel()

	base := New(Config{Headless: true}, nil, nil).allocatorOptions()
	full := New(Config{Headless: true, UserDataDir: "/data/profile", UserAgent: "agent"}, nil, nil).allocatorOptions()
	assert.Len(t, full, len(base)+2)
}

func TestOperationsRequireOpen(t *testing.T) {
	t.Parallel()

	d := New(Config{}, nil, nil)
	_, err := d.Fetch(context.Background(), driver.FetchRequest{URL: "https://arena.example/"})
	assert.ErrorIs(t, err, driver.ErrNotOpen)
	assert.ErrorIs(t, d.Reload(context.Background()), driver.ErrNotOpen)
	_, err = d.Screenshot(context.Background())
	assert.ErrorIs(t, err, driver.ErrNotOpen)
	assert.NoError(t, d.Close())
}

type failingPacer struct{ err error }

func (p failingPacer) Wait(context.Context, string) error { return p.err }

func TestFetchHonorsPacer(t *testing.T) {
	t.Parallel()

	boom := errors.New("canceled")
	d := New(Config{}, failingPacer{err: boom}, nil)
	_, err := d.Fetch(context.Background(), driver.FetchRequest{URL: "https://arena.example/"})
	assert.ErrorIs(t, err, boom)
}

func TestFetchScript(t *testing.T) {
	t.Parallel()

	script, err := fetchScript(driver.FetchRequest{
		URL:     `https://arena.example/leaderboard?_="x"`,
		Headers: http.Header{"Cache-Control": {"no-cache", "ignored"}, "Empty": nil},
	})
	require.NoError(t, err)
	assert.Contains(t, script, `fetch("https://arena.example/leaderboard?_=\"x\""`)
	assert.Contains(t, script, `cache: "no-store"`)
	assert.Contains(t, script, `credentials: "include"`)
	assert.Contains(t, script, `{"Cache-Control":"no-cache"}`)
	assert.True(t, strings.HasPrefix(script, "(async () =>"))
}

func TestEvalResultToResult(t *testing.T) {
	t.Parallel()

	start := time.Now().Add(-time.Second)
	res, err := evalResult{Status: 200, Body: "<html></html>"}.toResult("https://req", start)
	require.NoError(t, err)
	assert.Equal(t, "https://req", res.URL)
	assert.Equal(t, []byte("<html></html>"), res.Body)
	assert.GreaterOrEqual(t, res.Duration, time.Second)
	assert.Equal(t, time.UTC, res.FetchedAt.Location())

	_, err = evalResult{Status: 429, URL: "https://final"}.toResult("https://req", start)
	assert.ErrorIs(t, err, driver.ErrFetchStatus)
	assert.Contains(t, err.Error(), "https://final")
}

func TestBoundedFollowsCaller(t *testing.T) {
	t.Parallel()

	tab := context.Background()
	caller, cancelCaller := context.WithCancel(context.Background())
	runCtx, cancel := bounded(tab, caller, time.Hour)
	defer cancel()
	cancelCaller()

	select {
	case <-runCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("expected bounded context to follow caller cancellation")
	}

	short, cancelShort := bounded(tab, context.Background(), 10*time.Millisecond)
	defer cancelShort()
	select {
	case <-short.Done():
		assert.ErrorIs(t, short.Err(), context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("expected timeout")
	}
}

func TestSlowScreenshotDoesNotBlockFetch(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})
	evaluated := errors.New("evaluated")
	var calls atomic.Int32

	d := New(Config{}, nil, nil)
	d.tabCtx = context.Background()
	d.run = func(ctx context.Context, _ ...chromedp.Action) error {
		if calls.Add(1) == 1 {
			close(entered)
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		}
		return evaluated
	}

	shot := make(chan error, 1)
	go func() {
		_, err := d.Screenshot(context.Background())
		shot <- err
	}()
	<-entered

	fetched := make(chan error, 1)
	go func() {
		_, err := d.Fetch(context.Background(), driver.FetchRequest{URL: "https://arena.example/"})
		fetched <- err
	}()
	select {
	case err := <-fetched:
		assert.ErrorIs(t, err, evaluated)
	case <-time.After(time.Second):
		t.Fatal("fetch waited on an in-flight screenshot")
	}

	close(release)
	require.NoError(t, <-shot)
}
