package syncloop

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/arena-leaderboard-sync/internal/driver"
	"github.com/JakeFAU/arena-leaderboard-sync/internal/metrics"
	"github.com/JakeFAU/arena-leaderboard-sync/internal/storage"
)

// Screenshot defaults.
const (
	DefaultScreenshotInterval = time.Second
	DefaultScreenshotPath     = "stream/page.jpg"
)

// ScreenshotConfig tunes the capture task.
type ScreenshotConfig struct {
	Interval time.Duration
	Timeout  time.Duration
	Path     string
}

// ScreenshotTask periodically captures the page and overwrites one blob.
type ScreenshotTask struct {
	cfg    ScreenshotConfig
	shots  driver.Screenshotter
	store  storage.BlobStore
	logger *zap.Logger

	mu   sync.RWMutex
	last []byte
}

// NewScreenshotTask applies defaults. Timeout defaults to the interval.
func NewScreenshotTask(cfg ScreenshotConfig, shots driver.Screenshotter, store storage.BlobStore, logger *zap.Logger) *ScreenshotTask {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultScreenshotInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
	}
	if cfg.Path == "" {
		cfg.Path = DefaultScreenshotPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScreenshotTask{cfg: cfg, shots: shots, store: store, logger: logger.Named("screenshot")}
}

// Run captures on every tick until ctx is done. A driver without screenshot
// support ends the task quietly.
func (t *ScreenshotTask) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := t.Capture(ctx); errors.Is(err, driver.ErrScreenshotUnsupported) {
				t.logger.Info("screenshots unsupported by driver, stopping")
				return nil
			}
		}
	}
}

// Capture takes one screenshot and writes it. Failures are counted and
// returned but never fatal.
func (t *ScreenshotTask) Capture(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	img, err := t.shots.Screenshot(ctx)
	if err == nil && t.store != nil {
		_, err = t.store.PutObject(ctx, t.cfg.Path, "image/jpeg", bytes.NewReader(img))
	}
	if err != nil {
		metrics.ObserveScreenshotFailure()
		t.logger.Debug("capture failed", zap.Error(err))
		return err
	}
	t.mu.Lock()
	t.last = img
	t.mu.Unlock()
	return nil
}

// Last returns the most recent capture, or nil.
func (t *ScreenshotTask) Last() []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}
