// Package supervisor talks to the process's surroundings: it restarts the
// network egress container, requests graceful shutdown, and clears stale
// browser temp folders at startup.
package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultRestartTimeout bounds a container restart.
const DefaultRestartTimeout = 2 * time.Minute

// DefaultTempPatterns match browser automation leftovers.
var DefaultTempPatterns = []string{"/tmp/lighthouse.*", "/tmp/puppeteer*"}

// Runner executes an external command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name with args, folding stderr into the error.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

// ContainerRestarter restarts containers through a docker-compatible CLI.
type ContainerRestarter struct {
	runner  Runner
	binary  string
	timeout time.Duration
	logger  *zap.Logger
}

// NewContainerRestarter returns a restarter using binary (docker or podman).
func NewContainerRestarter(binary string, timeout time.Duration, runner Runner, logger *zap.Logger) *ContainerRestarter {
	if binary == "" {
		binary = "docker"
	}
	if timeout <= 0 {
		timeout = DefaultRestartTimeout
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContainerRestarter{runner: runner, binary: binary, timeout: timeout, logger: logger.Named("supervisor")}
}

// RestartContainer restarts the named container and waits for the CLI to return.
func (r *ContainerRestarter) RestartContainer(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("container name is required")
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	out, err := r.runner.Run(ctx, r.binary, "restart", name)
	if err != nil {
		return fmt.Errorf("restart container %s: %w", name, err)
	}
	r.logger.Info("container restarted",
		zap.String("container", name),
		zap.String("output", strings.TrimSpace(string(out))),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

// Shutdowner cancels the root context once.
type Shutdowner struct {
	cancel context.CancelFunc
	logger *zap.Logger

	once      sync.Once
	mu        sync.Mutex
	requested bool
}

// NewShutdowner wraps cancel.
func NewShutdowner(cancel context.CancelFunc, logger *zap.Logger) *Shutdowner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Shutdowner{cancel: cancel, logger: logger.Named("supervisor")}
}

// Shutdown cancels the root context. Later calls do nothing.
func (s *Shutdowner) Shutdown() {
	s.once.Do(func() {
		s.mu.Lock()
		s.requested = true
		s.mu.Unlock()
		s.logger.Warn("graceful shutdown requested")
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Requested reports whether Shutdown has been called.
func (s *Shutdowner) Requested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requested
}

// PurgeResult summarizes a temp purge.
type PurgeResult struct {
	Removed int
	Failed  int
}

// PurgeTemp removes everything matching patterns. Failures are logged and
// counted; the purge never returns an error.
func PurgeTemp(patterns []string, logger *zap.Logger) PurgeResult {
	if logger == nil {
		logger = zap.NewNop()
	}
	var res PurgeResult
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			logger.Warn("bad temp pattern", zap.String("pattern", pattern), zap.Error(err))
			res.Failed++
			continue
		}
		for _, m := range matches {
			if err := os.RemoveAll(m); err != nil {
				logger.Warn("temp purge failed", zap.String("path", m), zap.Error(err))
				res.Failed++
				continue
			}
			res.Removed++
		}
	}
	if res.Removed > 0 || res.Failed > 0 {
		logger.Info("temp purge done", zap.Int("removed", res.Removed), zap.Int("failed", res.Failed))
	}
	return res
}
