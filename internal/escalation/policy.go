// Package escalation tracks sustained failure and, at a configured ceiling,
// resets the network identity and shuts the process down.
package escalation

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/arena-leaderboard-sync/internal/leaderboard"
)

// Phase describes the policy's view of loop health.
type Phase int

// Policy phases. Terminated is final.
const (
	Healthy Phase = iota
	Degraded
	Escalating
	Terminated
)

// String returns the lowercase phase name.
func (p Phase) String() string {
	switch p {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Escalating:
		return "escalating"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Default ceilings.
const (
	DefaultErrorCeiling = 30
	DefaultEmptyCeiling = 10
)

// Escalation reasons reported to callers and metrics.
const (
	ReasonErrors = "errors"
	ReasonEmpty  = "empty"
)

// Ceilings bounds each failure counter.
type Ceilings struct {
	Errors int
	Empty  int
}

func (c Ceilings) withDefaults() Ceilings {
	if c.Errors <= 0 {
		c.Errors = DefaultErrorCeiling
	}
	if c.Empty <= 0 {
		c.Empty = DefaultEmptyCeiling
	}
	return c
}

// Evaluate reports the phase implied by state. It never mutates state.
func Evaluate(state *leaderboard.CycleState, c Ceilings) (Phase, string) {
	c = c.withDefaults()
	switch {
	case state.ConsecutiveErrorCount >= c.Errors:
		return Escalating, ReasonErrors
	case state.ConsecutiveEmptyCount >= c.Empty:
		return Escalating, ReasonEmpty
	case state.ConsecutiveErrorCount > 0 || state.ConsecutiveEmptyCount > 0:
		return Degraded, ""
	default:
		return Healthy, ""
	}
}

// IdentityResetter swaps the process's network identity.
type IdentityResetter interface {
	RestartContainer(ctx context.Context, name string) error
}

// Shutdowner stops the process gracefully.
type Shutdowner interface {
	Shutdown()
}

// Config configures a Policy.
type Config struct {
	Ceilings  Ceilings
	Container string
}

// Policy applies failure counters to a CycleState and runs the escalation
// actions once when a ceiling is reached.
type Policy struct {
	cfg        Config
	resetter   IdentityResetter
	shutdowner Shutdowner
	logger     *zap.Logger

	mu         sync.Mutex
	terminated bool
	reason     string
}

// New builds a Policy. A nil resetter skips the identity reset.
func New(cfg Config, resetter IdentityResetter, shutdowner Shutdowner, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Ceilings = cfg.Ceilings.withDefaults()
	return &Policy{
		cfg:        cfg,
		resetter:   resetter,
		shutdowner: shutdowner,
		logger:     logger.Named("escalation"),
	}
}

// RecordError counts an error cycle and escalates at the error ceiling.
func (p *Policy) RecordError(ctx context.Context, state *leaderboard.CycleState) Phase {
	if p.Terminated() {
		return Terminated
	}
	state.ConsecutiveErrorCount++
	return p.apply(ctx, state)
}

// RecordEmpty counts an empty-result cycle and escalates at the empty ceiling.
func (p *Policy) RecordEmpty(ctx context.Context, state *leaderboard.CycleState) Phase {
	if p.Terminated() {
		return Terminated
	}
	state.ConsecutiveEmptyCount++
	return p.apply(ctx, state)
}

// RecordSuccess zeroes both counters after a fresh cycle with entries.
func (p *Policy) RecordSuccess(state *leaderboard.CycleState) Phase {
	if p.Terminated() {
		return Terminated
	}
	state.ConsecutiveErrorCount = 0
	state.ConsecutiveEmptyCount = 0
	return Healthy
}

// Terminated reports whether escalation has already fired.
func (p *Policy) Terminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// Reason returns the counter that triggered escalation, or "".
func (p *Policy) Reason() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reason
}

func (p *Policy) apply(ctx context.Context, state *leaderboard.CycleState) Phase {
	phase, reason := Evaluate(state, p.cfg.Ceilings)
	if phase != Escalating {
		return phase
	}

	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return Terminated
	}
	p.terminated = true
	p.reason = reason
	p.mu.Unlock()

	p.logger.Warn("failure ceiling reached",
		zap.String("reason", reason),
		zap.Int("consecutive_errors", state.ConsecutiveErrorCount),
		zap.Int("consecutive_empty", state.ConsecutiveEmptyCount),
		zap.String("container", p.cfg.Container),
	)
	state.ConsecutiveErrorCount = 0
	state.ConsecutiveEmptyCount = 0

	if p.resetter != nil && p.cfg.Container != "" {
		if err := p.resetter.RestartContainer(ctx, p.cfg.Container); err != nil {
			p.logger.Error("identity reset failed", zap.String("container", p.cfg.Container), zap.Error(err))
		} else {
			p.logger.Info("identity reset", zap.String("container", p.cfg.Container))
		}
	}
	if p.shutdowner != nil {
		p.shutdowner.Shutdown()
	}
	return Terminated
}
