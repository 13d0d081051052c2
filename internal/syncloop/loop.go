// Package syncloop drives the leaderboard synchronization cycle: fetch,
// staleness check, extraction, dedupe, and persistence, with failure
// escalation deciding when the process gives up.
package syncloop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/arena-leaderboard-sync/internal/driver"
	"github.com/JakeFAU/arena-leaderboard-sync/internal/escalation"
	"github.com/JakeFAU/arena-leaderboard-sync/internal/leaderboard"
	"github.com/JakeFAU/arena-leaderboard-sync/internal/merge"
	"github.com/JakeFAU/arena-leaderboard-sync/internal/metrics"
	"github.com/JakeFAU/arena-leaderboard-sync/internal/staleness"
	"github.com/JakeFAU/arena-leaderboard-sync/internal/storage"
)

const tracerName = "github.com/JakeFAU/arena-leaderboard-sync/internal/syncloop"

// ErrEscalated is returned by Run after the failure ceiling fired.
var ErrEscalated = errors.New("failure escalation triggered")

// Cycle outcomes, used in logs, metrics, and status.
const (
	OutcomeFresh     = "fresh"
	OutcomeDuplicate = "duplicate"
	OutcomeEmpty     = "empty"
	OutcomeError     = "error"
)

// Hash scopes.
const (
	HashScopeRaw     = "raw"
	HashScopePayload = "payload"
)

// Default delays between cycles.
const (
	DefaultSuccessDelay   = 400 * time.Millisecond
	DefaultEmptyDelay     = 3500 * time.Millisecond
	DefaultErrorDelay     = 800 * time.Millisecond
	DefaultDuplicateDelay = 400 * time.Millisecond
)

// Extractor parses raw page content.
type Extractor interface {
	Extract(raw string) (leaderboard.Snapshot, error)
	PayloadText(raw string) (string, error)
}

// Classifier decides whether content is new.
type Classifier interface {
	Classify(content []byte, state *leaderboard.CycleState) staleness.Classification
}

// Policy tracks failure counters and escalates.
type Policy interface {
	RecordError(ctx context.Context, state *leaderboard.CycleState) escalation.Phase
	RecordEmpty(ctx context.Context, state *leaderboard.CycleState) escalation.Phase
	RecordSuccess(state *leaderboard.CycleState) escalation.Phase
	Terminated() bool
	Reason() string
}

// Store persists deduplicated entries.
type Store interface {
	UpsertEntries(ctx context.Context, entries []leaderboard.Entry, fetchedAt time.Time) error
}

// Notifier publishes update notices.
type Notifier interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// TokenSource produces cache-busting tokens.
type TokenSource interface {
	NewToken() (string, error)
}

// Config tunes the loop.
type Config struct {
	// FetchURL is requested every cycle.
	FetchURL string
	// CacheBustParam is the query parameter set to a fresh token per fetch.
	CacheBustParam    string
	HashScope         string
	SuccessDelay      time.Duration
	EmptyDelay        time.Duration
	ErrorDelay        time.Duration
	DuplicateDelay    time.Duration
	ReloadEveryCycles int
	SnapshotPath      string
	MirrorPath        string
	MirrorHistory     bool
	NotifyTopic       string
	RunID             string
	// Ceilings only shape the phase shown in status; the Policy enforces them.
	Ceilings escalation.Ceilings
}

// Deps are the loop's collaborators. Store, Snapshots, Mirror, Notifier, and
// Status are optional.
type Deps struct {
	Driver     driver.Driver
	Extractor  Extractor
	Classifier Classifier
	Policy     Policy
	Store      Store
	Snapshots  storage.BlobStore
	Mirror     storage.BlobStore
	Notifier   Notifier
	Clock      Clock
	Tokens     TokenSource
	Status     *StatusBoard
	Logger     *zap.Logger
	// Tracer defaults to the global provider's tracer.
	Tracer trace.Tracer
}

// CycleReport describes one finished cycle.
type CycleReport struct {
	Cycle       int
	Outcome     string
	Fingerprint string
	Entries     int
	Reloaded    bool
	Delay       time.Duration
	StartedAt   time.Time
	Duration    time.Duration
	Err         error
}

// UpdateNotice is published after each persisted snapshot.
type UpdateNotice struct {
	RunID       string    `json:"run_id"`
	Cycle       int       `json:"cycle"`
	FetchedAt   time.Time `json:"fetched_at"`
	Fingerprint string    `json:"fingerprint"`
	Entries     int       `json:"entries"`
	Leader      string    `json:"leader,omitempty"`
	SnapshotURI string    `json:"snapshot_uri,omitempty"`
}

// Loop runs sync cycles until escalation or cancellation.
type Loop struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
	state  leaderboard.CycleState
}

// New validates deps and applies defaults.
func New(cfg Config, deps Deps) (*Loop, error) {
	switch {
	case cfg.FetchURL == "":
		return nil, fmt.Errorf("fetch url is required")
	case deps.Driver == nil:
		return nil, fmt.Errorf("driver is required")
	case deps.Extractor == nil:
		return nil, fmt.Errorf("extractor is required")
	case deps.Classifier == nil:
		return nil, fmt.Errorf("classifier is required")
	case deps.Policy == nil:
		return nil, fmt.Errorf("policy is required")
	case deps.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	case deps.Tokens == nil:
		return nil, fmt.Errorf("token source is required")
	}
	switch cfg.HashScope {
	case "":
		cfg.HashScope = HashScopeRaw
	case HashScopeRaw, HashScopePayload:
	default:
		return nil, fmt.Errorf("unknown hash scope %q", cfg.HashScope)
	}
	if cfg.SuccessDelay <= 0 {
		cfg.SuccessDelay = DefaultSuccessDelay
	}
	if cfg.EmptyDelay <= 0 {
		cfg.EmptyDelay = DefaultEmptyDelay
	}
	if cfg.ErrorDelay <= 0 {
		cfg.ErrorDelay = DefaultErrorDelay
	}
	if cfg.DuplicateDelay <= 0 {
		cfg.DuplicateDelay = DefaultDuplicateDelay
	}
	if cfg.SnapshotPath == "" {
		cfg.SnapshotPath = "leaderboard.json"
	}
	if cfg.MirrorPath == "" {
		cfg.MirrorPath = "latest.json"
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	return &Loop{cfg: cfg, deps: deps, logger: logger.Named("syncloop")}, nil
}

// State returns a copy of the cycle state.
func (l *Loop) State() leaderboard.CycleState {
	return l.state
}

// Run loops until ctx is canceled (returns nil) or escalation fires
// (returns ErrEscalated).
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("sync loop started",
		zap.String("run_id", l.cfg.RunID),
		zap.String("url", l.cfg.FetchURL),
		zap.String("hash_scope", l.cfg.HashScope),
	)
	for {
		if l.deps.Policy.Terminated() {
			return ErrEscalated
		}
		if ctx.Err() != nil {
			l.logger.Info("sync loop stopped", zap.Int("cycles", l.state.CycleCount))
			return nil
		}
		report := l.RunCycle(ctx)
		if l.deps.Policy.Terminated() {
			metrics.ObserveEscalation(l.deps.Policy.Reason())
			l.logger.Error("sync loop escalated", zap.String("reason", l.deps.Policy.Reason()), zap.Int("cycle", report.Cycle))
			return ErrEscalated
		}
		if err := l.deps.Clock.Sleep(ctx, report.Delay); err != nil {
			continue
		}
	}
}

// RunCycle executes exactly one cycle and reports what happened.
func (l *Loop) RunCycle(ctx context.Context) (report CycleReport) {
	l.state.CycleCount++
	report = CycleReport{Cycle: l.state.CycleCount, StartedAt: l.deps.Clock.Now()}
	ctx, span := l.deps.Tracer.Start(ctx, "sync.cycle", trace.WithAttributes(attribute.Int("cycle", report.Cycle)))
	defer func() {
		report.Duration = l.deps.Clock.Now().Sub(report.StartedAt)
		l.finish(report)
		endSpan(span, report)
	}()

	if n := l.cfg.ReloadEveryCycles; n > 0 && l.state.CycleCount > 1 && (l.state.CycleCount-1)%n == 0 {
		report.Reloaded = l.reload(ctx, "periodic")
	}

	target, err := l.cacheBusted()
	if err != nil {
		return l.fail(ctx, report, err)
	}
	res, err := l.deps.Driver.Fetch(ctx, driver.FetchRequest{URL: target, Headers: driver.NoCacheHeaders()})
	if err != nil {
		return l.fail(ctx, report, fmt.Errorf("fetch leaderboard: %w", err))
	}
	metrics.ObserveFetch(l.cfg.FetchURL, len(res.Body))

	raw := string(res.Body)
	snap, err := l.deps.Extractor.Extract(raw)
	if err != nil {
		return l.fail(ctx, report, fmt.Errorf("extract leaderboard: %w", err))
	}

	cls := l.deps.Classifier.Classify(l.hashContent(res.Body, raw), &l.state)
	report.Fingerprint = cls.Fingerprint
	report.Entries = len(snap.Entries)

	if cls.Verdict == staleness.Duplicate {
		report.Outcome = OutcomeDuplicate
		report.Delay = l.cfg.DuplicateDelay
		if cls.ForceReload {
			report.Reloaded = l.reload(ctx, "duplicate") || report.Reloaded
		}
		if len(snap.Entries) == 0 {
			// An unchanging empty page still counts toward the empty ceiling.
			l.deps.Policy.RecordEmpty(ctx, &l.state)
			report.Outcome = OutcomeEmpty
			report.Delay = l.cfg.EmptyDelay
		}
		return report
	}

	if len(snap.Entries) == 0 {
		l.deps.Policy.RecordEmpty(ctx, &l.state)
		report.Outcome = OutcomeEmpty
		report.Delay = l.cfg.EmptyDelay
		return report
	}

	snap.Entries = merge.Dedupe(snap.Entries)
	snap.RawContentHash = cls.Fingerprint
	snap.FetchedAt = res.FetchedAt
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = report.StartedAt
	}
	report.Entries = len(snap.Entries)

	uri := l.persist(ctx, snap)
	l.deps.Policy.RecordSuccess(&l.state)
	l.state.LastSuccessAt = snap.FetchedAt
	if l.deps.Status != nil {
		l.deps.Status.publish(snap)
	}
	metrics.SetEntries(len(snap.Entries))
	l.notify(ctx, report.Cycle, snap, uri)

	report.Outcome = OutcomeFresh
	report.Delay = l.cfg.SuccessDelay
	return report
}

func (l *Loop) fail(ctx context.Context, report CycleReport, err error) CycleReport {
	l.deps.Policy.RecordError(ctx, &l.state)
	report.Outcome = OutcomeError
	report.Err = err
	report.Delay = l.cfg.ErrorDelay
	return report
}

func (l *Loop) finish(report CycleReport) {
	metrics.ObserveCycle(report.Outcome, report.Duration)
	metrics.SetCounters(l.state.ConsecutiveErrorCount, l.state.ConsecutiveEmptyCount)

	phase, _ := escalation.Evaluate(&l.state, l.cfg.Ceilings)
	phaseName := phase.String()
	if l.deps.Policy.Terminated() {
		phaseName = escalation.Terminated.String()
	}
	if l.deps.Status != nil {
		l.deps.Status.record(report, l.state, phaseName)
	}

	fields := []zap.Field{
		zap.Int("cycle", report.Cycle),
		zap.String("verdict", report.Outcome),
		zap.Duration("took", report.Duration),
		zap.Int("entries", report.Entries),
		zap.String("fingerprint", leaderboard.FingerprintPrefix(report.Fingerprint)),
		zap.Int("consecutive_errors", l.state.ConsecutiveErrorCount),
		zap.Int("consecutive_empty", l.state.ConsecutiveEmptyCount),
	}
	if report.Reloaded {
		fields = append(fields, zap.Bool("reloaded", true))
	}
	switch report.Outcome {
	case OutcomeError:
		l.logger.Warn("cycle", append(fields, zap.Error(report.Err))...)
	case OutcomeDuplicate:
		l.logger.Debug("cycle", fields...)
	default:
		l.logger.Info("cycle", fields...)
	}
}

func endSpan(span trace.Span, report CycleReport) {
	span.SetAttributes(
		attribute.String("outcome", report.Outcome),
		attribute.Int("entries", report.Entries),
		attribute.Bool("reloaded", report.Reloaded),
		attribute.String("fingerprint", leaderboard.FingerprintPrefix(report.Fingerprint)),
	)
	if report.Err != nil {
		span.RecordError(report.Err)
		span.SetStatus(codes.Error, report.Err.Error())
	}
	span.End()
}

func (l *Loop) cacheBusted() (string, error) {
	param := l.cfg.CacheBustParam
	if param == "" {
		return l.cfg.FetchURL, nil
	}
	token, err := l.deps.Tokens.NewToken()
	if err != nil {
		return "", fmt.Errorf("cache bust token: %w", err)
	}
	u, err := driver.CacheBust(l.cfg.FetchURL, param, token)
	if err != nil {
		return "", fmt.Errorf("cache bust url: %w", err)
	}
	return u, nil
}

func (l *Loop) hashContent(body []byte, raw string) []byte {
	if l.cfg.HashScope != HashScopePayload {
		return body
	}
	text, err := l.deps.Extractor.PayloadText(raw)
	if err != nil {
		return body
	}
	return []byte(text)
}

func (l *Loop) reload(ctx context.Context, trigger string) bool {
	metrics.ObserveForcedReload(trigger)
	if err := l.deps.Driver.Reload(ctx); err != nil {
		l.logger.Warn("forced reload failed", zap.String("trigger", trigger), zap.Error(err))
		return false
	}
	l.logger.Info("forced reload", zap.String("trigger", trigger), zap.Int("cycle", l.state.CycleCount))
	return true
}

// persist writes the snapshot file, the mirror, and the store. Failures are
// logged and counted; the next fresh cycle rewrites everything.
func (l *Loop) persist(ctx context.Context, snap leaderboard.Snapshot) string {
	body, err := json.MarshalIndent(snap.Entries, "", "  ")
	if err != nil {
		l.logger.Error("encode snapshot", zap.Error(err))
		metrics.ObservePersistFailure("encode")
		return ""
	}

	var uri string
	if l.deps.Snapshots != nil {
		uri, err = l.deps.Snapshots.PutObject(ctx, l.cfg.SnapshotPath, "application/json", bytes.NewReader(body))
		if err != nil {
			l.logger.Error("write snapshot file", zap.Error(err))
			metrics.ObservePersistFailure("snapshot")
		}
	}

	if l.deps.Mirror != nil {
		if mirrorURI, err := l.deps.Mirror.PutObject(ctx, l.cfg.MirrorPath, "application/json", bytes.NewReader(body)); err != nil {
			l.logger.Error("mirror snapshot", zap.Error(err))
			metrics.ObservePersistFailure("mirror")
		} else if uri == "" {
			uri = mirrorURI
		}
		if l.cfg.MirrorHistory {
			name := historyName(l.cfg.MirrorPath, snap)
			if _, err := l.deps.Mirror.PutObject(ctx, name, "application/json", bytes.NewReader(body)); err != nil {
				l.logger.Error("mirror snapshot history", zap.String("object", name), zap.Error(err))
				metrics.ObservePersistFailure("mirror")
			}
		}
	}

	if l.deps.Store != nil {
		if err := l.deps.Store.UpsertEntries(ctx, snap.Entries, snap.FetchedAt); err != nil {
			l.logger.Error("upsert entries", zap.Int("entries", len(snap.Entries)), zap.Error(err))
			metrics.ObservePersistFailure("postgres")
		}
	}
	return uri
}

func historyName(mirrorPath string, snap leaderboard.Snapshot) string {
	dir := path.Dir(mirrorPath)
	stamp := strings.ReplaceAll(snap.FetchedAt.UTC().Format(time.RFC3339), ":", "-")
	return path.Join(dir, "history", stamp+"-"+leaderboard.FingerprintPrefix(snap.RawContentHash)+".json")
}

func (l *Loop) notify(ctx context.Context, cycle int, snap leaderboard.Snapshot, uri string) {
	if l.deps.Notifier == nil {
		return
	}
	notice := UpdateNotice{
		RunID:       l.cfg.RunID,
		Cycle:       cycle,
		FetchedAt:   snap.FetchedAt,
		Fingerprint: snap.RawContentHash,
		Entries:     len(snap.Entries),
		SnapshotURI: uri,
	}
	if len(snap.Entries) > 0 {
		notice.Leader = snap.Entries[0].ModelIdentifier
	}
	if _, err := l.deps.Notifier.Publish(ctx, l.cfg.NotifyTopic, notice); err != nil {
		l.logger.Warn("publish update notice", zap.Error(err))
		metrics.ObserveNotifyFailure()
	}
}
