package syncloop

import (
	"sync"
	"time"

	"github.com/JakeFAU/arena-leaderboard-sync/internal/leaderboard"
)

// Status is a point-in-time view of the loop for operators.
type Status struct {
	RunID                 string    `json:"run_id"`
	StartedAt             time.Time `json:"started_at"`
	Cycle                 int       `json:"cycle"`
	Phase                 string    `json:"phase"`
	LastOutcome           string    `json:"last_outcome,omitempty"`
	LastError             string    `json:"last_error,omitempty"`
	LastFingerprint       string    `json:"last_fingerprint,omitempty"`
	LastCycleAt           time.Time `json:"last_cycle_at,omitzero"`
	LastSuccessAt         time.Time `json:"last_success_at,omitzero"`
	Entries               int       `json:"entries"`
	ConsecutiveErrors     int       `json:"consecutive_errors"`
	ConsecutiveEmpty      int       `json:"consecutive_empty"`
	ConsecutiveDuplicates int       `json:"consecutive_duplicates"`
}

// StatusBoard shares loop progress with readers on other goroutines.
type StatusBoard struct {
	mu     sync.RWMutex
	status Status
	latest leaderboard.Snapshot
}

// NewStatusBoard returns a board stamped with the run ID and start time.
func NewStatusBoard(runID string, startedAt time.Time) *StatusBoard {
	return &StatusBoard{status: Status{RunID: runID, StartedAt: startedAt, Phase: "healthy"}}
}

// Status returns a copy of the current status.
func (b *StatusBoard) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// Latest returns the last persisted snapshot and whether one exists.
func (b *StatusBoard) Latest() (leaderboard.Snapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.latest.FetchedAt.IsZero() {
		return leaderboard.Snapshot{}, false
	}
	entries := make([]leaderboard.Entry, len(b.latest.Entries))
	copy(entries, b.latest.Entries)
	snap := b.latest
	snap.Entries = entries
	return snap, true
}

func (b *StatusBoard) record(report CycleReport, state leaderboard.CycleState, phase string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.Cycle = report.Cycle
	b.status.Phase = phase
	b.status.LastOutcome = report.Outcome
	b.status.LastError = ""
	if report.Err != nil {
		b.status.LastError = report.Err.Error()
	}
	if report.Fingerprint != "" {
		b.status.LastFingerprint = leaderboard.FingerprintPrefix(report.Fingerprint)
	}
	b.status.LastCycleAt = report.StartedAt
	b.status.LastSuccessAt = state.LastSuccessAt
	b.status.ConsecutiveErrors = state.ConsecutiveErrorCount
	b.status.ConsecutiveEmpty = state.ConsecutiveEmptyCount
	b.status.ConsecutiveDuplicates = state.ConsecutiveDuplicateCount
}

func (b *StatusBoard) publish(snap leaderboard.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest = snap
	b.status.Entries = len(snap.Entries)
}
