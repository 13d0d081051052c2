package syncloop

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/arena-leaderboard-sync/internal/leaderboard"
)

func TestStatusBoardRecord(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	board := NewStatusBoard("run-9", start)
	assert.Equal(t, "healthy", board.Status().Phase)
	_, ok := board.Latest()
	assert.False(t, ok)

	board.record(CycleReport{
		Cycle:       4,
		Outcome:     OutcomeError,
		Err:         errors.New("timeout"),
		Fingerprint: "0123456789abcdef0123",
		StartedAt:   start.Add(time.Minute),
	}, leaderboard.CycleState{ConsecutiveErrorCount: 2, ConsecutiveDuplicateCount: 1}, "degraded")

	status := board.Status()
	assert.Equal(t, "run-9", status.RunID)
	assert.Equal(t, 4, status.Cycle)
	assert.Equal(t, "degraded", status.Phase)
	assert.Equal(t, "timeout", status.LastError)
	assert.Equal(t, "0123456789ab", status.LastFingerprint)
	assert.Equal(t, 2, status.ConsecutiveErrors)
	assert.Equal(t, 1, status.ConsecutiveDuplicates)

	board.record(CycleReport{Cycle: 5, Outcome: OutcomeFresh}, leaderboard.CycleState{}, "healthy")
	assert.Empty(t, board.Status().LastError)
	assert.Equal(t, "0123456789ab", board.Status().LastFingerprint, "kept when the cycle had none")
}

func TestStatusBoardLatestIsACopy(t *testing.T) {
	t.Parallel()

	board := NewStatusBoard("run", time.Now())
	board.publish(leaderboard.Snapshot{
		FetchedAt: time.Now(),
		Entries:   []leaderboard.Entry{{ModelIdentifier: "a"}, {ModelIdentifier: "b"}},
	})

	snap, ok := board.Latest()
	require.True(t, ok)
	snap.Entries[0].ModelIdentifier = "mutated"

	again, _ := board.Latest()
	assert.Equal(t, "a", again.Entries[0].ModelIdentifier)
	assert.Equal(t, 2, board.Status().Entries)
}
