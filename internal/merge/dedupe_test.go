package merge

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/arena-leaderboard-sync/internal/leaderboard"
)

func entry(id string, score int64) leaderboard.Entry {
	return leaderboard.Entry{ModelIdentifier: id, DisplayName: id, Score: decimal.NewFromInt(score)}
}

func TestDedupeLastWriteWinsFirstPositionKept(t *testing.T) {
	t.Parallel()

	in := []leaderboard.Entry{
		entry("a", 1),
		entry("b", 2),
		entry("a", 3),
		entry("c", 4),
		entry("b", 5),
	}
	out := Dedupe(in)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"a", "b", "c"}, ids(out))
	assert.True(t, out[0].Score.Equal(decimal.NewFromInt(3)))
	assert.True(t, out[1].Score.Equal(decimal.NewFromInt(5)))
	assert.True(t, out[2].Score.Equal(decimal.NewFromInt(4)))
}

func TestDedupeEveryOrderingKeepsLastOccurrence(t *testing.T) {
	t.Parallel()

	base := []leaderboard.Entry{entry("m", 1), entry("m", 2), entry("m", 3)}
	orders := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for _, order := range orders {
		in := make([]leaderboard.Entry, 0, len(order))
		for _, i := range order {
			in = append(in, base[i])
		}
		out := Dedupe(in)
		require.Len(t, out, 1)
		assert.Equal(t, in[len(in)-1], out[0], "order %v", order)
	}
}

func TestDedupeDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	in := []leaderboard.Entry{entry("a", 1), entry("a", 2)}
	_ = Dedupe(in)
	assert.True(t, in[0].Score.Equal(decimal.NewFromInt(1)))
}

func TestDedupeEmpty(t *testing.T) {
	t.Parallel()

	assert.NotNil(t, Dedupe(nil))
	assert.Empty(t, Dedupe(nil))
}

func ids(entries []leaderboard.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ModelIdentifier)
	}
	return out
}
