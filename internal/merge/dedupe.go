// Package merge collapses duplicate leaderboard entries before persistence.
package merge

import "github.com/JakeFAU/arena-leaderboard-sync/internal/leaderboard"

// Dedupe keeps one entry per ModelIdentifier. A later entry overwrites an
// earlier one with the same key, but the key keeps the position where it was
// first seen. Nothing is dropped for any other reason.
func Dedupe(entries []leaderboard.Entry) []leaderboard.Entry {
	if len(entries) == 0 {
		return []leaderboard.Entry{}
	}
	index := make(map[string]int, len(entries))
	out := make([]leaderboard.Entry, 0, len(entries))
	for _, e := range entries {
		if pos, seen := index[e.ModelIdentifier]; seen {
			out[pos] = e
			continue
		}
		index[e.ModelIdentifier] = len(out)
		out = append(out, e)
	}
	return out
}
