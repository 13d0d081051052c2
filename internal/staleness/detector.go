// Package staleness classifies fetched content as fresh, duplicate, or error
// and decides when a cached page must be force-reloaded.
package staleness

import (
	"github.com/JakeFAU/arena-leaderboard-sync/internal/leaderboard"
)

// Verdict is the outcome of classifying one cycle's content.
type Verdict int

// Verdict values.
const (
	Fresh Verdict = iota
	Duplicate
	Error
)

// String returns the lowercase verdict name used in logs and metric labels.
func (v Verdict) String() string {
	switch v {
	case Fresh:
		return "fresh"
	case Duplicate:
		return "duplicate"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// DefaultReloadAfter is the number of identical fetches in a row that forces a reload.
const DefaultReloadAfter = 3

// Hasher produces content fingerprints.
type Hasher interface {
	Hash(data []byte) string
}

// Classification is the detector's decision for one cycle.
type Classification struct {
	Verdict     Verdict
	Fingerprint string
	// ForceReload asks the caller to discard cached browser state and reload.
	ForceReload bool
	Err         error
}

// Detector compares each fetch against the previous fresh one.
type Detector struct {
	hasher      Hasher
	reloadAfter int
}

// NewDetector returns a Detector. reloadAfter counts identical fetches in a
// row, the first one included; values below 2 fall back to DefaultReloadAfter.
func NewDetector(hasher Hasher, reloadAfter int) *Detector {
	if reloadAfter < 2 {
		reloadAfter = DefaultReloadAfter
	}
	return &Detector{hasher: hasher, reloadAfter: reloadAfter}
}

// Classify fingerprints content and updates state in place.
func (d *Detector) Classify(content []byte, state *leaderboard.CycleState) Classification {
	fp := d.hasher.Hash(content)
	if state.LastContentHash != "" && fp == state.LastContentHash {
		state.ConsecutiveDuplicateCount++
		c := Classification{Verdict: Duplicate, Fingerprint: fp}
		// The run of identical fetches is the duplicates plus the fresh fetch that started it.
		if state.ConsecutiveDuplicateCount+1 >= d.reloadAfter {
			c.ForceReload = true
			state.ConsecutiveDuplicateCount = 0
			state.LastContentHash = ""
		}
		return c
	}
	state.LastContentHash = fp
	state.ConsecutiveDuplicateCount = 0
	return Classification{Verdict: Fresh, Fingerprint: fp}
}

// ClassifyError wraps a fetch or extraction failure. It leaves state alone.
func ClassifyError(err error) Classification {
	return Classification{Verdict: Error, Err: err}
}
