// Package leaderboard defines the snapshot, entry, and cycle state types shared
// by the extractor, the staleness detector, the escalation policy, and the sync loop.
package leaderboard

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is one successfully extracted view of the leaderboard.
type Snapshot struct {
	FetchedAt      time.Time `json:"fetched_at"`
	RawContentHash string    `json:"raw_content_hash"`
	Entries        []Entry   `json:"entries"`
}

// Entry is a single normalized leaderboard row. ModelIdentifier is the
// canonical key used for deduplication and for the upsert conflict target.
type Entry struct {
	Rank               int                 `json:"rank"`
	ModelIdentifier    string              `json:"model_identifier"`
	DisplayName        string              `json:"display_name"`
	Organization       string              `json:"organization"`
	Score              decimal.Decimal     `json:"score"`
	ConfidenceInterval *ConfidenceInterval `json:"confidence_interval"`
	Votes              *int64              `json:"votes"`
	License            *string             `json:"license"`
	RankStyleControl   *int                `json:"rank_style_control,omitempty"`
	ModelURL           *string             `json:"model_url,omitempty"`
}

// ConfidenceInterval holds the numeric bounds around an entry's score.
type ConfidenceInterval struct {
	Lower decimal.Decimal `json:"lower"`
	Upper decimal.Decimal `json:"upper"`
}

// Display renders the interval as "lower, upper" with one decimal place.
func (ci ConfidenceInterval) Display() string {
	return fmt.Sprintf("%s, %s", ci.Lower.StringFixed(1), ci.Upper.StringFixed(1))
}

// CIDisplay returns the display form of the entry's interval, or nil when absent.
func (e Entry) CIDisplay() *string {
	if e.ConfidenceInterval == nil {
		return nil
	}
	s := e.ConfidenceInterval.Display()
	return &s
}

// CycleState is the process-wide bookkeeping mutated once per sync cycle.
// The sync loop owns it and passes it by pointer into the decision functions.
type CycleState struct {
	CycleCount                int       `json:"cycle_count"`
	ConsecutiveErrorCount     int       `json:"consecutive_error_count"`
	ConsecutiveEmptyCount     int       `json:"consecutive_empty_count"`
	ConsecutiveDuplicateCount int       `json:"consecutive_duplicate_count"`
	LastContentHash           string    `json:"last_content_hash"`
	LastSuccessAt             time.Time `json:"last_success_at"`
}

// FingerprintPrefix returns a short prefix of the last content hash for log lines.
func FingerprintPrefix(hash string) string {
	const n = 12
	if len(hash) <= n {
		return hash
	}
	return hash[:n]
}
