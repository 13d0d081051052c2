package extract

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// ParsedPayload is the subset of the embedded leaderboard document the
// extractor relies on. Leaderboards is a pointer so an absent key can be told
// apart from an empty list.
type ParsedPayload struct {
	Leaderboards *[]RawLeaderboard `json:"leaderboards"`
}

// RawLeaderboard is one leaderboard variant inside the payload.
type RawLeaderboard struct {
	Name            string     `json:"name"`
	LeaderboardType string     `json:"leaderboardType"`
	Entries         []RawEntry `json:"entries"`
}

// RawEntry accepts both naming schemes seen upstream. Every field is optional
// at decode time; validation happens in normalizeEntry.
type RawEntry struct {
	Rank             *Number `json:"rank"`
	RankStyleControl *Number `json:"rankStyleControl"`
	ModelDisplayName *string `json:"modelDisplayName"`
	ModelName        *string `json:"modelName"`
	Rating           *Number `json:"rating"`
	Score            *Number `json:"score"`
	RatingLower      *Number `json:"ratingLower"`
	RatingUpper      *Number `json:"ratingUpper"`
	CILower          *Number `json:"confidenceIntervalLower"`
	CIUpper          *Number `json:"confidenceIntervalUpper"`
	Votes            *Number `json:"votes"`
	Organization     *string `json:"modelOrganization"`
	ModelURL         *string `json:"modelUrl"`
	License          *string `json:"license"`
}

// Number is a numeric payload field. Upstream sends either a JSON number or
// formatted text such as "15,234"; both are parsed with ParseDecimal.
type Number struct {
	text string
}

// UnmarshalJSON accepts a JSON number or a JSON string.
func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		n.text = s
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return fmt.Errorf("numeric field: %w", err)
	}
	n.text = num.String()
	return nil
}

// Decimal returns the value with thousands separators stripped.
func (n Number) Decimal() (decimal.Decimal, error) {
	return ParseDecimal(n.text)
}

// Int returns the value as an integer. Whole-valued decimals ("15234.0") are accepted.
func (n Number) Int() (int64, error) {
	d, err := n.Decimal()
	if err != nil {
		return 0, err
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("parse number %q: not a whole number", n.text)
	}
	return d.IntPart(), nil
}

func firstString(values ...*string) string {
	for _, v := range values {
		if v != nil && *v != "" {
			return *v
		}
	}
	return ""
}

func firstDecimal(values ...*Number) (*decimal.Decimal, error) {
	for _, v := range values {
		if v == nil {
			continue
		}
		d, err := v.Decimal()
		if err != nil {
			return nil, err
		}
		return &d, nil
	}
	return nil, nil
}

func optionalInt(v *Number) (*int64, error) {
	if v == nil {
		return nil, nil
	}
	n, err := v.Int()
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func nonEmpty(v *string) *string {
	if v == nil || *v == "" {
		return nil
	}
	s := *v
	return &s
}
