package extract

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/JakeFAU/arena-leaderboard-sync/internal/leaderboard"
)

var (
	anchorText   = regexp.MustCompile(`<a\s[^>]*>([^<]+)</a>`)
	markupTag    = regexp.MustCompile(`<[^>]*>`)
	relativeCI   = regexp.MustCompile(`^\+\s*([\d.,]+)\s*/\s*-\s*([\d.,]+)$`)
	numberStrips = strings.NewReplacer(",", "", " ", "", "\u00a0", "")
)

// CanonicalModelID strips anchors and other markup from a display name. Two
// display names that differ only in markup map to the same identifier.
func CanonicalModelID(display string) string {
	if m := anchorText.FindStringSubmatch(display); m != nil {
		if name := strings.TrimSpace(html.UnescapeString(m[1])); name != "" {
			return name
		}
	}
	stripped := markupTag.ReplaceAllString(display, "")
	return strings.Join(strings.Fields(html.UnescapeString(stripped)), " ")
}

// ParseFormattedNumber parses an integer that may carry thousands separators ("15,234").
func ParseFormattedNumber(s string) (int64, error) {
	clean := numberStrips.Replace(strings.TrimSpace(s))
	if clean == "" {
		return 0, fmt.Errorf("parse number: empty input")
	}
	n, err := strconv.ParseInt(clean, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse number %q: %w", s, err)
	}
	return n, nil
}

// ParseDecimal parses a decimal that may carry thousands separators.
func ParseDecimal(s string) (decimal.Decimal, error) {
	clean := numberStrips.Replace(strings.TrimSpace(s))
	if clean == "" {
		return decimal.Zero, fmt.Errorf("parse decimal: empty input")
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

// ParseCIText reads a confidence interval rendered either as "lower, upper" or
// as "+up/-down" relative to score. It returns nil when the text is neither.
func ParseCIText(text string, score decimal.Decimal) *leaderboard.ConfidenceInterval {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if m := relativeCI.FindStringSubmatch(text); m != nil {
		up, errUp := ParseDecimal(m[1])
		down, errDown := ParseDecimal(m[2])
		if errUp != nil || errDown != nil {
			return nil
		}
		return &leaderboard.ConfidenceInterval{Lower: score.Sub(down), Upper: score.Add(up)}
	}
	parts := strings.Split(text, ", ")
	if len(parts) != 2 {
		return nil
	}
	lower, errLower := ParseDecimal(parts[0])
	upper, errUpper := ParseDecimal(parts[1])
	if errLower != nil || errUpper != nil {
		return nil
	}
	return &leaderboard.ConfidenceInterval{Lower: lower, Upper: upper}
}
