// Package extract turns fetched leaderboard pages into normalized snapshots.
//
// Two payload shapes are understood: a JSON document carried inside a
// <script> tag (located by a sentinel substring), and a plain HTML table.
// Extraction is a pure transform over the input string.
package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"github.com/JakeFAU/arena-leaderboard-sync/internal/leaderboard"
)

// Mode selects which payload shapes the extractor tries.
type Mode string

// Supported extraction modes.
const (
	ModeAuto   Mode = "auto"
	ModeScript Mode = "script"
	ModeTable  Mode = "table"
)

// Defaults used when Config leaves a field empty.
const (
	DefaultSentinel        = "remove-style-control"
	DefaultLeaderboardType = "remove-style-control"
)

// Table column offsets, left to right.
const (
	colRank = iota
	colModel
	colScore
	colCI
	colVotes
	colOrganization
	colLicense
)

// Config controls payload location and leaderboard selection.
type Config struct {
	Sentinel        string
	LeaderboardType string
	Mode            Mode
}

// Extractor parses raw page content into a leaderboard.Snapshot.
type Extractor struct {
	cfg Config
}

// New returns an Extractor with defaults applied.
func New(cfg Config) *Extractor {
	if cfg.Sentinel == "" {
		cfg.Sentinel = DefaultSentinel
	}
	if cfg.LeaderboardType == "" {
		cfg.LeaderboardType = DefaultLeaderboardType
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeAuto
	}
	return &Extractor{cfg: cfg}
}

// Extract locates the payload in raw and returns its normalized entries. The
// returned snapshot carries entries only; FetchedAt and RawContentHash belong
// to the caller that performed the fetch.
func (e *Extractor) Extract(raw string) (leaderboard.Snapshot, error) {
	if trimmed := strings.TrimSpace(raw); strings.HasPrefix(trimmed, "{") && e.cfg.Mode != ModeTable {
		return e.decodePayload(trimmed)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return leaderboard.Snapshot{}, malformed("parse html", err)
	}

	if e.cfg.Mode != ModeTable {
		if script, ok := e.findScript(doc); ok {
			payload, err := payloadFromScript(script)
			if err != nil {
				return leaderboard.Snapshot{}, err
			}
			return e.decodePayload(payload)
		}
		if e.cfg.Mode == ModeScript {
			return leaderboard.Snapshot{}, ErrPayloadNotFound
		}
	}

	return extractTable(doc)
}

// PayloadText returns the substring the extractor would decode: the JSON text
// for script payloads, or the outer HTML of the first table.
func (e *Extractor) PayloadText(raw string) (string, error) {
	if trimmed := strings.TrimSpace(raw); strings.HasPrefix(trimmed, "{") && e.cfg.Mode != ModeTable {
		return trimmed, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return "", malformed("parse html", err)
	}
	if e.cfg.Mode != ModeTable {
		if script, ok := e.findScript(doc); ok {
			return payloadFromScript(script)
		}
		if e.cfg.Mode == ModeScript {
			return "", ErrPayloadNotFound
		}
	}
	table := doc.Find("table").First()
	if table.Length() == 0 {
		return "", ErrPayloadNotFound
	}
	out, err := goquery.OuterHtml(table)
	if err != nil {
		return "", malformed("render table", err)
	}
	return out, nil
}

func (e *Extractor) findScript(doc *goquery.Document) (string, bool) {
	var (
		found string
		ok    bool
	)
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if strings.Contains(text, e.cfg.Sentinel) {
			found, ok = text, true
			return false
		}
		return true
	})
	return found, ok
}

// payloadFromScript isolates the JSON object inside a script body. Script
// bodies either hold the object verbatim or as a quoted (escaped) string
// argument, as streamed framework payloads do.
func payloadFromScript(script string) (string, error) {
	if obj, ok := outermostObject(script); ok && json.Valid([]byte(obj)) {
		return obj, nil
	}
	first := strings.Index(script, `"`)
	last := strings.LastIndex(script, `"`)
	if first < 0 || last <= first {
		return "", malformed("no quoted payload in script", nil)
	}
	obj, ok := outermostObject(unescapeQuotes(script[first+1 : last]))
	if !ok {
		return "", malformed("no json object in script", nil)
	}
	return obj, nil
}

func outermostObject(s string) (string, bool) {
	open := strings.Index(s, "{")
	closing := strings.LastIndex(s, "}")
	if open < 0 || closing <= open {
		return "", false
	}
	return s[open : closing+1], true
}

func unescapeQuotes(s string) string {
	var decoded string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &decoded); err == nil {
		return decoded
	}
	return strings.NewReplacer(`\\"`, `"`, `\"`, `"`, `""`, `"`).Replace(s)
}

func (e *Extractor) decodePayload(payload string) (leaderboard.Snapshot, error) {
	var parsed ParsedPayload
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return leaderboard.Snapshot{}, malformed("decode json", err)
	}
	if parsed.Leaderboards == nil {
		return leaderboard.Snapshot{}, malformed("missing leaderboards", nil)
	}

	for _, board := range *parsed.Leaderboards {
		if board.LeaderboardType != e.cfg.LeaderboardType {
			continue
		}
		entries := make([]leaderboard.Entry, 0, len(board.Entries))
		for i, raw := range board.Entries {
			entry, err := normalizeEntry(raw)
			if err != nil {
				return leaderboard.Snapshot{}, malformed(fmt.Sprintf("entry %d", i), err)
			}
			entries = append(entries, entry)
		}
		return leaderboard.Snapshot{Entries: entries}, nil
	}
	// A well-formed document without the wanted leaderboard is an empty result.
	return leaderboard.Snapshot{Entries: []leaderboard.Entry{}}, nil
}

func normalizeEntry(raw RawEntry) (leaderboard.Entry, error) {
	display := firstString(raw.ModelDisplayName, raw.ModelName)
	if display == "" {
		return leaderboard.Entry{}, fmt.Errorf("model name missing")
	}
	id := CanonicalModelID(display)
	if id == "" {
		return leaderboard.Entry{}, fmt.Errorf("model name %q has no text", display)
	}

	votes, err := optionalInt(raw.Votes)
	if err != nil {
		return leaderboard.Entry{}, fmt.Errorf("votes: %w", err)
	}
	rank, err := optionalInt(raw.Rank)
	if err != nil {
		return leaderboard.Entry{}, fmt.Errorf("rank: %w", err)
	}
	styleRank, err := optionalInt(raw.RankStyleControl)
	if err != nil {
		return leaderboard.Entry{}, fmt.Errorf("rankStyleControl: %w", err)
	}

	entry := leaderboard.Entry{
		ModelIdentifier: id,
		DisplayName:     display,
		Organization:    firstString(raw.Organization),
		Votes:           votes,
		License:         nonEmpty(raw.License),
		ModelURL:        nonEmpty(raw.ModelURL),
	}
	if rank != nil {
		entry.Rank = int(*rank)
	}
	if styleRank != nil {
		r := int(*styleRank)
		entry.RankStyleControl = &r
	}
	score, err := firstDecimal(raw.Score, raw.Rating)
	if err != nil {
		return leaderboard.Entry{}, fmt.Errorf("score: %w", err)
	}
	if score != nil {
		entry.Score = *score
	}
	lower, err := firstDecimal(raw.CILower, raw.RatingLower)
	if err != nil {
		return leaderboard.Entry{}, fmt.Errorf("interval lower: %w", err)
	}
	upper, err := firstDecimal(raw.CIUpper, raw.RatingUpper)
	if err != nil {
		return leaderboard.Entry{}, fmt.Errorf("interval upper: %w", err)
	}
	if lower != nil && upper != nil {
		entry.ConfidenceInterval = &leaderboard.ConfidenceInterval{Lower: *lower, Upper: *upper}
	}
	return entry, nil
}

func extractTable(doc *goquery.Document) (leaderboard.Snapshot, error) {
	if doc.Find("table").Length() == 0 {
		return leaderboard.Snapshot{}, ErrPayloadNotFound
	}
	entries := []leaderboard.Entry{}
	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() == 0 {
			return
		}
		entry, ok := entryFromRow(cells)
		if ok {
			entries = append(entries, entry)
		}
	})
	return leaderboard.Snapshot{Entries: entries}, nil
}

func entryFromRow(cells *goquery.Selection) (leaderboard.Entry, bool) {
	text := func(i int) string {
		if i >= cells.Length() {
			return ""
		}
		return strings.TrimSpace(cells.Eq(i).Text())
	}
	display := ""
	if cells.Length() > colModel {
		inner, err := cells.Eq(colModel).Html()
		if err == nil {
			display = strings.TrimSpace(inner)
		}
	}
	id := CanonicalModelID(display)
	if id == "" {
		return leaderboard.Entry{}, false
	}

	entry := leaderboard.Entry{
		ModelIdentifier: id,
		DisplayName:     display,
		Organization:    text(colOrganization),
	}
	if rank, err := ParseFormattedNumber(text(colRank)); err == nil {
		entry.Rank = int(rank)
	}
	score, err := ParseDecimal(text(colScore))
	if err != nil {
		score = decimal.Zero
	}
	entry.Score = score
	entry.ConfidenceInterval = ParseCIText(text(colCI), score)
	if votes, err := ParseFormattedNumber(text(colVotes)); err == nil {
		entry.Votes = &votes
	}
	if license := text(colLicense); license != "" {
		entry.License = &license
	}
	return entry, true
}
