// Package postgres persists leaderboard entries to Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/arena-leaderboard-sync/internal/leaderboard"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultTable is used when EntryStoreConfig leaves Table empty.
const DefaultTable = "leaderboard_entries"

// maxRowsPerStatement keeps each statement under the 65535 bind parameter limit.
const maxRowsPerStatement = 1000

// columns lists every column written on upsert, model_name first. id is
// generated by Postgres and never written.
var columns = []string{
	"model_name",
	"rank",
	"display_name",
	"organization",
	"score",
	"ci_lower",
	"ci_upper",
	"ci",
	"votes",
	"license",
	"rank_style_control",
	"model_url",
	"fetched_at",
}

// EntryStoreConfig controls the Postgres connection pool used for entries.
type EntryStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// EntryStore upserts leaderboard entries keyed by model_name.
type EntryStore struct {
	pool  pool
	table string
}

// NewEntryStore creates a Postgres-backed EntryStore using the provided config.
func NewEntryStore(ctx context.Context, cfg EntryStoreConfig) (*EntryStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &EntryStore{pool: p, table: table}, nil
}

// NewEntryStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewEntryStoreWithPool(p pool, table string) (*EntryStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &EntryStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *EntryStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *EntryStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the entries table when it does not exist.
func (s *EntryStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	model_name TEXT NOT NULL UNIQUE,
	rank INTEGER NOT NULL,
	display_name TEXT NOT NULL,
	organization TEXT NOT NULL DEFAULT '',
	score NUMERIC NOT NULL,
	ci_lower NUMERIC,
	ci_upper NUMERIC,
	ci TEXT,
	votes BIGINT,
	license TEXT,
	rank_style_control INTEGER,
	model_url TEXT,
	fetched_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create entries table: %w", err)
	}
	return nil
}

// UpsertEntries writes entries in one transaction. Rows are inserted in slice
// order; an existing model_name has every other column replaced. entries must
// already be unique by ModelIdentifier.
func (s *EntryStore) UpsertEntries(ctx context.Context, entries []leaderboard.Entry, fetchedAt time.Time) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("entry store is not configured")
	}
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // no-op after commit
	}()

	for start := 0; start < len(entries); start += maxRowsPerStatement {
		end := min(start+maxRowsPerStatement, len(entries))
		query, args := s.upsertStatement(entries[start:end], fetchedAt)
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert entries: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

func (s *EntryStore) upsertStatement(entries []leaderboard.Entry, fetchedAt time.Time) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", s.table, strings.Join(columns, ", "))

	args := make([]any, 0, len(entries)*len(columns))
	for i, e := range entries {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for c := range columns {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i*len(columns)+c+1)
		}
		b.WriteString(")")
		args = append(args, rowArgs(e, fetchedAt)...)
	}

	b.WriteString(" ON CONFLICT (model_name) DO UPDATE SET ")
	for i, col := range columns[1:] {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s = EXCLUDED.%s", col, col)
	}
	return b.String(), args
}

func rowArgs(e leaderboard.Entry, fetchedAt time.Time) []any {
	var ciLower, ciUpper, ciText, votes, license, rankStyle, modelURL any
	if e.ConfidenceInterval != nil {
		ciLower = e.ConfidenceInterval.Lower
		ciUpper = e.ConfidenceInterval.Upper
		ciText = e.ConfidenceInterval.Display()
	}
	if e.Votes != nil {
		votes = *e.Votes
	}
	if e.License != nil {
		license = *e.License
	}
	if e.RankStyleControl != nil {
		rankStyle = *e.RankStyleControl
	}
	if e.ModelURL != nil {
		modelURL = *e.ModelURL
	}
	return []any{
		e.ModelIdentifier,
		e.Rank,
		e.DisplayName,
		e.Organization,
		e.Score,
		ciLower,
		ciUpper,
		ciText,
		votes,
		license,
		rankStyle,
		modelURL,
		fetchedAt,
	}
}
