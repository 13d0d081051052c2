package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/arena-leaderboard-sync/internal/extract"
	"github.com/JakeFAU/arena-leaderboard-sync/internal/hash/sha256"
	"github.com/JakeFAU/arena-leaderboard-sync/internal/merge"
)

type extractOptions struct {
	mode            string
	sentinel        string
	leaderboardType string
}

// newExtractCmd parses a saved page and prints the normalized snapshot. It is
// used to check extraction against upstream markup changes offline.
func newExtractCmd() *cobra.Command {
	opts := extractOptions{}
	cmd := &cobra.Command{
		Use:   "extract <file>",
		Short: "Extract the leaderboard from a saved page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.mode, "mode", string(extract.ModeAuto), "extraction mode: auto, script, or table")
	cmd.Flags().StringVar(&opts.sentinel, "sentinel", extract.DefaultSentinel, "substring that marks the payload script")
	cmd.Flags().StringVar(&opts.leaderboardType, "type", extract.DefaultLeaderboardType, "leaderboard type to select")
	return cmd
}

func runExtract(cmd *cobra.Command, path string, opts extractOptions) error {
	raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied file.
	if err != nil {
		return fmt.Errorf("read page: %w", err)
	}
	ex := extract.New(extract.Config{
		Sentinel:        opts.sentinel,
		LeaderboardType: opts.leaderboardType,
		Mode:            extract.Mode(opts.mode),
	})
	snap, err := ex.Extract(string(raw))
	if err != nil {
		return fmt.Errorf("extract leaderboard: %w", err)
	}
	snap.Entries = merge.Dedupe(snap.Entries)
	snap.RawContentHash = sha256.New().Hash(raw)
	snap.FetchedAt = time.Now().UTC()

	out, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(out)); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}
