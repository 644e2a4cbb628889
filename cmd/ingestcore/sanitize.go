package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cowrieproc/ingestcore/internal/store"
	"github.com/cowrieproc/ingestcore/internal/sweep"
)

var (
	sanitizeDryRun  bool
	sanitizeAfterID int64
)

var sanitizeCmd = &cobra.Command{
	Use:   "sanitize",
	Short: "Sweep historical raw_events rows for unsanitized payloads (spec.md §4.M)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		pg := store.NewPG(env.DB, log)
		s, err := sweep.New(sweep.Config{Repo: pg, DryRun: sanitizeDryRun, Log: log})
		if err != nil {
			return err
		}

		report, err := s.Run(ctx, sanitizeAfterID)
		if err != nil {
			return transientErr(fmt.Errorf("sanitize: %w", err))
		}
		log.Info("sanitize complete",
			"scanned", report.RowsScanned,
			"matched", report.RowsMatched,
			"cleaned", report.RowsCleaned,
			"last_id", report.LastID,
			"dry_run", sanitizeDryRun,
		)
		return nil
	},
}

func init() {
	sanitizeCmd.Flags().BoolVar(&sanitizeDryRun, "dry-run", false, "Report matching rows without rewriting them")
	sanitizeCmd.Flags().Int64Var(&sanitizeAfterID, "after-id", 0, "Resume scanning after this raw_events id (for an interrupted prior run)")
}
