package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cowrieproc/ingestcore/internal/bulkload"
	"github.com/cowrieproc/ingestcore/internal/deltaload"
	"github.com/cowrieproc/ingestcore/internal/status"
	"github.com/cowrieproc/ingestcore/internal/store"
)

var deltaIngestCmd = &cobra.Command{
	Use:   "delta-ingest <files...>",
	Short: "Resume ingestion of already-seen log files from their last checkpoint (spec.md §4.J)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		pg := store.NewPG(env.DB, log)
		emitter, err := status.New(statusDir, env.Clock)
		if err != nil {
			return fmt.Errorf("create status emitter: %w", err)
		}

		loader, err := bulkload.New(bulkload.Config{
			IngestID:   newIngestID(),
			Phase:      "delta-ingest",
			Committer:  pg,
			DeadLetter: pg,
			Status:     emitter,
			SSHKeys:    pg,
			Passwords:  pg,
			Files:      pg,
			Log:        log,
			Clock:      env.Clock,
		})
		if err != nil {
			return err
		}

		runner, err := deltaload.New(deltaload.Config{
			Loader:      loader,
			Phase:       "delta-ingest",
			Checkpoints: pg,
			Log:         log,
		})
		if err != nil {
			return err
		}

		summary, err := runner.Run(ctx, args)
		if err != nil {
			return transientErr(fmt.Errorf("delta-ingest: %w", err))
		}
		log.Info("delta-ingest complete",
			"files", summary.FilesProcessed,
			"records_processed", summary.RecordsProcessed,
			"records_inserted", summary.RecordsInserted,
			"records_skipped", summary.RecordsSkipped,
			"records_errored", summary.RecordsErrored,
		)
		return nil
	},
}
