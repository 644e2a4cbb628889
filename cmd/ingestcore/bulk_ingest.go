package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cowrieproc/ingestcore/internal/bulkload"
	"github.com/cowrieproc/ingestcore/internal/status"
	"github.com/cowrieproc/ingestcore/internal/store"
)

var bulkIngestCmd = &cobra.Command{
	Use:   "bulk-ingest <files...>",
	Short: "Ingest a batch of Cowrie log files from the start (spec.md §4.I)",
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
			Phase:      "bulk-ingest",
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

		sources := make([]bulkload.Source, len(args))
		for i, path := range args {
			sources[i] = bulkload.Source{Path: path, StartOffset: 0}
		}

		summary, err := loader.Run(ctx, sources)
		if err != nil {
			return transientErr(fmt.Errorf("bulk-ingest: %w", err))
		}
		log.Info("bulk-ingest complete",
			"files", summary.FilesProcessed,
			"records_processed", summary.RecordsProcessed,
			"records_inserted", summary.RecordsInserted,
			"records_skipped", summary.RecordsSkipped,
			"records_errored", summary.RecordsErrored,
		)
		return nil
	},
}
