package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cowrieproc/ingestcore/internal/snapshot"
	"github.com/cowrieproc/ingestcore/internal/store"
)

var backfillSnapshotsCmd = &cobra.Command{
	Use:   "backfill-snapshots",
	Short: "Seal snapshot columns on sessions whose enrichment has landed (spec.md §4.L)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		pg := store.NewPG(env.DB, log)
		builder, err := snapshot.New(snapshot.Config{Sessions: pg, Inventory: pg, Log: log, Clock: env.Clock})
		if err != nil {
			return err
		}

		result, err := builder.RunToCompletion(ctx)
		if err != nil {
			return transientErr(fmt.Errorf("backfill-snapshots: %w", err))
		}
		log.Info("backfill-snapshots complete", "sealed", result.Sealed, "missed", result.Missed)
		return nil
	},
}
