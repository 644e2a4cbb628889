package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cowrieproc/ingestcore/internal/migrate"
	"github.com/cowrieproc/ingestcore/internal/store"
)

var checkHealthCmd = &cobra.Command{
	Use:   "check-health",
	Short: "Verify database connectivity and schema version (spec.md §7 \"Schema not at expected version\")",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		if err := env.DB.Ping(ctx); err != nil {
			return transientErr(fmt.Errorf("database unreachable: %w", err))
		}

		m := migrate.New(env.DB, log)
		current, target, err := m.CheckVersion(ctx)
		if err != nil {
			return transientErr(fmt.Errorf("check schema version: %w", err))
		}
		if current != target {
			return unrecoverableErr(fmt.Errorf("schema at version %d, expected %d: run `ingestcore migrate`", current, target))
		}

		pg := store.NewPG(env.DB, log)
		dlqCounts, err := pg.CountByReason(ctx)
		if err != nil {
			return transientErr(fmt.Errorf("count dead-letter rows: %w", err))
		}
		var dlqTotal int64
		for _, n := range dlqCounts {
			dlqTotal += n
		}

		log.Info("check-health ok", "schema_version", current, "dead_letter_total", dlqTotal)
		return nil
	},
}
