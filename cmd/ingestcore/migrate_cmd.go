package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cowrieproc/ingestcore/internal/migrate"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Advance the database schema to the current version (spec.md §4.K)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		m := migrate.New(env.DB, log)
		if err := m.Run(ctx); err != nil {
			return unrecoverableErr(fmt.Errorf("migrate: %w", err))
		}
		log.Info("migrate complete", "target_version", migrate.CurrentVersion)
		return nil
	},
}
