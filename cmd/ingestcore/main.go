// Command ingestcore is a thin CLI front-end over the ingestcore packages
// (spec.md §6 "CLI surface (thin, owned by collaborators)"). All real logic
// lives in internal/; this binary only parses flags, wires dependencies,
// and maps results to exit codes.
//
// Grounded on controlplane/internet-latency-collector/cmd/collector's
// cobra root+subcommand shape (persistent flags on the root, PersistentPreRun
// wiring shared clients once) and telemetry/flow-ingest/cmd/server's
// lmittmann/tint slog handler wiring.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/cowrieproc/ingestcore/internal/coreenv"
)

// Exit codes (spec.md §6 "Exit codes: 0 success; 1 user error; 2 transient
// error; 3 unrecoverable data error").
const (
	exitOK            = 0
	exitUserError     = 1
	exitTransient     = 2
	exitUnrecoverable = 3
)

var (
	dsn         string
	logLevel    string
	cacheDir    string
	statusDir   string
	metricsAddr string

	env *coreenv.Env
	log *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ingestcore",
	Short: "Cowrie honeypot log ingestion, enrichment, and schema evolution",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log = newLogger(logLevel)

		if dsn == "" {
			return fmt.Errorf("--db-dsn (or INGESTCORE_DB_DSN) is required")
		}
		pool, err := pgxpool.New(cmd.Context(), dsn)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}

		env = &coreenv.Env{
			DB:        pool,
			Logger:    log,
			Clock:     clockwork.NewRealClock(),
			CacheDir:  cacheDir,
			StatusDir: statusDir,
		}
		if err := env.Validate(); err != nil {
			return fmt.Errorf("invalid environment: %w", err)
		}

		if metricsAddr != "" {
			go serveMetrics(metricsAddr, log)
		}
		return nil
	},
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: lvl, TimeFormat: time.Kitchen}))
}

func serveMetrics(addr string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server stopped", "error", err)
	}
}

// signalContext returns a context cancelled on SIGINT/SIGTERM, matching the
// teacher's collector/controller entrypoints.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newIngestID() string { return uuid.NewString() }

func init() {
	rootCmd.PersistentFlags().StringVar(&dsn, "db-dsn", os.Getenv("INGESTCORE_DB_DSN"), "Postgres connection string (env: INGESTCORE_DB_DSN)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "/var/lib/ingestcore/cache", "L3 enrichment cache root directory")
	rootCmd.PersistentFlags().StringVar(&statusDir, "status-dir", "/var/lib/ingestcore/status", "Status document output directory")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Address to serve Prometheus metrics on (empty disables)")

	rootCmd.AddCommand(bulkIngestCmd)
	rootCmd.AddCommand(deltaIngestCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(enrichRefreshCmd)
	rootCmd.AddCommand(sanitizeCmd)
	rootCmd.AddCommand(backfillSnapshotsCmd)
	rootCmd.AddCommand(checkHealthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a returned error to one of the four exit codes spec.md
// §6 names. Commands that know their failure class wrap it in *cliError;
// anything else is treated as a plain user error (bad args, usage).
func exitCodeFor(err error) int {
	var ce *cliError
	if ok := asCliError(err, &ce); ok {
		return ce.code
	}
	return exitUserError
}

// cliError attaches one of the spec.md §6 exit codes to an error without
// introducing a parallel exception hierarchy (spec.md §7 "convert error
// paths into explicit result types").
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }
func (e *cliError) Unwrap() error { return e.err }

func transientErr(err error) error     { return &cliError{code: exitTransient, err: err} }
func unrecoverableErr(err error) error { return &cliError{code: exitUnrecoverable, err: err} }

func asCliError(err error, target **cliError) bool {
	for err != nil {
		if ce, ok := err.(*cliError); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
