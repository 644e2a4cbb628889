// Package coreenv holds the small set of values the core expects external
// collaborators to inject rather than read directly (spec.md §6
// "Environment"): a database pool, a secret resolver, a clock, a logger,
// and the L3 cache / status document directories.
package coreenv

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
)

// SecretResolver resolves an opaque secret reference (e.g. a vault path or
// env var name chosen by the collaborator) to its value. The core never
// logs the resolved value.
type SecretResolver func(ref string) (string, error)

// Env bundles the externally-injected dependencies threaded through every
// top-level component constructor. Grounded on the teacher's per-component
// Config structs (e.g. telemetry/flow-ingest/internal/server.Config), which
// take a Logger and a Clock rather than reading globals.
type Env struct {
	DB            *pgxpool.Pool
	Logger        *slog.Logger
	Clock         clockwork.Clock
	ResolveSecret SecretResolver
	CacheDir      string // L3 disk cache root
	StatusDir     string // status document root
}

// Validate fills in safe defaults and rejects missing required fields,
// following the Config/Validate idiom used throughout the teacher.
func (e *Env) Validate() error {
	if e.DB == nil {
		return errRequired("DB")
	}
	if e.Logger == nil {
		e.Logger = slog.Default()
	}
	if e.Clock == nil {
		e.Clock = clockwork.NewRealClock()
	}
	if e.ResolveSecret == nil {
		e.ResolveSecret = func(ref string) (string, error) { return ref, nil }
	}
	if e.CacheDir == "" {
		return errRequired("CacheDir")
	}
	if e.StatusDir == "" {
		return errRequired("StatusDir")
	}
	return nil
}

type missingFieldError string

func (m missingFieldError) Error() string { return string(m) + " is required" }

func errRequired(field string) error { return missingFieldError(field) }
