package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExitCodeFor_MapsWrappedCliError(t *testing.T) {
	base := errors.New("db down")
	wrapped := fmt.Errorf("bulk-ingest: %w", transientErr(base))
	require.Equal(t, exitTransient, exitCodeFor(wrapped))

	wrapped = fmt.Errorf("migrate: %w", unrecoverableErr(base))
	require.Equal(t, exitUnrecoverable, exitCodeFor(wrapped))

	require.Equal(t, exitUserError, exitCodeFor(errors.New("bad flag")))
}

func TestNewLogger_FallsBackToInfoOnBadLevel(t *testing.T) {
	// Should not panic on an unparseable level string.
	log := newLogger("not-a-level")
	require.NotNil(t, log)
}
