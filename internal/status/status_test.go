package status

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestEmitter_WritesPhaseAndAggregate(t *testing.T) {
	dir := t.TempDir()
	e, err := New(dir, clockwork.NewFakeClock())
	require.NoError(t, err)

	require.NoError(t, e.Emit(Document{Phase: "bulk_ingest", IngestID: "run-1", RecordsProcessed: 10, DeadLetterTotal: 1}))
	require.NoError(t, e.Emit(Document{Phase: "enrichment", IngestID: "run-1", RecordsProcessed: 5, DeadLetterTotal: 0}))

	var doc Document
	raw, err := os.ReadFile(filepath.Join(dir, "bulk_ingest.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Equal(t, int64(10), doc.RecordsProcessed)

	var agg Aggregate
	raw, err = os.ReadFile(filepath.Join(dir, "status.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &agg))
	require.Len(t, agg.Phases, 2)
	require.Equal(t, int64(1), agg.DeadLetter.Total)
}

func TestNew_RejectsEmptyDir(t *testing.T) {
	_, err := New("", nil)
	require.Error(t, err)
}
