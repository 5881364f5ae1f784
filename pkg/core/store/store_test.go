package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintable/pkg/models"
)

func record(id, run string, at time.Time, choice string) models.DecisionRecord {
	return models.DecisionRecord{
		ID:         id,
		RunID:      run,
		Timestamp:  at,
		Kind:       models.KindBalanceSheet,
		Page:       1,
		Line:       4,
		Cells:      []string{"应收账款", "七、4", "500.00", "400.00"},
		Heuristic:  map[string]int{"current": 2, "previous": 3},
		Model:      map[string]int{"current": 3, "previous": 2},
		Chosen:     map[string]int{"current": 2, "previous": 3},
		Choice:     choice,
		Provenance: models.ProvenanceReconciledDefault,
	}
}

func TestSQLiteDecisionSink(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "decisions.db")
	sink, err := OpenSQLiteDecisionSink(path)
	require.NoError(t, err)
	defer sink.Close()

	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, sink.Write(ctx, record("b", "run-1", t0.Add(time.Second), "model")))
	require.NoError(t, sink.Write(ctx, record("a", "run-1", t0, "heuristic")))
	require.NoError(t, sink.Write(ctx, record("c", "run-2", t0.Add(2*time.Second), "heuristic")))
	// duplicate IDs are ignored
	require.NoError(t, sink.Write(ctx, record("a", "run-1", t0, "heuristic")))

	all, err := sink.Records(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, 3, all[0].Model["current"])

	run1, err := sink.Records(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, run1, 2)

	// reopen keeps data
	require.NoError(t, sink.Close())
	sink, err = OpenSQLiteDecisionSink(path)
	require.NoError(t, err)
	all, err = sink.Records(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestPostgresDecisionSink(t *testing.T) {
	url := os.Getenv("FINTABLE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("FINTABLE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := NewPool(ctx, url)
	require.NoError(t, err)
	defer pool.Close()

	sink, err := NewPostgresDecisionSink(ctx, pool)
	require.NoError(t, err)

	run := "test-" + time.Now().Format("150405.000000")
	require.NoError(t, sink.Write(ctx, record(run+"-1", run, time.Now().UTC(), "heuristic")))
	got, err := sink.Records(ctx, run)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "heuristic", got[0].Choice)
}

func TestPostgresDecisionSinkNilPool(t *testing.T) {
	_, err := NewPostgresDecisionSink(context.Background(), nil)
	assert.Error(t, err)
}
