package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpmccode/mpmc/pkg/stats"
	"github.com/mpmccode/mpmc/pkg/system"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs", "mpmc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAggregateRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	run := Run{ID: uuid.New(), Ensemble: "uvt", Replicas: 2, Started: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), Config: []byte("steps: 10\n")}
	require.NoError(t, s.Begin(ctx, run))

	aggs := []stats.Aggregate{
		{Step: 20, Replicas: 2, Mean: system.Observables{N: 4.5}, Moves: map[string]stats.Tally{"insert": {Accepted: 1, Rejected: 3}}},
		{Step: 10, Replicas: 2, Mean: system.Observables{Energy: -3.25, N: 4}, Acceptance: 0.5},
	}
	for _, a := range aggs {
		require.NoError(t, s.Aggregate(ctx, run.ID, a))
	}
	// An unrelated run does not leak in.
	require.NoError(t, s.Aggregate(ctx, uuid.New(), stats.Aggregate{Step: 10}))

	got, err := s.Intervals(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 10, got[0].Step)
	assert.Equal(t, -3.25, got[0].Mean.Energy)
	assert.Equal(t, 0.5, got[0].Acceptance)
	assert.Equal(t, 20, got[1].Step)
	assert.Equal(t, stats.Tally{Accepted: 1, Rejected: 3}, got[1].Moves["insert"])

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, "uvt", runs[0].Ensemble)
	assert.True(t, run.Started.Equal(runs[0].Started))
	assert.Equal(t, run.Config, runs[0].Config)
}

func TestAggregateReplacesStep(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	id := uuid.New()

	require.NoError(t, s.Aggregate(ctx, id, stats.Aggregate{Step: 5, Acceptance: 0.1}))
	require.NoError(t, s.Aggregate(ctx, id, stats.Aggregate{Step: 5, Acceptance: 0.2}))

	got, err := s.Intervals(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.2, got[0].Acceptance)
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mpmc.db")
	id := uuid.New()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Aggregate(ctx, id, stats.Aggregate{Step: 1}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Intervals(ctx, id)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestDuplicateRun(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	run := Run{ID: uuid.New(), Ensemble: "nvt", Replicas: 1, Started: time.Now()}

	require.NoError(t, s.Begin(ctx, run))
	assert.Error(t, s.Begin(ctx, run))
}

func TestOpenEmptyPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}
