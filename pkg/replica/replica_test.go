package replica

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpmccode/mpmc/pkg/energy"
	"github.com/mpmccode/mpmc/pkg/geom"
	"github.com/mpmccode/mpmc/pkg/mc"
	"github.com/mpmccode/mpmc/pkg/stats"
	"github.com/mpmccode/mpmc/pkg/system"
)

type memSink struct {
	mu   sync.Mutex
	runs []uuid.UUID
	aggs []stats.Aggregate
	err  error
}

func (m *memSink) Aggregate(ctx context.Context, run uuid.UUID, agg stats.Aggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	m.aggs = append(m.aggs, agg)
	return m.err
}

// snapSink records the snapshots each replica submits.
type snapSink struct {
	mu    sync.Mutex
	snaps map[int][]stats.Snapshot
}

func (s *snapSink) Step(rank, step int, kind mc.MoveKind, accepted bool, obs system.Observables) {}

func (s *snapSink) Interval(rank, step int, _ *system.System, snap stats.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[step] = append(s.snaps[step], snap)
	return nil
}

func idealGas(seed uint64, steps, corrtime int, obs ...mc.Observer) Builder {
	return func(rank int) (*mc.Driver, error) {
		s := system.New(system.UVT, geom.Cubic(15))
		s.Temperature = 10
		tmpl := &system.Molecule{Type: "x", Atoms: []*system.Atom{{Type: "X", Mass: 1}}}
		return mc.NewDriver(s, energy.Ideal{}, mc.Options{
			Rank:      rank,
			Steps:     steps,
			Corrtime:  corrtime,
			Params:    mc.Params{InsertProbability: 1},
			Species:   []*mc.Species{{Name: "x", Fugacity: 1, Insertable: true, Template: tmpl}},
			Rand:      Rand(seed, rank),
			Observers: obs,
		})
	}
}

func TestRunAggregatesEveryInterval(t *testing.T) {
	sink := &memSink{}
	snaps := &snapSink{snaps: make(map[int][]stats.Snapshot)}
	r := &Runner{ID: uuid.New(), Sinks: []Sink{sink}}

	root, err := r.Run(context.Background(), 3, idealGas(1, 1000, 250, snaps))
	require.NoError(t, err)

	require.Len(t, sink.aggs, 4)
	for k, agg := range sink.aggs {
		assert.Equal(t, 250*(k+1), agg.Step)
		assert.Equal(t, 3, agg.Replicas)
		assert.Equal(t, r.ID, sink.runs[k])

		got := snaps.snaps[agg.Step]
		require.Len(t, got, 3)
		var n float64
		for _, s := range got {
			n += s.Block.N
		}
		assert.InDelta(t, n/3, agg.Mean.N, 1e-12)
	}
	assert.Equal(t, sink.aggs[3], root.Last())
}

func TestRunSingleReplica(t *testing.T) {
	sink := &memSink{}
	root, err := Run(context.Background(), 1, idealGas(2, 100, 30), sink)
	require.NoError(t, err)

	// 30, 60, 90 and the final step.
	require.Len(t, sink.aggs, 4)
	assert.Equal(t, 100, root.Last().Step)
	assert.NotEqual(t, uuid.Nil, sink.runs[0])
}

func TestRunSinkError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Run(context.Background(), 2, idealGas(3, 1000, 10), &memSink{err: boom})
	assert.ErrorIs(t, err, boom)
}

func TestRunBuildError(t *testing.T) {
	_, err := Run(context.Background(), 2, func(rank int) (*mc.Driver, error) {
		return nil, mc.ErrConfig
	})
	assert.ErrorIs(t, err, mc.ErrConfig)

	_, err = Run(context.Background(), 0, idealGas(1, 1, 1))
	assert.ErrorIs(t, err, mc.ErrConfig)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, 2, idealGas(4, 1000, 100))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRandStreamsDiffer(t *testing.T) {
	a, b := Rand(42, 0), Rand(42, 1)
	assert.NotEqual(t, a.Uint64(), b.Uint64())
	assert.Equal(t, Rand(42, 3).Uint64(), Rand(42, 3).Uint64())
}
