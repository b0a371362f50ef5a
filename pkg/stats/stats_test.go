package stats

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpmccode/mpmc/pkg/system"
)

func TestTallyRate(t *testing.T) {
	assert.Zero(t, Tally{}.Rate())
	assert.InDelta(t, 0.25, Tally{Accepted: 1, Rejected: 3}.Rate(), 1e-15)
}

func TestNodeSnapshot(t *testing.T) {
	n := NewNode()
	n.Accept("displace")
	n.Accept("displace")
	n.Reject("insert")
	n.Singular()

	n.Track(system.Observables{Energy: 1, N: 2})
	n.Track(system.Observables{Energy: 3, N: 4})
	s1 := n.Snapshot(2, system.Observables{Energy: 3, N: 4})

	assert.Equal(t, 2, s1.Step)
	assert.InDelta(t, 2, s1.Block.Energy, 1e-15)
	assert.InDelta(t, 2, s1.Mean.Energy, 1e-15)
	assert.InDelta(t, 3, s1.Mean.N, 1e-15)
	assert.Zero(t, s1.StdErr.Energy)
	assert.Equal(t, Tally{Accepted: 2}, s1.Moves["displace"])
	assert.Equal(t, Tally{Rejected: 1}, s1.Moves["insert"])
	assert.InDelta(t, 2.0/3, s1.Acceptance, 1e-15)
	assert.Equal(t, 1, s1.Singular)

	n.Track(system.Observables{Energy: 6})
	s2 := n.Snapshot(3, system.Observables{Energy: 6})

	assert.InDelta(t, 6, s2.Block.Energy, 1e-15)
	assert.InDelta(t, 10.0/3, s2.Mean.Energy, 1e-15)
	// Block means 2 and 6: sd = 2√2, stderr = 2.
	assert.InDelta(t, 2, s2.StdErr.Energy, 1e-12)
}

func TestSnapshotDoesNotAlias(t *testing.T) {
	n := NewNode()
	n.Accept("displace")
	s := n.Snapshot(1, system.Observables{})
	n.Accept("displace")

	assert.Equal(t, 1, s.Moves["displace"].Accepted)
}

func TestRootAdd(t *testing.T) {
	var r Root

	agg, err := r.Add([]Snapshot{
		{Step: 10, Block: system.Observables{N: 2}, Moves: map[string]Tally{"insert": {1, 1}}},
		{Step: 10, Block: system.Observables{N: 4}, Moves: map[string]Tally{"insert": {0, 2}}, Singular: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, agg.Replicas)
	assert.InDelta(t, 3, agg.Mean.N, 1e-15)
	assert.InDelta(t, 1.4142135623730951, agg.Spread.N, 1e-12)
	assert.InDelta(t, 3, agg.Running.N, 1e-15)
	assert.Equal(t, Tally{1, 3}, agg.Moves["insert"])
	assert.InDelta(t, 0.25, agg.Acceptance, 1e-15)
	assert.Equal(t, 3, agg.Singular)

	agg, err = r.Add([]Snapshot{{Step: 20, Block: system.Observables{N: 5}}, {Step: 20, Block: system.Observables{N: 5}}})
	require.NoError(t, err)
	assert.InDelta(t, 4, agg.Running.N, 1e-15)
	assert.InDelta(t, 1, agg.RunningErr.N, 1e-12)
	assert.Equal(t, agg, r.Last())
}

func TestRootAddErrors(t *testing.T) {
	var r Root
	_, err := r.Add(nil)
	assert.Error(t, err)

	_, err = r.Add([]Snapshot{{Step: 1}, {Step: 2}})
	assert.Error(t, err)
}

func TestRootWrite(t *testing.T) {
	var r Root
	_, err := r.Add([]Snapshot{{Step: 5, Block: system.Observables{Energy: -12.5}, Moves: map[string]Tally{"displace": {3, 1}}}})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.Write(&buf))
	out := buf.String()
	assert.Contains(t, out, "# step 5, 1 replicas")
	assert.Contains(t, out, "energy       -12.5 +/- 0")
	assert.Contains(t, out, "displace     3/4 accepted (0.7500)")
}
