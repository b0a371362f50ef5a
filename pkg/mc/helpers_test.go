package mc

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpmccode/mpmc/pkg/energy"
	"github.com/mpmccode/mpmc/pkg/geom"
	"github.com/mpmccode/mpmc/pkg/pairs"
	"github.com/mpmccode/mpmc/pkg/stats"
	"github.com/mpmccode/mpmc/pkg/system"
)

// hydrogen returns a two-site H2 molecule centered on com.
func hydrogen(id int, com geom.Vec3) *system.Molecule {
	m := &system.Molecule{ID: id, Type: "h2", Spin: system.SpinPara, PartFuncG: 0.25, PartFuncU: 0.75}
	for k, off := range []geom.Vec3{{-0.371, 0, 0}, {0.371, 0, 0}} {
		m.Atoms = append(m.Atoms, &system.Atom{
			ID: 2*id + k, Type: "H", Mass: 1.008, Sigma: 2.96, Epsilon: 17.2, Pos: com.Add(off),
		})
	}
	m.UpdateCOM()
	return m
}

func h2Species() *Species {
	return &Species{Name: "h2", Fugacity: 10, Insertable: true, Template: hydrogen(0, geom.Vec3{})}
}

func paramsFor(ens system.Ensemble) Params {
	p := Params{Translate: 0.1, Rotate: 0.1, Adiabatic: 0.05}
	switch ens {
	case system.UVT:
		p.InsertProbability = 0.4
		p.SpinflipProbability = 0.1
	case system.NVT:
		p.SpinflipProbability = 0.1
	case system.NPT:
		p.VolumeProbability = 0.1
		p.VolumeScale = 0.1
	}
	return p
}

// fixture builds a system of n H2 molecules on a loose lattice with its pair
// lists and cached Lennard-Jones energies.
func fixture(t *testing.T, ens system.Ensemble, n int) (*system.System, *Proposer) {
	t.Helper()

	s := system.New(ens, geom.Cubic(20))
	s.Temperature = 77
	s.Pressure = 10
	s.TotalEnergy = 5000
	for k := 0; k < n; k++ {
		com := geom.Vec3{float64(k%3)*5 - 5, float64(k/3%3)*5 - 5, float64(k/9)*5 - 5}
		s.Append(hydrogen(s.NewID(), com))
	}
	s.SetNextAtomID(2*n + 1)

	reg := &pairs.Registry{}
	reg.RebuildAll(s)
	pairs.Update(s)

	p, err := NewProposer(s, paramsFor(ens), reg, []*Species{h2Species()}, rand.New(rand.NewPCG(7, 11)))
	require.NoError(t, err)

	s.Observables.Energy = energy.LennardJones{}.Energy(s)
	s.Observables.N = float64(s.Count())
	s.Observables.Volume = s.Box.Volume
	require.NoError(t, pairs.Verify(s))
	return s, p
}

type pairRec struct {
	rec *system.Pair
	val system.Pair
}

type molRec struct {
	m       *system.Molecule
	id      int
	slot    int
	com     geom.Vec3
	mass    float64
	spin    system.Spin
	pos     []geom.Vec3
	wrapped []geom.Vec3
}

// state is a deep copy of everything a restore must bring back.
type state struct {
	box    geom.Box
	obs    system.Observables
	len    int
	nextID int
	atomID int
	mols   []molRec
	pairs  [][]pairRec
}

func capture(s *system.System) state {
	st := state{box: *s.Box, obs: s.Observables, len: s.Len(), nextID: s.NextID(), atomID: s.NextAtomID()}
	for m := range s.Molecules() {
		mr := molRec{m: m, id: m.ID, slot: m.Slot(), com: m.COM, mass: m.Mass, spin: m.Spin}
		for _, a := range m.Atoms {
			mr.pos = append(mr.pos, a.Pos)
			mr.wrapped = append(mr.wrapped, a.Wrapped)

			var recs []pairRec
			for _, p := range a.Pairs {
				recs = append(recs, pairRec{p, *p})
			}
			st.pairs = append(st.pairs, recs)
		}
		st.mols = append(st.mols, mr)
	}
	return st
}

func requireSameState(t *testing.T, want, got state) {
	t.Helper()

	require.Equal(t, want.box, got.box)
	require.Equal(t, want.obs, got.obs)
	require.Equal(t, want.len, got.len)
	require.Equal(t, want.nextID, got.nextID)
	require.Equal(t, want.atomID, got.atomID)

	require.Len(t, got.mols, len(want.mols))
	for k := range want.mols {
		w, g := want.mols[k], got.mols[k]
		require.Same(t, w.m, g.m)
		require.Equal(t, w.id, g.id)
		require.Equal(t, w.slot, g.slot)
		require.Equal(t, w.com, g.com)
		require.Equal(t, w.mass, g.mass)
		require.Equal(t, w.spin, g.spin)
		require.Equal(t, w.pos, g.pos)
		require.Equal(t, w.wrapped, g.wrapped)
	}

	require.Len(t, got.pairs, len(want.pairs))
	for k := range want.pairs {
		require.Len(t, got.pairs[k], len(want.pairs[k]))
		for j := range want.pairs[k] {
			w, g := want.pairs[k][j], got.pairs[k][j]
			require.Same(t, w.rec, g.rec)
			require.True(t, w.val == g.val, "atom %d pair %d: %+v != %+v", k, j, w.val, g.val)
		}
	}
}

// recorder keeps what a driver reports.
type recorder struct {
	steps     int
	accepted  map[MoveKind]int
	rejected  map[MoveKind]int
	intervals []stats.Snapshot
}

func newRecorder() *recorder {
	return &recorder{accepted: make(map[MoveKind]int), rejected: make(map[MoveKind]int)}
}

func (r *recorder) Step(rank, step int, kind MoveKind, accepted bool, obs system.Observables) {
	r.steps++
	if accepted {
		r.accepted[kind]++
	} else {
		r.rejected[kind]++
	}
}

func (r *recorder) Interval(rank, step int, s *system.System, snap stats.Snapshot) error {
	r.intervals = append(r.intervals, snap)
	return nil
}

func assertFinite(t *testing.T, e float64) {
	t.Helper()
	assert.True(t, energy.Finite(e), "energy %g", e)
}
