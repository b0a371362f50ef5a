package energy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpmccode/mpmc/pkg/geom"
	"github.com/mpmccode/mpmc/pkg/pairs"
	"github.com/mpmccode/mpmc/pkg/system"
)

func argon(s *system.System, pos geom.Vec3) *system.Molecule {
	m := &system.Molecule{ID: s.NewID(), Type: "ar", Atoms: []*system.Atom{
		{ID: s.NextID(), Type: "Ar", Mass: 39.948, Sigma: 3.4, Epsilon: 120, Pos: pos},
	}}
	m.UpdateCOM()
	s.Append(m)
	return m
}

func dimer(t *testing.T, r float64) *system.System {
	t.Helper()
	s := system.New(system.NVT, geom.Cubic(30))
	argon(s, geom.Vec3{})
	argon(s, geom.Vec3{r, 0, 0})
	(&pairs.Registry{}).RebuildAll(s)
	pairs.Update(s)
	return s
}

func TestLennardJonesMinimum(t *testing.T) {
	rmin := math.Pow(2, 1.0/6) * 3.4
	s := dimer(t, rmin)

	e := LennardJones{}.Energy(s)
	assert.InDelta(t, -120, e, 1e-9)
}

func TestLennardJonesZeroAtSigma(t *testing.T) {
	s := dimer(t, 3.4)
	assert.InDelta(t, 0, LennardJones{}.Energy(s), 1e-9)
}

func TestLennardJonesCutoff(t *testing.T) {
	s := dimer(t, 12)
	assert.Zero(t, LennardJones{Cutoff: 10}.Energy(s))
	assert.Less(t, LennardJones{}.Energy(s), 0.0)
}

func TestLennardJonesCachesCleanPairs(t *testing.T) {
	s := dimer(t, 4)
	lj := LennardJones{}
	e := lj.Energy(s)

	p := s.Head().Atoms[0].Pairs[0]
	require.False(t, p.Dirty)

	// A clean pair is not recomputed even if its cached value is stale.
	p.RDEnergy = 7
	assert.Equal(t, 7.0, lj.Energy(s))

	pairs.FlagAll(s)
	assert.InDelta(t, e, lj.Energy(s), 1e-12)
}

func TestLennardJonesCoincident(t *testing.T) {
	s := dimer(t, 0)
	assert.False(t, Finite(LennardJones{}.Energy(s)))
}

func TestPairAttractiveOnly(t *testing.T) {
	p := &system.Pair{Sigma: 2, Epsilon: 1, AttractiveOnly: true, RImg: 2}
	assert.InDelta(t, -4, Pair(p, 10), 1e-12)

	p.RDExcluded = true
	assert.Zero(t, Pair(p, 10))
}

func TestPairFrozen(t *testing.T) {
	p := &system.Pair{Sigma: 2, Epsilon: 1, RImg: 3, Frozen: true}
	assert.Zero(t, Pair(p, 10))
}

func TestIdeal(t *testing.T) {
	s := dimer(t, 0)
	assert.Zero(t, Ideal{}.Energy(s))
	for _, a := range s.Atoms() {
		for _, p := range a.Pairs {
			assert.False(t, p.Dirty)
		}
	}
}
