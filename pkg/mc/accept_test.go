package mc

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpmccode/mpmc/pkg/geom"
	"github.com/mpmccode/mpmc/pkg/system"
)

func TestDispatchRejectsUnsupported(t *testing.T) {
	tests := []struct {
		ens system.Ensemble
		p   Params
	}{
		{system.NVT, Params{InsertProbability: 0.1}},
		{system.NVT, Params{VolumeProbability: 0.1, VolumeScale: 0.1}},
		{system.NPT, Params{InsertProbability: 0.1}},
		{system.NPT, Params{SpinflipProbability: 0.1}},
		{system.NVE, Params{InsertProbability: 0.1}},
		{system.NVE, Params{SpinflipProbability: 0.1}},
		{system.NVE, Params{VolumeProbability: 0.1, VolumeScale: 0.1}},
		{system.UVT, Params{VolumeProbability: 0.1, VolumeScale: 0.1}},
		{system.Ensemble(0), Params{}},
		{system.UVT, Params{InsertProbability: 0.8, SpinflipProbability: 0.4}},
		{system.UVT, Params{InsertProbability: -0.1}},
		{system.NPT, Params{VolumeProbability: 0.1}},
		{system.UVT, Params{Cavity: true}},
	}

	for _, tt := range tests {
		_, err := NewDispatch(tt.ens, tt.p)
		assert.ErrorIs(t, err, ErrConfig, "%v %+v", tt.ens, tt.p)
	}
}

func TestDispatchChoose(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))

	d, err := NewDispatch(system.NVE, Params{})
	require.NoError(t, err)
	for k := 0; k < 100; k++ {
		assert.Equal(t, KindDisplace, d.Choose(r))
	}
	assert.True(t, d.Allowed(KindAdiabatic))
	assert.False(t, d.Allowed(KindInsert))

	d, err = NewDispatch(system.UVT, Params{InsertProbability: 0.5, SpinflipProbability: 0.2})
	require.NoError(t, err)
	counts := make(map[MoveKind]int)
	const n = 100000
	for k := 0; k < n; k++ {
		counts[d.Choose(r)]++
	}
	assert.InDelta(t, 0.25, float64(counts[KindInsert])/n, 0.01)
	assert.InDelta(t, 0.25, float64(counts[KindRemove])/n, 0.01)
	assert.InDelta(t, 0.2, float64(counts[KindSpinflip])/n, 0.01)
	assert.InDelta(t, 0.3, float64(counts[KindDisplace])/n, 0.01)
	assert.Zero(t, counts[KindVolume])
}

func TestWeightNonFinite(t *testing.T) {
	s, p := fixture(t, system.NVT, 2)
	ev := NewEvaluator(p)
	cp := &Checkpoint{Move: Displace{Mol: s.Head()}}

	for _, e := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		w, err := ev.Weight(s, cp, 0, e)
		require.NoError(t, err)
		assert.Zero(t, w)
	}
}

func TestWeightUnsupported(t *testing.T) {
	tests := []struct {
		ens system.Ensemble
		mv  func(s *system.System, p *Proposer) Move
	}{
		{system.NVT, func(s *system.System, p *Proposer) Move { return VolumeChange{} }},
		{system.NVT, func(s *system.System, p *Proposer) Move { return Insert{Species: p.Species("h2")} }},
		{system.NPT, func(s *system.System, p *Proposer) Move { return Remove{Mol: s.Head()} }},
		{system.NPT, func(s *system.System, p *Proposer) Move { return Spinflip{Mol: s.Head()} }},
		{system.NVE, func(s *system.System, p *Proposer) Move { return Spinflip{Mol: s.Head()} }},
	}

	for _, tt := range tests {
		s, p := fixture(t, tt.ens, 2)
		mv := tt.mv(s, p)
		_, err := NewEvaluator(p).Weight(s, &Checkpoint{Move: mv}, 0, 0)
		assert.ErrorIs(t, err, ErrInvariant, "%v %s", tt.ens, mv.Kind())
	}

	s, p := fixture(t, system.NVT, 2)
	s.Ensemble = system.Ensemble(9)
	_, err := NewEvaluator(p).Weight(s, &Checkpoint{Move: Displace{Mol: s.Head()}}, 0, 0)
	assert.ErrorIs(t, err, ErrInvariant)
}

func TestWeightBoltzmann(t *testing.T) {
	s, p := fixture(t, system.NVT, 2)
	ev := NewEvaluator(p)

	w, err := ev.Weight(s, &Checkpoint{Move: Displace{Mol: s.Head()}}, -10, -10+s.Temperature*math.Ln2)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, w, 1e-12)

	w, err = ev.Weight(s, &Checkpoint{Move: Adiabatic{Mol: s.Head()}}, 0, -100)
	require.NoError(t, err)
	assert.Greater(t, w, 1.0)
}

func TestWeightMicrocanonical(t *testing.T) {
	s, p := fixture(t, system.NVE, 2)
	ev := NewEvaluator(p)
	cp := &Checkpoint{Move: Displace{Mol: s.Head()}}
	s.TotalEnergy = 100

	w, err := ev.Weight(s, cp, 0, 50)
	require.NoError(t, err)
	assert.InDelta(t, math.Pow(0.5, 3), w, 1e-12) // 3N/2 with N = 2

	w, err = ev.Weight(s, cp, 0, 150)
	require.NoError(t, err)
	assert.Zero(t, w)
}

func TestWeightInsertRemove(t *testing.T) {
	s, p := fixture(t, system.UVT, 3)
	ev := NewEvaluator(p)
	sp := p.Species("h2")
	c := sp.Fugacity * ATM2REDUCED
	v := s.Box.Volume
	temp := s.Temperature

	w, err := ev.Weight(s, &Checkpoint{Move: Insert{Species: sp}}, 0, -temp)
	require.NoError(t, err)
	assert.InDelta(t, v*c/(temp*3)*math.E, w, 1e-9)

	w, err = ev.Weight(s, &Checkpoint{Move: Remove{Mol: s.Head()}}, 0, temp)
	require.NoError(t, err)
	assert.InDelta(t, temp*4/(v*c)/math.E, w, 1e-12)
}

func TestWeightCavityBias(t *testing.T) {
	s, _ := fixture(t, system.UVT, 1)
	params := paramsFor(system.UVT)
	params.Cavity = true
	params.CavityGrid = 4
	p, err := NewProposer(s, params, nil, []*Species{h2Species()}, rand.New(rand.NewPCG(1, 1)))
	require.NoError(t, err)

	p.cavitySum, p.cavityN = 0.5, 1
	ev := NewEvaluator(p)
	sp := p.Species("h2")

	plain, err := ev.Weight(s, &Checkpoint{Move: Insert{Species: sp}}, 0, 0)
	require.NoError(t, err)
	biased, err := ev.Weight(s, &Checkpoint{Move: Insert{Species: sp, Biased: true}}, 0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.5*plain, biased, 1e-12)

	plain, err = ev.Weight(s, &Checkpoint{Move: Remove{Mol: s.Head()}}, 0, 0)
	require.NoError(t, err)
	biased, err = ev.Weight(s, &Checkpoint{Move: Remove{Mol: s.Head(), Biased: true}}, 0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 2*plain, biased, 1e-12)
}

func TestWeightVolume(t *testing.T) {
	s, p := fixture(t, system.NPT, 2)
	ev := NewEvaluator(p)

	cp, err := p.Apply(s, VolumeChange{Delta: 0.1})
	require.NoError(t, err)

	vOld, vNew := cp.box.Volume, s.Box.Volume
	pr := s.Pressure * ATM2REDUCED
	want := math.Exp(-(5 + pr*(vNew-vOld) - 3*s.Temperature*math.Log(vNew/vOld)) / s.Temperature)

	w, err := ev.Weight(s, cp, 0, 5)
	require.NoError(t, err)
	assert.InDelta(t, want, w, 1e-12)
}

func TestWeightSpinflip(t *testing.T) {
	s, p := fixture(t, system.UVT, 1)
	ev := NewEvaluator(p)
	m := s.Head()

	m.Spin = system.SpinOrtho
	w, err := ev.Weight(s, &Checkpoint{Move: Spinflip{Mol: m}}, 0, 1e6)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, w, 1e-15)

	m.Spin = system.SpinPara
	w, err = ev.Weight(s, &Checkpoint{Move: Spinflip{Mol: m}}, 0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, w, 1e-15)
}

func TestProposeRanges(t *testing.T) {
	s, p := fixture(t, system.NVT, 3)
	p.dispatch.p.SpinflipProbability = 0

	for k := 0; k < 200; k++ {
		mv, err := p.Propose(s)
		require.NoError(t, err)
		d, ok := mv.(Displace)
		require.True(t, ok)
		for c := 0; c < 3; c++ {
			assert.LessOrEqual(t, math.Abs(d.Trans[c]), 0.1*s.Box.Cutoff)
		}
		// Rotations with scale 0.1 keep the polar angle within 0.1·π/2.
		assert.GreaterOrEqual(t, d.Rot[2][2], math.Cos(0.1*math.Pi/2)-1e-12)
	}
}

func TestProposeInsertInsideCell(t *testing.T) {
	s, p := fixture(t, system.UVT, 1)
	for k := 0; k < 200; k++ {
		ins := p.insert(s)
		f := s.Box.Frac(ins.COM)
		for c := 0; c < 3; c++ {
			assert.GreaterOrEqual(t, f[c], -0.5)
			assert.LessOrEqual(t, f[c], 0.5)
		}
		assert.False(t, ins.Biased)
	}
}

func TestProposeCavityInsert(t *testing.T) {
	s, _ := fixture(t, system.UVT, 1)
	params := paramsFor(system.UVT)
	params.Cavity = true
	params.CavityGrid = 2
	p, err := NewProposer(s, params, nil, []*Species{h2Species()}, rand.New(rand.NewPCG(1, 1)))
	require.NoError(t, err)

	p.Grid().Update(s)
	ins := p.insert(s)
	assert.True(t, ins.Biased)
	// Voxel centers sit at ±L/4.
	for c := 0; c < 3; c++ {
		assert.InDelta(t, 5, math.Abs(ins.COM[c]), 1e-12)
	}
	// The molecule sits in the (-,-,-) voxel.
	assert.NotEqual(t, geom.Vec3{-5, -5, -5}, ins.COM)
}
