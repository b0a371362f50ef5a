package mc

import (
	"github.com/mpmccode/mpmc/pkg/geom"
	"github.com/mpmccode/mpmc/pkg/pairs"
	"github.com/mpmccode/mpmc/pkg/system"
)

// Checkpoint is the state captured before a move so that a rejection can
// put the system back bit for bit. Pair records are restored by value, never
// replaced, so every pointer into the lists stays valid.
type Checkpoint struct {
	Move Move

	// Altered is the molecule added by an insertion, Backup the molecule
	// taken out by a removal. Prev and Next are the slots around either.
	Altered *system.Molecule
	Backup  *system.Molecule
	Prev    int
	Next    int

	Observables system.Observables

	nextID     int
	nextAtomID int
	grown      bool
	splice     *pairs.Splice

	box   *geom.Box
	mols  []molState
	atoms []atomState
	pairs []pairState
}

type molState struct {
	m    *system.Molecule
	com  geom.Vec3
	mass float64
	spin system.Spin
}

type atomState struct {
	a       *system.Atom
	pos     geom.Vec3
	wrapped geom.Vec3
}

type pairState struct {
	p *system.Pair
	v system.Pair
}

func newCheckpoint(s *system.System, mv Move) *Checkpoint {
	return &Checkpoint{
		Move:        mv,
		Prev:        -1,
		Next:        -1,
		Observables: s.Observables,
		nextID:      s.NextID(),
		nextAtomID:  s.NextAtomID(),
	}
}

// saveMolecule records m and every pair record that involves one of its
// atoms.
func (cp *Checkpoint) saveMolecule(s *system.System, m *system.Molecule) {
	cp.saveBody(m)
	for _, p := range pairs.Touching(s, m) {
		cp.pairs = append(cp.pairs, pairState{p, *p})
	}
}

// saveAll records the box, every molecule and every pair.
func (cp *Checkpoint) saveAll(s *system.System) {
	b := *s.Box
	cp.box = &b
	for m := range s.Molecules() {
		cp.saveBody(m)
	}
	for _, a := range s.Atoms() {
		for _, p := range a.Pairs {
			cp.pairs = append(cp.pairs, pairState{p, *p})
		}
	}
}

func (cp *Checkpoint) saveBody(m *system.Molecule) {
	cp.mols = append(cp.mols, molState{m, m.COM, m.Mass, m.Spin})
	for _, a := range m.Atoms {
		cp.atoms = append(cp.atoms, atomState{a, a.Pos, a.Wrapped})
	}
}

// restoreState writes back everything recorded by saveMolecule or saveAll.
func (cp *Checkpoint) restoreState(s *system.System) {
	if cp.box != nil {
		*s.Box = *cp.box
	}
	for _, st := range cp.mols {
		st.m.COM, st.m.Mass, st.m.Spin = st.com, st.mass, st.spin
	}
	for _, st := range cp.atoms {
		st.a.Pos, st.a.Wrapped = st.pos, st.wrapped
	}
	for _, st := range cp.pairs {
		*st.p = st.v
	}
}
