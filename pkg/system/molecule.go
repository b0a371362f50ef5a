package system

import (
	"fmt"

	"github.com/mpmccode/mpmc/pkg/geom"
)

// Spin is the two-level nuclear spin state of a molecule.
type Spin int

// SpinNone marks molecules without spin isomers.
const (
	SpinNone Spin = iota
	SpinPara
	SpinOrtho
)

func (s Spin) String() string {
	switch s {
	case SpinPara:
		return "para"
	case SpinOrtho:
		return "ortho"
	default:
		return "none"
	}
}

// ParseSpin parses "para", "ortho" or "" / "none".
func ParseSpin(s string) (Spin, error) {
	switch s {
	case "", "none":
		return SpinNone, nil
	case "para":
		return SpinPara, nil
	case "ortho":
		return SpinOrtho, nil
	}
	return SpinNone, fmt.Errorf("unknown spin state %q", s)
}

// Flip toggles between para and ortho. SpinNone is left unchanged.
func (s Spin) Flip() Spin {
	switch s {
	case SpinPara:
		return SpinOrtho
	case SpinOrtho:
		return SpinPara
	}
	return s
}

// Molecule is a rigid body made of atoms. Its slot and list links are owned
// by the System arena.
type Molecule struct {
	ID        int
	Type      string
	Frozen    bool
	Adiabatic bool

	Mass float64   // Sum of the atom masses
	COM  geom.Vec3 // Center of mass

	Spin      Spin
	PartFuncG float64 // Rotational partition function of the para levels
	PartFuncU float64 // Rotational partition function of the ortho levels

	Atoms []*Atom

	slot int
	prev int
	next int
}

// Slot returns the arena slot of the molecule, or -1 if it is not in a
// System.
func (m *Molecule) Slot() int {
	return m.slot
}

// Clone returns a deep copy of m without its pair records and outside of any
// arena.
func (m *Molecule) Clone() *Molecule {
	c := *m
	c.slot, c.prev, c.next = -1, -1, -1
	c.Atoms = make([]*Atom, len(m.Atoms))
	for k, a := range m.Atoms {
		ca := *a
		ca.Pairs = nil
		c.Atoms[k] = &ca
	}
	return &c
}

// UpdateCOM recomputes the mass and the center of mass from the atom
// positions. A massless molecule uses its geometric center.
func (m *Molecule) UpdateCOM() {
	var (
		com  geom.Vec3
		mTot float64
	)

	for _, a := range m.Atoms {
		for k := 0; k < 3; k++ {
			com[k] += a.Pos[k] * a.Mass
		}
		mTot += a.Mass
	}

	if mTot == 0 {
		for _, a := range m.Atoms {
			com = com.Add(a.Pos)
		}
		mTot = float64(len(m.Atoms))
		m.Mass = 0
	} else {
		m.Mass = mTot
	}

	for k := 0; k < 3; k++ {
		com[k] /= mTot
	}
	m.COM = com
}

// Translate moves every atom and the center of mass by d.
func (m *Molecule) Translate(d geom.Vec3) {
	m.COM = m.COM.Add(d)
	for _, a := range m.Atoms {
		a.Pos = a.Pos.Add(d)
	}
}

// Rotate applies r to every atom about the center of mass.
func (m *Molecule) Rotate(r geom.Rotation) {
	for _, a := range m.Atoms {
		a.Pos = r.Apply(a.Pos.Sub(m.COM)).Add(m.COM)
	}
}

// Wrap stores in every atom the image of its position that keeps the
// molecule whole with its center of mass inside the unit cell.
func (m *Molecule) Wrap(b *geom.Box) {
	shift := b.Wrap(m.COM).Sub(m.COM)
	for _, a := range m.Atoms {
		a.Wrapped = a.Pos.Add(shift)
	}
}
