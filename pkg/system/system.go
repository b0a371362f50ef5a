package system

import (
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/mpmccode/mpmc/pkg/geom"
)

// Ensemble is the statistical ensemble sampled by a run.
type Ensemble int

// Here are the supported ensembles. UVT is the grand-canonical ensemble, NVT
// the canonical one, NPT the isothermal-isobaric one and NVE the
// microcanonical one.
const (
	UVT Ensemble = iota + 1
	NVT
	NPT
	NVE
)

func (e Ensemble) String() string {
	switch e {
	case UVT:
		return "uvt"
	case NVT:
		return "nvt"
	case NPT:
		return "npt"
	case NVE:
		return "nve"
	}
	return fmt.Sprintf("ensemble(%d)", int(e))
}

// ParseEnsemble parses the name of an ensemble.
func ParseEnsemble(s string) (Ensemble, error) {
	switch strings.ToLower(s) {
	case "uvt", "gcmc":
		return UVT, nil
	case "nvt":
		return NVT, nil
	case "npt":
		return NPT, nil
	case "nve":
		return NVE, nil
	}
	return 0, fmt.Errorf("unsupported ensemble %q", s)
}

// Observables are the instantaneous thermodynamic quantities of a replica.
type Observables struct {
	Energy     float64 `json:"energy"`
	Kinetic    float64 `json:"kinetic"`
	N          float64 `json:"n"`
	Volume     float64 `json:"volume"`
	SpinRatio  float64 `json:"spin_ratio"`
	CavityOpen float64 `json:"cavity_open"`
}

// ErrSlot is returned when an arena operation is given a molecule whose slot
// does not match the arena state.
var ErrSlot = errors.New("molecule slot mismatch")

// System is the state of one replica: the thermodynamic parameters, the box
// and the ordered sequence of molecules. Molecules live in an index-stable
// arena; their order is a doubly linked list of slot indices.
type System struct {
	Ensemble    Ensemble
	Temperature float64 // K
	Pressure    float64 // atm
	TotalEnergy float64 // K, NVE only

	Box         *geom.Box
	Observables Observables

	mols   []*Molecule
	free   []int
	head   int
	tail   int
	count  int
	nextID int
	atomID int
}

// New returns an empty system in the box b.
func New(ens Ensemble, b *geom.Box) *System {
	return &System{Ensemble: ens, Box: b, head: -1, tail: -1}
}

// Len returns the number of molecules in the sequence.
func (s *System) Len() int {
	return s.count
}

// NewID returns a fresh molecule identifier.
func (s *System) NewID() int {
	s.nextID++
	return s.nextID
}

// NextID returns the identifier counter so that it can be restored.
func (s *System) NextID() int {
	return s.nextID
}

// SetNextID restores the identifier counter.
func (s *System) SetNextID(n int) {
	s.nextID = n
}

// NewAtomID returns a fresh atom identifier.
func (s *System) NewAtomID() int {
	s.atomID++
	return s.atomID
}

// NextAtomID returns the atom identifier counter so that it can be restored.
func (s *System) NextAtomID() int {
	return s.atomID
}

// SetNextAtomID restores the atom identifier counter.
func (s *System) SetNextAtomID(n int) {
	s.atomID = n
}

// Head returns the first molecule of the sequence, or nil.
func (s *System) Head() *Molecule {
	return s.At(s.head)
}

// Tail returns the last molecule of the sequence, or nil.
func (s *System) Tail() *Molecule {
	return s.At(s.tail)
}

// At returns the molecule held in slot, or nil.
func (s *System) At(slot int) *Molecule {
	if slot < 0 || slot >= len(s.mols) {
		return nil
	}
	return s.mols[slot]
}

// Next returns the successor of m, or nil.
func (s *System) Next(m *Molecule) *Molecule {
	return s.At(m.next)
}

// Neighbors returns the slots of the predecessor and of the successor of m
// (-1 at either end).
func (s *System) Neighbors(m *Molecule) (prev, next int) {
	return m.prev, m.next
}

// Molecules iterates over the sequence in order.
func (s *System) Molecules() iter.Seq[*Molecule] {
	return func(yield func(*Molecule) bool) {
		for slot := s.head; slot >= 0; slot = s.mols[slot].next {
			if !yield(s.mols[slot]) {
				return
			}
		}
	}
}

// Atoms iterates over every atom in the global order together with its
// molecule.
func (s *System) Atoms() iter.Seq2[*Molecule, *Atom] {
	return func(yield func(*Molecule, *Atom) bool) {
		for m := range s.Molecules() {
			for _, a := range m.Atoms {
				if !yield(m, a) {
					return
				}
			}
		}
	}
}

// NumAtoms returns the number of atoms in the system.
func (s *System) NumAtoms() int {
	n := 0
	for m := range s.Molecules() {
		n += len(m.Atoms)
	}
	return n
}

// Movable returns the molecules that are not frozen, in order.
func (s *System) Movable() []*Molecule {
	var out []*Molecule
	for m := range s.Molecules() {
		if !m.Frozen {
			out = append(out, m)
		}
	}
	return out
}

// Append links m at the end of the sequence. It reports whether the arena
// had to grow to host it.
func (s *System) Append(m *Molecule) (grown bool) {
	var slot int
	if n := len(s.free); n > 0 {
		slot = s.free[n-1]
		s.free = s.free[:n-1]
		s.mols[slot] = m
	} else {
		slot = len(s.mols)
		s.mols = append(s.mols, m)
		grown = true
	}

	m.slot, m.prev, m.next = slot, s.tail, -1
	if s.tail >= 0 {
		s.mols[s.tail].next = slot
	} else {
		s.head = slot
	}
	s.tail = slot
	s.count++
	return grown
}

// Unlink takes m out of the sequence and frees its slot. The molecule keeps
// its slot number so that Relink can put it back.
func (s *System) Unlink(m *Molecule) (prev, next int, err error) {
	if s.At(m.slot) != m {
		return -1, -1, fmt.Errorf("Unlink: %w", ErrSlot)
	}
	prev, next = m.prev, m.next

	if prev >= 0 {
		s.mols[prev].next = next
	} else {
		s.head = next
	}
	if next >= 0 {
		s.mols[next].prev = prev
	} else {
		s.tail = prev
	}

	s.mols[m.slot] = nil
	s.free = append(s.free, m.slot)
	s.count--
	return prev, next, nil
}

// Relink is the inverse of the last Unlink: it puts m back in its former slot
// between prev and next.
func (s *System) Relink(m *Molecule, prev, next int) error {
	n := len(s.free)
	if n == 0 || s.free[n-1] != m.slot {
		return fmt.Errorf("Relink: %w", ErrSlot)
	}
	s.free = s.free[:n-1]
	s.mols[m.slot] = m

	m.prev, m.next = prev, next
	if prev >= 0 {
		s.mols[prev].next = m.slot
	} else {
		s.head = m.slot
	}
	if next >= 0 {
		s.mols[next].prev = m.slot
	} else {
		s.tail = m.slot
	}
	s.count++
	return nil
}

// Unappend is the inverse of Append: it unlinks the tail molecule m and
// returns its slot to the exact arena state it was taken from.
func (s *System) Unappend(m *Molecule, grown bool) error {
	if s.tail != m.slot {
		return fmt.Errorf("Unappend: %w", ErrSlot)
	}
	if _, _, err := s.Unlink(m); err != nil {
		return err
	}
	if grown {
		s.free = s.free[:len(s.free)-1]
		s.mols = s.mols[:m.slot]
	}
	m.slot, m.prev, m.next = -1, -1, -1
	return nil
}

// Count returns the number of movable (non-frozen) molecules.
func (s *System) Count() int {
	n := 0
	for m := range s.Molecules() {
		if !m.Frozen {
			n++
		}
	}
	return n
}

// SpinRatio returns the fraction of ortho molecules among those carrying a
// spin state.
func (s *System) SpinRatio() float64 {
	var ortho, tot int
	for m := range s.Molecules() {
		if m.Spin == SpinNone {
			continue
		}
		tot++
		if m.Spin == SpinOrtho {
			ortho++
		}
	}
	if tot == 0 {
		return 0
	}
	return float64(ortho) / float64(tot)
}

// UpdateCOM recomputes the center of mass of every molecule.
func (s *System) UpdateCOM() {
	for m := range s.Molecules() {
		m.UpdateCOM()
	}
}

// WrapAll stores wrapped positions for every atom.
func (s *System) WrapAll() {
	for m := range s.Molecules() {
		m.Wrap(s.Box)
	}
}
