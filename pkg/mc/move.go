package mc

import (
	"math"

	"github.com/mpmccode/mpmc/pkg/geom"
	"github.com/mpmccode/mpmc/pkg/system"
)

// MoveKind is the type of a Monte Carlo move.
type MoveKind int

// Here are the move types.
const (
	KindDisplace MoveKind = iota
	KindInsert
	KindRemove
	KindVolume
	KindSpinflip
	KindAdiabatic
	numKinds
)

// Kinds lists every move type in a stable order.
var Kinds = []MoveKind{KindDisplace, KindInsert, KindRemove, KindVolume, KindSpinflip, KindAdiabatic}

func (k MoveKind) String() string {
	switch k {
	case KindDisplace:
		return "displace"
	case KindInsert:
		return "insert"
	case KindRemove:
		return "remove"
	case KindVolume:
		return "volume"
	case KindSpinflip:
		return "spinflip"
	case KindAdiabatic:
		return "adiabatic"
	}
	return "unknown"
}

// Move is a fully drawn perturbation. Every variant carries the data it
// needs, knows how to apply itself while filling the checkpoint, how to undo
// itself from that checkpoint, and how to weigh itself in each ensemble.
type Move interface {
	Kind() MoveKind
	apply(p *Proposer, s *system.System, cp *Checkpoint) error
	undo(p *Proposer, s *system.System, cp *Checkpoint) error
	weight(ev *Evaluator, w weighing) (float64, error)
}

// Displace translates then rotates one molecule about its center of mass.
type Displace struct {
	Mol   *system.Molecule
	Trans geom.Vec3
	Rot   geom.Rotation
}

// Adiabatic is a displacement of an adiabatic molecule with its own
// translation scale.
type Adiabatic struct {
	Mol   *system.Molecule
	Trans geom.Vec3
	Rot   geom.Rotation
}

// Insert adds a copy of a species template at COM with orientation Rot.
type Insert struct {
	Species *Species
	COM     geom.Vec3
	Rot     geom.Rotation
	Biased  bool
}

// Remove deletes one molecule.
type Remove struct {
	Mol    *system.Molecule
	Biased bool
}

// VolumeChange rescales the box isotropically so that ln V' = ln V + Delta.
type VolumeChange struct {
	Delta float64
}

// Spinflip toggles the nuclear spin state of one molecule.
type Spinflip struct {
	Mol *system.Molecule
}

func (Displace) Kind() MoveKind     { return KindDisplace }
func (Adiabatic) Kind() MoveKind    { return KindAdiabatic }
func (Insert) Kind() MoveKind       { return KindInsert }
func (Remove) Kind() MoveKind       { return KindRemove }
func (VolumeChange) Kind() MoveKind { return KindVolume }
func (Spinflip) Kind() MoveKind     { return KindSpinflip }

func (m Displace) apply(p *Proposer, s *system.System, cp *Checkpoint) error {
	cp.saveMolecule(s, m.Mol)
	m.Mol.Translate(m.Trans)
	m.Mol.Rotate(m.Rot)
	return nil
}

func (m Displace) undo(p *Proposer, s *system.System, cp *Checkpoint) error {
	cp.restoreState(s)
	return nil
}

func (m Adiabatic) apply(p *Proposer, s *system.System, cp *Checkpoint) error {
	return Displace(m).apply(p, s, cp)
}

func (m Adiabatic) undo(p *Proposer, s *system.System, cp *Checkpoint) error {
	cp.restoreState(s)
	return nil
}

func (m Spinflip) apply(p *Proposer, s *system.System, cp *Checkpoint) error {
	cp.saveMolecule(s, m.Mol)
	m.Mol.Spin = m.Mol.Spin.Flip()
	return nil
}

func (m Spinflip) undo(p *Proposer, s *system.System, cp *Checkpoint) error {
	cp.restoreState(s)
	return nil
}

func (m Insert) apply(p *Proposer, s *system.System, cp *Checkpoint) error {
	mol := m.Species.Template.Clone()
	mol.ID = s.NewID()
	for _, a := range mol.Atoms {
		a.ID = s.NewAtomID()
	}
	mol.Translate(m.COM.Sub(mol.COM))
	mol.Rotate(m.Rot)

	cp.grown = s.Append(mol)
	cp.Altered = mol
	cp.Prev, cp.Next = s.Neighbors(mol)
	if err := p.registry.Insert(s, mol); err != nil {
		return err
	}
	return nil
}

func (m Insert) undo(p *Proposer, s *system.System, cp *Checkpoint) error {
	if err := p.registry.UnupdateInsert(s, cp.Altered); err != nil {
		return err
	}
	if err := s.Unappend(cp.Altered, cp.grown); err != nil {
		return err
	}
	s.SetNextID(cp.nextID)
	s.SetNextAtomID(cp.nextAtomID)
	cp.Altered = nil
	return nil
}

func (m Remove) apply(p *Proposer, s *system.System, cp *Checkpoint) error {
	sp, err := p.registry.Remove(s, m.Mol)
	if err != nil {
		return err
	}
	cp.splice = sp
	cp.Backup = m.Mol
	cp.Prev, cp.Next, err = s.Unlink(m.Mol)
	return err
}

func (m Remove) undo(p *Proposer, s *system.System, cp *Checkpoint) error {
	if err := s.Relink(cp.Backup, cp.Prev, cp.Next); err != nil {
		return err
	}
	p.registry.UnupdateRemove(cp.splice)
	cp.Backup = nil
	return nil
}

func (m VolumeChange) apply(p *Proposer, s *system.System, cp *Checkpoint) error {
	cp.saveAll(s)

	f := math.Cbrt(math.Exp(m.Delta))
	if err := s.Box.Scale(f); err != nil {
		return err
	}

	// Rigid-body rescale: only the centers of mass follow the box.
	for mol := range s.Molecules() {
		mol.Translate(mol.COM.Scale(f).Sub(mol.COM))
	}
	return nil
}

func (m VolumeChange) undo(p *Proposer, s *system.System, cp *Checkpoint) error {
	cp.restoreState(s)
	return nil
}
