package mc

import (
	"fmt"
	"math"

	"github.com/mpmccode/mpmc/pkg/system"
)

// ATM2REDUCED converts a pressure in atm to K/Å³.
const ATM2REDUCED = 0.0073389366

// Evaluator computes acceptance weights.
type Evaluator struct {
	prop *Proposer
}

// NewEvaluator returns an evaluator reading species and cavity statistics
// from p.
func NewEvaluator(p *Proposer) *Evaluator {
	return &Evaluator{prop: p}
}

// weighing holds the quantities common to every acceptance rule.
type weighing struct {
	s       *system.System
	cp      *Checkpoint
	initial float64
	final   float64
	n       float64 // movable molecules after the move
}

func (w weighing) boltzmann() float64 {
	return math.Exp(-(w.final - w.initial) / w.s.Temperature)
}

// Weight returns the Metropolis acceptance weight of the move recorded in
// cp, given the energies before and after it. A non-finite final energy
// always gives 0. A move type that the ensemble does not support is an
// ErrInvariant.
func (ev *Evaluator) Weight(s *system.System, cp *Checkpoint, initial, final float64) (float64, error) {
	if math.IsNaN(final) || math.IsInf(final, 0) {
		return 0, nil
	}
	w := weighing{s: s, cp: cp, initial: initial, final: final, n: float64(s.Count())}
	f, err := cp.Move.weight(ev, w)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || f < 0 {
		return 0, nil
	}
	return f, nil
}

func unsupported(kind MoveKind, ens system.Ensemble) error {
	return fmt.Errorf("%s move in the %v ensemble: %w", kind, ens, ErrInvariant)
}

func (m Displace) weight(ev *Evaluator, w weighing) (float64, error) {
	switch w.s.Ensemble {
	case system.UVT, system.NVT, system.NPT:
		return w.boltzmann(), nil
	case system.NVE:
		return ev.microcanonical(w), nil
	}
	return 0, unsupported(m.Kind(), w.s.Ensemble)
}

func (m Adiabatic) weight(ev *Evaluator, w weighing) (float64, error) {
	switch w.s.Ensemble {
	case system.UVT, system.NVT, system.NPT:
		return w.boltzmann(), nil
	case system.NVE:
		return ev.microcanonical(w), nil
	}
	return 0, unsupported(m.Kind(), w.s.Ensemble)
}

func (m Insert) weight(ev *Evaluator, w weighing) (float64, error) {
	if w.s.Ensemble != system.UVT {
		return 0, unsupported(m.Kind(), w.s.Ensemble)
	}
	v := ev.volume(w.s, m.Biased)
	fug := m.Species.Fugacity * ATM2REDUCED
	return v * fug / (w.s.Temperature * w.n) * w.boltzmann() * float64(len(ev.prop.species)), nil
}

func (m Remove) weight(ev *Evaluator, w weighing) (float64, error) {
	if w.s.Ensemble != system.UVT {
		return 0, unsupported(m.Kind(), w.s.Ensemble)
	}
	sp := ev.prop.Species(m.Mol.Type)
	if sp == nil || !(sp.Fugacity > 0) {
		return 0, fmt.Errorf("no fugacity for molecule type %q: %w", m.Mol.Type, ErrInvariant)
	}
	v := ev.volume(w.s, m.Biased)
	fug := sp.Fugacity * ATM2REDUCED
	nSpecies := float64(max(len(ev.prop.species), 1))
	return w.s.Temperature * (w.n + 1) / (v * fug) * w.boltzmann() / nSpecies, nil
}

func (m VolumeChange) weight(ev *Evaluator, w weighing) (float64, error) {
	if w.s.Ensemble != system.NPT {
		return 0, unsupported(m.Kind(), w.s.Ensemble)
	}
	vOld := w.cp.box.Volume
	vNew := w.s.Box.Volume
	p := w.s.Pressure * ATM2REDUCED
	t := w.s.Temperature
	dE := w.final - w.initial
	return math.Exp(-(dE + p*(vNew-vOld) - (w.n+1)*t*math.Log(vNew/vOld)) / t), nil
}

func (m Spinflip) weight(ev *Evaluator, w weighing) (float64, error) {
	switch w.s.Ensemble {
	case system.UVT, system.NVT:
	default:
		return 0, unsupported(m.Kind(), w.s.Ensemble)
	}
	g, u := m.Mol.PartFuncG, m.Mol.PartFuncU
	if !(g+u > 0) {
		return 0, fmt.Errorf("molecule %d has no partition functions: %w", m.Mol.ID, ErrInvariant)
	}
	if m.Mol.Spin == system.SpinPara {
		return g / (g + u), nil
	}
	return u / (g + u), nil
}

// volume returns the volume entering an insertion or removal rule. Biased
// moves only reach the open part of the cell.
func (ev *Evaluator) volume(s *system.System, biased bool) float64 {
	if biased {
		return s.Box.Volume * ev.prop.CavityMean()
	}
	return s.Box.Volume
}

func (ev *Evaluator) microcanonical(w weighing) float64 {
	kFinal := w.s.TotalEnergy - w.final
	kInit := w.s.TotalEnergy - w.initial
	if kFinal <= 0 {
		return 0
	}
	if kInit <= 0 {
		return 1
	}
	return math.Pow(kFinal/kInit, 3*w.n/2)
}
