package mc

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/mpmccode/mpmc/pkg/cavity"
	"github.com/mpmccode/mpmc/pkg/geom"
	"github.com/mpmccode/mpmc/pkg/pairs"
	"github.com/mpmccode/mpmc/pkg/system"
)

// Species is a kind of molecule that can be inserted in the grand-canonical
// ensemble.
type Species struct {
	Name       string
	Fugacity   float64 // atm
	Insertable bool
	Template   *system.Molecule
}

// Proposer draws moves and applies or reverts them on a system.
type Proposer struct {
	params   Params
	dispatch *Dispatch
	registry *pairs.Registry
	species  []*Species
	byName   map[string]*Species
	grid     *cavity.Grid
	rng      *rand.Rand

	cavitySum float64
	cavityN   int
}

// NewProposer returns a proposer for the ensemble of s.
func NewProposer(s *system.System, p Params, reg *pairs.Registry, species []*Species, rng *rand.Rand) (*Proposer, error) {
	d, err := NewDispatch(s.Ensemble, p)
	if err != nil {
		return nil, err
	}

	pr := &Proposer{
		params:   p,
		dispatch: d,
		registry: reg,
		byName:   make(map[string]*Species),
		rng:      rng,
	}
	for _, sp := range species {
		pr.byName[sp.Name] = sp
		if !sp.Insertable {
			continue
		}
		if sp.Template == nil || len(sp.Template.Atoms) == 0 {
			return nil, fmt.Errorf("species %q has no template: %w", sp.Name, ErrConfig)
		}
		sp.Template.UpdateCOM()
		pr.species = append(pr.species, sp)
	}

	if s.Ensemble == system.UVT && p.InsertProbability > 0 {
		if len(pr.species) == 0 {
			return nil, fmt.Errorf("insertions need at least one insertable species: %w", ErrConfig)
		}
		for _, sp := range pr.species {
			if !(sp.Fugacity > 0) {
				return nil, fmt.Errorf("species %q fugacity %g: %w", sp.Name, sp.Fugacity, ErrConfig)
			}
		}
		// Removals only take what insertions can put back.
		for _, m := range s.Movable() {
			if sp := pr.byName[m.Type]; sp == nil || !sp.Insertable {
				return nil, fmt.Errorf("molecule %d of type %q is movable but not insertable: %w", m.ID, m.Type, ErrConfig)
			}
		}
	}
	if p.Cavity {
		pr.grid = cavity.New(p.CavityGrid)
	}
	return pr, nil
}

// Registry returns the pair registry used by the proposer.
func (p *Proposer) Registry() *pairs.Registry {
	return p.registry
}

// Grid returns the cavity grid, or nil when cavity bias is off.
func (p *Proposer) Grid() *cavity.Grid {
	return p.grid
}

// Species returns the species named name, or nil.
func (p *Proposer) Species(name string) *Species {
	return p.byName[name]
}

// CavityMean returns the running mean of the open-voxel fraction.
func (p *Proposer) CavityMean() float64 {
	if p.cavityN == 0 {
		return 1
	}
	return p.cavitySum / float64(p.cavityN)
}

// Propose draws the next move. It returns a *NoCandidateError when the
// chosen move type has nothing to act on.
func (p *Proposer) Propose(s *system.System) (Move, error) {
	if p.grid != nil {
		p.grid.Update(s)
		p.cavitySum += p.grid.OpenFraction()
		p.cavityN++
		s.Observables.CavityOpen = p.grid.OpenFraction()
	}

	kind := p.dispatch.Choose(p.rng)
	switch kind {
	case KindInsert:
		return p.insert(s), nil

	case KindRemove:
		m := p.pick(s.Movable())
		if m == nil {
			return nil, &NoCandidateError{Kind: kind}
		}
		return Remove{Mol: m, Biased: p.removeBiased()}, nil

	case KindVolume:
		return VolumeChange{Delta: (p.rng.Float64() - 0.5) * p.params.VolumeScale}, nil

	case KindSpinflip:
		var cand []*system.Molecule
		for _, m := range s.Movable() {
			if m.Spin != system.SpinNone {
				cand = append(cand, m)
			}
		}
		m := p.pick(cand)
		if m == nil {
			return nil, &NoCandidateError{Kind: kind}
		}
		return Spinflip{Mol: m}, nil
	}

	m := p.pick(s.Movable())
	if m == nil {
		return nil, &NoCandidateError{Kind: KindDisplace}
	}
	if m.Adiabatic {
		return Adiabatic{
			Mol:   m,
			Trans: p.translation(s.Box, p.params.Adiabatic),
			Rot:   p.rotation(1),
		}, nil
	}
	return Displace{
		Mol:   m,
		Trans: p.translation(s.Box, p.params.Translate),
		Rot:   p.rotation(p.params.Rotate),
	}, nil
}

// Apply captures a checkpoint, applies mv and refreshes the pair geometry.
func (p *Proposer) Apply(s *system.System, mv Move) (*Checkpoint, error) {
	cp := newCheckpoint(s, mv)
	if err := mv.apply(p, s, cp); err != nil {
		return nil, invariant(mv.Kind(), "apply", err)
	}
	pairs.Update(s)
	return cp, nil
}

// Restore reverts the move recorded in cp. The system comes back bit for bit
// to the state it had when the checkpoint was taken.
func (p *Proposer) Restore(s *system.System, cp *Checkpoint) error {
	if err := cp.Move.undo(p, s, cp); err != nil {
		return invariant(cp.Move.Kind(), "restore", err)
	}
	s.Observables = cp.Observables
	return nil
}

func invariant(kind MoveKind, op string, err error) error {
	if errors.Is(err, ErrInvariant) {
		return err
	}
	return fmt.Errorf("%s %s: %w: %w", op, kind, ErrInvariant, err)
}

func (p *Proposer) insert(s *system.System) Insert {
	sp := p.species[p.rng.IntN(len(p.species))]

	var (
		com    geom.Vec3
		biased bool
	)
	if p.grid != nil {
		com, biased = p.grid.SampleOpen(p.rng)
	}
	if !biased {
		var f geom.Vec3
		for k := 0; k < 3; k++ {
			f[k] = 0.5 - p.rng.Float64()
		}
		com = s.Box.Cart(f)
	}
	return Insert{Species: sp, COM: com, Rot: p.rotation(1), Biased: biased}
}

// removeBiased reports whether a removal is weighed as the inverse of a
// cavity-biased insertion: it is not when a uniform draw falls below the
// probability that the whole grid is occupied.
func (p *Proposer) removeBiased() bool {
	if p.grid == nil {
		return false
	}
	full := math.Pow(1-p.CavityMean(), float64(p.grid.Total()))
	return !(p.rng.Float64() < full)
}

func (p *Proposer) pick(ms []*system.Molecule) *system.Molecule {
	if len(ms) == 0 {
		return nil
	}
	return ms[p.rng.IntN(len(ms))]
}

func (p *Proposer) translation(b *geom.Box, scale float64) geom.Vec3 {
	var d geom.Vec3
	for k := 0; k < 3; k++ {
		d[k] = (2*p.rng.Float64() - 1) * scale * b.Cutoff
	}
	return d
}

func (p *Proposer) rotation(scale float64) geom.Rotation {
	alpha := (2*p.rng.Float64() - 1) * scale * math.Pi
	beta := (2*p.rng.Float64() - 1) * scale * math.Pi / 2
	gamma := (2*p.rng.Float64() - 1) * scale * math.Pi
	return geom.Euler(alpha, beta, gamma)
}
