package mc

import (
	"fmt"
	"math/rand/v2"

	"github.com/mpmccode/mpmc/pkg/system"
)

// Params are the move parameters of a run.
type Params struct {
	Translate float64 // Translation scale, as a fraction of the cutoff
	Rotate    float64 // Rotation scale, as a fraction of pi
	Adiabatic float64 // Translation scale of adiabatic molecules

	InsertProbability   float64
	SpinflipProbability float64
	VolumeProbability   float64
	VolumeScale         float64 // Width of the ln V step

	Cavity     bool
	CavityGrid int
}

// enabled lists the moves each ensemble may propose.
var enabled = map[system.Ensemble][numKinds]bool{
	system.UVT: {KindDisplace: true, KindInsert: true, KindRemove: true, KindSpinflip: true, KindAdiabatic: true},
	system.NVT: {KindDisplace: true, KindSpinflip: true, KindAdiabatic: true},
	system.NPT: {KindDisplace: true, KindVolume: true, KindAdiabatic: true},
	system.NVE: {KindDisplace: true, KindAdiabatic: true},
}

// Dispatch picks a move type according to the ensemble and the configured
// probabilities.
type Dispatch struct {
	ens system.Ensemble
	p   Params
}

// NewDispatch validates the ensemble against the move probabilities.
func NewDispatch(ens system.Ensemble, p Params) (*Dispatch, error) {
	moves, ok := enabled[ens]
	if !ok {
		return nil, fmt.Errorf("unsupported ensemble %v: %w", ens, ErrConfig)
	}

	probs := []struct {
		kind MoveKind
		val  float64
	}{
		{KindInsert, p.InsertProbability},
		{KindSpinflip, p.SpinflipProbability},
		{KindVolume, p.VolumeProbability},
	}
	var sum float64
	for _, pr := range probs {
		if pr.val < 0 || pr.val > 1 {
			return nil, fmt.Errorf("%s probability %g not in [0, 1]: %w", pr.kind, pr.val, ErrConfig)
		}
		if pr.val > 0 && !moves[pr.kind] {
			return nil, fmt.Errorf("%s moves are not allowed in the %v ensemble: %w", pr.kind, ens, ErrConfig)
		}
		sum += pr.val
	}
	if sum > 1 {
		return nil, fmt.Errorf("move probabilities sum to %g: %w", sum, ErrConfig)
	}

	if p.Cavity && p.CavityGrid <= 0 {
		return nil, fmt.Errorf("cavity grid size %d: %w", p.CavityGrid, ErrConfig)
	}
	if p.VolumeProbability > 0 && p.VolumeScale <= 0 {
		return nil, fmt.Errorf("volume scale %g: %w", p.VolumeScale, ErrConfig)
	}
	return &Dispatch{ens: ens, p: p}, nil
}

// Allowed reports whether kind may be proposed in the ensemble.
func (d *Dispatch) Allowed(kind MoveKind) bool {
	return kind >= 0 && kind < numKinds && enabled[d.ens][kind]
}

// Choose draws a move type. Insertions and removals share the insertion
// probability evenly; whatever is left goes to displacements.
func (d *Dispatch) Choose(r *rand.Rand) MoveKind {
	u := r.Float64()
	switch d.ens {
	case system.UVT:
		if u < d.p.InsertProbability {
			if r.Float64() < 0.5 {
				return KindInsert
			}
			return KindRemove
		}
		if u < d.p.InsertProbability+d.p.SpinflipProbability {
			return KindSpinflip
		}
	case system.NVT:
		if u < d.p.SpinflipProbability {
			return KindSpinflip
		}
	case system.NPT:
		if u < d.p.VolumeProbability {
			return KindVolume
		}
	}
	return KindDisplace
}
