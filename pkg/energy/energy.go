// Package energy provides reference energy models for the Markov chain.
// They cache their per-pair terms in the pair records and only recompute the
// pairs flagged dirty since the previous call.
//
// Electrostatics are not provided here. Wolf summation and Ewald summation
// are known to disagree for some parameter regimes; an electrostatic model
// plugged in through the same interface keeps whichever method it implements.
package energy

import (
	"math"

	"github.com/mpmccode/mpmc/pkg/system"
)

// Ideal is the non-interacting gas: every energy is zero.
type Ideal struct{}

// Energy clears the dirty flags and returns 0.
func (Ideal) Energy(s *system.System) float64 {
	for _, a := range s.Atoms() {
		for _, p := range a.Pairs {
			p.RDEnergy = 0
			p.Dirty = false
		}
	}
	return 0
}

// LennardJones is the 12-6 repulsion/dispersion energy with a spherical
// cutoff. Pairs with a negative mixed sigma only keep the attractive term.
type LennardJones struct {
	// Cutoff is the interaction cutoff. Zero means the box cutoff.
	Cutoff float64
}

// Energy returns the total repulsion/dispersion energy in K.
func (lj LennardJones) Energy(s *system.System) float64 {
	rc := lj.Cutoff
	if rc <= 0 || rc > s.Box.Cutoff {
		rc = s.Box.Cutoff
	}

	var e float64
	for _, a := range s.Atoms() {
		for _, p := range a.Pairs {
			if p.Dirty {
				p.RDEnergy = Pair(p, rc)
				p.Dirty = false
			}
			e += p.RDEnergy
		}
	}
	return e
}

// Pair returns the Lennard-Jones energy of p within the cutoff rc. Excluded
// pairs and pairs between two immobile atoms contribute nothing.
func Pair(p *system.Pair, rc float64) float64 {
	if p.RDExcluded || p.Frozen || p.RImg > rc {
		return 0
	}

	sr := p.Sigma / p.RImg
	sr6 := sr * sr * sr
	sr6 *= sr6
	if p.AttractiveOnly {
		return -4 * p.Epsilon * sr6
	}
	return 4 * p.Epsilon * (sr6*sr6 - sr6)
}

// Finite reports whether e is a usable energy.
func Finite(e float64) bool {
	return !math.IsNaN(e) && !math.IsInf(e, 0)
}
