// Package pairs maintains the triangular pair list of a system: one cached
// record per unordered atom pair, stored on the earlier atom of the global
// order. Molecules are inserted at the end of the order, so an insertion only
// appends records and its inverse only truncates them. A removal splices out
// the contiguous block of records that point at the departing molecule and
// keeps it, so that a rejected removal puts back the very same records.
package pairs

import (
	"errors"
	"fmt"
	"math"

	"github.com/mpmccode/mpmc/pkg/system"
)

// ErrTopology is returned when the pair lists do not form the complete
// triangular pairing of the live atoms.
var ErrTopology = errors.New("pair topology broken")

// Registry creates and maintains pair records.
type Registry struct {
	// Intramolecular keeps the interactions between atoms of the same
	// molecule instead of excluding them.
	Intramolecular bool
}

// Splice is the set of records removed from the atoms that precede a
// departing molecule.
type Splice struct {
	entries []spliceEntry
}

type spliceEntry struct {
	atom  *system.Atom
	at    int
	block []*system.Pair
}

// Len returns the number of records held by the splice.
func (sp *Splice) Len() int {
	n := 0
	for _, e := range sp.entries {
		n += len(e.block)
	}
	return n
}

// FlagAll marks every pair dirty so that the next energy evaluation
// recomputes everything. It is used at start-up and periodically to stop the
// cached energies from drifting.
func FlagAll(s *system.System) {
	for _, a := range s.Atoms() {
		for _, p := range a.Pairs {
			p.Dirty = true
		}
	}
}

// RebuildAll allocates the complete triangular pair set from scratch.
func (r *Registry) RebuildAll(s *system.System) {
	type site struct {
		m *system.Molecule
		a *system.Atom
	}

	var sites []site
	for m, a := range s.Atoms() {
		sites = append(sites, site{m, a})
	}

	for i, si := range sites {
		si.a.Pairs = make([]*system.Pair, 0, len(sites)-i-1)
		for _, sj := range sites[i+1:] {
			si.a.Pairs = append(si.a.Pairs, r.newPair(si.m, sj.m, si.a, sj.a))
		}
	}
}

// Insert extends the pair lists for m, which must be the last molecule of
// the sequence. Existing records are left untouched.
func (r *Registry) Insert(s *system.System, m *system.Molecule) error {
	if s.Tail() != m {
		return fmt.Errorf("Insert: molecule %d is not the tail: %w", m.ID, ErrTopology)
	}

	for mi, a := range s.Atoms() {
		if mi == m {
			break
		}
		for _, b := range m.Atoms {
			a.Pairs = append(a.Pairs, r.newPair(mi, m, a, b))
		}
	}

	for k, a := range m.Atoms {
		a.Pairs = make([]*system.Pair, 0, len(m.Atoms)-k-1)
		for _, b := range m.Atoms[k+1:] {
			a.Pairs = append(a.Pairs, r.newPair(m, m, a, b))
		}
	}
	return nil
}

// UnupdateInsert undoes Insert for the tail molecule m: the records appended
// for m are popped from every preceding atom, leaving the earlier records in
// their original order.
func (r *Registry) UnupdateInsert(s *system.System, m *system.Molecule) error {
	if s.Tail() != m {
		return fmt.Errorf("UnupdateInsert: molecule %d is not the tail: %w", m.ID, ErrTopology)
	}

	n := len(m.Atoms)
	for mi, a := range s.Atoms() {
		if mi == m {
			break
		}
		if len(a.Pairs) < n {
			return fmt.Errorf("UnupdateInsert: atom %d has %d pairs: %w", a.ID, len(a.Pairs), ErrTopology)
		}
		for k := len(a.Pairs) - n; k < len(a.Pairs); k++ {
			a.Pairs[k] = nil
		}
		a.Pairs = a.Pairs[:len(a.Pairs)-n]
	}
	for _, a := range m.Atoms {
		a.Pairs = nil
	}
	return nil
}

// Remove splices out of every preceding atom the records pointing at m. It
// must be called while m is still linked in the sequence. The records of m's
// own atoms stay with m.
func (r *Registry) Remove(s *system.System, m *system.Molecule) (*Splice, error) {
	first := -1
	g := 0
	for mi := range s.Atoms() {
		if mi == m {
			first = g
			break
		}
		g++
	}
	if first < 0 {
		return nil, fmt.Errorf("Remove: molecule %d is not linked: %w", m.ID, ErrTopology)
	}

	n := len(m.Atoms)
	sp := &Splice{}
	g = 0
	for mi, a := range s.Atoms() {
		if mi == m {
			break
		}
		at := first - g - 1
		if at < 0 || at+n > len(a.Pairs) {
			return nil, fmt.Errorf("Remove: atom %d has %d pairs: %w", a.ID, len(a.Pairs), ErrTopology)
		}
		block := make([]*system.Pair, n)
		copy(block, a.Pairs[at:at+n])
		a.Pairs = append(a.Pairs[:at], a.Pairs[at+n:]...)
		sp.entries = append(sp.entries, spliceEntry{a, at, block})
		g++
	}
	return sp, nil
}

// UnupdateRemove puts back the records taken by Remove, at their original
// positions. m must have been relinked first.
func (r *Registry) UnupdateRemove(sp *Splice) {
	for _, e := range sp.entries {
		n := len(e.block)
		a := e.atom
		a.Pairs = append(a.Pairs, make([]*system.Pair, n)...)
		copy(a.Pairs[e.at+n:], a.Pairs[e.at:len(a.Pairs)-n])
		copy(a.Pairs[e.at:], e.block)
	}
}

// Touching returns every record that involves an atom of m: the blocks held
// by the preceding atoms and the records of m's own atoms.
func Touching(s *system.System, m *system.Molecule) []*system.Pair {
	var out []*system.Pair

	first := 0
	for mi := range s.Atoms() {
		if mi == m {
			break
		}
		first++
	}

	n := len(m.Atoms)
	g := 0
	for mi, a := range s.Atoms() {
		if mi == m {
			break
		}
		at := first - g - 1
		if at >= 0 && at+n <= len(a.Pairs) {
			out = append(out, a.Pairs[at:at+n]...)
		}
		g++
	}
	for _, a := range m.Atoms {
		out = append(out, a.Pairs...)
	}
	return out
}

// Update refreshes the minimum-image geometry of every pair, marking dirty
// the pairs whose raw displacement changed, then refreshes the centers of
// mass and the wrapped positions.
func Update(s *system.System) {
	for _, a := range s.Atoms() {
		for _, p := range a.Pairs {
			MinimumImage(s, a, p)
		}
	}
	s.UpdateCOM()
	s.WrapAll()
}

// MinimumImage refreshes the geometry of the pair p stored on atom a.
func MinimumImage(s *system.System, a *system.Atom, p *system.Pair) {
	d := a.Pos.Sub(p.Atom.Pos)
	if d != p.DPrev {
		p.Dirty = true
		p.DPrev = d
	}
	p.R, p.RImg, p.DImg = s.Box.MinimumImage(a.Pos, p.Atom.Pos)
}

// Count returns the number of live pair records.
func Count(s *system.System) int {
	n := 0
	for _, a := range s.Atoms() {
		n += len(a.Pairs)
	}
	return n
}

// Verify checks that the pair lists are exactly the triangular pairing of
// the live atoms in global order.
func Verify(s *system.System) error {
	var atoms []*system.Atom
	for _, a := range s.Atoms() {
		atoms = append(atoms, a)
	}

	for i, a := range atoms {
		if len(a.Pairs) != len(atoms)-i-1 {
			return fmt.Errorf("atom %d has %d pairs, want %d: %w", a.ID, len(a.Pairs), len(atoms)-i-1, ErrTopology)
		}
		for k, p := range a.Pairs {
			if p == nil || p.Atom != atoms[i+k+1] {
				return fmt.Errorf("atom %d pair %d points at the wrong atom: %w", a.ID, k, ErrTopology)
			}
		}
	}
	return nil
}

// newPair builds a dirty record with its exclusions and mixed parameters.
func (r *Registry) newPair(mi, mj *system.Molecule, ai, aj *system.Atom) *system.Pair {
	p := &system.Pair{Atom: aj, Molecule: mj, Dirty: true}
	r.exclusions(mi, mj, ai, aj, p)
	return p
}

// exclusions sets the excluded terms and the Lorentz-Berthelot mixing of a
// pair. A negative sigma marks a purely attractive site.
func (r *Registry) exclusions(mi, mj *system.Molecule, ai, aj *system.Atom, p *system.Pair) {
	if mi == mj && !r.Intramolecular {
		p.RDExcluded = true
		p.ESExcluded = true
	} else {
		p.RDExcluded = ai.Epsilon == 0 || ai.Sigma == 0 || aj.Epsilon == 0 || aj.Sigma == 0
		p.ESExcluded = ai.Charge == 0 || aj.Charge == 0
	}

	p.Frozen = ai.Frozen && aj.Frozen

	switch {
	case ai.Sigma < 0 || aj.Sigma < 0:
		p.AttractiveOnly = true
		p.Sigma = 0.5 * (math.Abs(ai.Sigma) + math.Abs(aj.Sigma))
		p.Epsilon = math.Sqrt(ai.Epsilon * aj.Epsilon)
	case ai.Sigma == 0 || aj.Sigma == 0:
		p.Sigma = 0
		p.Epsilon = math.Sqrt(ai.Epsilon * aj.Epsilon)
	default:
		p.Sigma = 0.5 * (ai.Sigma + aj.Sigma)
		p.Epsilon = math.Sqrt(ai.Epsilon * aj.Epsilon)
	}
}
