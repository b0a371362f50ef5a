package system

import "github.com/mpmccode/mpmc/pkg/geom"

// Atom is an interaction site. It is owned by exactly one Molecule.
type Atom struct {
	ID   int
	Type string

	Mass           float64
	Charge         float64
	Sigma          float64
	Epsilon        float64
	Polarizability float64
	Frozen         bool

	Pos     geom.Vec3 // Real (unwrapped) position
	Wrapped geom.Vec3 // Position of the molecule image inside the unit cell

	// Pairs holds one record per atom that comes later in the global atom
	// order: the k-th record refers to the (k+1)-th atom after this one.
	Pairs []*Pair
}

// Pair is the cached state of one unordered atom pair {i, j}, stored on atom
// i where i precedes j in the global order.
type Pair struct {
	Atom     *Atom     // Partner j. Lookup only
	Molecule *Molecule // Molecule of the partner. Lookup only

	R     float64   // Raw separation
	RImg  float64   // Minimum-image separation
	DImg  geom.Vec3 // Minimum-image displacement
	DPrev geom.Vec3 // Raw displacement of the previous geometry update

	RDExcluded     bool // No repulsion/dispersion term
	ESExcluded     bool // No electrostatic term
	AttractiveOnly bool // Dispersion without repulsion (negative sigma)
	Frozen         bool // Both atoms immobile

	Sigma   float64 // Mixed sigma
	Epsilon float64 // Mixed epsilon

	RDEnergy    float64 // Cached repulsion/dispersion energy
	ESEnergy    float64 // Cached real-space electrostatic energy
	PolarEnergy float64 // Cached polarization contribution

	// Dirty means the geometry changed since the last energy evaluation.
	Dirty bool
}
