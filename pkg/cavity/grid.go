// Package cavity implements the cavity-bias grid: a fixed-resolution voxel
// grid over the unit cell that records which voxels hold no atom. Insertions
// can then target empty voxels; the acceptance weight compensates for it.
package cavity

import (
	"math"
	"math/rand/v2"

	"github.com/mpmccode/mpmc/pkg/geom"
	"github.com/mpmccode/mpmc/pkg/system"
)

// Cell is one voxel of the grid.
type Cell struct {
	Occupied bool
	Pos      geom.Vec3 // Cartesian center of the voxel
}

// Grid is a Size×Size×Size voxel grid spanning the unit cell.
type Grid struct {
	Size  int
	Cells []Cell
	open  int
}

// New returns an empty grid of resolution size.
func New(size int) *Grid {
	return &Grid{Size: size, Cells: make([]Cell, size*size*size)}
}

// Total returns the number of voxels.
func (g *Grid) Total() int {
	return len(g.Cells)
}

// Open returns the number of empty voxels found by the last Update.
func (g *Grid) Open() int {
	return g.open
}

// OpenFraction returns the fraction of empty voxels.
func (g *Grid) OpenFraction() float64 {
	if len(g.Cells) == 0 {
		return 0
	}
	return float64(g.open) / float64(len(g.Cells))
}

// Update recomputes the voxel centers from the current box and the occupancy
// from the wrapped atom positions.
func (g *Grid) Update(s *system.System) {
	n := g.Size
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			for k := 0; k < n; k++ {
				f := geom.Vec3{
					(float64(i)+0.5)/float64(n) - 0.5,
					(float64(j)+0.5)/float64(n) - 0.5,
					(float64(k)+0.5)/float64(n) - 0.5,
				}
				c := &g.Cells[g.index(i, j, k)]
				c.Pos = s.Box.Cart(f)
				c.Occupied = false
			}
		}
	}

	for _, a := range s.Atoms() {
		f := s.Box.Frac(a.Wrapped)
		var idx [3]int
		for p := 0; p < 3; p++ {
			u := f[p] + 0.5
			u -= math.Floor(u)
			idx[p] = min(int(u*float64(n)), n-1)
		}
		g.Cells[g.index(idx[0], idx[1], idx[2])].Occupied = true
	}

	g.open = 0
	for _, c := range g.Cells {
		if !c.Occupied {
			g.open++
		}
	}
}

// SampleOpen returns the center of an empty voxel drawn uniformly. It
// reports false when every voxel is occupied.
func (g *Grid) SampleOpen(r *rand.Rand) (geom.Vec3, bool) {
	if g.open == 0 {
		return geom.Vec3{}, false
	}

	k := r.IntN(g.open)
	for _, c := range g.Cells {
		if c.Occupied {
			continue
		}
		if k == 0 {
			return c.Pos, true
		}
		k--
	}
	return geom.Vec3{}, false
}

func (g *Grid) index(i, j, k int) int {
	return (i*g.Size+j)*g.Size + k
}
