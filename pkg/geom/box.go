package geom

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// imageEpsilon is the distance to a half-integer fractional coordinate under
// which the image rounding direction is considered ambiguous.
const imageEpsilon = 1e-12

// ErrDegenerate is returned when a basis has no volume.
var ErrDegenerate = errors.New("degenerate box basis")

// Box is the periodic unit cell. The columns of Basis are the three lattice
// vectors: a cartesian position is Basis·f for fractional coordinates f in
// [-0.5, 0.5). Reciprocal, Cutoff and Volume are derived from Basis and are
// only valid after SetBasis.
type Box struct {
	Basis      [3][3]float64
	Reciprocal [3][3]float64
	Cutoff     float64
	Volume     float64
}

// NewBox returns a box built from basis.
func NewBox(basis [3][3]float64) (*Box, error) {
	b := &Box{}
	if err := b.SetBasis(basis); err != nil {
		return nil, err
	}
	return b, nil
}

// Cubic returns a cubic box of side l.
func Cubic(l float64) *Box {
	b, err := NewBox([3][3]float64{{l, 0, 0}, {0, l, 0}, {0, 0, l}})
	if err != nil {
		panic(err)
	}
	return b
}

// SetBasis replaces the basis and recomputes the reciprocal basis, the
// cutoff and the volume together.
func (b *Box) SetBasis(basis [3][3]float64) error {
	a := mat.NewDense(3, 3, nil)
	for p := 0; p < 3; p++ {
		for q := 0; q < 3; q++ {
			a.Set(p, q, basis[p][q])
		}
	}

	det := mat.Det(a)
	if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
		return fmt.Errorf("SetBasis: %w", ErrDegenerate)
	}

	var inv mat.Dense
	if err := inv.Inverse(a); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return fmt.Errorf("SetBasis: %w", err)
		}
	}

	b.Basis = basis
	for p := 0; p < 3; p++ {
		for q := 0; q < 3; q++ {
			b.Reciprocal[p][q] = inv.At(p, q)
		}
	}
	b.Volume = math.Abs(det)
	b.Cutoff = b.cutoff()
	return nil
}

// cutoff is half of the smallest distance between two opposite faces.
func (b *Box) cutoff() float64 {
	shortest := math.Inf(1)
	for q := 0; q < 3; q++ {
		u := b.Vector((q + 1) % 3)
		w := b.Vector((q + 2) % 3)
		shortest = math.Min(shortest, b.Volume/u.Cross(w).Norm())
	}
	return 0.5 * shortest
}

// Vector returns the q-th lattice vector.
func (b *Box) Vector(q int) Vec3 {
	return Vec3{b.Basis[0][q], b.Basis[1][q], b.Basis[2][q]}
}

// Scale multiplies every lattice vector by f.
func (b *Box) Scale(f float64) error {
	basis := b.Basis
	for p := 0; p < 3; p++ {
		for q := 0; q < 3; q++ {
			basis[p][q] *= f
		}
	}
	return b.SetBasis(basis)
}

// Frac projects a cartesian vector into fractional coordinates.
func (b *Box) Frac(v Vec3) Vec3 {
	var f Vec3
	for p := 0; p < 3; p++ {
		for q := 0; q < 3; q++ {
			f[p] += b.Reciprocal[p][q] * v[q]
		}
	}
	return f
}

// Cart projects fractional coordinates back into cartesian ones.
func (b *Box) Cart(f Vec3) Vec3 {
	var v Vec3
	for p := 0; p < 3; p++ {
		for q := 0; q < 3; q++ {
			v[p] += b.Basis[p][q] * f[q]
		}
	}
	return v
}

// MinimumImage returns the raw separation of pi and pj, the separation of
// the closest periodic image and the displacement vector of that image.
// When the image cannot be computed (non-finite values from a degenerate
// basis) the unwrapped displacement is used instead.
func (b *Box) MinimumImage(pi, pj Vec3) (r, rimg float64, dimg Vec3) {
	d := pi.Sub(pj)

	img := b.Frac(d)
	for p := 0; p < 3; p++ {
		img[p] = roundImage(img[p])
	}
	dimg = d.Sub(b.Cart(img))

	r = d.Norm()
	rimg = dimg.Norm()
	if math.IsNaN(rimg) || math.IsInf(rimg, 0) {
		rimg = r
	}
	for p := 0; p < 3; p++ {
		if math.IsNaN(dimg[p]) || math.IsInf(dimg[p], 0) {
			dimg[p] = d[p]
		}
	}
	return
}

// Wrap returns the periodic image of v inside the unit cell.
func (b *Box) Wrap(v Vec3) Vec3 {
	f := b.Frac(v)
	for p := 0; p < 3; p++ {
		f[p] = roundImage(f[p])
	}
	return v.Sub(b.Cart(f))
}

// roundImage rounds half to even, except when x sits within imageEpsilon of
// a half-integer: there it rounds toward zero so that lattice-symmetric
// geometries always pick the same image.
func roundImage(x float64) float64 {
	if math.RoundToEven(x+imageEpsilon) != math.RoundToEven(x-imageEpsilon) {
		return math.Trunc(x)
	}
	return math.RoundToEven(x)
}
