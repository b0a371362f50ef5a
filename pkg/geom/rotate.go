package geom

import "math"

// Rotation is a 3×3 rotation matrix.
type Rotation [3][3]float64

// Euler builds the rotation matrix of the z-y-z Euler angles alpha, beta and
// gamma.
func Euler(alpha, beta, gamma float64) Rotation {
	sa, ca := math.Sincos(alpha)
	sb, cb := math.Sincos(beta)
	sg, cg := math.Sincos(gamma)

	return Rotation{
		{ca*cb*cg - sa*sg, sa*cb*cg + ca*sg, -sb * cg},
		{-ca*cb*sg - sa*cg, -sa*cb*sg + ca*cg, sb * sg},
		{ca * sb, sa * sb, cb},
	}
}

// Apply returns R·v.
func (r Rotation) Apply(v Vec3) Vec3 {
	var w Vec3
	for p := 0; p < 3; p++ {
		w[p] = r[p][0]*v[0] + r[p][1]*v[1] + r[p][2]*v[2]
	}
	return w
}
