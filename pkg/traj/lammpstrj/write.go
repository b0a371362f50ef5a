package lammpstrj

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/mpmccode/mpmc/pkg/geom"
	"github.com/mpmccode/mpmc/pkg/mc"
	"github.com/mpmccode/mpmc/pkg/stats"
	"github.com/mpmccode/mpmc/pkg/system"
)

// Writer appends one frame per correlation interval to a trajectory. It is
// an mc.Observer and serves one replica.
type Writer struct {
	w *bufio.Writer
	c io.Closer
}

// Create creates the trajectory file at path.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &Writer{w: bufio.NewWriter(f), c: f}, nil
}

// NewWriter returns a writer to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Step implements mc.Observer.
func (w *Writer) Step(rank, step int, kind mc.MoveKind, accepted bool, obs system.Observables) {}

// Interval implements mc.Observer by writing the current configuration.
func (w *Writer) Interval(rank, step int, s *system.System, snap stats.Snapshot) error {
	return w.Write(step, s)
}

// Write writes the configuration of s as the frame of step.
func (w *Writer) Write(step int, s *system.System) error {
	b := s.Box.Basis
	if err := CheckBasis(b); err != nil {
		return err
	}
	lx, ly, lz := b[0][0], b[1][1], b[2][2]
	xy, xz, yz := b[0][1], b[0][2], b[1][2]
	o := s.Box.Cart(geom.Vec3{-0.5, -0.5, -0.5})

	fmt.Fprintf(w.w, "ITEM: TIMESTEP\n%d\n", step)
	fmt.Fprintf(w.w, "ITEM: NUMBER OF ATOMS\n%d\n", s.NumAtoms())
	if xy == 0 && xz == 0 && yz == 0 {
		fmt.Fprintf(w.w, "ITEM: BOX BOUNDS pp pp pp\n")
		fmt.Fprintf(w.w, "%s %s\n", ff(o[0]), ff(o[0]+lx))
		fmt.Fprintf(w.w, "%s %s\n", ff(o[1]), ff(o[1]+ly))
		fmt.Fprintf(w.w, "%s %s\n", ff(o[2]), ff(o[2]+lz))
	} else {
		fmt.Fprintf(w.w, "ITEM: BOX BOUNDS xy xz yz pp pp pp\n")
		fmt.Fprintf(w.w, "%s %s %s\n", ff(o[0]+min(0, xy, xz, xy+xz)), ff(o[0]+lx+max(0, xy, xz, xy+xz)), ff(xy))
		fmt.Fprintf(w.w, "%s %s %s\n", ff(o[1]+min(0, yz)), ff(o[1]+ly+max(0, yz)), ff(xz))
		fmt.Fprintf(w.w, "%s %s %s\n", ff(o[2]), ff(o[2]+lz), ff(yz))
	}
	fmt.Fprintf(w.w, "ITEM: ATOMS id mol type xu yu zu q\n")

	id := 0
	for m, a := range s.Atoms() {
		id++
		var line []byte
		line = strconv.AppendInt(line, int64(id), 10)
		line = append(line, ' ')
		line = strconv.AppendInt(line, int64(m.ID), 10)
		line = append(line, ' ')
		line = append(line, a.Type...)
		for k := 0; k < 3; k++ {
			line = append(line, ' ')
			line = strconv.AppendFloat(line, a.Pos[k], 'g', -1, 64)
		}
		line = append(line, ' ')
		line = strconv.AppendFloat(line, a.Charge, 'g', -1, 64)
		line = append(line, '\n')
		if _, err := w.w.Write(line); err != nil {
			return err
		}
	}
	return w.w.Flush()
}

// CheckBasis returns an error if the lattice vectors, the columns of basis,
// cannot be written as a LAMMPS box: a along x and b in the xy plane.
func CheckBasis(basis [3][3]float64) error {
	if basis[1][0] != 0 || basis[2][0] != 0 || basis[2][1] != 0 {
		return fmt.Errorf("box basis is not in the LAMMPS orientation")
	}
	return nil
}

// Close flushes and closes the trajectory.
func (w *Writer) Close() error {
	if err := w.w.Flush(); err != nil {
		return err
	}
	if w.c != nil {
		return w.c.Close()
	}
	return nil
}

func ff(x float64) string {
	return strconv.FormatFloat(x, 'g', -1, 64)
}
