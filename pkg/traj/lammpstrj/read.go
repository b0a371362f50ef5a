// Package lammpstrj reads and writes LAMMPS trajectory (dump) files. Frames
// are written with unwrapped coordinates (xu yu zu); see the LAMMPS
// documentation of the dump command for the meaning of the columns.
package lammpstrj

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mpmccode/mpmc/pkg/geom"
)

// Row is one atom line of a frame.
type Row struct {
	ID     int
	Mol    int
	Type   string
	Pos    geom.Vec3
	Charge float64
}

// Frame is one configuration of a trajectory.
type Frame struct {
	Step   int
	Bounds [3][2]float64 // lo and hi along x, y and z
	Tilt   [3]float64    // xy xz yz, zero for orthogonal boxes
	Rows   []Row
}

// Basis returns the lattice vectors of the frame, as the columns of the
// matrix.
func (f *Frame) Basis() [3][3]float64 {
	lx := f.Bounds[0][1] - f.Bounds[0][0]
	ly := f.Bounds[1][1] - f.Bounds[1][0]
	lz := f.Bounds[2][1] - f.Bounds[2][0]
	return [3][3]float64{
		{lx, f.Tilt[0], f.Tilt[1]},
		{0, ly, f.Tilt[2]},
		{0, 0, lz},
	}
}

// Read reads the next frame of r. It returns io.EOF when there is none.
func Read(r *bufio.Reader) (*Frame, error) {
	var f Frame

	// ITEM: TIMESTEP
	l, err := readLine(r)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(l, "ITEM: TIMESTEP") {
		return nil, fmt.Errorf("expected ITEM: TIMESTEP, got %q", l)
	}
	if l, err = readLine(r); err != nil {
		return nil, unexpected(err)
	}
	if f.Step, err = strconv.Atoi(strings.TrimSpace(l)); err != nil {
		return nil, fmt.Errorf("timestep: %w", err)
	}

	// ITEM: NUMBER OF ATOMS
	if _, err = readLine(r); err != nil {
		return nil, unexpected(err)
	}
	if l, err = readLine(r); err != nil {
		return nil, unexpected(err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(l))
	if err != nil || n < 0 {
		return nil, fmt.Errorf("number of atoms %q", strings.TrimSpace(l))
	}

	// ITEM: BOX BOUNDS [xy xz yz] pp pp pp
	if l, err = readLine(r); err != nil {
		return nil, unexpected(err)
	}
	triclinic := strings.Contains(l, "xy")
	for k := 0; k < 3; k++ {
		if l, err = readLine(r); err != nil {
			return nil, unexpected(err)
		}
		fields := strings.Fields(l)
		if len(fields) < 2 || (triclinic && len(fields) < 3) {
			return nil, fmt.Errorf("unable to get the size of the box")
		}
		for j := 0; j < 2; j++ {
			if f.Bounds[k][j], err = strconv.ParseFloat(fields[j], 64); err != nil {
				return nil, fmt.Errorf("box bounds: %w", err)
			}
		}
		if triclinic {
			if f.Tilt[k], err = strconv.ParseFloat(fields[2], 64); err != nil {
				return nil, fmt.Errorf("box tilt: %w", err)
			}
		}
	}
	if triclinic {
		f.unbound()
	}

	// ITEM: ATOMS ...
	if l, err = readLine(r); err != nil {
		return nil, unexpected(err)
	}
	c, err := columns(l)
	if err != nil {
		return nil, err
	}

	f.Rows = make([]Row, n)
	for a := 0; a < n; a++ {
		if l, err = readLine(r); err != nil {
			return nil, unexpected(err)
		}
		fields := strings.Fields(l)
		if len(fields) != c.tot {
			return nil, fmt.Errorf("number of columns don't match")
		}
		if f.Rows[a], err = c.row(fields); err != nil {
			return nil, fmt.Errorf("atom line %d: %w", a+1, err)
		}
	}
	return &f, nil
}

// unbound turns the bounding box of a triclinic frame into the bounds of
// the cell itself.
func (f *Frame) unbound() {
	xy, xz, yz := f.Tilt[0], f.Tilt[1], f.Tilt[2]
	f.Bounds[0][0] -= min(0, xy, xz, xy+xz)
	f.Bounds[0][1] -= max(0, xy, xz, xy+xz)
	f.Bounds[1][0] -= min(0, yz)
	f.Bounds[1][1] -= max(0, yz)
}

type cols struct {
	tot    int
	id     int
	mol    int
	typ    int
	charge int
	xyz    [3]int
}

// columns finds the position of the fields in the ITEM: ATOMS line. Wrapped
// coordinates are accepted when the unwrapped ones are missing.
func columns(l string) (cols, error) {
	c := cols{id: -1, mol: -1, typ: -1, charge: -1, xyz: [3]int{-1, -1, -1}}

	fields := strings.Fields(l)
	if len(fields) <= 2 || fields[0] != "ITEM:" || fields[1] != "ATOMS" {
		return c, fmt.Errorf("not enough columns")
	}
	fields = fields[2:] // Omission of ITEM: ATOMS
	c.tot = len(fields)

	for k, v := range fields {
		switch v {
		case "id":
			c.id = k
		case "mol":
			c.mol = k
		case "type":
			c.typ = k
		case "q":
			c.charge = k
		case "xu":
			c.xyz[0] = k
		case "yu":
			c.xyz[1] = k
		case "zu":
			c.xyz[2] = k
		case "x":
			if c.xyz[0] < 0 {
				c.xyz[0] = k
			}
		case "y":
			if c.xyz[1] < 0 {
				c.xyz[1] = k
			}
		case "z":
			if c.xyz[2] < 0 {
				c.xyz[2] = k
			}
		}
	}

	for _, k := range c.xyz {
		if k < 0 {
			return c, fmt.Errorf("cannot find the columns xu yu, and zu")
		}
	}
	return c, nil
}

func (c cols) row(fields []string) (Row, error) {
	var (
		r   Row
		err error
	)
	for k := 0; k < 3; k++ {
		if r.Pos[k], err = strconv.ParseFloat(fields[c.xyz[k]], 64); err != nil {
			return r, err
		}
	}
	if c.id >= 0 {
		if r.ID, err = strconv.Atoi(fields[c.id]); err != nil {
			return r, err
		}
	}
	if c.mol >= 0 {
		if r.Mol, err = strconv.Atoi(fields[c.mol]); err != nil {
			return r, err
		}
	}
	if c.typ >= 0 {
		r.Type = fields[c.typ]
	}
	if c.charge >= 0 {
		if r.Charge, err = strconv.ParseFloat(fields[c.charge], 64); err != nil {
			return r, err
		}
	}
	return r, nil
}

// readLine reads ONE line. The returned string is a copy.
func readLine(r *bufio.Reader) (string, error) {
	l, err := r.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || l == "") {
		return "", err
	}
	return strings.TrimRight(l, "\r\n"), nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
