// Package cfg decodes and checks the YAML configuration of a run and builds
// the state of its replicas.
package cfg

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mpmccode/mpmc/pkg/energy"
	"github.com/mpmccode/mpmc/pkg/geom"
	"github.com/mpmccode/mpmc/pkg/mc"
	"github.com/mpmccode/mpmc/pkg/replica"
	"github.com/mpmccode/mpmc/pkg/system"
	"github.com/mpmccode/mpmc/pkg/traj/lammpstrj"
)

// Model is the energy model of a run.
type Model string

// Here are the accepted models. Ideal is the non-interacting gas, LJ the
// 12-6 Lennard-Jones potential.
var (
	MIdeal Model = "ideal"
	MLJ    Model = "lj"
)

// Cfg is a structure containing the parameters specified in the configuration
// file. It can be instanced through the New function or by "hand". If it is
// instanced by hand, please use the Check method to check if the Cfg meets the
// requirements.
type Cfg struct {
	// Ensemble is one of uvt, nvt, npt and nve
	Ensemble string `yaml:"ensemble"`

	// Temperature is in K
	Temperature float64 `yaml:"temperature"`

	// Pressure is in atm. It is the fugacity of a lone species without one
	// and the external pressure of the npt ensemble
	Pressure float64 `yaml:"pressure"`

	// TotalEnergy is the energy of the nve ensemble, in K
	TotalEnergy float64 `yaml:"total_energy"`

	Steps    int    `yaml:"steps"`
	Corrtime int    `yaml:"corrtime"`
	Seed     uint64 `yaml:"seed"`
	Replicas int    `yaml:"replicas"`

	// FlagEvery is the number of steps between two full recomputations of
	// the energy. 0 disables them
	FlagEvery int `yaml:"flag_every"`

	// Box holds the lattice vectors as columns
	Box [3][3]float64 `yaml:"box"`

	Moves     Moves      `yaml:"moves"`
	Cavity    Cavity     `yaml:"cavity"`
	Energy    Energy     `yaml:"energy"`
	Species   []Species  `yaml:"species"`
	Molecules []Molecule `yaml:"molecules"`

	// Init is an optional lammpstrj file whose first frame overrides the
	// positions of the atoms
	Init string `yaml:"init"`

	Output Output `yaml:"output"`

	ens system.Ensemble
}

// Moves are the move parameters.
type Moves struct {
	Translate           float64 `yaml:"translate"`
	Rotate              float64 `yaml:"rotate"`
	Adiabatic           float64 `yaml:"adiabatic"`
	InsertProbability   float64 `yaml:"insert_probability"`
	SpinflipProbability float64 `yaml:"spinflip_probability"`
	VolumeProbability   float64 `yaml:"volume_probability"`
	VolumeScale         float64 `yaml:"volume_scale"`
}

// Cavity configures the cavity-biased insertions.
type Cavity struct {
	Enabled bool `yaml:"enabled"`
	Grid    int  `yaml:"grid"`
}

// Energy selects the energy model.
type Energy struct {
	Model  Model   `yaml:"model"`
	Cutoff float64 `yaml:"cutoff"`
}

// Species is a molecule template.
type Species struct {
	Name       string  `yaml:"name"`
	Fugacity   float64 `yaml:"fugacity"`
	Insertable bool    `yaml:"insertable"`
	Spin       string  `yaml:"spin"`
	PartFuncG  float64 `yaml:"partfunc_g"`
	PartFuncU  float64 `yaml:"partfunc_u"`
	Atoms      []Atom  `yaml:"atoms"`
}

// Atom is a site of a species. Pos is relative to the other sites.
type Atom struct {
	Type           string     `yaml:"type"`
	Pos            [3]float64 `yaml:"pos"`
	Mass           float64    `yaml:"mass"`
	Charge         float64    `yaml:"charge"`
	Sigma          float64    `yaml:"sigma"`
	Epsilon        float64    `yaml:"epsilon"`
	Polarizability float64    `yaml:"polarizability"`
}

// Molecule places one molecule of the initial configuration.
type Molecule struct {
	Species   string     `yaml:"species"`
	COM       [3]float64 `yaml:"com"`
	Frozen    bool       `yaml:"frozen"`
	Adiabatic bool       `yaml:"adiabatic"`
	Spin      string     `yaml:"spin"`
}

// Output names the sinks of a run. Empty fields disable them.
type Output struct {
	DB      string `yaml:"db"`
	Traj    string `yaml:"traj"`
	Metrics string `yaml:"metrics"`
}

// New opens and decodes the specified configuration file. The file must be
// a YAML file. This function automatically calls the Check method to check
// the integrity of Cfg.
func New(path string) (*Cfg, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Decode(bufio.NewReader(f))
}

// Decode decodes and checks a configuration.
func Decode(r io.Reader) (*Cfg, error) {
	var c Cfg
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty configuration: %w", mc.ErrConfig)
		}
		return nil, fmt.Errorf("%w: %w", mc.ErrConfig, err)
	}

	if err := c.Check(); err != nil {
		return nil, fmt.Errorf("Check: %w", err)
	}
	return &c, nil
}

// Check checks if Cfg is correct and fills the defaults. It returns an error
// wrapping mc.ErrConfig if a field doesn't meet the requirements.
func (c *Cfg) Check() error {
	if err := c.check(); err != nil {
		return fmt.Errorf("%w: %w", mc.ErrConfig, err)
	}
	return nil
}

func (c *Cfg) check() error {
	var err error
	if c.ens, err = system.ParseEnsemble(c.Ensemble); err != nil {
		return err
	}

	if !(c.Temperature > 0) {
		return fmt.Errorf("temperature must be greater than 0")
	}
	if c.Steps < 0 {
		return fmt.Errorf("steps cannot be lower than 0")
	}
	if c.Corrtime <= 0 {
		return fmt.Errorf("corrtime must be greater than 0")
	}
	if c.Replicas == 0 {
		c.Replicas = 1
	}
	if c.Replicas < 0 {
		return fmt.Errorf("replicas cannot be lower than 0")
	}
	if c.FlagEvery < 0 {
		return fmt.Errorf("flag_every cannot be lower than 0")
	}
	if _, err := geom.NewBox(c.Box); err != nil {
		return fmt.Errorf("box: %w", err)
	}
	if c.Output.Traj != "" {
		if err := lammpstrj.CheckBasis(c.Box); err != nil {
			return fmt.Errorf("traj: %w", err)
		}
	}
	if c.ens == system.NPT && !(c.Pressure > 0) {
		return fmt.Errorf("the npt ensemble needs a pressure greater than 0")
	}

	switch c.Energy.Model {
	case "":
		c.Energy.Model = MLJ
	case MLJ, MIdeal:
	default:
		return fmt.Errorf("unsupported energy model %q", c.Energy.Model)
	}
	if c.Energy.Cutoff < 0 {
		return fmt.Errorf("energy cutoff cannot be lower than 0")
	}

	if _, err := mc.NewDispatch(c.ens, c.Params()); err != nil {
		return err
	}
	if err := c.checkSpecies(); err != nil {
		return err
	}

	for k, m := range c.Molecules {
		sp := c.species(m.Species)
		if sp == nil {
			return fmt.Errorf("molecule %d: unknown species %q", k, m.Species)
		}
		if m.Frozen && sp.Insertable {
			return fmt.Errorf("molecule %d: insertable species %q cannot be frozen", k, m.Species)
		}
		if c.removes() && !m.Frozen && !sp.Insertable {
			return fmt.Errorf("molecule %d: species %q must be frozen or insertable in the uvt ensemble", k, m.Species)
		}
		if _, err := system.ParseSpin(m.Spin); err != nil {
			return fmt.Errorf("molecule %d: %w", k, err)
		}
	}
	return nil
}

func (c *Cfg) checkSpecies() error {
	var insertable []*Species
	seen := make(map[string]bool)
	for k := range c.Species {
		sp := &c.Species[k]
		if sp.Name == "" {
			return fmt.Errorf("species %d has no name", k)
		}
		if seen[sp.Name] {
			return fmt.Errorf("species %q is defined twice", sp.Name)
		}
		seen[sp.Name] = true
		if len(sp.Atoms) == 0 {
			return fmt.Errorf("species %q has no atoms", sp.Name)
		}
		if _, err := system.ParseSpin(sp.Spin); err != nil {
			return fmt.Errorf("species %q: %w", sp.Name, err)
		}
		if sp.PartFuncG < 0 || sp.PartFuncU < 0 {
			return fmt.Errorf("species %q: partition functions cannot be lower than 0", sp.Name)
		}
		if sp.Insertable {
			insertable = append(insertable, sp)
		}
	}

	if !c.removes() {
		return nil
	}
	if len(insertable) == 0 {
		return fmt.Errorf("the uvt ensemble needs an insertable species")
	}
	if len(insertable) == 1 && insertable[0].Fugacity == 0 {
		insertable[0].Fugacity = c.Pressure
	}
	for _, sp := range insertable {
		if !(sp.Fugacity > 0) {
			return fmt.Errorf("species %q needs a fugacity greater than 0", sp.Name)
		}
	}
	return nil
}

// removes reports whether molecules can be inserted and removed.
func (c *Cfg) removes() bool {
	return c.ens == system.UVT && c.Moves.InsertProbability > 0
}

func (c *Cfg) species(name string) *Species {
	for k := range c.Species {
		if c.Species[k].Name == name {
			return &c.Species[k]
		}
	}
	return nil
}

// Ens returns the parsed ensemble. It is only valid after Check.
func (c *Cfg) Ens() system.Ensemble {
	return c.ens
}

// Params returns the move parameters.
func (c *Cfg) Params() mc.Params {
	return mc.Params{
		Translate:           c.Moves.Translate,
		Rotate:              c.Moves.Rotate,
		Adiabatic:           c.Moves.Adiabatic,
		InsertProbability:   c.Moves.InsertProbability,
		SpinflipProbability: c.Moves.SpinflipProbability,
		VolumeProbability:   c.Moves.VolumeProbability,
		VolumeScale:         c.Moves.VolumeScale,
		Cavity:              c.Cavity.Enabled,
		CavityGrid:          c.Cavity.Grid,
	}
}

// Marshal encodes c back to YAML.
func (c *Cfg) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Replica is what a driver needs to run one replica.
type Replica struct {
	System  *system.System
	Energy  mc.Energy
	Options mc.Options
}

// Build returns a fresh state for replica rank. Every call returns new
// molecules and templates so that replicas share nothing.
func (c *Cfg) Build(rank int) (*Replica, error) {
	b, err := geom.NewBox(c.Box)
	if err != nil {
		return nil, err
	}
	s := system.New(c.ens, b)
	s.Temperature = c.Temperature
	s.Pressure = c.Pressure
	s.TotalEnergy = c.TotalEnergy

	species := make([]*mc.Species, len(c.Species))
	for k := range c.Species {
		sp := &c.Species[k]
		tpl, err := sp.molecule()
		if err != nil {
			return nil, err
		}
		species[k] = &mc.Species{Name: sp.Name, Fugacity: sp.Fugacity, Insertable: sp.Insertable, Template: tpl}
	}

	for k, m := range c.Molecules {
		sp := c.species(m.Species)
		if sp == nil {
			return nil, fmt.Errorf("molecule %d: unknown species %q: %w", k, m.Species, mc.ErrConfig)
		}
		mol, err := sp.molecule()
		if err != nil {
			return nil, err
		}
		if m.Spin != "" {
			if mol.Spin, err = system.ParseSpin(m.Spin); err != nil {
				return nil, fmt.Errorf("molecule %d: %w: %w", k, mc.ErrConfig, err)
			}
		}
		mol.ID = s.NewID()
		mol.Frozen = m.Frozen
		mol.Adiabatic = m.Adiabatic
		for _, a := range mol.Atoms {
			a.ID = s.NewAtomID()
			a.Frozen = m.Frozen
		}
		mol.UpdateCOM()
		mol.Translate(geom.Vec3(m.COM).Sub(mol.COM))
		s.Append(mol)
	}

	if c.Init != "" {
		if err := c.load(s); err != nil {
			return nil, fmt.Errorf("init %s: %w", c.Init, err)
		}
	}

	var e mc.Energy
	switch c.Energy.Model {
	case MIdeal:
		e = energy.Ideal{}
	default:
		e = energy.LennardJones{Cutoff: c.Energy.Cutoff}
	}

	return &Replica{
		System: s,
		Energy: e,
		Options: mc.Options{
			Rank:      rank,
			Steps:     c.Steps,
			Corrtime:  c.Corrtime,
			FlagEvery: c.FlagEvery,
			Params:    c.Params(),
			Species:   species,
			Rand:      replica.Rand(c.Seed, rank),
		},
	}, nil
}

// load overrides the atom positions of s with the first frame of the init
// trajectory. Atoms are matched in order.
func (c *Cfg) load(s *system.System) error {
	f, err := os.Open(c.Init)
	if err != nil {
		return err
	}
	defer f.Close()

	fr, err := lammpstrj.Read(bufio.NewReader(f))
	if err != nil {
		return err
	}
	if len(fr.Rows) != s.NumAtoms() {
		return fmt.Errorf("frame has %d atoms, the configuration %d: %w", len(fr.Rows), s.NumAtoms(), mc.ErrConfig)
	}

	k := 0
	for _, a := range s.Atoms() {
		a.Pos = fr.Rows[k].Pos
		k++
	}
	s.UpdateCOM()
	return nil
}

// molecule returns a new molecule of the species, with its sites at their
// template positions.
func (sp *Species) molecule() (*system.Molecule, error) {
	spin, err := system.ParseSpin(sp.Spin)
	if err != nil {
		return nil, fmt.Errorf("species %q: %w: %w", sp.Name, mc.ErrConfig, err)
	}
	m := &system.Molecule{
		Type:      sp.Name,
		Spin:      spin,
		PartFuncG: sp.PartFuncG,
		PartFuncU: sp.PartFuncU,
	}
	for _, a := range sp.Atoms {
		m.Atoms = append(m.Atoms, &system.Atom{
			Type:           a.Type,
			Mass:           a.Mass,
			Charge:         a.Charge,
			Sigma:          a.Sigma,
			Epsilon:        a.Epsilon,
			Polarizability: a.Polarizability,
			Pos:            a.Pos,
		})
	}
	m.UpdateCOM()
	return m, nil
}
