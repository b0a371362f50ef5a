package mc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"github.com/mpmccode/mpmc/pkg/pairs"
	"github.com/mpmccode/mpmc/pkg/stats"
	"github.com/mpmccode/mpmc/pkg/system"
)

// maxEnergy replaces a non-finite initial energy so that the first accepted
// move can bring the chain back to a finite state.
const maxEnergy = 1e40

// Energy evaluates the potential energy of a system, in K. Implementations
// may cache per-pair terms in the pair records and must clear the Dirty flag
// of every pair they recompute.
type Energy interface {
	Energy(s *system.System) float64
}

// Observer receives the events of a Markov chain. Step is called after every
// step, Interval at the end of every correlation interval.
type Observer interface {
	Step(rank, step int, kind MoveKind, accepted bool, obs system.Observables)
	Interval(rank, step int, s *system.System, snap stats.Snapshot) error
}

// Options configure a Driver.
type Options struct {
	Rank      int
	Steps     int
	Corrtime  int // Steps per correlation interval
	FlagEvery int // Steps between full energy recomputations, 0 for never

	Params   Params
	Species  []*Species
	Registry *pairs.Registry
	Rand     *rand.Rand

	Logger    *slog.Logger
	Observers []Observer
}

// Driver runs the Markov chain of one replica.
type Driver struct {
	sys    *system.System
	energy Energy
	prop   *Proposer
	eval   *Evaluator
	stats  *stats.Node
	opts   Options
	log    *slog.Logger
}

// NewDriver validates opts and returns a driver for s.
func NewDriver(s *system.System, e Energy, opts Options) (*Driver, error) {
	if s == nil || s.Box == nil {
		return nil, fmt.Errorf("no system: %w", ErrConfig)
	}
	if e == nil {
		return nil, fmt.Errorf("no energy function: %w", ErrConfig)
	}
	if opts.Steps < 0 {
		return nil, fmt.Errorf("steps %d: %w", opts.Steps, ErrConfig)
	}
	if opts.Corrtime <= 0 {
		return nil, fmt.Errorf("corrtime %d: %w", opts.Corrtime, ErrConfig)
	}
	if !(s.Temperature > 0) {
		return nil, fmt.Errorf("temperature %g: %w", s.Temperature, ErrConfig)
	}
	if opts.Registry == nil {
		opts.Registry = &pairs.Registry{}
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(uint64(opts.Rank), 0))
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	prop, err := NewProposer(s, opts.Params, opts.Registry, opts.Species, opts.Rand)
	if err != nil {
		return nil, err
	}

	return &Driver{
		sys:    s,
		energy: e,
		prop:   prop,
		eval:   NewEvaluator(prop),
		stats:  stats.NewNode(),
		opts:   opts,
		log:    opts.Logger.With("rank", opts.Rank),
	}, nil
}

// System returns the state driven by d.
func (d *Driver) System() *system.System {
	return d.sys
}

// Proposer returns the move proposer of d.
func (d *Driver) Proposer() *Proposer {
	return d.prop
}

// Rank returns the replica rank of d.
func (d *Driver) Rank() int {
	return d.opts.Rank
}

// Steps returns the number of steps d runs.
func (d *Driver) Steps() int {
	return d.opts.Steps
}

// Corrtime returns the number of steps per correlation interval.
func (d *Driver) Corrtime() int {
	return d.opts.Corrtime
}

// Observe adds an observer.
func (d *Driver) Observe(o Observer) {
	d.opts.Observers = append(d.opts.Observers, o)
}

// Init builds the pair lists and evaluates the initial energy.
func (d *Driver) Init() {
	s := d.sys
	d.opts.Registry.RebuildAll(s)
	pairs.Update(s)
	pairs.FlagAll(s)

	e := d.energy.Energy(s)
	if math.IsNaN(e) || math.IsInf(e, 0) {
		d.log.Warn("initial energy is not finite", "energy", e)
		e = maxEnergy
	}
	d.observe(e)
}

// Run initializes the chain and runs every step. The context is only checked
// between steps.
func (d *Driver) Run(ctx context.Context) error {
	d.Init()
	d.log.Info("starting chain", "ensemble", d.sys.Ensemble, "steps", d.opts.Steps,
		"molecules", d.sys.Len(), "energy", d.sys.Observables.Energy)

	for step := 1; step <= d.opts.Steps; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.Step(step); err != nil {
			return fmt.Errorf("step %d: %w", step, err)
		}
		if step%d.opts.Corrtime == 0 || step == d.opts.Steps {
			if err := d.interval(step); err != nil {
				return fmt.Errorf("step %d: %w", step, err)
			}
		}
	}
	return nil
}

// Step performs one Metropolis step: propose, evaluate, accept or restore.
func (d *Driver) Step(step int) error {
	s := d.sys

	if d.opts.FlagEvery > 0 && step%d.opts.FlagEvery == 0 {
		pairs.FlagAll(s)
		if e := d.energy.Energy(s); !math.IsNaN(e) && !math.IsInf(e, 0) {
			s.Observables.Energy = e
		}
	}

	mv, err := d.prop.Propose(s)
	var nc *NoCandidateError
	if errors.As(err, &nc) {
		d.stats.Reject(nc.Kind.String())
		d.stats.Track(s.Observables)
		d.notify(step, nc.Kind, false)
		return nil
	}
	if err != nil {
		return err
	}

	initial := s.Observables.Energy
	cp, err := d.prop.Apply(s, mv)
	if err != nil {
		return err
	}

	final := d.energy.Energy(s)
	d.observe(final)

	w, err := d.eval.Weight(s, cp, initial, final)
	if err != nil {
		return err
	}
	if math.IsNaN(final) || math.IsInf(final, 0) {
		d.stats.Singular()
		d.log.Debug("non-finite energy", "step", step, "move", mv.Kind())
	}

	accepted := d.opts.Rand.Float64() < w
	if accepted {
		d.stats.Accept(mv.Kind().String())
	} else {
		if err := d.prop.Restore(s, cp); err != nil {
			return err
		}
		d.stats.Reject(mv.Kind().String())
	}

	d.stats.Track(s.Observables)
	d.notify(step, mv.Kind(), accepted)
	return nil
}

func (d *Driver) interval(step int) error {
	snap := d.stats.Snapshot(step, d.sys.Observables)
	d.log.Debug("interval", "step", step, "energy", snap.Block.Energy, "n", snap.Block.N,
		"acceptance", snap.Acceptance)
	if snap.Singular > 0 {
		d.log.Warn("moves rejected on non-finite energy", "step", step, "count", snap.Singular)
	}
	for _, o := range d.opts.Observers {
		if err := o.Interval(d.opts.Rank, step, d.sys, snap); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) notify(step int, kind MoveKind, accepted bool) {
	for _, o := range d.opts.Observers {
		o.Step(d.opts.Rank, step, kind, accepted, d.sys.Observables)
	}
}

// observe refreshes the observables for the potential energy e.
func (d *Driver) observe(e float64) {
	s := d.sys
	o := &s.Observables
	o.Energy = e
	o.N = float64(s.Count())
	o.Volume = s.Box.Volume
	o.SpinRatio = s.SpinRatio()
	if s.Ensemble == system.NVE {
		o.Kinetic = s.TotalEnergy - e
	}
}
