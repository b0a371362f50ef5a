// Package replica runs independent Markov chains in parallel and aggregates
// their statistics at every correlation interval.
//
// Replicas share nothing but the gather channel. Each one submits exactly one
// snapshot per interval; the collector aggregates an interval as soon as the
// snapshots of all replicas are in, and hands the aggregate to the sinks.
package replica

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mpmccode/mpmc/pkg/mc"
	"github.com/mpmccode/mpmc/pkg/stats"
	"github.com/mpmccode/mpmc/pkg/system"
)

// Sink receives the aggregate of every interval.
type Sink interface {
	Aggregate(ctx context.Context, run uuid.UUID, agg stats.Aggregate) error
}

// Builder returns the driver of replica rank.
type Builder func(rank int) (*mc.Driver, error)

// Runner launches replicas.
type Runner struct {
	ID     uuid.UUID
	Logger *slog.Logger
	Sinks  []Sink
}

// Rand returns the random stream of replica rank.
func Rand(seed uint64, rank int) *rand.Rand {
	return rand.New(rand.NewPCG(seed+uint64(rank), seed))
}

// Run launches n replicas under a fresh run identifier.
func Run(ctx context.Context, n int, build Builder, sinks ...Sink) (*stats.Root, error) {
	r := &Runner{ID: uuid.New(), Sinks: sinks}
	return r.Run(ctx, n, build)
}

type submission struct {
	rank int
	snap stats.Snapshot
}

// gather is the observer attached to every replica.
type gather struct {
	ctx context.Context
	ch  chan<- submission
}

func (g *gather) Step(rank, step int, kind mc.MoveKind, accepted bool, obs system.Observables) {}

func (g *gather) Interval(rank, step int, s *system.System, snap stats.Snapshot) error {
	select {
	case g.ch <- submission{rank, snap}:
		return nil
	case <-g.ctx.Done():
		return g.ctx.Err()
	}
}

// Run builds n drivers, runs them concurrently and aggregates their
// snapshots. It returns the root accumulator once every replica is done.
func (r *Runner) Run(ctx context.Context, n int, build Builder) (*stats.Root, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%d replicas: %w", n, mc.ErrConfig)
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	log := r.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	log = log.With("run", r.ID)

	drivers := make([]*mc.Driver, n)
	for rank := range drivers {
		d, err := build(rank)
		if err != nil {
			return nil, fmt.Errorf("replica %d: %w", rank, err)
		}
		drivers[rank] = d
	}

	g, gctx := errgroup.WithContext(ctx)
	ch := make(chan submission, n)

	var running sync.WaitGroup
	for _, d := range drivers {
		d.Observe(&gather{ctx: gctx, ch: ch})
		running.Add(1)
		g.Go(func() error {
			defer running.Done()
			if err := d.Run(gctx); err != nil {
				return fmt.Errorf("replica %d: %w", d.Rank(), err)
			}
			return nil
		})
	}
	go func() {
		running.Wait()
		close(ch)
	}()

	root := &stats.Root{}
	g.Go(func() error {
		pending := make(map[int][]submission)
		for sub := range ch {
			step := sub.snap.Step
			pending[step] = append(pending[step], sub)
			if len(pending[step]) < n {
				continue
			}

			subs := pending[step]
			delete(pending, step)
			// The replicas blocked on ch see gctx cancelled once this returns.
			if err := r.aggregate(gctx, root, subs); err != nil {
				return err
			}
		}
		if len(pending) > 0 && gctx.Err() == nil {
			return fmt.Errorf("%d intervals missing snapshots: %w", len(pending), mc.ErrInvariant)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return root, err
	}
	log.Info("run finished", "replicas", n, "step", root.Last().Step)
	return root, nil
}

func (r *Runner) aggregate(ctx context.Context, root *stats.Root, subs []submission) error {
	sort.Slice(subs, func(i, j int) bool { return subs[i].rank < subs[j].rank })
	snaps := make([]stats.Snapshot, len(subs))
	for k, sub := range subs {
		snaps[k] = sub.snap
	}

	agg, err := root.Add(snaps)
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}
	for _, s := range r.Sinks {
		if err := s.Aggregate(ctx, r.ID, agg); err != nil {
			return fmt.Errorf("sink: %w", err)
		}
	}
	return nil
}

// LogSink logs every aggregate.
type LogSink struct {
	Logger *slog.Logger
}

// Aggregate implements Sink.
func (l LogSink) Aggregate(ctx context.Context, run uuid.UUID, agg stats.Aggregate) error {
	l.Logger.InfoContext(ctx, "interval",
		"step", agg.Step,
		"replicas", agg.Replicas,
		"energy", agg.Mean.Energy,
		"n", agg.Mean.N,
		"volume", agg.Mean.Volume,
		"acceptance", agg.Acceptance,
		"running_energy", agg.Running.Energy,
		"running_n", agg.Running.N,
	)
	if agg.Singular > 0 {
		l.Logger.WarnContext(ctx, "non-finite energies rejected", "step", agg.Step, "count", agg.Singular)
	}
	return nil
}
