package stats

import (
	"fmt"
	"io"
	"maps"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/mpmccode/mpmc/pkg/system"
)

// Aggregate combines the snapshots of every replica for one interval.
type Aggregate struct {
	Step     int `json:"step"`
	Replicas int `json:"replicas"`

	Mean   system.Observables `json:"mean"`   // Mean of the replicas' block means
	Spread system.Observables `json:"spread"` // Standard deviation across replicas

	Running    system.Observables `json:"running"`     // Mean over all intervals so far
	RunningErr system.Observables `json:"running_err"` // Its standard error

	Acceptance float64          `json:"acceptance"`
	Moves      map[string]Tally `json:"moves"`
	Singular   int              `json:"singular"`
}

// Root accumulates the aggregates of successive intervals.
type Root struct {
	history [numObs][]float64
	last    Aggregate
}

// Add aggregates the snapshots of one interval. They must all carry the same
// step.
func (r *Root) Add(snaps []Snapshot) (Aggregate, error) {
	if len(snaps) == 0 {
		return Aggregate{}, fmt.Errorf("no snapshot to aggregate")
	}

	agg := Aggregate{Step: snaps[0].Step, Replicas: len(snaps), Moves: make(map[string]Tally)}
	var cols [numObs][]float64
	var tot Tally
	for _, s := range snaps {
		if s.Step != agg.Step {
			return Aggregate{}, fmt.Errorf("snapshot of step %d in interval %d", s.Step, agg.Step)
		}
		v := toVec(s.Block)
		for k := range v {
			cols[k] = append(cols[k], v[k])
		}
		for kind, t := range s.Moves {
			m := agg.Moves[kind]
			m.Accepted += t.Accepted
			m.Rejected += t.Rejected
			agg.Moves[kind] = m
			tot.Accepted += t.Accepted
			tot.Rejected += t.Rejected
		}
		agg.Singular += s.Singular
	}
	agg.Acceptance = tot.Rate()

	var mean, spread, running, runErr [numObs]float64
	for k, c := range cols {
		if len(c) > 1 {
			mean[k], spread[k] = stat.MeanStdDev(c, nil)
		} else {
			mean[k] = c[0]
		}
		r.history[k] = append(r.history[k], mean[k])

		h := r.history[k]
		if len(h) > 1 {
			var sd float64
			running[k], sd = stat.MeanStdDev(h, nil)
			runErr[k] = sd / math.Sqrt(float64(len(h)))
		} else {
			running[k] = h[0]
		}
	}
	agg.Mean = fromVec(mean)
	agg.Spread = fromVec(spread)
	agg.Running = fromVec(running)
	agg.RunningErr = fromVec(runErr)

	r.last = agg
	return agg, nil
}

// Last returns the latest aggregate.
func (r *Root) Last() Aggregate {
	return r.last
}

// Write writes a plain-text report of the latest aggregate.
func (r *Root) Write(w io.Writer) error {
	a := r.last
	rows := []struct {
		name string
		val  float64
		err  float64
	}{
		{"energy", a.Running.Energy, a.RunningErr.Energy},
		{"kinetic", a.Running.Kinetic, a.RunningErr.Kinetic},
		{"n", a.Running.N, a.RunningErr.N},
		{"volume", a.Running.Volume, a.RunningErr.Volume},
		{"spin_ratio", a.Running.SpinRatio, a.RunningErr.SpinRatio},
		{"cavity_open", a.Running.CavityOpen, a.RunningErr.CavityOpen},
	}

	if _, err := fmt.Fprintf(w, "# step %d, %d replicas\n", a.Step, a.Replicas); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintf(w, "%-12s %.6g +/- %.3g\n", row.name, row.val, row.err); err != nil {
			return err
		}
	}
	for _, kind := range slices.Sorted(maps.Keys(a.Moves)) {
		t := a.Moves[kind]
		if _, err := fmt.Fprintf(w, "%-12s %d/%d accepted (%.4f)\n", kind, t.Accepted, t.Accepted+t.Rejected, t.Rate()); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%-12s %.4f\n", "acceptance", a.Acceptance)
	return err
}
