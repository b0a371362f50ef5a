// Package stats accumulates the per-replica statistics of a Markov chain and
// aggregates them across replicas.
package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/mpmccode/mpmc/pkg/system"
)

// Tally counts the outcomes of one move type.
type Tally struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// Rate returns the acceptance rate, or 0 when nothing was tried.
func (t Tally) Rate() float64 {
	n := t.Accepted + t.Rejected
	if n == 0 {
		return 0
	}
	return float64(t.Accepted) / float64(n)
}

// Snapshot is the state of a replica at the end of a correlation interval.
type Snapshot struct {
	Step int `json:"step"`

	Current system.Observables `json:"current"` // Last observed values
	Block   system.Observables `json:"block"`   // Mean over the interval just closed
	Mean    system.Observables `json:"mean"`    // Running mean over all steps
	StdErr  system.Observables `json:"stderr"`  // Standard error from the block means

	Acceptance float64          `json:"acceptance"`
	Moves      map[string]Tally `json:"moves"`
	Singular   int              `json:"singular"` // Moves rejected on a non-finite energy
}

// Node accumulates the statistics of one replica. A block is the set of steps
// between two snapshots.
type Node struct {
	moves    map[string]*Tally
	singular int

	n   int
	sum [numObs]float64

	blockN   int
	blockSum [numObs]float64
	blocks   [numObs][]float64
}

// NewNode returns an empty accumulator.
func NewNode() *Node {
	return &Node{moves: make(map[string]*Tally)}
}

// Accept records an accepted move of type kind.
func (n *Node) Accept(kind string) {
	n.tally(kind).Accepted++
}

// Reject records a rejected move of type kind.
func (n *Node) Reject(kind string) {
	n.tally(kind).Rejected++
}

// Singular records a move rejected because its energy was not finite.
func (n *Node) Singular() {
	n.singular++
}

func (n *Node) tally(kind string) *Tally {
	t, ok := n.moves[kind]
	if !ok {
		t = &Tally{}
		n.moves[kind] = t
	}
	return t
}

// Track adds the observables of one step.
func (n *Node) Track(o system.Observables) {
	v := toVec(o)
	for k := range v {
		n.sum[k] += v[k]
		n.blockSum[k] += v[k]
	}
	n.n++
	n.blockN++
}

// Snapshot closes the current block and returns the statistics so far.
func (n *Node) Snapshot(step int, current system.Observables) Snapshot {
	var block [numObs]float64
	if n.blockN > 0 {
		for k := range n.blockSum {
			block[k] = n.blockSum[k] / float64(n.blockN)
			n.blocks[k] = append(n.blocks[k], block[k])
			n.blockSum[k] = 0
		}
		n.blockN = 0
	}

	var mean, stderr [numObs]float64
	if n.n > 0 {
		for k := range n.sum {
			mean[k] = n.sum[k] / float64(n.n)
		}
	}
	for k, b := range n.blocks {
		if len(b) < 2 {
			continue
		}
		_, sd := stat.MeanStdDev(b, nil)
		stderr[k] = sd / math.Sqrt(float64(len(b)))
	}

	snap := Snapshot{
		Step:     step,
		Current:  current,
		Block:    fromVec(block),
		Mean:     fromVec(mean),
		StdErr:   fromVec(stderr),
		Moves:    make(map[string]Tally, len(n.moves)),
		Singular: n.singular,
	}
	var tot Tally
	for kind, t := range n.moves {
		snap.Moves[kind] = *t
		tot.Accepted += t.Accepted
		tot.Rejected += t.Rejected
	}
	snap.Acceptance = tot.Rate()
	return snap
}

const numObs = 6

func toVec(o system.Observables) [numObs]float64 {
	return [numObs]float64{o.Energy, o.Kinetic, o.N, o.Volume, o.SpinRatio, o.CavityOpen}
}

func fromVec(v [numObs]float64) system.Observables {
	return system.Observables{
		Energy:     v[0],
		Kinetic:    v[1],
		N:          v[2],
		Volume:     v[3],
		SpinRatio:  v[4],
		CavityOpen: v[5],
	}
}
