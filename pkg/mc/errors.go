package mc

import (
	"errors"
	"fmt"
)

// Error classes of the Markov chain. ErrConfig and ErrInvariant are fatal;
// ErrNoCandidate only turns the proposed move into a rejection.
var (
	ErrConfig      = errors.New("configuration error")
	ErrInvariant   = errors.New("internal invariant violated")
	ErrNoCandidate = errors.New("no candidate molecule")
)

// NoCandidateError reports that a move of kind Kind had nothing to act on.
type NoCandidateError struct {
	Kind MoveKind
}

func (e *NoCandidateError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, ErrNoCandidate)
}

func (e *NoCandidateError) Unwrap() error {
	return ErrNoCandidate
}
