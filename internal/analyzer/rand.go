package analyzer

import "math/rand/v2"

// Rand is the randomness source used by the simulated providers. Tests swap
// in a deterministic implementation.
type Rand interface {
	IntN(n int) int
	Float64() float64
}

type defaultRand struct{}

func (defaultRand) IntN(n int) int   { return rand.IntN(n) }
func (defaultRand) Float64() float64 { return rand.Float64() }

// NewRand returns the default randomness source.
func NewRand() Rand { return defaultRand{} }
