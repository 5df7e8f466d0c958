package attributes

import (
	"math/rand/v2"
	"sync"
)

// RandomSource supplies the draws attribute synthesis consumes. Tests pass a
// fixed sequence.
type RandomSource interface {
	// Float64 returns a value in [0.0, 1.0).
	Float64() float64
	// IntN returns a value in [0, n).
	IntN(n int) int
}

type globalSource struct{}

// NewRandomSource draws from the process-wide generator, which is safe for
// concurrent use.
func NewRandomSource() RandomSource {
	return globalSource{}
}

func (globalSource) Float64() float64 { return rand.Float64() }
func (globalSource) IntN(n int) int   { return rand.IntN(n) }

type seededSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSeededSource returns a reproducible source for a single draw sequence.
func NewSeededSource(seed uint64) RandomSource {
	return &seededSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *seededSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *seededSource) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}
