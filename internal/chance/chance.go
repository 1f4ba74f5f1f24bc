// Package chance holds the one pseudo-random draw source a run uses.
// Every random decision (scheduling odds, corpus sampling, shuffling,
// Markov walks, stylistic mutators) goes through a Source so tests can
// substitute a deterministic sequence.
package chance

import (
	"math/rand/v2"
	"time"
)

// Source yields uniform integers in [0, n).
type Source interface {
	Intn(n int) int
}

type pcgSource struct {
	r *rand.Rand
}

// New returns a Source seeded with seed. Two sources with the same seed
// produce the same draws.
func New(seed uint64) Source {
	return &pcgSource{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewTimeSeeded returns a Source seeded from the wall clock.
func NewTimeSeeded() Source {
	return New(uint64(time.Now().UnixNano()))
}

func (s *pcgSource) Intn(n int) int {
	if n <= 1 {
		return 0
	}
	return s.r.IntN(n)
}

// Roll draws once from [0, odds) and reports whether the draw was 0, so a
// feature with odds N fires with probability 1/N. Odds of 1 always fire;
// odds <= 0 never fire and consume no draw.
func Roll(s Source, odds int) bool {
	if odds <= 0 {
		return false
	}
	return s.Intn(odds) == 0
}

// Shuffle permutes xs in place (Fisher-Yates).
func Shuffle[T any](s Source, xs []T) {
	for i := len(xs) - 1; i > 0; i-- {
		j := s.Intn(i + 1)
		xs[i], xs[j] = xs[j], xs[i]
	}
}

// Sample returns k elements of xs chosen uniformly without replacement.
// xs is not modified. If k >= len(xs) a shuffled copy of xs is returned.
func Sample[T any](s Source, xs []T, k int) []T {
	if k <= 0 || len(xs) == 0 {
		return nil
	}
	pool := make([]T, len(xs))
	copy(pool, xs)
	if k > len(pool) {
		k = len(pool)
	}
	// Partial Fisher-Yates: the first k slots end up as the sample.
	for i := 0; i < k; i++ {
		j := i + s.Intn(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:k]
}

// Pick returns one element of xs chosen uniformly.
func Pick[T any](s Source, xs []T) (T, bool) {
	var zero T
	if len(xs) == 0 {
		return zero, false
	}
	return xs[s.Intn(len(xs))], true
}
