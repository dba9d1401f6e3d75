package ident

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Rng is a mutex-guarded pseudo-random source for jitter and sampling.
type Rng struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRng returns an Rng seeded with seed.
func NewRng(seed uint64) *Rng {
	return &Rng{r: rand.New(rand.NewPCG(seed, seed>>1|1))}
}

// Float64 returns a value in [0, 1).
func (r *Rng) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.Float64()
}

// IntN returns a value in [0, n). It panics if n <= 0.
func (r *Rng) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.IntN(n)
}

// Jitter returns d scaled by a random factor in [1-frac, 1+frac].
// frac is clamped to [0, 1].
func (r *Rng) Jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 || d <= 0 {
		return d
	}
	if frac > 1 {
		frac = 1
	}
	f := 1 - frac + 2*frac*r.Float64()
	return time.Duration(float64(d) * f)
}

// Sample reports true with probability p.
func (r *Rng) Sample(p float64) bool {
	switch {
	case p <= 0:
		return false
	case p >= 1:
		return true
	}
	return r.Float64() < p
}
