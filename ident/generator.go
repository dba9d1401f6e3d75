package ident

import (
	"encoding/binary"
	"io"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"
)

// Generator produces IDs. It is safe for concurrent use.
type Generator struct {
	mu     sync.Mutex
	src    io.Reader // nil selects crypto/rand
	seed   uint64
	seeded bool
	forks  uint64
}

// NewSecure returns a Generator backed by crypto/rand.
func NewSecure() *Generator {
	return &Generator{}
}

// NewSeeded returns a deterministic Generator. Use it only in tests.
func NewSeeded(seed uint64) *Generator {
	return &Generator{
		src:    rand.NewChaCha8(expand(seed, 0)),
		seed:   seed,
		seeded: true,
	}
}

// Seeded reports whether g is deterministic.
func (g *Generator) Seeded() bool {
	return g.seeded
}

// New returns a fresh ID. Like uuid.New, the secure path panics if
// crypto/rand fails.
func (g *Generator) New() ID {
	if !g.seeded {
		return ID(uuid.New())
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	u, err := uuid.NewRandomFromReader(g.src)
	if err != nil {
		// ChaCha8.Read never fails.
		panic(err)
	}
	return ID(u)
}

// Rng returns a pseudo-random source derived from g. Seeded generators
// derive deterministic sources: the n-th call on two generators with the
// same seed returns equivalent sources.
func (g *Generator) Rng() *Rng {
	if !g.seeded {
		return NewRng(rand.Uint64())
	}

	g.mu.Lock()
	g.forks++
	n := g.forks
	g.mu.Unlock()

	return &Rng{r: rand.New(rand.NewChaCha8(expand(g.seed, n)))}
}

// expand stretches a 64-bit seed into a ChaCha8 key. stream separates the
// ID stream from derived Rng streams.
func expand(seed, stream uint64) [32]byte {
	var key [32]byte
	pcg := rand.NewPCG(seed, stream^0x9e3779b97f4a7c15)
	for i := 0; i < len(key); i += 8 {
		binary.LittleEndian.PutUint64(key[i:], pcg.Uint64())
	}
	return key
}
