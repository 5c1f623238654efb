package taskfile

import (
	"fmt"
	"math/rand/v2"

	"github.com/zjrosen/sortpool/internal/protocol"
)

// MaxGeneratedSize caps generated inputs.
const MaxGeneratedSize = 1_000_000

// Generator kinds.
const (
	KindRandom     = "random"
	KindSorted     = "sorted"
	KindReversed   = "reversed"
	KindFewUnique  = "few-unique"
	fewUniqueCount = 5
)

// Generator describes a synthetic input.
type Generator struct {
	Kind string `yaml:"kind" json:"kind"`
	Size int    `yaml:"size" json:"size"`
	Seed uint64 `yaml:"seed" json:"seed"`
}

// Generate builds the input. The same seed always yields the same data.
func (g Generator) Generate() ([]protocol.Element, error) {
	if g.Size < 0 || g.Size > MaxGeneratedSize {
		return nil, fmt.Errorf("generate: size %d outside [0,%d]", g.Size, MaxGeneratedSize)
	}

	rng := rand.New(rand.NewPCG(g.Seed, g.Seed^0x9e3779b97f4a7c15))
	out := make([]protocol.Element, g.Size)
	switch g.Kind {
	case KindRandom, "":
		for i := range out {
			out[i] = protocol.Num(float64(rng.IntN(g.Size*10 + 1)))
		}
	case KindSorted:
		for i := range out {
			out[i] = protocol.Num(float64(i + 1))
		}
	case KindReversed:
		for i := range out {
			out[i] = protocol.Num(float64(g.Size - i))
		}
	case KindFewUnique:
		for i := range out {
			out[i] = protocol.Num(float64(rng.IntN(fewUniqueCount)))
		}
	default:
		return nil, fmt.Errorf("generate: unknown kind %q (random, sorted, reversed, few-unique)", g.Kind)
	}
	return out, nil
}
