package cosim

import "math/rand/v2"

// Transformer converts an update from one party's native representation into
// the other's. Implementations hold only immutable configuration; any
// randomness comes from rng, which the orchestrator owns and seeds.
type Transformer interface {
	Transform(update *CouplingUpdate, rng *rand.Rand) (*CouplingUpdate, error)
}

// TransformerFunc adapts a function to Transformer.
type TransformerFunc func(update *CouplingUpdate, rng *rand.Rand) (*CouplingUpdate, error)

func (f TransformerFunc) Transform(update *CouplingUpdate, rng *rand.Rand) (*CouplingUpdate, error) {
	return f(update, rng)
}

// PassThrough is the transformer of an unconfigured direction: it returns
// its input unchanged.
type PassThrough struct{}

func (PassThrough) Transform(update *CouplingUpdate, _ *rand.Rand) (*CouplingUpdate, error) {
	return update, nil
}

// Stream identifiers keep the generators of different consumers independent
// while sharing one run seed.
const (
	StreamEngine uint64 = iota + 1
	StreamTransformer
	StreamRelay
)

// NewRand returns the deterministic generator for one stream of a run.
func NewRand(seed, stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, stream))
}
