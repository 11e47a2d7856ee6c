package command

import (
	"fmt"
	"math/rand"
)

// IndexPolicy names the index set Read and Write draw from.
//
// The remote rejects index 4, so probing it exercises the remote's error
// path at the cost of halting the run on the first probe (a local error
// paired with a remote failure never matches under the comparison policy).
type IndexPolicy string

const (
	// IndexValidOnly draws indices from [0,4). The default.
	IndexValidOnly IndexPolicy = "valid-only"

	// IndexProbeOutOfBounds additionally includes the invalid index 4.
	IndexProbeOutOfBounds IndexPolicy = "probe-oob"
)

// DefaultIndexPolicy is used when no policy is configured.
const DefaultIndexPolicy = IndexValidOnly

// Indices returns the index choice set for the policy.
func (p IndexPolicy) Indices() ([]byte, error) {
	switch p {
	case IndexValidOnly:
		return []byte{0, 1, 2, 3}, nil
	case IndexProbeOutOfBounds:
		return []byte{0, 1, 2, 3, 4}, nil
	default:
		return nil, fmt.Errorf("unknown index policy %q", string(p))
	}
}

// Generator produces a reproducible stream of random commands.
//
// The generator owns its seeded rand.Rand; it is never a package global.
// Given the same seed and policy, the same call sequence yields the same
// command sequence. Not safe for concurrent use, which is fine: the runner
// is single-threaded.
type Generator struct {
	rng     *rand.Rand
	indices []byte
}

// NewGenerator creates a generator seeded with seed, drawing indices
// according to policy.
func NewGenerator(seed int64, policy IndexPolicy) (*Generator, error) {
	indices, err := policy.Indices()
	if err != nil {
		return nil, err
	}
	return &Generator{
		rng:     rand.New(rand.NewSource(seed)),
		indices: indices,
	}, nil
}

// Next draws the next command: a uniform choice among the four kinds, then
// uniform operands where the kind carries any.
func (g *Generator) Next() Command {
	switch Kind(g.rng.Intn(4) + 1) {
	case KindRead:
		return Read(g.pickIndex())
	case KindWrite:
		return Write(g.pickIndex(), byte(g.rng.Intn(256)))
	case KindSum:
		return Sum()
	default:
		return Product()
	}
}

func (g *Generator) pickIndex() byte {
	return g.indices[g.rng.Intn(len(g.indices))]
}
