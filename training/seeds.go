package training

import (
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// KeyChain deterministically produces one independent random key per step by
// repeatedly splitting a root state derived from a seed. Same seed, same key
// sequence, always.
type KeyChain struct {
	split *graph.Exec
	state *tensors.Tensor
}

// NewKeyChain builds a chain rooted at seed.
func NewKeyChain(backend backends.Backend, seed int64) (*KeyChain, error) {
	state := graph.RngStateFromSeed(seed)
	split := graph.MustNewExec(backend, func(state *graph.Node) (next, sub *graph.Node) {
		return graph.RngStateSplit(state)
	})
	return &KeyChain{split: split, state: state}, nil
}

// Next advances the chain and returns a fresh key. The returned key is
// independent of every other key the chain hands out.
func (k *KeyChain) Next() *tensors.Tensor {
	next, sub := k.split.MustExec2(k.state)
	k.state = next
	return sub
}
