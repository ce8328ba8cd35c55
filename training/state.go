// Package training implements the semi-supervised training and evaluation
// steps as pure state transitions.
//
// A step is a compiled graph function: it takes the explicit random state, the
// batch tensors and the flattened model/optimizer state, and returns the
// successor state plus a record of scalar metrics. Nothing is mutated; the
// previous state stays valid (and checkpointable) after the step returns.
package training

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// State is the complete state of a consistency training run: the segmenter
// parameters and the optimizer slots that accompany them. Step counts how many
// transitions produced it.
//
// States are immutable by convention: transitions build a new State and share
// the tensors that did not change.
type State struct {
	Step   int
	Params []*tensors.Tensor
	Opt    []*tensors.Tensor
}

// Next returns the successor state, carrying over whichever of params or opt
// is nil.
func (s *State) Next(params, opt []*tensors.Tensor) *State {
	n := &State{Step: s.Step + 1, Params: s.Params, Opt: s.Opt}
	if params != nil {
		n.Params = params
	}
	if opt != nil {
		n.Opt = opt
	}
	return n
}

// AdversarialState extends State with the discriminator half of the
// adversarial variant.
type AdversarialState struct {
	Step    int
	Params  []*tensors.Tensor
	Opt     []*tensors.Tensor
	DParams []*tensors.Tensor
	DOpt    []*tensors.Tensor
}

// Next returns the successor state; nil slices carry over unchanged.
func (s *AdversarialState) Next(params, opt, dParams, dOpt []*tensors.Tensor) *AdversarialState {
	n := &AdversarialState{
		Step: s.Step + 1, Params: s.Params, Opt: s.Opt,
		DParams: s.DParams, DOpt: s.DOpt,
	}
	if params != nil {
		n.Params = params
	}
	if opt != nil {
		n.Opt = opt
	}
	if dParams != nil {
		n.DParams = dParams
	}
	if dOpt != nil {
		n.DOpt = dOpt
	}
	return n
}
