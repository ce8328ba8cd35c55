package pixeldino

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/forever-ezio/PixelDINO-test/checkpoint"
	"github.com/forever-ezio/PixelDINO-test/training"
)

// ConsistencyDriver adapts the consistency trainer and its rolling state to
// the Driver interface.
type ConsistencyDriver struct {
	trainer *training.ConsistencyTrainer
	state   *training.State
}

// NewConsistencyDriver starts from a fresh state seeded with modelSeed.
func NewConsistencyDriver(trainer *training.ConsistencyTrainer, modelSeed int64) *ConsistencyDriver {
	return &ConsistencyDriver{trainer: trainer, state: trainer.Init(modelSeed)}
}

// ResumeConsistencyDriver starts from a checkpoint.
func ResumeConsistencyDriver(trainer *training.ConsistencyTrainer, path string) (*ConsistencyDriver, error) {
	state, err := checkpoint.LoadTraining(path)
	if err != nil {
		return nil, err
	}
	if err := trainer.Restore(state); err != nil {
		return nil, err
	}
	return &ConsistencyDriver{trainer: trainer, state: state}, nil
}

func (d *ConsistencyDriver) Step(key *tensors.Tensor, imgL, maskL, imgU *tensors.Tensor) (training.Metrics, error) {
	next, metrics, err := d.trainer.Step(d.state, key, imgL, maskL, imgU)
	if err != nil {
		return nil, err
	}
	d.state = next
	return metrics, nil
}

func (d *ConsistencyDriver) Eval(img, mask *tensors.Tensor) (*tensors.Tensor, training.Metrics, error) {
	return d.trainer.Evaluator().Eval(d.state.Params, img, mask)
}

func (d *ConsistencyDriver) StepCount() int { return d.state.Step }

func (d *ConsistencyDriver) Save(path string) error {
	return checkpoint.SaveTraining(path, d.state)
}

// AdversarialDriver adapts the adversarial trainer to the Driver interface.
type AdversarialDriver struct {
	trainer *training.AdversarialTrainer
	state   *training.AdversarialState
}

// NewAdversarialDriver starts from a fresh state seeded with modelSeed.
func NewAdversarialDriver(trainer *training.AdversarialTrainer, modelSeed int64) *AdversarialDriver {
	return &AdversarialDriver{trainer: trainer, state: trainer.Init(modelSeed)}
}

// ResumeAdversarialDriver starts from a checkpoint.
func ResumeAdversarialDriver(trainer *training.AdversarialTrainer, path string) (*AdversarialDriver, error) {
	state, err := checkpoint.LoadAdversarial(path)
	if err != nil {
		return nil, err
	}
	if err := trainer.Restore(state); err != nil {
		return nil, err
	}
	return &AdversarialDriver{trainer: trainer, state: state}, nil
}

func (d *AdversarialDriver) Step(key *tensors.Tensor, imgL, maskL, imgU *tensors.Tensor) (training.Metrics, error) {
	next, metrics, err := d.trainer.Step(d.state, key, imgL, maskL, imgU)
	if err != nil {
		return nil, err
	}
	d.state = next
	return metrics, nil
}

func (d *AdversarialDriver) Eval(img, mask *tensors.Tensor) (*tensors.Tensor, training.Metrics, error) {
	return d.trainer.Evaluator().Eval(d.state.Params, img, mask)
}

func (d *AdversarialDriver) StepCount() int { return d.state.Step }

func (d *AdversarialDriver) Save(path string) error {
	return checkpoint.SaveAdversarial(path, d.state)
}
