package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forever-ezio/PixelDINO-test/training"
)

func someTensors(vals ...float32) []*tensors.Tensor {
	out := make([]*tensors.Tensor, len(vals))
	for i, v := range vals {
		out[i] = tensors.FromValue([][]float32{{v, v + 1}, {v + 2, v + 3}})
	}
	return out
}

func TestTrainingRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), LatestName)
	state := &training.State{
		Step:   1234,
		Params: someTensors(1, 2, 3),
		Opt:    someTensors(10),
	}
	require.NoError(t, SaveTraining(path, state))

	loaded, err := LoadTraining(path)
	require.NoError(t, err)
	assert.Equal(t, 1234, loaded.Step)
	require.Len(t, loaded.Params, 3)
	require.Len(t, loaded.Opt, 1)
	for i, p := range state.Params {
		assert.True(t, p.Equal(loaded.Params[i]), "param %d", i)
	}
	assert.True(t, state.Opt[0].Equal(loaded.Opt[0]))
}

func TestAdversarialRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), StepName(500))
	state := &training.AdversarialState{
		Step:    500,
		Params:  someTensors(1),
		Opt:     someTensors(2, 3),
		DParams: someTensors(4),
		DOpt:    someTensors(5, 6),
	}
	require.NoError(t, SaveAdversarial(path, state))

	loaded, err := LoadAdversarial(path)
	require.NoError(t, err)
	assert.Equal(t, 500, loaded.Step)
	assert.True(t, state.DParams[0].Equal(loaded.DParams[0]))
	require.Len(t, loaded.DOpt, 2)
}

func TestKindMismatchIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), LatestName)
	state := &training.State{Params: someTensors(1), Opt: someTensors(2)}
	require.NoError(t, SaveTraining(path, state))

	_, err := LoadAdversarial(path)
	assert.ErrorContains(t, err, "different training variant")
}

func TestSaveLeavesNoTemporaries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, LatestName)
	state := &training.State{Params: someTensors(1), Opt: someTensors(2)}
	require.NoError(t, SaveTraining(path, state))
	// Overwrite is atomic through the same rename path.
	require.NoError(t, SaveTraining(path, state))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, LatestName, entries[0].Name())
}

func TestStepName(t *testing.T) {
	assert.Equal(t, "step_0002500.ckpt", StepName(2500))
}
