// Package checkpoint persists training states as single-file snapshots.
//
// A checkpoint is a gob stream: a small header (format version, state kind,
// step, tensor group sizes) followed by every state tensor in order. Writes
// go to a temporary file in the same directory and are renamed into place, so
// an interrupted save never leaves a truncated checkpoint behind.
package checkpoint

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"

	"github.com/forever-ezio/PixelDINO-test/training"
)

// LatestName is the rolling checkpoint, overwritten at every validation.
const LatestName = "latest.ckpt"

// StepName is the stamped checkpoint kept at every image export.
func StepName(step int) string {
	return fmt.Sprintf("step_%07d.ckpt", step)
}

const formatVersion = 1

// State kinds.
const (
	kindTraining    = 1
	kindAdversarial = 2
)

type header struct {
	Version int
	Kind    int
	Step    int
	Groups  []int
}

func save(path string, hdr header, groups ...[]*tensors.Tensor) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "creating temporary checkpoint for %s", path)
	}
	tmpName := tmp.Name()
	enc := gob.NewEncoder(tmp)
	err = enc.Encode(hdr)
	for _, group := range groups {
		for _, t := range group {
			if err != nil {
				break
			}
			err = t.GobSerialize(enc)
		}
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "writing checkpoint %s", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "renaming checkpoint into %s", path)
	}
	return nil
}

func load(path string, wantKind int) (header, [][]*tensors.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return header{}, nil, errors.Wrapf(err, "opening checkpoint %s", path)
	}
	defer f.Close()
	dec := gob.NewDecoder(f)
	var hdr header
	if err := dec.Decode(&hdr); err != nil {
		return header{}, nil, errors.Wrapf(err, "reading checkpoint header of %s", path)
	}
	if hdr.Version != formatVersion {
		return header{}, nil, errors.Errorf("%s: unsupported checkpoint version %d", path, hdr.Version)
	}
	if hdr.Kind != wantKind {
		return header{}, nil, errors.Errorf("%s holds a different training variant", path)
	}
	groups := make([][]*tensors.Tensor, len(hdr.Groups))
	for gi, n := range hdr.Groups {
		groups[gi] = make([]*tensors.Tensor, n)
		for i := range groups[gi] {
			groups[gi][i], err = tensors.GobDeserialize(dec)
			if err != nil {
				return header{}, nil, errors.Wrapf(err, "reading tensors of %s", path)
			}
		}
	}
	return hdr, groups, nil
}

// SaveTraining writes a consistency-variant snapshot.
func SaveTraining(path string, s *training.State) error {
	hdr := header{
		Version: formatVersion,
		Kind:    kindTraining,
		Step:    s.Step,
		Groups:  []int{len(s.Params), len(s.Opt)},
	}
	return save(path, hdr, s.Params, s.Opt)
}

// LoadTraining reads a consistency-variant snapshot.
func LoadTraining(path string) (*training.State, error) {
	hdr, groups, err := load(path, kindTraining)
	if err != nil {
		return nil, err
	}
	return &training.State{Step: hdr.Step, Params: groups[0], Opt: groups[1]}, nil
}

// SaveAdversarial writes an adversarial-variant snapshot.
func SaveAdversarial(path string, s *training.AdversarialState) error {
	hdr := header{
		Version: formatVersion,
		Kind:    kindAdversarial,
		Step:    s.Step,
		Groups:  []int{len(s.Params), len(s.Opt), len(s.DParams), len(s.DOpt)},
	}
	return save(path, hdr, s.Params, s.Opt, s.DParams, s.DOpt)
}

// LoadAdversarial reads an adversarial-variant snapshot.
func LoadAdversarial(path string) (*training.AdversarialState, error) {
	hdr, groups, err := load(path, kindAdversarial)
	if err != nil {
		return nil, err
	}
	return &training.AdversarialState{
		Step: hdr.Step, Params: groups[0], Opt: groups[1],
		DParams: groups[2], DOpt: groups[3],
	}, nil
}
