package datasets

import (
	"bufio"
	"encoding/binary"
	"io"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/forever-ezio/PixelDINO-test/config"
)

// Dataset holds one patch file fully in memory. Patch files are a few hundred
// megabytes at most, and keeping them resident makes epoch reshuffling and
// random access trivial.
type Dataset struct {
	Name      string
	Height    int
	Width     int
	Channels  int
	BatchSize int

	images []float32 // all samples, contiguous
	masks  []uint8
	metas  []PatchMeta
}

// Load reads the patch file named by spec into memory.
func Load(spec config.DatasetSpec) (*Dataset, error) {
	f, err := os.Open(spec.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening patch file %s", spec.Path)
	}
	defer f.Close()
	r := bufio.NewReaderSize(f, 1<<20)

	hdr, err := readHeader(r, spec.Path)
	if err != nil {
		return nil, err
	}
	d := &Dataset{
		Name:      filepath.Base(spec.Path),
		Height:    int(hdr.Height),
		Width:     int(hdr.Width),
		Channels:  int(hdr.Channels),
		BatchSize: spec.BatchSize,
	}
	sampleSize := d.Height * d.Width
	d.images = make([]float32, int(hdr.Samples)*sampleSize*d.Channels)
	d.masks = make([]uint8, int(hdr.Samples)*sampleSize)
	d.metas = make([]PatchMeta, hdr.Samples)
	for i := 0; i < int(hdr.Samples); i++ {
		var nameLen uint16
		if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
			return nil, errors.Wrapf(err, "reading record %d of %s", i, spec.Path)
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, errors.Wrapf(err, "reading record %d of %s", i, spec.Path)
		}
		var box [4]int32
		if err := binary.Read(r, binary.LittleEndian, &box); err != nil {
			return nil, errors.Wrapf(err, "reading record %d of %s", i, spec.Path)
		}
		d.metas[i] = PatchMeta{Tile: string(name)}
		d.metas[i].Box.X0, d.metas[i].Box.Y0 = int(box[0]), int(box[1])
		d.metas[i].Box.X1, d.metas[i].Box.Y1 = int(box[2]), int(box[3])
		img := d.images[i*sampleSize*d.Channels : (i+1)*sampleSize*d.Channels]
		if err := binary.Read(r, binary.LittleEndian, img); err != nil {
			return nil, errors.Wrapf(err, "reading record %d of %s", i, spec.Path)
		}
		if _, err := io.ReadFull(r, d.masks[i*sampleSize:(i+1)*sampleSize]); err != nil {
			return nil, errors.Wrapf(err, "reading record %d of %s", i, spec.Path)
		}
	}
	if d.Len() < d.BatchSize {
		return nil, errors.Errorf("%s has %d samples, fewer than batch size %d",
			spec.Path, d.Len(), d.BatchSize)
	}
	klog.Infof("Loaded %s: %d patches of %dx%dx%d (%s in memory)",
		d.Name, d.Len(), d.Height, d.Width, d.Channels,
		humanize.Bytes(uint64(4*len(d.images)+len(d.masks))))
	return d, nil
}

// Len is the number of patches.
func (d *Dataset) Len() int { return len(d.metas) }

// batch materializes the given samples as an image and a mask tensor,
// [n, h, w, c] float32 and [n, h, w, 1] uint8.
func (d *Dataset) batch(indices []int) (img, mask *tensors.Tensor) {
	n := len(indices)
	sampleSize := d.Height * d.Width
	img = tensors.FromShape(shapes.Make(dtypes.Float32, n, d.Height, d.Width, d.Channels))
	mask = tensors.FromShape(shapes.Make(dtypes.Uint8, n, d.Height, d.Width, 1))
	tensors.MutableFlatData(img, func(imgData []float32) {
		for bi, si := range indices {
			copy(imgData[bi*sampleSize*d.Channels:], d.images[si*sampleSize*d.Channels:(si+1)*sampleSize*d.Channels])
		}
	})
	tensors.MutableFlatData(mask, func(maskData []uint8) {
		for bi, si := range indices {
			copy(maskData[bi*sampleSize:], d.masks[si*sampleSize:(si+1)*sampleSize])
		}
	})
	return
}

// Cycler serves an endless stream of shuffled batches: a seeded permutation
// per epoch, full batches only, reshuffling when the permutation runs out.
type Cycler struct {
	d    *Dataset
	rng  *rand.Rand
	perm []int
	pos  int
}

// Cycle starts an endless batch stream. Same seed, same batch sequence.
func (d *Dataset) Cycle(seed int64) *Cycler {
	c := &Cycler{d: d, rng: rand.New(rand.NewSource(seed))}
	c.reshuffle()
	return c
}

func (c *Cycler) reshuffle() {
	c.perm = c.rng.Perm(c.d.Len())
	c.pos = 0
}

// Next returns the next training batch.
func (c *Cycler) Next() (img, mask *tensors.Tensor) {
	if c.pos+c.d.BatchSize > len(c.perm) {
		c.reshuffle()
	}
	indices := c.perm[c.pos : c.pos+c.d.BatchSize]
	c.pos += c.d.BatchSize
	return c.d.batch(indices)
}

// Iterator walks the dataset once in file order, keeping the per-sample
// metadata alongside each batch. The tail batch may be smaller.
type Iterator struct {
	d   *Dataset
	pos int
}

// Iter starts a single ordered pass, used by validation.
func (d *Dataset) Iter() *Iterator {
	return &Iterator{d: d}
}

// Next returns the next batch and its metadata, or ok=false at the end.
func (it *Iterator) Next() (img, mask *tensors.Tensor, metas []PatchMeta, ok bool) {
	if it.pos >= it.d.Len() {
		return nil, nil, nil, false
	}
	end := it.pos + it.d.BatchSize
	if end > it.d.Len() {
		end = it.d.Len()
	}
	indices := make([]int, end-it.pos)
	for i := range indices {
		indices[i] = it.pos + i
	}
	metas = it.d.metas[it.pos:end]
	it.pos = end
	img, mask = it.d.batch(indices)
	return img, mask, metas, true
}
