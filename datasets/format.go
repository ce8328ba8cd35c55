// Package datasets loads the pre-generated patch files of a run and serves
// them as batched tensors.
//
// A patch file is a flat binary container: a fixed header with the sample
// geometry followed by one record per patch. Each record carries the source
// tile name and the pixel box the patch was cut from, so the validation pass
// can reassemble full tiles, plus the float32 multispectral image and the
// uint8 ground-truth mask (classes 0, 1 and 2 = no data).
package datasets

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/forever-ezio/PixelDINO-test/mosaic"
)

var fileMagic = [4]byte{'P', 'X', 'D', 'S'}

const formatVersion = 1

// PatchMeta locates one patch on its source tile.
type PatchMeta struct {
	Tile string
	Box  mosaic.Box
}

type fileHeader struct {
	Samples  int32
	Height   int32
	Width    int32
	Channels int32
}

// Writer streams patch records into a new file. It exists for the patch
// extraction tooling and for tests.
type Writer struct {
	f   *os.File
	buf *bufio.Writer
	hdr fileHeader
	n   int32
}

// NewWriter creates path and writes the header for the given geometry.
func NewWriter(path string, height, width, channels int) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "creating patch file %s", path)
	}
	w := &Writer{
		f:   f,
		buf: bufio.NewWriter(f),
		hdr: fileHeader{Height: int32(height), Width: int32(width), Channels: int32(channels)},
	}
	if err := w.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) writeHeader() error {
	if _, err := w.buf.Write(fileMagic[:]); err != nil {
		return errors.Wrap(err, "writing patch file header")
	}
	for _, v := range []int32{formatVersion, w.hdr.Samples, w.hdr.Height, w.hdr.Width, w.hdr.Channels} {
		if err := binary.Write(w.buf, binary.LittleEndian, v); err != nil {
			return errors.Wrap(err, "writing patch file header")
		}
	}
	return nil
}

// Write appends one record. image is [h*w*channels] row-major, mask [h*w].
func (w *Writer) Write(meta PatchMeta, image []float32, mask []uint8) error {
	area := int(w.hdr.Height) * int(w.hdr.Width)
	if len(image) != area*int(w.hdr.Channels) || len(mask) != area {
		return errors.Errorf("record size mismatch: image=%d mask=%d for %dx%dx%d",
			len(image), len(mask), w.hdr.Height, w.hdr.Width, w.hdr.Channels)
	}
	if len(meta.Tile) > 0xFFFF {
		return errors.Errorf("tile name too long: %d bytes", len(meta.Tile))
	}
	if err := binary.Write(w.buf, binary.LittleEndian, uint16(len(meta.Tile))); err != nil {
		return errors.Wrap(err, "writing record")
	}
	if _, err := w.buf.WriteString(meta.Tile); err != nil {
		return errors.Wrap(err, "writing record")
	}
	box := []int32{int32(meta.Box.X0), int32(meta.Box.Y0), int32(meta.Box.X1), int32(meta.Box.Y1)}
	if err := binary.Write(w.buf, binary.LittleEndian, box); err != nil {
		return errors.Wrap(err, "writing record")
	}
	if err := binary.Write(w.buf, binary.LittleEndian, image); err != nil {
		return errors.Wrap(err, "writing record")
	}
	if _, err := w.buf.Write(mask); err != nil {
		return errors.Wrap(err, "writing record")
	}
	w.n++
	return nil
}

// Close flushes, rewrites the header with the final sample count and closes
// the file.
func (w *Writer) Close() error {
	if err := w.buf.Flush(); err != nil {
		w.f.Close()
		return errors.Wrap(err, "flushing patch file")
	}
	// Sample count sits right after magic and version.
	if _, err := w.f.Seek(int64(len(fileMagic)+4), io.SeekStart); err != nil {
		w.f.Close()
		return errors.Wrap(err, "finalizing patch file")
	}
	if err := binary.Write(w.f, binary.LittleEndian, w.n); err != nil {
		w.f.Close()
		return errors.Wrap(err, "finalizing patch file")
	}
	return errors.Wrap(w.f.Close(), "closing patch file")
}

func readHeader(r io.Reader, path string) (fileHeader, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return fileHeader{}, errors.Wrapf(err, "reading %s", path)
	}
	if magic != fileMagic {
		return fileHeader{}, errors.Errorf("%s is not a patch file (bad magic %q)", path, magic[:])
	}
	var version int32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return fileHeader{}, errors.Wrapf(err, "reading %s", path)
	}
	if version != formatVersion {
		return fileHeader{}, errors.Errorf("%s: unsupported format version %d", path, version)
	}
	var hdr fileHeader
	for _, field := range []*int32{&hdr.Samples, &hdr.Height, &hdr.Width, &hdr.Channels} {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return fileHeader{}, errors.Wrapf(err, "reading %s", path)
		}
	}
	if hdr.Samples < 0 || hdr.Height <= 0 || hdr.Width <= 0 || hdr.Channels <= 0 {
		return fileHeader{}, errors.Errorf("%s: corrupt header %+v", path, hdr)
	}
	return hdr, nil
}
