// Package mosaic stitches per-patch model outputs back into full-canvas tile
// rasters for validation review.
//
// Patches arrive in model order, tagged with the tile they came from and the
// pixel box they cover. An Accumulator groups them per tile; once a tile is
// complete its patches are reassembled into canvases either by direct
// placement or by weighted overlap-add blending, and the boundary extractor
// turns ground truth and prediction into an annotation overlay. Everything in
// this package runs on the host, on plain float64 rasters.
package mosaic

import (
	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/pkg/errors"
)

// Box is a patch destination in canvas pixel coordinates, end-exclusive.
type Box struct {
	X0, Y0, X1, Y1 int
}

func (b Box) Width() int  { return b.X1 - b.X0 }
func (b Box) Height() int { return b.Y1 - b.Y0 }

// Patch carries one model sample in display units: RGB interleaved
// ([h*w*3], 0..255), mask and prediction planes ([h*w], 0..255), plus the
// destination box.
type Patch struct {
	Box  Box
	RGB  []float64
	Mask []float64
	Pred []float64
}

// Validate checks the raster lengths against the box.
func (p Patch) Validate() error {
	area := p.Box.Width() * p.Box.Height()
	if p.Box.Width() <= 0 || p.Box.Height() <= 0 {
		return errors.Errorf("patch box %+v is empty", p.Box)
	}
	if len(p.RGB) != 3*area || len(p.Mask) != area || len(p.Pred) != area {
		return errors.Errorf("patch rasters do not match box %+v: rgb=%d mask=%d pred=%d",
			p.Box, len(p.RGB), len(p.Mask), len(p.Pred))
	}
	return nil
}

// Accumulator groups validation patches by tile. Memory is bounded by one
// validation pass: Take hands a tile's patches out and releases them.
type Accumulator struct {
	byTile map[string][]Patch
}

func NewAccumulator() *Accumulator {
	return &Accumulator{byTile: make(map[string][]Patch)}
}

// Add appends a patch to its tile.
func (a *Accumulator) Add(tile string, p Patch) error {
	if err := p.Validate(); err != nil {
		return errors.WithMessagef(err, "tile %q", tile)
	}
	a.byTile[tile] = append(a.byTile[tile], p)
	return nil
}

// Tiles lists the accumulated tile names in sorted order.
func (a *Accumulator) Tiles() []string {
	return xslices.SortedKeys(a.byTile)
}

// Take removes and returns the patches of one tile.
func (a *Accumulator) Take(tile string) []Patch {
	patches := a.byTile[tile]
	delete(a.byTile, tile)
	return patches
}

// CanvasSize returns the smallest canvas covering every patch box.
func CanvasSize(patches []Patch) (height, width int) {
	for _, p := range patches {
		if p.Box.Y1 > height {
			height = p.Box.Y1
		}
		if p.Box.X1 > width {
			width = p.Box.X1
		}
	}
	return
}
