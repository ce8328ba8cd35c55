package mosaic

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Display thresholds of the boundary extractor, on 0..255 rasters: ground
// truth binarizes at half scale, predictions need higher confidence.
const (
	MaskEdgeThreshold = 0.5 * 255
	PredEdgeThreshold = 0.7 * 255
)

// MarkEdges binarizes values at threshold and marks the pixels whose 3x3
// neighborhood is not uniform: a pixel is a boundary when the local minimum
// and maximum of the binarized raster differ. Borders use edge padding, so a
// uniform raster yields no edge at the canvas rim.
func MarkEdges(values []float64, height, width int, threshold float64) []uint8 {
	clampY := func(y int) int {
		if y < 0 {
			return 0
		}
		if y >= height {
			return height - 1
		}
		return y
	}
	clampX := func(x int) int {
		if x < 0 {
			return 0
		}
		if x >= width {
			return width - 1
		}
		return x
	}
	binary := make([]uint8, len(values))
	for i, v := range values {
		if v > threshold {
			binary[i] = 1
		}
	}
	edges := make([]uint8, len(values))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			lo, hi := uint8(1), uint8(0)
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					v := binary[clampY(y+dy)*width+clampX(x+dx)]
					if v < lo {
						lo = v
					}
					if v > hi {
						hi = v
					}
				}
			}
			if lo != hi {
				edges[y*width+x] = 1
			}
		}
	}
	return edges
}

func clipByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}

// RGBImage converts the RGB canvas to an 8-bit image, clipping to [0, 255].
func (m *Mosaic) RGBImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, m.Width, m.Height))
	for i := 0; i < m.Height*m.Width; i++ {
		img.SetNRGBA(i%m.Width, i/m.Width, color.NRGBA{
			R: clipByte(m.RGB[3*i]),
			G: clipByte(m.RGB[3*i+1]),
			B: clipByte(m.RGB[3*i+2]),
			A: 255,
		})
	}
	return img
}

// grayImage renders a single display plane.
func grayImage(values []float64, height, width int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i, v := range values {
		g := clipByte(v)
		img.SetNRGBA(i%width, i/width, color.NRGBA{R: g, G: g, B: g, A: 255})
	}
	return img
}

// MaskImage renders the ground-truth canvas.
func (m *Mosaic) MaskImage() *image.NRGBA { return grayImage(m.Mask, m.Height, m.Width) }

// PredImage renders the prediction canvas.
func (m *Mosaic) PredImage() *image.NRGBA { return grayImage(m.Pred, m.Height, m.Width) }

// Annotation extracts the ground-truth and prediction boundaries and
// composites them over the RGB canvas: mask edges paint the red channel,
// prediction edges the green channel, and wherever neither is set the
// original RGB pixel shows through.
func (m *Mosaic) Annotation() *image.NRGBA {
	maskEdges := MarkEdges(m.Mask, m.Height, m.Width, MaskEdgeThreshold)
	predEdges := MarkEdges(m.Pred, m.Height, m.Width, PredEdgeThreshold)
	img := m.RGBImage()
	for i := 0; i < m.Height*m.Width; i++ {
		if maskEdges[i] == 0 && predEdges[i] == 0 {
			continue
		}
		img.SetNRGBA(i%m.Width, i/m.Width, color.NRGBA{
			R: 255 * maskEdges[i],
			G: 255 * predEdges[i],
			A: 255,
		})
	}
	return img
}

// SideBySide pastes the given images left to right on a black canvas, for the
// stacked tile exports.
func SideBySide(panels ...image.Image) *image.NRGBA {
	width, height := 0, 0
	for _, p := range panels {
		b := p.Bounds()
		width += b.Dx()
		if b.Dy() > height {
			height = b.Dy()
		}
	}
	out := imaging.New(width, height, color.NRGBA{A: 255})
	x := 0
	for _, p := range panels {
		out = imaging.Paste(out, p, image.Pt(x, 0))
		x += p.Bounds().Dx()
	}
	return out
}
