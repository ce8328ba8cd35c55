package mosaic

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Display controls how model tensors map to display units.
type Display struct {
	// RGBBands are the input channels composing the RGB preview, in R, G, B
	// order.
	RGBBands [3]int
	// RGBScale brightens the preview: display = 255 * RGBScale * reflectance.
	RGBScale float64
	// ImageScale divides raw reflectance first, matching the normalization
	// the model saw.
	ImageScale float64
}

// Display values of the mask classes. The no-data class renders dark gray so
// it stays distinguishable from a confident negative.
const (
	maskDisplayPositive = 255
	maskDisplayIgnore   = 64
)

// PatchFromBatch extracts sample i of an evaluation batch as a display-space
// Patch. img is [n, h, w, c] float32 raw reflectance, mask [n, h, w, 1] uint8
// with classes {0, 1, 2}, pred [n, h, w, 1] float32 sigmoid probabilities.
func PatchFromBatch(img, mask, pred *tensors.Tensor, i int, box Box, disp Display) (Patch, error) {
	dims := img.Shape().Dimensions
	n, h, w, c := dims[0], dims[1], dims[2], dims[3]
	if i < 0 || i >= n {
		return Patch{}, errors.Errorf("sample %d out of batch of %d", i, n)
	}
	if box.Height() != h || box.Width() != w {
		return Patch{}, errors.Errorf("box %+v does not match patch size %dx%d", box, h, w)
	}
	for _, b := range disp.RGBBands {
		if b < 0 || b >= c {
			return Patch{}, errors.Errorf("rgb band %d out of %d channels", b, c)
		}
	}

	imgData := tensors.CopyFlatData[float32](img)[i*h*w*c : (i+1)*h*w*c]
	maskData := tensors.CopyFlatData[uint8](mask)[i*h*w : (i+1)*h*w]
	predData := tensors.CopyFlatData[float32](pred)[i*h*w : (i+1)*h*w]

	p := Patch{
		Box:  box,
		RGB:  make([]float64, 3*h*w),
		Mask: make([]float64, h*w),
		Pred: make([]float64, h*w),
	}
	scale := 255 * disp.RGBScale
	if disp.ImageScale != 0 {
		scale /= disp.ImageScale
	}
	for px := 0; px < h*w; px++ {
		for ci, band := range disp.RGBBands {
			p.RGB[3*px+ci] = scale * float64(imgData[px*c+band])
		}
		switch maskData[px] {
		case 1:
			p.Mask[px] = maskDisplayPositive
		case 0:
			p.Mask[px] = 0
		default:
			p.Mask[px] = maskDisplayIgnore
		}
		p.Pred[px] = 255 * float64(predData[px])
	}
	return p, nil
}
