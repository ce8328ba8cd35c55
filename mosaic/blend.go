package mosaic

// Mosaic holds the three reconstructed canvases of one tile, in display units
// (values may exceed [0, 255] until converted to images, which clips).
type Mosaic struct {
	Height, Width int
	RGB           []float64 // interleaved, 3 per pixel
	Mask          []float64
	Pred          []float64
}

func newMosaic(height, width int) *Mosaic {
	return &Mosaic{
		Height: height,
		Width:  width,
		RGB:    make([]float64, 3*height*width),
		Mask:   make([]float64, height*width),
		Pred:   make([]float64, height*width),
	}
}

// rampWindow is the 1-D half of the blending stencil: a linear ramp up to full
// weight at the center and back down, symmetric, and never zero so a single
// patch reconstructs exactly.
func rampWindow(n int) []float64 {
	half := (n + 1) / 2
	w := make([]float64, n)
	for i := range w {
		d := i
		if n-1-i < d {
			d = n - 1 - i
		}
		w[i] = float64(d+1) / float64(half)
	}
	return w
}

// stencil is the separable 2-D blending window of a patch: the outer product
// of the two axis ramps.
func stencil(height, width int) []float64 {
	rowW := rampWindow(height)
	colW := rampWindow(width)
	s := make([]float64, height*width)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			s[y*width+x] = rowW[y] * colW[x]
		}
	}
	return s
}

// Direct reassembles patches by plain placement: each patch overwrites its
// box, later patches win on overlap. Only correct for non-overlapping grids.
func Direct(patches []Patch) *Mosaic {
	height, width := CanvasSize(patches)
	m := newMosaic(height, width)
	for _, p := range patches {
		pw := p.Box.Width()
		for y := 0; y < p.Box.Height(); y++ {
			cy := p.Box.Y0 + y
			for x := 0; x < pw; x++ {
				src := y*pw + x
				dst := cy*width + p.Box.X0 + x
				m.Mask[dst] = p.Mask[src]
				m.Pred[dst] = p.Pred[src]
				for c := 0; c < 3; c++ {
					m.RGB[3*dst+c] = p.RGB[3*src+c]
				}
			}
		}
	}
	return m
}

// Blend reassembles patches by weighted overlap-add: every patch contributes
// stencil-weighted values and the canvas is normalized by the accumulated
// weight. Pixels never covered keep value 0 (their weight substitutes to 1).
func Blend(patches []Patch) *Mosaic {
	height, width := CanvasSize(patches)
	m := newMosaic(height, width)
	weights := make([]float64, height*width)
	for _, p := range patches {
		ph, pw := p.Box.Height(), p.Box.Width()
		st := stencil(ph, pw)
		for y := 0; y < ph; y++ {
			cy := p.Box.Y0 + y
			for x := 0; x < pw; x++ {
				src := y*pw + x
				dst := cy*width + p.Box.X0 + x
				w := st[src]
				weights[dst] += w
				m.Mask[dst] += w * p.Mask[src]
				m.Pred[dst] += w * p.Pred[src]
				for c := 0; c < 3; c++ {
					m.RGB[3*dst+c] += w * p.RGB[3*src+c]
				}
			}
		}
	}
	for i, w := range weights {
		if w == 0 {
			w = 1
		}
		m.Mask[i] /= w
		m.Pred[i] /= w
		for c := 0; c < 3; c++ {
			m.RGB[3*i+c] /= w
		}
	}
	return m
}
