package focuslock

import (
	"math"
)

// peakFinder locates a single bright spot
type peakFinder struct {
	// Sigma is the expected spot width in pixels
	Sigma float64

	// Threshold is the minimum height of the spot above zero
	Threshold float64
}

// find returns the position of the spot in pixels relative to the center
// of the w x h image, from the intensity weighted centroid of a 3 sigma box
// around the brightest pixel
func (p peakFinder) find(pix []float64, w, h int) (x, y float64, ok bool) {
	if len(pix) == 0 {
		return 0, 0, false
	}
	imax := 0
	for i, v := range pix {
		if v > pix[imax] {
			imax = i
		}
	}
	if pix[imax] < p.Threshold {
		return 0, 0, false
	}
	cx, cy, ok := centroid(pix, w, h, imax%w, imax/w, int(math.Ceil(3*p.Sigma)))
	if !ok {
		return 0, 0, false
	}
	return cx - float64(w-1)/2, cy - float64(h-1)/2, true
}

// centroid of the positive values in the box of half width r around (x0, y0)
func centroid(pix []float64, w, h, x0, y0, r int) (cx, cy float64, ok bool) {
	if r < 1 {
		r = 1
	}
	var sx, sy, s float64
	for y := y0 - r; y <= y0+r; y++ {
		if y < 0 || y >= h {
			continue
		}
		for x := x0 - r; x <= x0+r; x++ {
			if x < 0 || x >= w {
				continue
			}
			v := pix[y*w+x]
			if v <= 0 {
				continue
			}
			sx += v * float64(x)
			sy += v * float64(y)
			s += v
		}
	}
	if s == 0 {
		return 0, 0, false
	}
	return sx / s, sy / s, true
}

// downsample sums n x n blocks
func downsample(pix []float64, w, h, n int) ([]float64, int, int) {
	if n <= 1 {
		return pix, w, h
	}
	dw, dh := w/n, h/n
	out := make([]float64, dw*dh)
	for y := 0; y < dh*n; y++ {
		for x := 0; x < dw*n; x++ {
			out[(y/n)*dw+x/n] += pix[y*w+x]
		}
	}
	return out, dw, dh
}

// spotOffset measures the displacement of the spot in b from the spot in
// a, in pixels, and the spot height above background.  ok is false when
// either image has no signal.
func spotOffset(a, b Frame, background float64, n int) (dx, dy, mag float64, ok bool) {
	if n < 1 {
		n = 1
	}
	locate := func(f Frame) (x, y, peak float64, ok bool) {
		pix, w, h := downsample(f.floats(background), f.Width, f.Height, n)
		if len(pix) == 0 {
			return 0, 0, 0, false
		}
		imax := 0
		for i, v := range pix {
			if v > pix[imax] {
				imax = i
			}
		}
		if pix[imax] <= 0 {
			return 0, 0, 0, false
		}
		r := w
		if h > r {
			r = h
		}
		cx, cy, ok := centroid(pix, w, h, imax%w, imax/w, r)
		return cx * float64(n), cy * float64(n), pix[imax] / float64(n*n), ok
	}
	x1, y1, p1, ok1 := locate(a)
	x2, y2, p2, ok2 := locate(b)
	if !ok1 || !ok2 {
		return 0, 0, 0, false
	}
	return x2 - x1, y2 - y1, (p1 + p2) / 2, true
}
