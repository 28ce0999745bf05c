// Package focuslock implements the camera based focus lock: a lock camera
// loop that turns IR spot images into offset readings, the analyzers for
// single and two spot optics, and the controller that drives a Z stage to
// hold the offset at a target.
package focuslock

import (
	"fmt"
	"image"

	"github.com/zhuanglab/gostorm/util"
)

// Frame is a 16-bit monochrome image, row major
type Frame struct {
	Width, Height int
	Pix           []uint16
}

// NewFrame returns a zeroed frame
func NewFrame(width, height int) Frame {
	return Frame{Width: width, Height: height, Pix: make([]uint16, width*height)}
}

// At returns the pixel in column x of row y
func (f Frame) At(x, y int) uint16 {
	return f.Pix[y*f.Width+x]
}

// Crop copies the rows [R0, R1) and columns [C0, C1) of f
func (f Frame) Crop(r ROI) Frame {
	r = r.clip(f.Width, f.Height)
	out := NewFrame(r.C1-r.C0, r.R1-r.R0)
	for row := r.R0; row < r.R1; row++ {
		copy(out.Pix[(row-r.R0)*out.Width:], f.Pix[row*f.Width+r.C0:row*f.Width+r.C1])
	}
	return out
}

// Preview is the 8-bit image shown to operators, the frame shifted right
// by three bits
func (f Frame) Preview() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, f.Width, f.Height))
	for i, v := range f.Pix {
		img.Pix[i] = uint8(v >> 3)
	}
	return img
}

// Gray16 copies the frame into an image
func (f Frame) Gray16() *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, f.Width, f.Height))
	for i, v := range f.Pix {
		img.Pix[2*i] = uint8(v >> 8)
		img.Pix[2*i+1] = uint8(v)
	}
	return img
}

// floats returns the frame less background, in float64
func (f Frame) floats(background float64) []float64 {
	out := make([]float64, len(f.Pix))
	for i, v := range f.Pix {
		out[i] = float64(v) - background
	}
	return out
}

// ROI is a block of rows [R0, R1) and columns [C0, C1)
type ROI struct {
	R0, R1, C0, C1 int
}

// ParseROI parses "r0,r1,c0,c1"
func ParseROI(s string) (ROI, error) {
	v, err := util.CSVToIntSlice(s)
	if err != nil {
		return ROI{}, fmt.Errorf("ROI %q: %w", s, err)
	}
	if len(v) != 4 {
		return ROI{}, fmt.Errorf("ROI %q must have four values r0,r1,c0,c1", s)
	}
	r := ROI{R0: v[0], R1: v[1], C0: v[2], C1: v[3]}
	if r.R1 <= r.R0 || r.C1 <= r.C0 {
		return ROI{}, fmt.Errorf("ROI %q is empty", s)
	}
	return r, nil
}

func (r ROI) clip(w, h int) ROI {
	r.R0 = util.ClampInt(r.R0, 0, h)
	r.R1 = util.ClampInt(r.R1, r.R0, h)
	r.C0 = util.ClampInt(r.C0, 0, w)
	r.C1 = util.ClampInt(r.C1, r.C0, w)
	return r
}
