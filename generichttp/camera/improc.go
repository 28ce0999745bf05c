// this file contains a few small image processing utilities
package camera

import (
	"fmt"
	"image"
)

// Rotate returns img rotated clockwise by deg, which must be a multiple of 90
func Rotate(img *image.Gray16, deg int) (*image.Gray16, error) {
	deg = ((deg % 360) + 360) % 360
	switch deg {
	case 0:
		return img, nil
	case 90:
		return ImRot90(img), nil
	case 180:
		return ImRot180(img), nil
	case 270:
		return ImRot270(img), nil
	}
	return nil, fmt.Errorf("rotation must be a multiple of 90 degrees, got %d", deg)
}

// remap builds a w x h image whose pixel (x, y) is src at f(x, y)
func remap(src *image.Gray16, w, h int, f func(x, y int) (int, int)) *image.Gray16 {
	b := src.Bounds()
	out := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx, sy := f(x, y)
			out.SetGray16(x, y, src.Gray16At(b.Min.X+sx, b.Min.Y+sy))
		}
	}
	return out
}

// ImRot90 rotates an image 90 degrees clockwise
func ImRot90(img *image.Gray16) *image.Gray16 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	return remap(img, h, w, func(x, y int) (int, int) { return y, h - 1 - x })
}

// ImRot180 rotates an image 180 degrees
func ImRot180(img *image.Gray16) *image.Gray16 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	return remap(img, w, h, func(x, y int) (int, int) { return w - 1 - x, h - 1 - y })
}

// ImRot270 rotates an image 270 degrees clockwise
func ImRot270(img *image.Gray16) *image.Gray16 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	return remap(img, h, w, func(x, y int) (int, int) { return w - 1 - y, x })
}

// To8Bit shifts each pixel right by shift bits, saturating at 255
func To8Bit(img *image.Gray16, shift uint) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			v := img.Gray16At(b.Min.X+x, b.Min.Y+y).Y >> shift
			if v > 255 {
				v = 255
			}
			out.Pix[y*out.Stride+x] = uint8(v)
		}
	}
	return out
}
