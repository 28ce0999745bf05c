package camera

import (
	"fmt"
	"image"
	"io"

	"github.com/astrogo/fitsio"
)

// WriteFits streams a 16-bit FITS file of one frame, or a cube of several
// frames of the same size, to w
func WriteFits(w io.Writer, metadata []fitsio.Card, imgs []*image.Gray16) error {
	if len(imgs) == 0 {
		return fmt.Errorf("no frames to write")
	}
	metadata = append(metadata, fitsio.Card{Name: "BZERO", Value: 32768}, fitsio.Card{Name: "BSCALE", Value: 1.0})
	b := imgs[0].Bounds()
	width, height := b.Dx(), b.Dy()
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	dims := []int{width, height}
	if len(imgs) > 1 {
		dims = append(dims, len(imgs))
	}
	im := fitsio.NewImage(16, dims)
	defer im.Close()
	if err = im.Header().Append(metadata...); err != nil {
		return err
	}

	ints := make([]int16, 0, width*height*len(imgs))
	for i, img := range imgs {
		if ib := img.Bounds(); ib.Dx() != width || ib.Dy() != height {
			return fmt.Errorf("frame %d is %dx%d, frame 0 is %dx%d", i, ib.Dx(), ib.Dy(), width, height)
		}
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				v := img.Gray16At(img.Bounds().Min.X+x-b.Min.X, img.Bounds().Min.Y+y-b.Min.Y).Y
				ints = append(ints, int16(int32(v)-32768))
			}
		}
	}
	if err = im.Write(ints); err != nil {
		return err
	}
	return fits.Write(im)
}
