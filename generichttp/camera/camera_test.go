package camera

import (
	"bytes"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ramp is a 3 x 2 image with pixel values 0..5 times 256
func ramp() *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, 3, 2))
	for i := 0; i < 6; i++ {
		img.Pix[2*i] = uint8(i)
	}
	return img
}

func values(img *image.Gray16) []uint16 {
	b := img.Bounds()
	var out []uint16
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out = append(out, img.Gray16At(x, y).Y>>8)
		}
	}
	return out
}

func TestRotations(t *testing.T) {
	img := ramp()
	r, err := Rotate(img, 90)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Bounds().Dx())
	assert.Equal(t, []uint16{3, 0, 4, 1, 5, 2}, values(r))

	r, _ = Rotate(img, 180)
	assert.Equal(t, []uint16{5, 4, 3, 2, 1, 0}, values(r))

	r, _ = Rotate(img, -90)
	assert.Equal(t, []uint16{2, 5, 1, 4, 0, 3}, values(r))

	_, err = Rotate(img, 45)
	assert.Error(t, err)
}

func TestTo8BitSaturates(t *testing.T) {
	g := To8Bit(ramp(), 3)
	assert.Equal(t, []uint8{0, 32, 64, 96, 128, 160}, g.Pix)
	g = To8Bit(ramp(), 0)
	assert.Equal(t, uint8(255), g.Pix[1])
}

type fakeCam struct{}

func (fakeCam) GetFrame() (*image.Gray16, error) { return ramp(), nil }

func (fakeCam) CollectHeaderMetadata() []fitsio.Card {
	return []fitsio.Card{{Name: "EXPTIME", Value: 0.01}}
}

func TestGetFrameFormats(t *testing.T) {
	h := GetFrame(fakeCam{}, nil)

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/frame?rot=90&shift=8", nil))
	require.Equal(t, http.StatusOK, w.Code)
	img, err := png.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2, 3), img.Bounds())

	w = httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/frame?fmt=fits", nil))
	require.Equal(t, http.StatusOK, w.Code)
	f, err := fitsio.Open(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	hdr := f.HDU(0).Header()
	assert.Equal(t, []int{3, 2}, hdr.Axes())
	assert.NotNil(t, hdr.Get("EXPTIME"))

	w = httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/frame?shift=x", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
