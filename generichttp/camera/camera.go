// Package camera provides a generic HTTP interface to cameras that hand
// out 16-bit frames
package camera

import (
	"encoding/json"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"strconv"

	"github.com/astrogo/fitsio"

	"github.com/zhuanglab/gostorm/generichttp"
	"github.com/zhuanglab/gostorm/imgrec"
)

// AOI describes the origin of the area of interest on the sensor
type AOI struct {
	// Left is the left pixel index, 0-based
	Left int `json:"left"`

	// Top is the top pixel index, 0-based
	Top int `json:"top"`
}

// FrameGetter is a camera which can hand out its latest frame
type FrameGetter interface {
	// GetFrame returns the most recent frame
	GetFrame() (*image.Gray16, error)
}

// MetadataMaker can produce an array of FITS cards
type MetadataMaker interface {
	// CollectHeaderMetadata produces an array of FITS cards
	CollectHeaderMetadata() []fitsio.Card
}

// AOIManipulator is a camera with a movable area of interest
type AOIManipulator interface {
	// NudgeAOI moves the AOI by (dx, dy) pixels
	NudgeAOI(dx, dy int) error

	// GetAOI returns the current AOI origin
	GetAOI() (AOI, error)
}

// HTTPPicture injects GET /frame into a route table.  If rec is enabled,
// FITS frames are also written to disk.
func HTTPPicture(p FrameGetter, table generichttp.RouteTable, rec *imgrec.Recorder) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/frame"}] = GetFrame(p, rec)
}

// HTTPAOI injects GET and POST /aoi into a route table
func HTTPAOI(a AOIManipulator, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/aoi"}] = func(w http.ResponseWriter, r *http.Request) {
		aoi, err := a.GetAOI()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		generichttp.RespondJSON(w, aoi)
	}
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/aoi"}] = func(w http.ResponseWriter, r *http.Request) {
		d := struct {
			DX int `json:"dx"`
			DY int `json:"dy"`
		}{}
		err := json.NewDecoder(r.Body).Decode(&d)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err = a.NudgeAOI(d.DX, d.DY); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetFrame returns the latest frame on a GET request.
//
// the image format may be specified in the query parameter fmt, one of
// png (the default), jpg, or fits.  png and jpg are 8-bit, the frame is
// shifted right by the query parameter shift (default 8).  The parameter
// rot rotates the frame clockwise by a multiple of 90 degrees.
func GetFrame(p FrameGetter, rec *imgrec.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		img, err := p.GetFrame()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if rot := q.Get("rot"); rot != "" {
			deg, err := strconv.Atoi(rot)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if img, err = Rotate(img, deg); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		shift := uint(8)
		if s := q.Get("shift"); s != "" {
			v, err := strconv.ParseUint(s, 10, 4)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			shift = uint(v)
		}

		switch format := q.Get("fmt"); format {
		case "", "png":
			w.Header().Set("Content-Type", "image/png")
			w.WriteHeader(http.StatusOK)
			png.Encode(w, To8Bit(img, shift))
		case "jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			w.WriteHeader(http.StatusOK)
			jpeg.Encode(w, To8Bit(img, shift), nil)
		case "fits":
			var w2 io.Writer = w
			if rec != nil && rec.Active() {
				w2 = io.MultiWriter(w, rec)
				defer rec.Incr()
			}
			cards := []fitsio.Card{}
			if carder, ok := p.(MetadataMaker); ok {
				cards = carder.CollectHeaderMetadata()
			}
			hdr := w.Header()
			hdr.Set("Content-Type", "image/fits")
			hdr.Set("Content-Disposition", "attachment; filename=image.fits")
			if err = WriteFits(w2, cards, []*image.Gray16{img}); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		default:
			http.Error(w, "fmt must be one of png, jpg, fits; got "+format, http.StatusBadRequest)
		}
	}
}
