package focuslock

import (
	"context"
	"image"
	"net/http"

	"github.com/astrogo/fitsio"

	"github.com/zhuanglab/gostorm/generichttp"
	"github.com/zhuanglab/gostorm/generichttp/camera"
	"github.com/zhuanglab/gostorm/imgrec"
)

// HTTPFocusLock wraps a lock camera and its controller in an HTTP interface
type HTTPFocusLock struct {
	Cam *LockCamera
	Ctl *Controller

	// ctx bounds the lock camera loops started over HTTP
	ctx context.Context

	RouteTable generichttp.RouteTable
}

// NewHTTPFocusLock returns the HTTP wrapper.  Loops started through it run
// until Stop or until ctx is done.  If rec is not nil, FITS frames are
// recorded and the /autowrite routes are added.
func NewHTTPFocusLock(ctx context.Context, cam *LockCamera, ctl *Controller, rec *imgrec.Recorder) HTTPFocusLock {
	h := HTTPFocusLock{Cam: cam, Ctl: ctl, ctx: ctx}
	h.RouteTable = generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/reading"}:    h.GetReading,
		{Method: http.MethodGet, Path: "/status"}:     h.GetStatus,
		{Method: http.MethodGet, Path: "/locked"}:     generichttp.GetBool(func() (bool, error) { return ctl.Locked(), nil }),
		{Method: http.MethodPost, Path: "/locked"}:    generichttp.SetBool(h.setLocked),
		{Method: http.MethodPost, Path: "/lock-here"}: generichttp.Do(func() error { ctl.LockHere(); return nil }),
		{Method: http.MethodGet, Path: "/target"}:     generichttp.GetFloat(func() (float64, error) { return ctl.Target(), nil }),
		{Method: http.MethodPost, Path: "/target"}:    generichttp.SetFloat(func(t float64) error { ctl.SetTarget(t); return nil }),
		{Method: http.MethodPost, Path: "/jump"}:      generichttp.SetFloat(ctl.Jump),
		{Method: http.MethodGet, Path: "/zero-dist"}:  generichttp.GetFloat(func() (float64, error) { return cam.an.ZeroDist(), nil }),
		{Method: http.MethodPost, Path: "/zero-dist"}: generichttp.SetFloat(func(inc float64) error { cam.AdjustZeroDist(inc); return nil }),
		{Method: http.MethodGet, Path: "/running"}:    generichttp.GetBool(func() (bool, error) { return cam.Running(), nil }),
		{Method: http.MethodPost, Path: "/start"}:     generichttp.Do(func() error { return cam.Start(h.ctx) }),
		{Method: http.MethodPost, Path: "/stop"}:      h.PostStop,
	}
	camera.HTTPAOI(h, h.RouteTable)
	camera.HTTPPicture(h, h.RouteTable, rec)
	if rec != nil {
		imgrec.NewHTTPWrapper(rec).Inject(h)
	}
	return h
}

// RT satisfies generichttp.HTTPer
func (h HTTPFocusLock) RT() generichttp.RouteTable {
	return h.RouteTable
}

func (h HTTPFocusLock) setLocked(b bool) error {
	if b {
		h.Ctl.Lock()
	} else {
		h.Ctl.Unlock()
	}
	return nil
}

// GetReading answers the newest reading as JSON
func (h HTTPFocusLock) GetReading(w http.ResponseWriter, r *http.Request) {
	rd, ok := h.Cam.Last()
	if !ok {
		http.Error(w, "no reading yet", http.StatusServiceUnavailable)
		return
	}
	generichttp.RespondJSON(w, rd)
}

// GetStatus answers the controller status as JSON
func (h HTTPFocusLock) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.Ctl.Status()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.RespondJSON(w, st)
}

// PostStop stops the lock camera and answers the run statistics
func (h HTTPFocusLock) PostStop(w http.ResponseWriter, r *http.Request) {
	generichttp.RespondJSON(w, h.Cam.Stop())
}

// GetFrame satisfies camera.FrameGetter
func (h HTTPFocusLock) GetFrame() (*image.Gray16, error) {
	f, err := h.Cam.LastFrame()
	if err != nil {
		return nil, err
	}
	return f.Gray16(), nil
}

// NudgeAOI satisfies camera.AOIManipulator
func (h HTTPFocusLock) NudgeAOI(dx, dy int) error {
	h.Cam.AdjustAOI(dx, dy)
	return nil
}

// GetAOI satisfies camera.AOIManipulator
func (h HTTPFocusLock) GetAOI() (camera.AOI, error) {
	x, y := h.Cam.AOI()
	return camera.AOI{Left: x, Top: y}, nil
}

// CollectHeaderMetadata satisfies camera.MetadataMaker
func (h HTTPFocusLock) CollectHeaderMetadata() []fitsio.Card {
	rd, _ := h.Cam.Last()
	x, y := h.Cam.AOI()
	return []fitsio.Card{
		{Name: "AOILEFT", Value: x, Comment: "AOI origin column on the sensor"},
		{Name: "AOITOP", Value: y, Comment: "AOI origin row on the sensor"},
		{Name: "ZERODIST", Value: h.Cam.an.ZeroDist(), Comment: "analyzer zero distance, px"},
		{Name: "OFFSET", Value: rd.Offset, Comment: "offset of the newest reading, px"},
		{Name: "SUM", Value: rd.Sum, Comment: "sum signal of the newest reading"},
		{Name: "LOCKED", Value: h.Ctl.Locked(), Comment: "focus lock correcting z"},
		{Name: "TARGET", Value: h.Ctl.Target(), Comment: "offset held by the lock, px"},
	}
}
