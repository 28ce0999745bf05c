package motion

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi"
	"github.com/zhuanglab/gostorm/generichttp"
	"github.com/zhuanglab/gostorm/util"
)

var (
	errClamped = errors.New("requested position violates software limits, aborted")
)

// LimitMiddleware imposes per-axis software limits on positioning moves,
// on top of whatever travel range the controller itself enforces
type LimitMiddleware struct {
	// Limits contains the server imposed limits on the controller
	Limits map[string]util.Limiter

	// Mov is a reference to the mover, used to resolve relative moves
	Mov Mover
}

// Check answers StatusBadRequest if a POST .../pos would leave the limits of
// its axis, otherwise flows control to the next handler
func (l *LimitMiddleware) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/pos") {
			next.ServeHTTP(w, r)
			return
		}
		// the route is not resolved yet at the middleware level, so pull the
		// axis out of ".../axis/{axis}/pos" by hand
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) < 3 || parts[len(parts)-3] != "axis" {
			next.ServeHTTP(w, r)
			return
		}
		axis := parts[len(parts)-2]
		limiter, ok := l.Limits[axis]
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		_, relative, err := axisRelative(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		// downstream handlers want the body too, so read it all here and put it back
		body, err := io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		f := generichttp.FloatT{}
		if err = json.Unmarshal(body, &f); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cmd := f.F64
		if relative {
			curr, err := l.Mov.GetPos(axis)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			cmd += curr
		}
		if !limiter.Check(cmd) {
			http.Error(w, errClamped.Error(), http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Inject places a /axis/{axis}/limits route on the table of the HTTPer
func (l LimitMiddleware) Inject(h generichttp.HTTPer) {
	h.RT()[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/limits"}] = Limits(l)
}

// Limits returns an HTTP handler func that returns the limits for an axis,
// or null if it has none
func Limits(l LimitMiddleware) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lim, ok := l.Limits[chi.URLParam(r, "axis")]
		if !ok {
			generichttp.RespondJSON(w, nil)
			return
		}
		generichttp.RespondJSON(w, lim)
	}
}
