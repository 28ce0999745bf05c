package motion

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/zhuanglab/gostorm/generichttp"
)

// Mover describes an interface with position-related methods for axes.
// Positions are in micrometers.
type Mover interface {
	// GetPos gets the current position of an axis
	GetPos(string) (float64, error)

	// MoveAbs moves an axis to an absolute position
	MoveAbs(string, float64) error

	// MoveRel moves an axis a relative amount
	MoveRel(string, float64) error
}

// Homer can send an axis to its reference position
type Homer interface {
	Home(string) error
}

// Positioner reports every axis at once, as {"x": 1.0, "y": 2.0}
type Positioner interface {
	Position() (map[string]float64, error)
}

// HTTPMove adds routes for the mover to the route table
func HTTPMove(iface Mover, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/pos"}] = GetPos(iface)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/pos"}] = SetPos(iface)
	if h, ok := iface.(Homer); ok {
		table[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/home"}] = Home(h)
	}
	if p, ok := iface.(Positioner); ok {
		table[generichttp.MethodPath{Method: http.MethodGet, Path: "/pos"}] = GetAll(p)
	}
}

// GetPos returns an HTTP handler func from a mover that gets the position of an axis
func GetPos(m Mover) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis := chi.URLParam(r, "axis")
		pos, err := m.GetPos(axis)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := generichttp.HumanPayload{T: types.Float64, Float: pos}
		hp.EncodeAndRespond(w, r)
	}
}

// GetAll returns an HTTP handler func that reports the position of every axis
func GetAll(p Positioner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pos, err := p.Position()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		generichttp.RespondJSON(w, pos)
	}
}

// axisRelative pulls the axis from the path and ?relative=true from the query
func axisRelative(r *http.Request) (string, bool, error) {
	axis := chi.URLParam(r, "axis")
	relative := r.URL.Query().Get("relative")
	if relative == "" {
		return axis, false, nil
	}
	b, err := strconv.ParseBool(relative)
	return axis, b, err
}

// SetPos returns an HTTP handler func from a mover that triggers an absolute or
// relative move on an axis based on the relative query parameter
func SetPos(m Mover) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis, rel, err := axisRelative(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f := generichttp.FloatT{}
		err = json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if rel {
			err = m.MoveRel(axis, f.F64)
		} else {
			err = m.MoveAbs(axis, f.F64)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Home returns an HTTP handler func that homes an axis
func Home(h Homer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h.Home(chi.URLParam(r, "axis"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
