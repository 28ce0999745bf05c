package motion

import (
	"encoding/json"
	"go/types"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/zhuanglab/gostorm/generichttp"
)

// Speeder sets the maximum speed of positioning moves on an axis, in um/s
type Speeder interface {
	SetVelocity(string, float64) error
}

// VelocityQueryer can report the speed setpoint of an axis
type VelocityQueryer interface {
	GetVelocity(string) (float64, error)
}

// HTTPSpeed adds routes for the speeder to the route table
func HTTPSpeed(iface Speeder, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/velocity"}] = SetVelocity(iface)
	if q, ok := iface.(VelocityQueryer); ok {
		table[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/velocity"}] = GetVelocity(q)
	}
}

// SetVelocity returns an HTTP handler func which sets the velocity setpoint on an axis
func SetVelocity(s Speeder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis := chi.URLParam(r, "axis")
		f := generichttp.FloatT{}
		err := json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err = s.SetVelocity(axis, f.F64); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetVelocity returns an HTTP handler func which gets the velocity setpoint on an axis
func GetVelocity(q VelocityQueryer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vel, err := q.GetVelocity(chi.URLParam(r, "axis"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := generichttp.HumanPayload{T: types.Float64, Float: vel}
		hp.EncodeAndRespond(w, r)
	}
}
