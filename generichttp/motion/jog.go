package motion

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/zhuanglab/gostorm/generichttp"
)

// Jogger can drive an axis at a constant speed until told otherwise
type Jogger interface {
	// Jog moves the axis at a velocity in um/s; 0 stops it
	Jog(string, float64) error
}

// HTTPJog adds routes for the jogger to the route table
func HTTPJog(iface Jogger, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/jog"}] = Jog(iface)
}

// Jog returns an HTTP handler func which jogs an axis at {"f64": um/s}
func Jog(j Jogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis := chi.URLParam(r, "axis")
		f := generichttp.FloatT{}
		err := json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = j.Jog(axis, f.F64)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
