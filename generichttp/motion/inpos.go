package motion

import (
	"net/http"

	"github.com/zhuanglab/gostorm/generichttp"
)

// InPositionQueryer can report whether the stage has finished its last move
type InPositionQueryer interface {
	Moving() (bool, error)
}

// HTTPInPosition adds GET /moving to the table
func HTTPInPosition(iface InPositionQueryer, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/moving"}] = generichttp.GetBool(iface.Moving)
}
