package motion

import (
	"net/http"

	"github.com/zhuanglab/gostorm/generichttp"
)

// Zeroer can declare the current position to be the origin
type Zeroer interface {
	Zero() error
}

// HTTPZero adds a POST /zero route to the table
func HTTPZero(iface Zeroer, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/zero"}] = generichttp.Do(iface.Zero)
}
