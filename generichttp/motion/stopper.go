package motion

import (
	"net/http"

	"github.com/zhuanglab/gostorm/generichttp"
)

// Stopper can abort all motion of a stage
type Stopper interface {
	Stop() error
}

// HTTPStop adds a POST /stop route to the table
func HTTPStop(iface Stopper, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/stop"}] = generichttp.Do(iface.Stop)
}
