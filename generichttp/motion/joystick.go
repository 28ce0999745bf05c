package motion

import (
	"net/http"

	"github.com/zhuanglab/gostorm/generichttp"
)

// JoystickController is a stage with a manual joystick that can be locked out
type JoystickController interface {
	// SetJoystick enables or disables the joystick
	SetJoystick(bool) error

	// GetJoystick reports if the joystick is enabled
	GetJoystick() (bool, error)
}

// HTTPJoystick adds GET and POST /joystick to the table
func HTTPJoystick(iface JoystickController, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/joystick"}] = generichttp.GetBool(iface.GetJoystick)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/joystick"}] = generichttp.SetBool(iface.SetJoystick)
}
