// Package stage defines the contract shared by the XY and Z stage drivers,
// an adapter onto the generic HTTP motion routes, a position/motion monitor,
// and mock stages.
//
// All positions are micrometers and all speeds micrometers per second; each
// driver converts to its controller's native unit.
package stage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSupported is returned by drivers for operations the hardware lacks
	ErrNotSupported = errors.New("operation not supported by this stage")

	// ErrNotLive is returned when the stage did not answer at connect time
	ErrNotLive = errors.New("stage is not live, is it connected and powered on")
)

// Position is a snapshot of axis name => position in um
type Position map[string]float64

// X returns the x coordinate
func (p Position) X() float64 { return p["x"] }

// Y returns the y coordinate
func (p Position) Y() float64 { return p["y"] }

// Z returns the z coordinate
func (p Position) Z() float64 { return p["z"] }

// Copy returns an independent copy of the snapshot
func (p Position) Copy() Position {
	out := make(Position, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// XY is a motorized sample stage
type XY interface {
	// GoAbsolute moves to (x, y)
	GoAbsolute(x, y float64) error

	// GoRelative moves by (dx, dy)
	GoRelative(dx, dy float64) error

	// Jog drives the stage at (vx, vy) until told otherwise
	Jog(vx, vy float64) error

	// JoystickOnOff enables or disables the manual joystick
	JoystickOnOff(on bool) error

	// Lockout disables the joystick while flag is true
	Lockout(flag bool) error

	// Position reports the current position
	Position() (Position, error)

	// SetVelocity sets the speed of positioning moves
	SetVelocity(vx, vy float64) error

	// Zero declares the current position to be the origin
	Zero() error

	// Live reports if the stage answered when it was connected
	Live() bool

	// Close releases the connection
	Close() error
}

// Z is a focus (objective or sample height) stage
type Z interface {
	// ZMoveAbs moves to z
	ZMoveAbs(z float64) error

	// ZMoveRel moves by dz
	ZMoveRel(dz float64) error

	// ZPosition reports the current z
	ZPosition() (float64, error)
}

// Busier is a stage with motion feedback
type Busier interface {
	Busy() (bool, error)
}

// Stopper is a stage which can abort motion
type Stopper interface {
	Stop() error
}

// Homer is a stage which can run its homing routine
type Homer interface {
	Home() error
}

// RangeError is returned for moves outside the travel of an axis
type RangeError struct {
	Axis     string
	Target   float64
	Min, Max float64
}

func (e RangeError) Error() string {
	return fmt.Sprintf("requested move of axis %s to %g is outside its range (%g, %g)", e.Axis, e.Target, e.Min, e.Max)
}

// CheckRange returns a RangeError unless min < target < max
func CheckRange(axis string, target, min, max float64) error {
	if target > min && target < max {
		return nil
	}
	return RangeError{Axis: axis, Target: target, Min: min, Max: max}
}
