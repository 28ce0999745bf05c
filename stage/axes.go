package stage

import (
	"fmt"
	"sync"
)

// Axes exposes an XY stage, and optionally a Z stage, axis by axis, the way
// the generic HTTP motion routes address them ("x", "y", "z")
type Axes struct {
	XY XY

	// Z may be nil
	Z Z

	mu  sync.Mutex
	vel map[string]float64
	jog map[string]float64
	joy bool
}

// NewAxes wraps xy and z (which may be nil)
func NewAxes(xy XY, z Z) *Axes {
	return &Axes{XY: xy, Z: z, vel: map[string]float64{}, jog: map[string]float64{}, joy: true}
}

func badAxis(axis string) error {
	return fmt.Errorf("axis %q not understood, use x, y or z", axis)
}

// GetPos returns the position of one axis
func (a *Axes) GetPos(axis string) (float64, error) {
	if axis == "z" && a.Z != nil {
		return a.Z.ZPosition()
	}
	if axis != "x" && axis != "y" {
		return 0, badAxis(axis)
	}
	pos, err := a.XY.Position()
	if err != nil {
		return 0, err
	}
	return pos[axis], nil
}

// Position returns every axis
func (a *Axes) Position() (map[string]float64, error) {
	pos, err := a.XY.Position()
	if err != nil {
		return nil, err
	}
	out := pos.Copy()
	if a.Z != nil {
		z, err := a.Z.ZPosition()
		if err != nil {
			return nil, err
		}
		out["z"] = z
	}
	return out, nil
}

// MoveAbs moves one axis, holding the other where it is
func (a *Axes) MoveAbs(axis string, p float64) error {
	switch axis {
	case "z":
		if a.Z == nil {
			return badAxis(axis)
		}
		return a.Z.ZMoveAbs(p)
	case "x", "y":
		pos, err := a.XY.Position()
		if err != nil {
			return err
		}
		if axis == "x" {
			return a.XY.GoAbsolute(p, pos.Y())
		}
		return a.XY.GoAbsolute(pos.X(), p)
	default:
		return badAxis(axis)
	}
}

// MoveRel moves one axis by a delta
func (a *Axes) MoveRel(axis string, d float64) error {
	switch axis {
	case "x":
		return a.XY.GoRelative(d, 0)
	case "y":
		return a.XY.GoRelative(0, d)
	case "z":
		if a.Z == nil {
			return badAxis(axis)
		}
		return a.Z.ZMoveRel(d)
	default:
		return badAxis(axis)
	}
}

// SetVelocity sets the speed of one axis; the stage is sent both
func (a *Axes) SetVelocity(axis string, v float64) error {
	if axis != "x" && axis != "y" {
		return badAxis(axis)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	next := map[string]float64{"x": a.vel["x"], "y": a.vel["y"]}
	next[axis] = v
	if err := a.XY.SetVelocity(next["x"], next["y"]); err != nil {
		return err
	}
	a.vel = next
	return nil
}

// GetVelocity returns the last velocity set on an axis
func (a *Axes) GetVelocity(axis string) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.vel[axis], nil
}

// Jog drives one axis at v um/s, the other keeps its jog speed
func (a *Axes) Jog(axis string, v float64) error {
	if axis != "x" && axis != "y" {
		return badAxis(axis)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	next := map[string]float64{"x": a.jog["x"], "y": a.jog["y"]}
	next[axis] = v
	if err := a.XY.Jog(next["x"], next["y"]); err != nil {
		return err
	}
	a.jog = next
	return nil
}

// Zero zeroes the XY stage
func (a *Axes) Zero() error {
	return a.XY.Zero()
}

// SetJoystick turns the joystick on or off
func (a *Axes) SetJoystick(on bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.XY.JoystickOnOff(on); err != nil {
		return err
	}
	a.joy = on
	return nil
}

// GetJoystick returns the last joystick state set
func (a *Axes) GetJoystick() (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.joy, nil
}

// Moving reports motion in progress, false for stages that cannot tell
func (a *Axes) Moving() (bool, error) {
	if b, ok := a.XY.(Busier); ok {
		return b.Busy()
	}
	return false, nil
}

// Stop aborts motion if the stage supports it
func (a *Axes) Stop() error {
	if s, ok := a.XY.(Stopper); ok {
		return s.Stop()
	}
	return ErrNotSupported
}

// Live reports the liveness of the XY stage
func (a *Axes) Live() (bool, error) {
	return a.XY.Live(), nil
}
