package pi

import (
	"log"
	"sync"

	"github.com/zhuanglab/gostorm/stage"
)

// DefaultUnitToUm is the size in um of one E-873 position unit.  It needs
// calibration per stage; set E873.UnitToUm to override.
const DefaultUnitToUm = 100

// axis labels on an E-873.3QTU
const (
	AxisX = "1"
	AxisY = "2"
	AxisZ = "3"
)

// E873 is an XY stage on a PI E-873 controller.  Moves outside the travel
// range the controller reports are rejected with a stage.RangeError.
type E873 struct {
	*Controller

	// UnitToUm converts controller units to um
	UnitToUm float64

	mu       sync.Mutex
	live     bool
	min, max map[string]float64
}

// NewE873 connects to a controller, reads its travel ranges and position,
// and enables the servos
func NewE873(addr string, serial bool) *E873 {
	return newE873(NewController(addr, serial), DefaultUnitToUm)
}

func newE873(c *Controller, unitToUm float64) *E873 {
	s := &E873{Controller: c, UnitToUm: unitToUm}
	idn, err := c.Identify()
	if err != nil || idn == "" {
		log.Printf("PI E-873 at %s did not identify itself: %v", c.Addr, err)
		return s
	}
	min, max, err := c.Limits()
	if err != nil {
		log.Printf("PI E-873 at %s: could not read travel ranges: %v", c.Addr, err)
		return s
	}
	pos, err := c.Positions()
	if err != nil {
		log.Printf("PI E-873 at %s: could not read position: %v", c.Addr, err)
		return s
	}
	for _, ax := range []string{AxisX, AxisY} {
		if err := c.Enable(ax); err != nil {
			log.Printf("PI E-873 at %s: could not enable servo %s: %v", c.Addr, ax, err)
		}
	}
	log.Printf("connected to %s at %s, position %v", idn, c.Addr, pos)
	s.min, s.max = min, max
	s.live = true
	return s
}

// Live reports if the controller answered at connect time
func (s *E873) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Range returns the travel of an axis in um
func (s *E873) Range(axis string) (min, max float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.min[axis] * s.UnitToUm, s.max[axis] * s.UnitToUm
}

// moveChecked moves axis to target controller units if it is strictly
// inside the travel range
func (s *E873) moveChecked(name, axis string, target float64) error {
	s.mu.Lock()
	lo, hi := s.min[axis], s.max[axis]
	s.mu.Unlock()
	if err := stage.CheckRange(name, target, lo, hi); err != nil {
		return err
	}
	return s.MoveAbs(axis, target)
}

// GoAbsolute moves to (x, y) um.  Each axis is range checked and moved on
// its own, so an in-range axis still moves when the other is rejected.
func (s *E873) GoAbsolute(x, y float64) error {
	if !s.Live() {
		return stage.ErrNotLive
	}
	errx := s.moveChecked("x", AxisX, x/s.UnitToUm)
	erry := s.moveChecked("y", AxisY, y/s.UnitToUm)
	if errx != nil {
		return errx
	}
	return erry
}

// GoRelative moves by (dx, dy) um from the current position
func (s *E873) GoRelative(dx, dy float64) error {
	if !s.Live() {
		return stage.ErrNotLive
	}
	x0, err := s.GetPos(AxisX)
	if err != nil {
		return err
	}
	y0, err := s.GetPos(AxisY)
	if err != nil {
		return err
	}
	errx := s.moveChecked("x", AxisX, x0+dx/s.UnitToUm)
	erry := s.moveChecked("y", AxisY, y0+dy/s.UnitToUm)
	if errx != nil {
		return errx
	}
	return erry
}

// Jog is not available on the E-873
func (s *E873) Jog(vx, vy float64) error {
	return stage.ErrNotSupported
}

// JoystickOnOff does nothing, the E-873 has no joystick input
func (s *E873) JoystickOnOff(on bool) error {
	return nil
}

// Lockout calls JoystickOnOff(!flag)
func (s *E873) Lockout(flag bool) error {
	return s.JoystickOnOff(!flag)
}

// Position returns the x, y and z positions in um
func (s *E873) Position() (stage.Position, error) {
	if !s.Live() {
		return nil, stage.ErrNotLive
	}
	m, err := s.Positions()
	if err != nil {
		return nil, err
	}
	pos := stage.Position{"x": m[AxisX] * s.UnitToUm, "y": m[AxisY] * s.UnitToUm}
	if z, ok := m[AxisZ]; ok {
		pos["z"] = z * s.UnitToUm
	}
	return pos, nil
}

// SetVelocity sets the closed loop velocity of x and y, in um/s
func (s *E873) SetVelocity(vx, vy float64) error {
	if !s.Live() {
		return stage.ErrNotLive
	}
	if err := s.Controller.SetVelocity(AxisX, vx/s.UnitToUm); err != nil {
		return err
	}
	return s.Controller.SetVelocity(AxisY, vy/s.UnitToUm)
}

// Zero references both axes
func (s *E873) Zero() error {
	if !s.Live() {
		return stage.ErrNotLive
	}
	if err := s.Home(AxisX); err != nil {
		return err
	}
	return s.Home(AxisY)
}

// Busy is true while either axis is off target
func (s *E873) Busy() (bool, error) {
	for _, ax := range []string{AxisX, AxisY} {
		on, err := s.GetInPosition(ax)
		if err != nil {
			return false, err
		}
		if !on {
			return true, nil
		}
	}
	return false, nil
}

// Close stops all axes and releases the connection
func (s *E873) Close() error {
	if s.Live() {
		if err := s.Stop(); err != nil {
			log.Printf("PI E-873 at %s: stop on shutdown failed: %v", s.Addr, err)
		}
	}
	return s.Controller.Close()
}

// E873Z is the focus axis of an E-873.  It shares the XY stage's
// connection when that stage is live.
type E873Z struct {
	xy *E873
}

// NewE873Z returns the z axis of the controller behind xy.  If xy is nil or
// not live a new connection is opened to addr.
func NewE873Z(xy *E873, addr string, serial bool) *E873Z {
	if xy == nil || !xy.Live() {
		xy = NewE873(addr, serial)
	}
	return &E873Z{xy: xy}
}

// Live reports if the controller is live
func (z *E873Z) Live() bool {
	return z.xy.Live()
}

// Range returns the travel of the z axis in um
func (z *E873Z) Range() (min, max float64) {
	return z.xy.Range(AxisZ)
}

// ZMoveAbs moves to z um
func (z *E873Z) ZMoveAbs(target float64) error {
	if !z.Live() {
		return stage.ErrNotLive
	}
	return z.xy.moveChecked("z", AxisZ, target/z.xy.UnitToUm)
}

// ZMoveRel moves by dz um from the current position
func (z *E873Z) ZMoveRel(dz float64) error {
	if !z.Live() {
		return stage.ErrNotLive
	}
	z0, err := z.xy.GetPos(AxisZ)
	if err != nil {
		return err
	}
	return z.xy.moveChecked("z", AxisZ, z0+dz/z.xy.UnitToUm)
}

// ZPosition returns z in um
func (z *E873Z) ZPosition() (float64, error) {
	if !z.Live() {
		return 0, stage.ErrNotLive
	}
	p, err := z.xy.GetPos(AxisZ)
	return p * z.xy.UnitToUm, err
}
