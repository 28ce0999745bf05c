package thorlabs

import (
	"log"
	"sync"

	"github.com/zhuanglab/gostorm/stage"
)

const (
	// UnitToUm is the size in um of the mm the motors are driven in
	UnitToUm = 1000

	// MoveSpeed is the travel speed in um/s assumed for move time estimates
	MoveSpeed = 10000

	// KDCTravel is the software range in mm of each KDC101 axis
	KDCTravel = 250
)

// Stage is an XY stage made of two APT motors
type Stage struct {
	X, Y *Motor

	// Range is the travel of both axes in mm, moves must stay strictly
	// inside it.  A nil Range disables the check.
	Range *[2]float64

	buses []*Bus

	mu   sync.Mutex
	live bool
}

func newStage(x, y *Motor, buses ...*Bus) *Stage {
	s := &Stage{X: x, Y: y, buses: buses}
	for _, b := range buses {
		b := b
		b.completed = func(src byte) {
			for _, m := range []*Motor{x, y} {
				if m.bus == b && m.dest == src {
					m.setMoving(false)
				}
			}
		}
	}
	return s
}

// NewKDC101 returns a stage made of two KDC101 cubes, one per axis
func NewKDC101(xAddr, yAddr string, serial bool, cfg MotorConfig) *Stage {
	bx, by := NewBus(xAddr, serial), NewBus(yAddr, serial)
	s := newStage(NewMotor(bx, GenericUSB, cfg), NewMotor(by, GenericUSB, cfg), bx, by)
	s.Range = &[2]float64{-KDCTravel, KDCTravel}
	s.connect()
	return s
}

// NewBBD103 returns the stage on the first two bays of a BBD103 rack,
// usually an MLS203
func NewBBD103(addr string, serial bool, cfg MotorConfig) *Stage {
	b := NewBus(addr, serial)
	s := newStage(NewMotor(b, Bay1, cfg), NewMotor(b, Bay2, cfg), b)
	s.connect()
	return s
}

func (s *Stage) connect() {
	for _, ax := range []struct {
		name string
		m    *Motor
	}{{"x", s.X}, {"y", s.Y}} {
		info, err := ax.m.bus.Info(ax.m.dest)
		if err != nil {
			log.Printf("thorlabs %s axis at %s did not answer: %v", ax.name, ax.m.bus.Addr, err)
			return
		}
		log.Printf("connected to thorlabs %s S/N %d (firmware %s) for the %s axis", info.Model, info.SerialNumber, info.Firmware, ax.name)
	}
	s.live = true
}

// Live reports if both controllers identified themselves at connect time
func (s *Stage) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

func (s *Stage) check(name string, target float64) error {
	if s.Range == nil {
		return nil
	}
	return stage.CheckRange(name, target, s.Range[0], s.Range[1])
}

// GoAbsolute moves to (x, y) um.  Each axis is checked on its own, so the
// in-range axis still moves when the other is rejected.
func (s *Stage) GoAbsolute(x, y float64) error {
	if !s.Live() {
		return stage.ErrNotLive
	}
	var firstErr error
	for _, ax := range []struct {
		name   string
		m      *Motor
		target float64
	}{{"x", s.X, x / UnitToUm}, {"y", s.Y, y / UnitToUm}} {
		err := s.check(ax.name, ax.target)
		if err == nil {
			err = ax.m.MoveAbs(ax.target)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// GoRelative moves by (dx, dy) um, checking current + delta against the range
func (s *Stage) GoRelative(dx, dy float64) error {
	if !s.Live() {
		return stage.ErrNotLive
	}
	var firstErr error
	for _, ax := range []struct {
		name  string
		m     *Motor
		delta float64
	}{{"x", s.X, dx / UnitToUm}, {"y", s.Y, dy / UnitToUm}} {
		err := s.relative(ax.name, ax.m, ax.delta)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Stage) relative(name string, m *Motor, delta float64) error {
	if s.Range != nil {
		p0, err := m.Position()
		if err != nil {
			return err
		}
		if err := s.check(name, p0+delta); err != nil {
			return err
		}
	}
	return m.MoveRel(delta)
}

// Jog drives each axis at |v| um/s in the direction of its sign; a zero
// velocity stops the axis
func (s *Stage) Jog(vx, vy float64) error {
	if !s.Live() {
		return stage.ErrNotLive
	}
	for _, ax := range []struct {
		m *Motor
		v float64
	}{{s.X, vx}, {s.Y, vy}} {
		if ax.v == 0 {
			if err := ax.m.Stop(); err != nil {
				return err
			}
			continue
		}
		if err := ax.m.SetMaxVelocity(ax.v / UnitToUm); err != nil {
			return err
		}
		if err := ax.m.MoveVelocity(ax.v > 0); err != nil {
			return err
		}
	}
	return nil
}

// JoystickOnOff does nothing, the controllers take no joystick
func (s *Stage) JoystickOnOff(on bool) error {
	return nil
}

// Lockout calls JoystickOnOff(!flag)
func (s *Stage) Lockout(flag bool) error {
	return s.JoystickOnOff(!flag)
}

// Position returns the position in um
func (s *Stage) Position() (stage.Position, error) {
	if !s.Live() {
		return nil, stage.ErrNotLive
	}
	x, err := s.X.Position()
	if err != nil {
		return nil, err
	}
	y, err := s.Y.Position()
	if err != nil {
		return nil, err
	}
	return stage.Position{"x": x * UnitToUm, "y": y * UnitToUm}, nil
}

// SetVelocity sets the maximum speed of each axis in um/s
func (s *Stage) SetVelocity(vx, vy float64) error {
	if !s.Live() {
		return stage.ErrNotLive
	}
	if err := s.X.SetMaxVelocity(vx / UnitToUm); err != nil {
		return err
	}
	return s.Y.SetMaxVelocity(vy / UnitToUm)
}

// Zero redefines the current position as the origin
func (s *Stage) Zero() error {
	if !s.Live() {
		return stage.ErrNotLive
	}
	if err := s.X.SetPosition(0); err != nil {
		return err
	}
	return s.Y.SetPosition(0)
}

// Home homes both axes
func (s *Stage) Home() error {
	if !s.Live() {
		return stage.ErrNotLive
	}
	if err := s.X.Home(); err != nil {
		return err
	}
	return s.Y.Home()
}

// Stop halts both axes
func (s *Stage) Stop() error {
	errx := s.X.Stop()
	erry := s.Y.Stop()
	if errx != nil {
		return errx
	}
	return erry
}

// Busy is true while either axis has an unfinished move
func (s *Stage) Busy() (bool, error) {
	for _, m := range []*Motor{s.X, s.Y} {
		b, err := m.Moving()
		if err != nil || b {
			return b, err
		}
	}
	return false, nil
}

// SerialNumbers returns the serial numbers of the x and y controllers
func (s *Stage) SerialNumbers() (x, y uint32, err error) {
	ix, err := s.X.bus.Info(s.X.dest)
	if err != nil {
		return 0, 0, err
	}
	iy, err := s.Y.bus.Info(s.Y.dest)
	return ix.SerialNumber, iy.SerialNumber, err
}

// Close releases the connections
func (s *Stage) Close() error {
	var firstErr error
	for _, b := range s.buses {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
