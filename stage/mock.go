package stage

import (
	"math"
	"sync"
	"time"
)

const mockServoPeriod = 5 * time.Millisecond

// Mock is an in-memory XY and Z stage.  Moves play out over time at the
// velocity setpoint so the monitor sees them as busy.
type Mock struct {
	sync.Mutex
	pos    Position
	target Position
	vel    float64
	jx, jy float64
	joy    bool
	gen    int
}

// NewMock returns a mock stage at the origin moving at 1000 um/s
func NewMock() *Mock {
	return &Mock{
		pos:    Position{"x": 0, "y": 0, "z": 0},
		target: Position{"x": 0, "y": 0, "z": 0},
		vel:    1000,
		joy:    true}
}

func (m *Mock) moveTo(gen int, step float64) {
	tick := time.NewTicker(mockServoPeriod)
	defer tick.Stop()
	for range tick.C {
		m.Lock()
		if gen != m.gen {
			m.Unlock()
			return
		}
		done := true
		for axis, tgt := range m.target {
			d := tgt - m.pos[axis]
			if math.Abs(d) <= step {
				m.pos[axis] = tgt
				continue
			}
			done = false
			m.pos[axis] += math.Copysign(step, d)
		}
		m.Unlock()
		if done {
			return
		}
	}
}

// start must be called with the lock held
func (m *Mock) start() {
	m.gen++
	go m.moveTo(m.gen, m.vel*mockServoPeriod.Seconds())
}

// GoAbsolute moves to (x, y)
func (m *Mock) GoAbsolute(x, y float64) error {
	m.Lock()
	defer m.Unlock()
	m.target["x"], m.target["y"] = x, y
	m.start()
	return nil
}

// GoRelative moves by (dx, dy)
func (m *Mock) GoRelative(dx, dy float64) error {
	m.Lock()
	defer m.Unlock()
	m.target["x"] += dx
	m.target["y"] += dy
	m.start()
	return nil
}

// Jog records the jog speed; the mock does not drift
func (m *Mock) Jog(vx, vy float64) error {
	m.Lock()
	defer m.Unlock()
	m.jx, m.jy = vx, vy
	return nil
}

// JoystickOnOff records the joystick state
func (m *Mock) JoystickOnOff(on bool) error {
	m.Lock()
	defer m.Unlock()
	m.joy = on
	return nil
}

// Lockout disables the joystick while flag is true
func (m *Mock) Lockout(flag bool) error {
	return m.JoystickOnOff(!flag)
}

// Joystick reports the joystick state
func (m *Mock) Joystick() bool {
	m.Lock()
	defer m.Unlock()
	return m.joy
}

// Position reports x and y
func (m *Mock) Position() (Position, error) {
	m.Lock()
	defer m.Unlock()
	return Position{"x": m.pos["x"], "y": m.pos["y"]}, nil
}

// SetVelocity sets the travel speed from the larger component
func (m *Mock) SetVelocity(vx, vy float64) error {
	m.Lock()
	defer m.Unlock()
	m.vel = math.Max(math.Abs(vx), math.Abs(vy))
	return nil
}

// Zero makes the current x, y the origin
func (m *Mock) Zero() error {
	m.Lock()
	defer m.Unlock()
	m.gen++
	m.pos["x"], m.pos["y"] = 0, 0
	m.target["x"], m.target["y"] = 0, 0
	return nil
}

// Live is always true
func (m *Mock) Live() bool { return true }

// Close is a no-op
func (m *Mock) Close() error { return nil }

// Busy is true until every axis reaches its target
func (m *Mock) Busy() (bool, error) {
	m.Lock()
	defer m.Unlock()
	for axis, tgt := range m.target {
		if m.pos[axis] != tgt {
			return true, nil
		}
	}
	return false, nil
}

// Stop freezes every axis where it is
func (m *Mock) Stop() error {
	m.Lock()
	defer m.Unlock()
	m.gen++
	for axis := range m.target {
		m.target[axis] = m.pos[axis]
	}
	return nil
}

// ZMoveAbs moves z
func (m *Mock) ZMoveAbs(z float64) error {
	m.Lock()
	defer m.Unlock()
	m.target["z"] = z
	m.start()
	return nil
}

// ZMoveRel moves z by dz
func (m *Mock) ZMoveRel(dz float64) error {
	m.Lock()
	defer m.Unlock()
	m.target["z"] += dz
	m.start()
	return nil
}

// ZPosition reports z
func (m *Mock) ZPosition() (float64, error) {
	m.Lock()
	defer m.Unlock()
	return m.pos["z"], nil
}
