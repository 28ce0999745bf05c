// Package marzhauser drives Marzhauser Tango XY stages over their RS-232
// ASCII command set
package marzhauser

import (
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/zhuanglab/gostorm/comm"
	"github.com/zhuanglab/gostorm/stage"
	"github.com/zhuanglab/gostorm/util"
)

const (
	// UnitToUm is the size of a controller step; positions are exchanged in
	// tenths of a micron
	UnitToUm = 0.1

	// Baud is the controller's factory baud rate
	Baud = 57600
)

// Stage is a Marzhauser controller.  Its commands do not answer except for
// queries (leading '?').
type Stage struct {
	*comm.RemoteDevice

	mu   sync.Mutex
	live bool
	last stage.Position
}

// New connects to a stage at addr and checks it answers "?version".  A stage
// that does not answer is returned anyway with Live() false, and every
// motion command returns stage.ErrNotLive.
func New(addr string, serial bool) *Stage {
	terms := comm.Terminators{Rx: '\r', Tx: '\r'}
	rd := comm.NewRemoteDevice(addr, serial, &terms, comm.SerialConf(addr, Baud, 2*time.Second))
	s := &Stage{RemoteDevice: &rd, last: stage.Position{"x": 0, "y": 0}}
	version, err := s.Version()
	if err != nil || version == "" {
		log.Printf("marzhauser stage at %s did not answer ?version: %v", addr, err)
		return s
	}
	log.Printf("connected to the Marzhauser stage at %s, version %s", addr, version)
	s.live = true
	return s
}

// toUnit formats um as controller units, rounded to a thousandth of a step
func toUnit(um float64) string {
	return util.FormatFloat(math.Round(um/UnitToUm*1e3) / 1e3)
}

func (s *Stage) write(parts ...string) error {
	if !s.Live() {
		return stage.ErrNotLive
	}
	return errors.Wrap(s.OpenSend([]byte(strings.Join(parts, " "))), "marzhauser")
}

func (s *Stage) query(cmd string) (string, error) {
	resp, err := s.OpenSendRecvClose([]byte(cmd))
	if err != nil {
		return "", errors.Wrapf(err, "marzhauser %s", cmd)
	}
	return strings.TrimSpace(string(resp)), nil
}

// Live reports if the stage answered ?version at connect time
func (s *Stage) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Version returns the firmware version string
func (s *Stage) Version() (string, error) {
	return s.query("?version")
}

// SerialNumber returns the controller serial number
func (s *Stage) SerialNumber() (string, error) {
	return s.query("?readsn")
}

// GoAbsolute moves to (x, y) um
func (s *Stage) GoAbsolute(x, y float64) error {
	return s.write("!moa", toUnit(x), toUnit(y))
}

// GoRelative moves by (dx, dy) um
func (s *Stage) GoRelative(dx, dy float64) error {
	return s.write("!mor", toUnit(dx), toUnit(dy))
}

// Jog drives the stage at (vx, vy) um/s
func (s *Stage) Jog(vx, vy float64) error {
	return s.write("!speed", toUnit(vx), toUnit(vy))
}

// JoystickOnOff enables ("!joy 2") or disables ("!joy 0") the joystick
func (s *Stage) JoystickOnOff(on bool) error {
	if on {
		return s.write("!joy", "2")
	}
	return s.write("!joy", "0")
}

// Lockout disables the joystick while flag is true
func (s *Stage) Lockout(flag bool) error {
	return s.JoystickOnOff(!flag)
}

// Position queries "?pos", which answers "x y" in controller units.  A
// garbled reply is logged and the last good position returned.
func (s *Stage) Position() (stage.Position, error) {
	if !s.Live() {
		return nil, stage.ErrNotLive
	}
	resp, err := s.query("?pos")
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fields := strings.Fields(resp)
	if len(fields) < 2 {
		log.Printf("marzhauser: bad position reply %q", resp)
		return s.last.Copy(), nil
	}
	x, errx := strconv.ParseFloat(fields[0], 64)
	y, erry := strconv.ParseFloat(fields[1], 64)
	if errx != nil || erry != nil {
		log.Printf("marzhauser: bad position reply %q", resp)
		return s.last.Copy(), nil
	}
	s.last = stage.Position{"x": x * UnitToUm, "y": y * UnitToUm}
	return s.last.Copy(), nil
}

// SetVelocity sets the positioning speed.  The controller takes it in its
// native velocity unit, which is passed through unscaled.
func (s *Stage) SetVelocity(vx, vy float64) error {
	return s.write("!vel", util.FormatFloat(vx), util.FormatFloat(vy))
}

// SetAcceleration sets the positioning acceleration in controller units
func (s *Stage) SetAcceleration(ax, ay float64) error {
	return s.write("!accel", util.FormatFloat(ax), util.FormatFloat(ay))
}

// Zero makes the current position the origin
func (s *Stage) Zero() error {
	if err := s.write("!pos", "0", "0"); err != nil {
		return err
	}
	log.Println("re-zeroing the Marzhauser stage")
	return nil
}

// Raw sends a command verbatim; queries ("?...") wait for the reply
func (s *Stage) Raw(cmd string) (string, error) {
	if strings.HasPrefix(cmd, "?") {
		return s.query(cmd)
	}
	return "", s.write(cmd)
}
