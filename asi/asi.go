// Package asi drives Applied Scientific Instrumentation MS2000 XY stages,
// addressed as card 2H, over RS-232.
package asi

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
	// UnitToUm is the size of a controller unit, a tenth of a micron
	UnitToUm = 0.1

	// Baud is the controller's baud rate
	Baud = 115200

	// NoFeedbackSpeed is the speed in um/s used to estimate move times on
	// builds without motion feedback
	NoFeedbackSpeed = 100
)

// MS2000 is an ASI MS2000 controller.  Every command it is sent is answered.
type MS2000 struct {
	*comm.RemoteDevice

	mu   sync.Mutex
	live bool
	pos  stage.Position
}

// New connects to the controller, enables both axes and checks that the
// card answers a status query
func New(addr string, serial bool) *MS2000 {
	rd := comm.NewRemoteDevice(addr, serial, nil, comm.SerialConf(addr, Baud, time.Second))
	s := &MS2000{RemoteDevice: &rd, pos: stage.Position{"x": 0, "y": 0}}
	if _, err := s.command("2HMC X+ Y+"); err != nil {
		log.Printf("ASI stage at %s did not accept axis enable: %v", addr, err)
	}
	status, err := s.command("2H/")
	if err != nil || status == "" {
		log.Printf("ASI stage at %s is not connected? is it on? %v", addr, err)
		return s
	}
	log.Printf("connected to the ASI stage at %s", addr)
	s.live = true
	return s
}

func (s *MS2000) command(cmd string) (string, error) {
	resp, err := s.OpenSendRecvClose([]byte(cmd))
	if err != nil {
		return "", errors.Wrapf(err, "asi %s", cmd)
	}
	return strings.TrimSpace(string(resp)), nil
}

func (s *MS2000) liveCommand(cmd string) (string, error) {
	if !s.Live() {
		return "", stage.ErrNotLive
	}
	return s.command(cmd)
}

func toUnit(um float64) string {
	return util.FormatFloat(math.Round(um/UnitToUm*1e3) / 1e3)
}

// Live reports if the stage answered at connect time
func (s *MS2000) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// GoAbsolute moves to (x, y) um.  The cached position is updated at once so
// that readers see the target before the next poll.
func (s *MS2000) GoAbsolute(x, y float64) error {
	if _, err := s.liveCommand("2HM X=" + toUnit(x) + " Y=" + toUnit(y)); err != nil {
		return err
	}
	s.mu.Lock()
	s.pos = stage.Position{"x": x, "y": y}
	s.mu.Unlock()
	return nil
}

// GoRelative moves by (dx, dy) um
func (s *MS2000) GoRelative(dx, dy float64) error {
	if _, err := s.liveCommand("2HR X=" + toUnit(dx) + " Y=" + toUnit(dy)); err != nil {
		return err
	}
	s.mu.Lock()
	s.pos = stage.Position{"x": s.pos.X() + dx, "y": s.pos.Y() + dy}
	s.mu.Unlock()
	return nil
}

// Jog drives the stage at (vx, vy) um/s; the controller takes mm/s
func (s *MS2000) Jog(vx, vy float64) error {
	_, err := s.liveCommand("2HS X=" + util.FormatFloat(vx*0.001) + " Y=" + util.FormatFloat(vy*0.001))
	return err
}

// SetVelocity sets the maximum speed of both axes, in the controller's mm/s
func (s *MS2000) SetVelocity(vx, vy float64) error {
	_, err := s.liveCommand("2HS X=" + util.FormatFloat(vx) + " Y=" + util.FormatFloat(vy))
	return err
}

// JoystickOnOff does nothing; the MS2000 joystick is always live
func (s *MS2000) JoystickOnOff(on bool) error {
	return nil
}

// Lockout does nothing, see JoystickOnOff
func (s *MS2000) Lockout(flag bool) error {
	return nil
}

// Busy queries the status byte; a reply containing 'B' means an axis is moving
func (s *MS2000) Busy() (bool, error) {
	resp, err := s.liveCommand("2H/")
	if err != nil {
		return false, err
	}
	return strings.Contains(resp, "B"), nil
}

// Position queries "2HW X Y", answered as ":A x y".  A garbled reply logs a
// warning and the last good position is returned.
func (s *MS2000) Position() (stage.Position, error) {
	resp, err := s.liveCommand("2HW X Y")
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fields := strings.Split(resp, " ")
	if len(fields) < 3 {
		log.Printf("warning: bad position from ASI stage %q", resp)
		return s.pos.Copy(), nil
	}
	x, errx := strconv.ParseFloat(fields[1], 64)
	y, erry := strconv.ParseFloat(fields[2], 64)
	if errx != nil || erry != nil {
		log.Printf("warning: bad position from ASI stage %q", resp)
		return s.pos.Copy(), nil
	}
	s.pos = stage.Position{"x": x * UnitToUm, "y": y * UnitToUm}
	return s.pos.Copy(), nil
}

// Zero makes the current position the origin
func (s *MS2000) Zero() error {
	if _, err := s.liveCommand("2HZ"); err != nil {
		return err
	}
	s.mu.Lock()
	s.pos = stage.Position{"x": 0, "y": 0}
	s.mu.Unlock()
	return nil
}

// Raw sends a command verbatim and returns the reply
func (s *MS2000) Raw(cmd string) (string, error) {
	return s.liveCommand(cmd)
}

// NewNoFeedback wraps a controller without motion feedback so that it
// reports moving for the estimated duration of each move
func NewNoFeedback(addr string, serial bool) *stage.Estimated {
	return stage.NewEstimated(New(addr, serial), NoFeedbackSpeed)
}
