// Package pi provides a Go interface to PI motion controllers speaking the
// GCS2 command language, and the E-873 XY/Z stage built on it
package pi

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/zhuanglab/gostorm/comm"
	"github.com/zhuanglab/gostorm/util"
)

// Baud is the rate of the USB virtual COM port
const Baud = 115200

// Controller maps to any PI GCS2 controller, e.g. E-873, C-884
type Controller struct {
	*comm.RemoteDevice
}

// NewController returns a fully configured new controller
func NewController(addr string, serial bool) *Controller {
	terms := comm.Terminators{Rx: '\n', Tx: '\n'}
	rd := comm.NewRemoteDevice(addr, serial, &terms, comm.SerialConf(addr, Baud, 2*time.Second))
	return &Controller{RemoteDevice: &rd}
}

func (c *Controller) gCodeWriteOnly(msg string, more ...string) error {
	str := strings.Join(append([]string{msg}, more...), " ")
	return errors.Wrap(c.OpenSend([]byte(str)), "pi")
}

// recvMulti reads a GCS2 reply, whose lines but the last end in a space
func (c *Controller) recvMulti() ([]string, error) {
	var lines []string
	for {
		resp, err := c.Recv()
		if err != nil {
			return lines, err
		}
		line := string(resp)
		if strings.HasSuffix(line, " ") {
			lines = append(lines, strings.TrimSuffix(line, " "))
			continue
		}
		lines = append(lines, line)
		return lines, nil
	}
}

// query sends cmd and parses an "axis=value" reply into a map
func (c *Controller) query(cmd string, axes ...string) (map[string]string, error) {
	str := strings.Join(append([]string{cmd}, axes...), " ")
	var lines []string
	err := c.Transact(func() error {
		if err := c.Send([]byte(str)); err != nil {
			return err
		}
		var err error
		lines, err = c.recvMulti()
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "pi %s", str)
	}
	out := make(map[string]string, len(lines))
	for _, l := range lines {
		parts := strings.SplitN(l, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("pi %s: malformed reply %q, is the axis enabled (online, as PI says)", str, l)
		}
		out[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return out, nil
}

func (c *Controller) queryFloats(cmd string, axes ...string) (map[string]float64, error) {
	m, err := c.query(cmd, axes...)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "pi %s %s", cmd, k)
		}
		out[k] = f
	}
	return out, nil
}

func (c *Controller) readFloat(cmd, axis string) (float64, error) {
	m, err := c.queryFloats(cmd, axis)
	if err != nil {
		return 0, err
	}
	f, ok := m[axis]
	if !ok {
		return 0, fmt.Errorf("pi %s: no value for axis %s", cmd, axis)
	}
	return f, nil
}

func (c *Controller) readBool(cmd, axis string) (bool, error) {
	m, err := c.query(cmd, axis)
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(m[axis])
}

// Identify returns the *IDN? string
func (c *Controller) Identify() (string, error) {
	resp, err := c.OpenSendRecvClose([]byte("*IDN?"))
	return strings.TrimSpace(string(resp)), errors.Wrap(err, "pi *IDN?")
}

// MoveAbs commands the controller to move an axis to an absolute position
func (c *Controller) MoveAbs(axis string, pos float64) error {
	return c.gCodeWriteOnly("MOV", axis, util.FormatFloat(pos))
}

// MoveRel commands the controller to move an axis by a delta
func (c *Controller) MoveRel(axis string, delta float64) error {
	return c.gCodeWriteOnly("MVR", axis, util.FormatFloat(delta))
}

// GetPos returns the current position of an axis
func (c *Controller) GetPos(axis string) (float64, error) {
	return c.readFloat("POS?", axis)
}

// Positions returns the position of every axis
func (c *Controller) Positions() (map[string]float64, error) {
	return c.queryFloats("POS?")
}

// Limits returns the soft travel range (TMN?, TMX?) of every axis
func (c *Controller) Limits() (min, max map[string]float64, err error) {
	min, err = c.queryFloats("TMN?")
	if err != nil {
		return nil, nil, err
	}
	max, err = c.queryFloats("TMX?")
	return min, max, err
}

// SetVelocity sets the closed-loop velocity of an axis
func (c *Controller) SetVelocity(axis string, v float64) error {
	return c.gCodeWriteOnly("VEL", axis, util.FormatFloat(v))
}

// GetVelocity returns the closed-loop velocity of an axis
func (c *Controller) GetVelocity(axis string) (float64, error) {
	return c.readFloat("VEL?", axis)
}

// GetInPosition returns true if the axis is on target
func (c *Controller) GetInPosition(axis string) (bool, error) {
	return c.readBool("ONT?", axis)
}

// Enable turns on the servo of an axis
func (c *Controller) Enable(axis string) error {
	return c.gCodeWriteOnly("SVO", axis, "1")
}

// Home references an axis against its reference switch
func (c *Controller) Home(axis string) error {
	return c.gCodeWriteOnly("FRF", axis)
}

// Stop halts every axis
func (c *Controller) Stop() error {
	return c.gCodeWriteOnly("STP")
}

// PopError returns the last error from the controller
func (c *Controller) PopError() error {
	resp, err := c.OpenSendRecvClose([]byte("ERR?"))
	if err != nil {
		return errors.Wrap(err, "pi ERR?")
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(resp)))
	if err != nil {
		return fmt.Errorf("pi ERR?: unreadable error code %q", resp)
	}
	return GCS2Err(code)
}

// Raw sends a command verbatim.  Queries (containing '?') wait for the reply.
func (c *Controller) Raw(cmd string) (string, error) {
	if !strings.Contains(cmd, "?") {
		return "", c.gCodeWriteOnly(cmd)
	}
	var lines []string
	err := c.Transact(func() error {
		if err := c.Send([]byte(cmd)); err != nil {
			return err
		}
		var err error
		lines, err = c.recvMulti()
		return err
	})
	return strings.Join(lines, "\n"), err
}
