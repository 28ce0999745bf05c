// Package crestoptics controls the CrestOptics X-Light V2 spinning disk
// confocal unit over RS-232.
package crestoptics

import (
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/zhuanglab/gostorm/comm"
)

// Baud is the X-Light's baud rate
const Baud = 9600

// readPoll is the serial read timeout; replies are awaited in reads of this
// length until the command's own timeout.
const readPoll = 50 * time.Millisecond

// ErrNoResponse is returned when the unit does not answer before the timeout
var ErrNoResponse = errors.New("no response from the spinning disk")

// XLight is an X-Light V2.  Each command is answered with an echo once the
// motion it started has finished.
type XLight struct {
	*comm.RemoteDevice
}

// NewXLight returns a unit at addr; the port is opened lazily
func NewXLight(addr string, serial bool) *XLight {
	rd := comm.NewRemoteDevice(addr, serial, nil, comm.SerialConf(addr, Baud, readPoll))
	return &XLight{RemoteDevice: &rd}
}

// Live reports if the port can be opened
func (x *XLight) Live() bool {
	return x.Open() == nil
}

// CommandResponse discards anything stale from the unit, sends cmd and
// waits up to timeout for the reply
func (x *XLight) CommandResponse(cmd string, timeout time.Duration) (string, error) {
	var resp []byte
	err := x.Transact(func() error {
		old := x.Timeout
		x.Timeout = timeout
		defer func() { x.Timeout = old }()
		if err := x.Drain(); err != nil {
			return err
		}
		var err error
		resp, err = x.SendRecv([]byte(cmd))
		return err
	})
	if err != nil {
		if timedOut(err) {
			err = ErrNoResponse
		}
		return "", errors.Wrapf(err, "x-light %s", cmd)
	}
	s := strings.TrimSpace(string(resp))
	if s == "" {
		return "", errors.Wrapf(ErrNoResponse, "x-light %s", cmd)
	}
	return s, nil
}

func timedOut(err error) bool {
	if errors.Is(err, comm.ErrTimeout) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Raw sends a command with a one second reply timeout
func (x *XLight) Raw(cmd string) (string, error) {
	return x.CommandResponse(cmd, time.Second)
}
