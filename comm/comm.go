/*Package comm provides an embeddable transport for microscope hardware reached
over RS-232 (or a terminal server / USB virtual COM port in TCP mode).

Most usages of this package will boil down to:
	1.  embed *RemoteDevice in a type that represents your hardware.
	2.  construct it with NewRemoteDevice, passing the terminators and serial
		configuration the controller's manual calls for.
	3.  write methods that format ASCII commands and parse replies with
		OpenSendRecvClose / OpenSend, which lock the device for the duration
		of one transaction and close the port after Timeout of inactivity.

A minimal example for a stage that answers "?pos" with "x y":

	type MyStage struct {
		*comm.RemoteDevice
	}

	func (s *MyStage) Pos() (string, error) {
		resp, err := s.OpenSendRecvClose([]byte("?pos"))
		return string(resp), err
	}
*/
package comm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

// DefaultTimeout is the idle time after which CloseEventually closes the
// connection, and the per-transaction deadline.
const DefaultTimeout = 3 * time.Second

var (
	// ErrNoSerialConf is generated when IsSerial is true but no serial config was given
	ErrNoSerialConf = errors.New("device is serial but has no serial configuration")

	// ErrNotConnected is generated when .Conn is nil and Send or Recv is called.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")

	// ErrTimeout is generated when a serial read passes the transaction deadline
	ErrTimeout = errors.New("read timed out")
)

// Terminators holds the bytes that end transmitted and received messages
type Terminators struct {
	// Rx terminates messages from the device
	Rx byte

	// Tx terminates messages to the device
	Tx byte
}

// flusher is satisfied by *serial.Port
type flusher interface {
	Flush() error
}

/*RemoteDevice has an address and implements Communicator.

The embedded mutex serializes transactions; the Open*Close helpers take it
for you.
*/
type RemoteDevice struct {
	sync.Mutex

	// Addr is the COM port (/dev/ttyUSB0, COM3) or host:port of the device
	Addr string

	// IsSerial selects the serial transport over TCP
	IsSerial bool

	// Conn is the live connection, nil when closed
	Conn io.ReadWriteCloser

	// Timeout is the idle close delay and transaction deadline
	Timeout time.Duration

	// Dial, if not nil, makes the connection in place of the serial port or
	// TCP socket
	Dial CreationFunc

	terms  Terminators
	serCfg *serial.Config
	rdr    *bufio.Reader
	timer  *time.Timer
	until  time.Time
}

// NewRemoteDevice creates a new RemoteDevice instance.  terms may be nil,
// in which case carriage returns are used in both directions.
func NewRemoteDevice(addr string, serial bool, terms *Terminators, serCfg *serial.Config) RemoteDevice {
	t := Terminators{Rx: '\r', Tx: '\r'}
	if terms != nil {
		t = *terms
	}
	return RemoteDevice{
		Addr:     addr,
		IsSerial: serial,
		Timeout:  DefaultTimeout,
		terms:    t,
		serCfg:   serCfg}
}

// Terminators returns the terminators used by the device
func (rd *RemoteDevice) Terminators() Terminators {
	return rd.terms
}

// Open the connection, setting the Conn variable.  It is a no-op if the
// connection is already open.
func (rd *RemoteDevice) Open() error {
	rd.Lock()
	defer rd.Unlock()
	return rd.open()
}

func (rd *RemoteDevice) open() error {
	if rd.timer != nil {
		rd.timer.Stop()
	}
	if rd.Conn != nil {
		return nil
	}
	// we use an exponential backoff, USB-serial bridges
	// do not like being connection thrashed
	var lastErr error
	op := func() error {
		err := rd.dial()
		if err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "refused") {
				return backoff.Permanent(err)
			}
			lastErr = err
			return err
		}
		return nil
	}

	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err == nil {
		return nil
	}
	if lastErr != nil && err == lastErr {
		return fmt.Errorf("connection timeout to %s: %w", rd.Addr, err)
	}
	return err
}

func (rd *RemoteDevice) dial() error {
	var (
		err  error
		conn io.ReadWriteCloser
	)
	switch {
	case rd.Dial != nil:
		conn, err = rd.Dial()
	case rd.IsSerial:
		if rd.serCfg == nil {
			return backoff.Permanent(ErrNoSerialConf)
		}
		conn, err = serial.OpenPort(rd.serCfg)
	default:
		conn, err = TCPSetup(rd.Addr, rd.timeout())
	}
	if err != nil {
		return err
	}
	rd.Conn = conn
	if _, ok := conn.(net.Conn); ok {
		rd.rdr = bufio.NewReader(conn)
	} else {
		rd.rdr = bufio.NewReader(pollReader{r: conn, until: &rd.until})
	}
	return nil
}

// pollReader retries the empty reads a serial port returns when its read
// timeout lapses, until *until has passed
type pollReader struct {
	r     io.Reader
	until *time.Time
}

func (p pollReader) Read(b []byte) (int, error) {
	for {
		n, err := p.r.Read(b)
		if n > 0 || err != nil {
			return n, err
		}
		if !time.Now().Before(*p.until) {
			return 0, ErrTimeout
		}
	}
}

func (rd *RemoteDevice) timeout() time.Duration {
	if rd.Timeout <= 0 {
		return DefaultTimeout
	}
	return rd.Timeout
}

// Close the connection, nil-ing the Conn variable
func (rd *RemoteDevice) Close() error {
	rd.Lock()
	defer rd.Unlock()
	return rd.close()
}

func (rd *RemoteDevice) close() error {
	if rd.timer != nil {
		rd.timer.Stop()
	}
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	rd.Conn = nil
	rd.rdr = nil
	return err
}

// CloseEventually closes the connection after Timeout has elapsed without
// another transaction.  The caller must not hold the lock.
func (rd *RemoteDevice) CloseEventually() {
	rd.Lock()
	defer rd.Unlock()
	rd.closeEventually()
}

func (rd *RemoteDevice) closeEventually() {
	if rd.timer != nil {
		rd.timer.Stop()
	}
	rd.timer = time.AfterFunc(rd.timeout(), func() {
		rd.Lock()
		defer rd.Unlock()
		rd.close()
	})
}

func (rd *RemoteDevice) deadline() {
	rd.until = time.Now().Add(rd.timeout())
	if c, ok := rd.Conn.(net.Conn); ok {
		c.SetDeadline(rd.until)
	}
}

// Send writes data to the remote after appending the Tx terminator.
// The caller must hold the lock.
func (rd *RemoteDevice) Send(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	rd.deadline()
	msg := make([]byte, 0, len(b)+1)
	msg = append(msg, b...)
	msg = append(msg, rd.terms.Tx)
	_, err := rd.Conn.Write(msg)
	return err
}

// SendRaw writes data to the remote verbatim, for binary protocols.
// The caller must hold the lock.
func (rd *RemoteDevice) SendRaw(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	rd.deadline()
	_, err := rd.Conn.Write(b)
	return err
}

// Recv receives data from the remote and strips the Rx terminator.
// The caller must hold the lock.
func (rd *RemoteDevice) Recv() ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	rd.deadline()
	term := rd.terms.Rx
	buf, err := rd.rdr.ReadBytes(term)
	if err != nil {
		if len(buf) > 0 && err == io.EOF {
			return buf, ErrTerminatorNotFound
		}
		return nil, err
	}
	buf = buf[:len(buf)-1]
	// \r\n replies are common; strip the stray \r when the terminator is \n
	if term == '\n' && len(buf) > 0 && buf[len(buf)-1] == '\r' {
		buf = buf[:len(buf)-1]
	}
	return buf, nil
}

// RecvN reads exactly n bytes from the remote, for binary protocols.
// The caller must hold the lock.
func (rd *RemoteDevice) RecvN(n int) ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	rd.deadline()
	buf := make([]byte, n)
	_, err := io.ReadFull(rd.rdr, buf)
	return buf, err
}

// SendRecv sends a buffer after appending the Tx terminator,
// then returns the response with the Rx terminator stripped.
// The caller must hold the lock.
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	err := rd.Send(b)
	if err != nil {
		return nil, err
	}
	return rd.Recv()
}

// Drain discards anything buffered from the remote.  Serial ports are
// flushed; on TCP only the local read buffer is discarded.
// The caller must hold the lock.
func (rd *RemoteDevice) Drain() error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	if f, ok := rd.Conn.(flusher); ok {
		if err := f.Flush(); err != nil {
			return err
		}
	}
	if n := rd.rdr.Buffered(); n > 0 {
		rd.rdr.Discard(n)
	}
	return nil
}

// OpenSendRecvClose opens the connection if needed, performs one
// send-then-receive transaction under the lock, and schedules an idle close.
func (rd *RemoteDevice) OpenSendRecvClose(b []byte) ([]byte, error) {
	rd.Lock()
	defer rd.Unlock()
	if err := rd.open(); err != nil {
		return nil, err
	}
	defer rd.closeEventually()
	return rd.SendRecv(b)
}

// OpenSend opens the connection if needed and sends a command that has
// no reply.
func (rd *RemoteDevice) OpenSend(b []byte) error {
	rd.Lock()
	defer rd.Unlock()
	if err := rd.open(); err != nil {
		return err
	}
	defer rd.closeEventually()
	return rd.Send(b)
}

// Transact opens the connection if needed and runs fn under the lock, for
// exchanges that span several messages.
func (rd *RemoteDevice) Transact(fn func() error) error {
	rd.Lock()
	defer rd.Unlock()
	if err := rd.open(); err != nil {
		return err
	}
	defer rd.closeEventually()
	return fn()
}

// TCPSetup opens a new TCP connection with a timeout on connect
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, timeout)
}

// SerialConf returns an 8N1 serial.Config for a port at a baud rate,
// which is what every controller in this repository uses
func SerialConf(addr string, baud int, readTimeout time.Duration) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: readTimeout}
}
