// Package thorlabs drives Thorlabs motion controllers (KDC101 cubes and the
// BBD103 rack with an MLS203 stage) over the APT binary protocol.
//
// Every APT message starts with a six byte header.  Short messages carry two
// parameter bytes in the header; long messages carry the length of a data
// packet that follows, and set the high bit of the destination byte.
package thorlabs

import (
	"encoding/binary"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"

	"github.com/zhuanglab/gostorm/comm"
)

// Baud is the rate of the FTDI bridge inside every APT controller
const Baud = 115200

// message IDs used by the stages
const (
	HwReqInfo        uint16 = 0x0005
	HwGetInfo        uint16 = 0x0006
	ModIdentify      uint16 = 0x0223
	MotSetPosCounter uint16 = 0x0410
	MotReqPosCounter uint16 = 0x0411
	MotGetPosCounter uint16 = 0x0412
	MotSetVelParams  uint16 = 0x0413
	MotReqVelParams  uint16 = 0x0414
	MotGetVelParams  uint16 = 0x0415
	MotMoveHome      uint16 = 0x0443
	MotMoveHomed     uint16 = 0x0444
	MotMoveRelative  uint16 = 0x0448
	MotMoveAbsolute  uint16 = 0x0453
	MotMoveVelocity  uint16 = 0x0457
	MotMoveCompleted uint16 = 0x0464
	MotMoveStop      uint16 = 0x0465
	MotMoveStopped   uint16 = 0x0466
)

// addresses on the APT bus
const (
	// Host is the source address of every message we send
	Host byte = 0x01

	// RackController is the motherboard of a BBD10x rack
	RackController byte = 0x11

	// Bay1 is the first bay of a rack; Bay2 and Bay3 follow
	Bay1 byte = 0x21
	Bay2 byte = 0x22
	Bay3 byte = 0x23

	// GenericUSB is the address of a single-channel controller such as the KDC101
	GenericUSB byte = 0x50
)

const (
	headerLen = 6
	longFlag  = 0x80
	channel1  = 0x01
)

// Message is one APT packet
type Message struct {
	ID     uint16
	Param1 byte
	Param2 byte
	Dest   byte
	Source byte

	// Data is the packet following the header of a long message, nil for a
	// short message
	Data []byte
}

// Long reports if the message carries a data packet
func (m Message) Long() bool {
	return m.Data != nil
}

// Encode returns the bytes on the wire
func (m Message) Encode() []byte {
	buf := make([]byte, headerLen, headerLen+len(m.Data))
	binary.LittleEndian.PutUint16(buf[0:2], m.ID)
	if m.Long() {
		binary.LittleEndian.PutUint16(buf[2:4], uint16(len(m.Data)))
		buf[4] = m.Dest | longFlag
	} else {
		buf[2] = m.Param1
		buf[3] = m.Param2
		buf[4] = m.Dest
	}
	buf[5] = m.Source
	return append(buf, m.Data...)
}

// DecodeHeader parses a six byte header.  For a long message the returned
// length is the size of the data packet still to be read.
func DecodeHeader(b []byte) (m Message, dataLen int, err error) {
	if len(b) < headerLen {
		return m, 0, fmt.Errorf("APT header is %d bytes, need %d", len(b), headerLen)
	}
	m.ID = binary.LittleEndian.Uint16(b[0:2])
	m.Source = b[5]
	if b[4]&longFlag != 0 {
		m.Dest = b[4] &^ longFlag
		dataLen = int(binary.LittleEndian.Uint16(b[2:4]))
		return m, dataLen, nil
	}
	m.Dest = b[4]
	m.Param1 = b[2]
	m.Param2 = b[3]
	return m, 0, nil
}

// Bus is one serial connection to an APT controller, which may host several
// addressed channels
type Bus struct {
	*comm.RemoteDevice

	// Retries is how many times a request is reissued when the reply does
	// not arrive
	Retries uint64

	// completed is invoked for unsolicited move-finished messages read
	// while waiting for a reply
	completed func(src byte)
}

// NewBus returns a bus to the controller at addr
func NewBus(addr string, serial bool) *Bus {
	rd := comm.NewRemoteDevice(addr, serial, nil, comm.SerialConf(addr, Baud, 500*time.Millisecond))
	return &Bus{RemoteDevice: &rd, Retries: 2}
}

// readMessage reads one message.  The caller must hold the lock.
func (b *Bus) readMessage() (Message, error) {
	hdr, err := b.RecvN(headerLen)
	if err != nil {
		return Message{}, err
	}
	m, n, err := DecodeHeader(hdr)
	if err != nil || n == 0 {
		return m, err
	}
	m.Data, err = b.RecvN(n)
	return m, err
}

// Write sends a message that has no reply
func (b *Bus) Write(m Message) error {
	err := b.Transact(func() error {
		return b.SendRaw(m.Encode())
	})
	return errors.Wrapf(err, "APT write 0x%04x to 0x%02x", m.ID, m.Dest)
}

// Request sends m and waits for a message with ID reply from the same
// address.  Move completion messages read on the way are reported to the
// bus's completion hook and skipped.
func (b *Bus) Request(m Message, reply uint16) (Message, error) {
	var resp Message
	op := func() error {
		return b.Transact(func() error {
			if err := b.SendRaw(m.Encode()); err != nil {
				return backoff.Permanent(err)
			}
			for {
				got, err := b.readMessage()
				if err != nil {
					return err
				}
				switch got.ID {
				case reply:
					if got.Source == m.Dest {
						resp = got
						return nil
					}
				case MotMoveCompleted, MotMoveHomed, MotMoveStopped:
					if b.completed != nil {
						b.completed(got.Source)
					}
				default:
					log.Printf("APT: skipping unexpected message 0x%04x from 0x%02x", got.ID, got.Source)
				}
			}
		})
	}
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(50*time.Millisecond), b.Retries)
	err := backoff.Retry(op, policy)
	return resp, errors.Wrapf(err, "APT request 0x%04x to 0x%02x", m.ID, m.Dest)
}

// Identify flashes the front panel LED of the controller at dest
func (b *Bus) Identify(dest byte) error {
	return b.Write(Message{ID: ModIdentify, Dest: dest, Source: Host})
}

// HardwareInfo is the useful part of a HW_GET_INFO reply
type HardwareInfo struct {
	SerialNumber uint32
	Model        string
	Firmware     string
	Channels     int
}

// Info requests the hardware information of the controller at dest
func (b *Bus) Info(dest byte) (HardwareInfo, error) {
	resp, err := b.Request(Message{ID: HwReqInfo, Dest: dest, Source: Host}, HwGetInfo)
	if err != nil {
		return HardwareInfo{}, err
	}
	d := resp.Data
	if len(d) < 84 {
		return HardwareInfo{}, fmt.Errorf("APT HW_GET_INFO with %d bytes of data, need 84", len(d))
	}
	info := HardwareInfo{
		SerialNumber: binary.LittleEndian.Uint32(d[0:4]),
		Model:        cstring(d[4:12]),
		Firmware:     fmt.Sprintf("%d.%d.%d", d[16], d[15], d[14]),
		Channels:     int(binary.LittleEndian.Uint16(d[82:84])),
	}
	return info, nil
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
