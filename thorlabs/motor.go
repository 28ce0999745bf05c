package thorlabs

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
)

// MotorConfig holds the encoder and trajectory scale factors of a stage
type MotorConfig struct {
	// CountsPerMM is encoder counts per millimeter of travel
	CountsPerMM float64

	// VelScale converts mm/s to the controller's velocity unit
	VelScale float64

	// AccScale converts mm/s^2 to the controller's acceleration unit
	AccScale float64
}

var (
	// Z8 is a Z8-series DC servo actuator on a KDC101
	Z8 = MotorConfig{CountsPerMM: 34304, VelScale: 772981.3692, AccScale: 263.8443}

	// MLS203 is an axis of the MLS203 stage on a BBD103
	MLS203 = MotorConfig{CountsPerMM: 20000, VelScale: 134217.73, AccScale: 13.744}
)

// VelParams is a trapezoidal velocity profile in mm/s and mm/s^2
type VelParams struct {
	Min, Accel, Max float64
}

// Motor is one channel of an APT controller
type Motor struct {
	bus  *Bus
	dest byte
	cfg  MotorConfig

	mu     sync.Mutex
	moving bool
}

// NewMotor returns the motor at dest on bus
func NewMotor(bus *Bus, dest byte, cfg MotorConfig) *Motor {
	return &Motor{bus: bus, dest: dest, cfg: cfg}
}

func (m *Motor) short(id uint16, p2 byte) Message {
	return Message{ID: id, Param1: channel1, Param2: p2, Dest: m.dest, Source: Host}
}

func (m *Motor) long(id uint16, values ...int32) Message {
	data := make([]byte, 2+4*len(values))
	binary.LittleEndian.PutUint16(data[0:2], channel1)
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[2+4*i:], uint32(v))
	}
	return Message{ID: id, Dest: m.dest, Source: Host, Data: data}
}

func (m *Motor) counts(mm float64) int32 {
	return int32(math.Round(mm * m.cfg.CountsPerMM))
}

func (m *Motor) setMoving(b bool) {
	m.mu.Lock()
	m.moving = b
	m.mu.Unlock()
}

// MoveAbs moves to pos mm
func (m *Motor) MoveAbs(pos float64) error {
	if err := m.bus.Write(m.long(MotMoveAbsolute, m.counts(pos))); err != nil {
		return err
	}
	m.setMoving(true)
	return nil
}

// MoveRel moves by delta mm
func (m *Motor) MoveRel(delta float64) error {
	if err := m.bus.Write(m.long(MotMoveRelative, m.counts(delta))); err != nil {
		return err
	}
	m.setMoving(true)
	return nil
}

// Position returns the position in mm
func (m *Motor) Position() (float64, error) {
	resp, err := m.bus.Request(m.short(MotReqPosCounter, 0), MotGetPosCounter)
	if err != nil {
		return 0, err
	}
	if len(resp.Data) < 6 {
		return 0, fmt.Errorf("APT GET_POSCOUNTER with %d bytes of data, need 6", len(resp.Data))
	}
	c := int32(binary.LittleEndian.Uint32(resp.Data[2:6]))
	return float64(c) / m.cfg.CountsPerMM, nil
}

// SetPosition redefines the current position as pos mm without moving
func (m *Motor) SetPosition(pos float64) error {
	return m.bus.Write(m.long(MotSetPosCounter, m.counts(pos)))
}

// VelParams returns the velocity profile
func (m *Motor) VelParams() (VelParams, error) {
	resp, err := m.bus.Request(m.short(MotReqVelParams, 0), MotGetVelParams)
	if err != nil {
		return VelParams{}, err
	}
	d := resp.Data
	if len(d) < 14 {
		return VelParams{}, fmt.Errorf("APT GET_VELPARAMS with %d bytes of data, need 14", len(d))
	}
	return VelParams{
		Min:   float64(int32(binary.LittleEndian.Uint32(d[2:6]))) / m.cfg.VelScale,
		Accel: float64(int32(binary.LittleEndian.Uint32(d[6:10]))) / m.cfg.AccScale,
		Max:   float64(int32(binary.LittleEndian.Uint32(d[10:14]))) / m.cfg.VelScale,
	}, nil
}

// SetVelParams sets the velocity profile
func (m *Motor) SetVelParams(p VelParams) error {
	return m.bus.Write(m.long(MotSetVelParams,
		int32(math.Round(p.Min*m.cfg.VelScale)),
		int32(math.Round(p.Accel*m.cfg.AccScale)),
		int32(math.Round(p.Max*m.cfg.VelScale))))
}

// SetMaxVelocity changes the top speed of the profile, in mm/s
func (m *Motor) SetMaxVelocity(v float64) error {
	p, err := m.VelParams()
	if err != nil {
		return err
	}
	p.Max = math.Abs(v)
	return m.SetVelParams(p)
}

// MoveVelocity starts continuous motion, forward for a positive sign
func (m *Motor) MoveVelocity(forward bool) error {
	dir := byte(2)
	if forward {
		dir = 1
	}
	if err := m.bus.Write(m.short(MotMoveVelocity, dir)); err != nil {
		return err
	}
	m.setMoving(true)
	return nil
}

// Home runs the homing routine
func (m *Motor) Home() error {
	if err := m.bus.Write(m.short(MotMoveHome, 0)); err != nil {
		return err
	}
	m.setMoving(true)
	return nil
}

// Stop decelerates to a stop
func (m *Motor) Stop() error {
	return m.bus.Write(m.short(MotMoveStop, 0x02))
}

// Moving reports if a move was started and its completion has not been
// read.  It polls the position counter to collect completion messages.
func (m *Motor) Moving() (bool, error) {
	if _, err := m.Position(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.moving, nil
}
