package focuslock

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/zhuanglab/gostorm/stage"
)

// MockCamera renders a Gaussian IR spot whose row position follows the z
// of a stage, for rigs without lock hardware and for tests
type MockCamera struct {
	// Width and Height are the AOI size
	Width, Height int

	// SensorWidth and SensorHeight bound the AOI offsets
	SensorWidth, SensorHeight int

	// PixPerUm is how far the spot moves per um of z, upward for positive z
	PixPerUm float64

	// Sigma, Amplitude and Background shape the spot
	Sigma, Amplitude, Background float64

	// Noise is the standard deviation of the pixel noise
	Noise float64

	// FPS is the simulated frame rate
	FPS float64

	z stage.Z

	mu         sync.Mutex
	rng        *rand.Rand
	acquiring  bool
	offX, offY int
	lastFrame  time.Time
}

// NewMockCamera returns a 64 x 64 AOI centered on a 128 x 128 sensor, with
// the spot centered in the AOI at z = 0
func NewMockCamera(z stage.Z) *MockCamera {
	return &MockCamera{
		Width:        64,
		Height:       64,
		SensorWidth:  128,
		SensorHeight: 128,
		PixPerUm:     2,
		Sigma:        2,
		Amplitude:    2000,
		Background:   100,
		Noise:        5,
		FPS:          200,
		z:            z,
		rng:          rand.New(rand.NewSource(1)),
		offX:         32,
		offY:         32,
	}
}

// StartAcquisition starts producing frames
func (m *MockCamera) StartAcquisition() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquiring = true
	m.lastFrame = time.Now()
	return nil
}

// StopAcquisition stops producing frames
func (m *MockCamera) StopAcquisition() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquiring = false
	return nil
}

// Offsets returns the AOI origin
func (m *MockCamera) Offsets() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offX, m.offY
}

// MaxOffsets returns the largest AOI origin
func (m *MockCamera) MaxOffsets() (int, int) {
	return m.SensorWidth - m.Width, m.SensorHeight - m.Height
}

// SetOffsets moves the AOI
func (m *MockCamera) SetOffsets(x, y int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acquiring {
		return errors.New("cannot move the AOI while acquiring")
	}
	m.offX, m.offY = x, y
	return nil
}

// GetFrames renders the frames due since the last call, at least one
func (m *MockCamera) GetFrames() ([]Frame, error) {
	z, err := m.z.ZPosition()
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.acquiring {
		return nil, nil
	}
	now := time.Now()
	n := int(now.Sub(m.lastFrame).Seconds() * m.FPS)
	if n < 1 {
		n = 1
	}
	m.lastFrame = now
	frames := make([]Frame, n)
	for i := range frames {
		frames[i] = m.render(z)
	}
	return frames, nil
}

// render must be called with the lock held
func (m *MockCamera) render(z float64) Frame {
	f := NewFrame(m.Width, m.Height)
	// the spot is centered on the sensor at z = 0
	cx := float64(m.SensorWidth-1)/2 - float64(m.offX)
	cy := float64(m.SensorHeight-1)/2 - z*m.PixPerUm - float64(m.offY)
	s2 := 2 * m.Sigma * m.Sigma
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			v := m.Background + m.Amplitude*math.Exp(-(dx*dx+dy*dy)/s2) + m.Noise*m.rng.NormFloat64()
			f.Pix[y*m.Width+x] = uint16(math.Max(0, math.Min(v, math.MaxUint16)))
		}
	}
	return f
}

// Shutdown does nothing
func (m *MockCamera) Shutdown() error {
	return nil
}
