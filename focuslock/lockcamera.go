package focuslock

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zhuanglab/gostorm/util"
)

// LoopPeriod is the pause between acquisition cycles of the lock camera
const LoopPeriod = 5 * time.Millisecond

var (
	// ErrRunning is returned by Start when the loop is already running
	ErrRunning = errors.New("lock camera is already running")

	// ErrNoFrame is returned by LastFrame before any frame was acquired
	ErrNoFrame = errors.New("lock camera has not acquired a frame")
)

// Camera is the acquisition side of a lock camera
type Camera interface {
	StartAcquisition() error
	StopAcquisition() error

	// GetFrames returns the frames acquired since the last call
	GetFrames() ([]Frame, error)

	// Offsets returns the AOI origin on the sensor
	Offsets() (x, y int)

	// MaxOffsets returns the largest allowed AOI origin
	MaxOffsets() (x, y int)

	// SetOffsets moves the AOI; acquisition must be stopped
	SetOffsets(x, y int) error

	Shutdown() error
}

// Stats summarize a run of the lock camera
type Stats struct {
	Analyzed int     `json:"analyzed"`
	Dropped  int     `json:"dropped"`
	FPS      float64 `json:"fps"`
	OffsetX  int     `json:"offset_x"`
	OffsetY  int     `json:"offset_y"`
	ZeroDist float64 `json:"zero_dist"`
}

// LockCamera runs a Camera and an Analyzer in a loop and publishes the
// readings.  Slow consumers of Readings only see the newest reading.
type LockCamera struct {
	cam Camera
	an  Analyzer

	readings chan Reading

	mu         sync.Mutex
	curX, curY int
	oldX, oldY int
	maxX, maxY int
	last       Reading
	haveLast   bool
	lastFrame  Frame
	started    time.Time
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewLockCamera pairs a camera with an analyzer
func NewLockCamera(cam Camera, an Analyzer) *LockCamera {
	x, y := cam.Offsets()
	mx, my := cam.MaxOffsets()
	return &LockCamera{
		cam:      cam,
		an:       an,
		readings: make(chan Reading, 1),
		curX:     x,
		curY:     y,
		oldX:     x,
		oldY:     y,
		maxX:     mx,
		maxY:     my,
	}
}

// Readings is the channel readings are published on
func (lc *LockCamera) Readings() <-chan Reading {
	return lc.readings
}

// Last returns the newest reading, and false before the first one
func (lc *LockCamera) Last() (Reading, bool) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.last, lc.haveLast
}

// LastFrame returns the newest raw frame
func (lc *LockCamera) LastFrame() (Frame, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.lastFrame.Pix == nil {
		return Frame{}, ErrNoFrame
	}
	return lc.lastFrame, nil
}

// AdjustAOI moves the AOI by (dx, dy) pixels, clamped to the sensor.  The
// camera is updated by the loop between acquisitions.
func (lc *LockCamera) AdjustAOI(dx, dy int) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.curX = util.ClampInt(lc.curX+dx, 0, lc.maxX)
	lc.curY = util.ClampInt(lc.curY+dy, 0, lc.maxY)
}

// AOI returns the requested AOI origin
func (lc *LockCamera) AOI() (x, y int) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.curX, lc.curY
}

// AdjustZeroDist moves the analyzer's zero distance by inc steps
func (lc *LockCamera) AdjustZeroDist(inc float64) {
	lc.an.AdjustZeroDist(inc)
}

// Running reports if the loop is running
func (lc *LockCamera) Running() bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.done != nil
}

// Start begins acquisition and runs the loop until Stop or ctx is done
func (lc *LockCamera) Start(ctx context.Context) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.done != nil {
		return ErrRunning
	}
	if err := lc.cam.StartAcquisition(); err != nil {
		return err
	}
	ctx, lc.cancel = context.WithCancel(ctx)
	lc.done = make(chan struct{})
	lc.started = time.Now()
	go lc.run(ctx, lc.done)
	return nil
}

func (lc *LockCamera) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer lc.cam.StopAcquisition()
	lim := rate.NewLimiter(rate.Every(LoopPeriod), 1)
	for {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		frames, err := lc.cam.GetFrames()
		if err != nil {
			log.Printf("lock camera: could not get frames: %v", err)
			continue
		}
		if len(frames) > 0 {
			lc.mu.Lock()
			lc.lastFrame = frames[len(frames)-1]
			lc.mu.Unlock()
		}
		for _, r := range lc.an.Analyze(frames) {
			lc.publish(r)
		}
		lc.applyAOI()
	}
}

func (lc *LockCamera) publish(r Reading) {
	lc.mu.Lock()
	lc.last, lc.haveLast = r, true
	lc.mu.Unlock()
	observe(r)
	select {
	case lc.readings <- r:
	default:
		select {
		case <-lc.readings:
		default:
		}
		select {
		case lc.readings <- r:
		default:
		}
	}
}

func (lc *LockCamera) applyAOI() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.curX == lc.oldX && lc.curY == lc.oldY {
		return
	}
	if err := lc.cam.StopAcquisition(); err != nil {
		log.Printf("lock camera: could not stop to move the AOI: %v", err)
		return
	}
	if err := lc.cam.SetOffsets(lc.curX, lc.curY); err != nil {
		log.Printf("lock camera: could not move the AOI: %v", err)
	}
	if err := lc.cam.StartAcquisition(); err != nil {
		log.Printf("lock camera: could not restart after moving the AOI: %v", err)
	}
	lc.oldX, lc.oldY = lc.curX, lc.curY
}

// Stop ends the loop and returns the statistics of the run
func (lc *LockCamera) Stop() Stats {
	lc.mu.Lock()
	cancel, done, started := lc.cancel, lc.done, lc.started
	lc.mu.Unlock()
	if done == nil {
		return lc.stats(time.Time{})
	}
	cancel()
	<-done
	lc.mu.Lock()
	lc.done, lc.cancel = nil, nil
	lc.mu.Unlock()
	st := lc.stats(started)
	log.Printf("lock camera: analyzed %d, dropped %d, %.3f FPS", st.Analyzed, st.Dropped, st.FPS)
	log.Printf("lock camera: offset x %d, offset y %d, zero dist %.2f", st.OffsetX, st.OffsetY, st.ZeroDist)
	return st
}

func (lc *LockCamera) stats(started time.Time) Stats {
	analyzed, dropped := lc.an.Counts()
	x, y := lc.AOI()
	st := Stats{Analyzed: analyzed, Dropped: dropped, OffsetX: x, OffsetY: y, ZeroDist: lc.an.ZeroDist()}
	if !started.IsZero() {
		if el := time.Since(started).Seconds(); el > 0 {
			st.FPS = float64(analyzed) / el
		}
	}
	return st
}

// Shutdown stops the loop and releases the camera
func (lc *LockCamera) Shutdown() error {
	lc.Stop()
	return lc.cam.Shutdown()
}
