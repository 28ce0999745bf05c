package stage

import (
	"math"
	"sync"
	"time"

	"github.com/zhuanglab/gostorm/util"
)

// settling is added to every move time estimate
const settling = time.Second

// EstimateMoveTime is the wall time to travel (dx, dy) at speed um/s, plus a
// settling second
func EstimateMoveTime(dx, dy, speed float64) time.Duration {
	if speed <= 0 {
		return settling
	}
	return util.SecsToDuration(math.Hypot(dx, dy)/speed) + settling
}

// Estimated wraps a stage without motion feedback and reports it busy for
// the estimated duration of each move
type Estimated struct {
	XY

	// Speed is the assumed travel speed in um/s
	Speed float64

	mu    sync.Mutex
	until time.Time
	now   func() time.Time
}

// NewEstimated wraps s, assuming it travels at speed um/s
func NewEstimated(s XY, speed float64) *Estimated {
	return &Estimated{XY: s, Speed: speed, now: time.Now}
}

func (e *Estimated) moved(dx, dy float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	end := e.now().Add(EstimateMoveTime(dx, dy, e.Speed))
	if end.After(e.until) {
		e.until = end
	}
}

// GoAbsolute moves the stage and starts the busy window
func (e *Estimated) GoAbsolute(x, y float64) error {
	pos, err := e.XY.Position()
	if err != nil {
		return err
	}
	if err = e.XY.GoAbsolute(x, y); err != nil {
		return err
	}
	e.moved(x-pos.X(), y-pos.Y())
	return nil
}

// GoRelative moves the stage and starts the busy window
func (e *Estimated) GoRelative(dx, dy float64) error {
	if err := e.XY.GoRelative(dx, dy); err != nil {
		return err
	}
	e.moved(dx, dy)
	return nil
}

// Busy is true until the estimated end of the last move
func (e *Estimated) Busy() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now().Before(e.until), nil
}
