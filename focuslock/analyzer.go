package focuslock

import (
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/zhuanglab/gostorm/mathx"
)

// MaxBacklog is the most frames analyzed per call; older frames in a
// larger batch are dropped
const MaxBacklog = 20

// Reading is the focus signal computed from Reps frames.  Offset is the
// spot displacement less the zero distance, in pixels.
type Reading struct {
	IsGood bool        `json:"is_good"`
	Image  *image.Gray `json:"-"`
	Offset float64     `json:"offset"`
	Sum    float64     `json:"sum"`
	XOff   float64     `json:"x_off"`
	YOff   float64     `json:"y_off"`
}

// Analyzer turns batches of lock camera frames into readings
type Analyzer interface {
	// Analyze consumes frames and returns a Reading for every Reps frames
	Analyze(frames []Frame) []Reading

	// AdjustZeroDist moves the zero distance by inc steps
	AdjustZeroDist(inc float64)

	// ZeroDist returns the zero distance
	ZeroDist() float64

	// Counts returns the number of frames analyzed and dropped
	Counts() (analyzed, dropped int)
}

// Common holds the parameters of both analyzers
type Common struct {
	// Reps is the number of frames averaged into a reading
	Reps int `yaml:"Reps"`

	// MinGood is the number of successful fits in Reps for a good reading
	MinGood int `yaml:"MinGood"`

	// SumScale and SumZero map the mean spot height to the Sum signal
	SumScale float64 `yaml:"SumScale"`
	SumZero  float64 `yaml:"SumZero"`

	// ZeroDist is subtracted from the spot displacement
	ZeroDist float64 `yaml:"ZeroDist"`
}

func (c Common) check() error {
	if c.Reps < 1 {
		return fmt.Errorf("reps must be at least 1, got %d", c.Reps)
	}
	if c.Reps < c.MinGood {
		return fmt.Errorf("reps (%d) must be >= min_good (%d)", c.Reps, c.MinGood)
	}
	return nil
}

// window accumulates per-frame fits until Reps is reached
type window struct {
	Common
	step float64

	mu       sync.Mutex
	cnt      int
	good     []bool
	mag      []float64
	x, y     []float64
	analyzed int
	dropped  int
}

func newWindow(c Common, step float64) *window {
	return &window{
		Common: c,
		step:   step,
		good:   make([]bool, c.Reps),
		mag:    make([]float64, c.Reps),
		x:      make([]float64, c.Reps),
		y:      make([]float64, c.Reps),
	}
}

// backlog keeps the newest MaxBacklog frames
func (w *window) backlog(frames []Frame) []Frame {
	if n := len(frames); n > MaxBacklog {
		w.dropped += n - MaxBacklog
		return frames[n-MaxBacklog:]
	}
	return frames
}

// add records one fit and reports if the window is full
func (w *window) add(ok bool, mag, x, y float64) bool {
	w.analyzed++
	w.good[w.cnt] = ok
	w.mag[w.cnt] = mag
	w.x[w.cnt] = x
	w.y[w.cnt] = y
	w.cnt++
	if w.cnt == w.Reps {
		w.cnt = 0
		return true
	}
	return false
}

func (w *window) enough() bool {
	return mathx.CountTrue(w.good) >= w.MinGood
}

func (w *window) AdjustZeroDist(inc float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Common.ZeroDist += w.step * inc
}

func (w *window) ZeroDist() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Common.ZeroDist
}

func (w *window) Counts() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.analyzed, w.dropped
}

// SSParams configures the single spot analyzer
type SSParams struct {
	Common `yaml:",inline"`

	// Offset is the camera background subtracted from every frame
	Offset float64 `yaml:"Offset"`

	// Sigma is the expected spot width in pixels
	Sigma float64 `yaml:"Sigma"`

	// Threshold is the minimum spot height for a successful fit
	Threshold float64 `yaml:"Threshold"`
}

// SSAnalyzer is for the standard IR laser lock, where a single spot moves
// across the camera as the focus changes
type SSAnalyzer struct {
	*window
	offset float64
	pf     peakFinder
}

// NewSSAnalyzer returns a single spot analyzer
func NewSSAnalyzer(p SSParams) (*SSAnalyzer, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	return &SSAnalyzer{
		window: newWindow(p.Common, 0.1),
		offset: p.Offset,
		pf:     peakFinder{Sigma: p.Sigma, Threshold: p.Threshold},
	}, nil
}

// Analyze fits the spot in each frame.  Sum is reported on every reading;
// the offsets only on good ones.
func (a *SSAnalyzer) Analyze(frames []Frame) []Reading {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Reading
	for _, f := range a.backlog(frames) {
		pix := f.floats(a.offset)
		mx, mean := math.Inf(-1), mathx.Mean(pix)
		for _, v := range pix {
			mx = math.Max(mx, v)
		}
		x, y, ok := a.pf.find(pix, f.Width, f.Height)
		if !a.add(ok, mx-mean, x, y) {
			continue
		}
		r := Reading{
			IsGood: true,
			Image:  backgroundSubtracted(f, a.offset).Preview(),
			Sum:    a.SumScale*mathx.Mean(a.mag) - a.SumZero,
		}
		if !a.enough() {
			r.IsGood = false
		} else {
			r.Offset = mathx.MeanWhere(a.y, a.good) - a.Common.ZeroDist
			r.YOff = r.Offset
			r.XOff = mathx.MeanWhere(a.x, a.good)
		}
		out = append(out, r)
	}
	return out
}

func backgroundSubtracted(f Frame, bg float64) Frame {
	out := NewFrame(f.Width, f.Height)
	for i, v := range f.Pix {
		out.Pix[i] = uint16(math.Max(0, float64(v)-bg))
	}
	return out
}

// AFParams configures the two spot auto-focus analyzer
type AFParams struct {
	Common `yaml:",inline"`

	// ROI1 and ROI2 locate the two spots, "r0,r1,c0,c1"
	ROI1 string `yaml:"ROI1"`
	ROI2 string `yaml:"ROI2"`

	// Background is subtracted from both spot images
	Background float64 `yaml:"Background"`

	// Downsample bins the spot images before they are located
	Downsample int `yaml:"Downsample"`
}

// AFAnalyzer is for the auto-focus optics, where the relative position of
// two spots imaged into separate ROIs changes with the focus
type AFAnalyzer struct {
	*window
	roi1, roi2 ROI
	background float64
	downsample int
}

// NewAFAnalyzer returns a two spot analyzer
func NewAFAnalyzer(p AFParams) (*AFAnalyzer, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	r1, err := ParseROI(p.ROI1)
	if err != nil {
		return nil, err
	}
	r2, err := ParseROI(p.ROI2)
	if err != nil {
		return nil, err
	}
	return &AFAnalyzer{
		window:     newWindow(p.Common, 0.001),
		roi1:       r1,
		roi2:       r2,
		background: p.Background,
		downsample: p.Downsample,
	}, nil
}

// Analyze measures the offset between the two spots in each frame.  Sum
// and the offsets are reported on good readings only.
func (a *AFAnalyzer) Analyze(frames []Frame) []Reading {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Reading
	for _, f := range a.backlog(frames) {
		dx, dy, mag, ok := spotOffset(f.Crop(a.roi1), f.Crop(a.roi2), a.background, a.downsample)
		if !a.add(ok, mag, dx, dy) {
			continue
		}
		r := Reading{IsGood: true, Image: f.Preview()}
		if !a.enough() {
			r.IsGood = false
		} else {
			r.Offset = mathx.MeanWhere(a.y, a.good) - a.Common.ZeroDist
			r.YOff = r.Offset
			r.XOff = mathx.MeanWhere(a.x, a.good)
			r.Sum = a.SumScale*mathx.MeanWhere(a.mag, a.good) - a.SumZero
		}
		out = append(out, r)
	}
	return out
}
