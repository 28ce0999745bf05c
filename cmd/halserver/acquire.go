package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/zhuanglab/gostorm/generichttp"
	"github.com/zhuanglab/gostorm/sequence"
	"github.com/zhuanglab/gostorm/stage"
)

// clockAcquirer stands in for the camera during a sequence.  It waits out
// each frame at a fixed frame rate and logs the illumination powers as the
// schedule changes them.
type clockAcquirer struct {
	frameTime time.Duration

	// after is the frame clock, swapped out in tests
	after func(time.Duration) <-chan time.Time
}

func newClockAcquirer(frameRate float64) *clockAcquirer {
	if frameRate <= 0 {
		frameRate = 100
	}
	return &clockAcquirer{
		frameTime: time.Duration(float64(time.Second) / frameRate),
		after:     time.After,
	}
}

func (c *clockAcquirer) Acquire(ctx context.Context, m *sequence.Movie, s *sequence.Schedule) error {
	var last map[int]float64
	start := time.Now()
	for n := 0; n < m.Length; n++ {
		if p := s.Powers(n); !cmp.Equal(p, last) {
			log.Printf("%s frame %d: powers %v", m.Name, n, p)
			last = p
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.after(c.frameTime):
		}
	}
	log.Printf("%s: %d frames in %v", m.Name, m.Length, time.Since(start).Round(time.Millisecond))
	return nil
}

// newSequenceRunner wires the devices named in the Sequence section of c
// into a runner.  A missing stage or lock is left nil; the runner reports
// it when a movie needs it.
func newSequenceRunner(c Config, rig *Rig, dir string) (*sequence.Runner, error) {
	var (
		xy   stage.XY
		lock sequence.FocusLock
		fl   sequence.Fluidics
	)
	if ep := c.Sequence.Stage; ep != "" {
		s, ok := rig.XY[generichttp.SubMuxSanitize(ep)]
		if !ok {
			return nil, fmt.Errorf("sequence stage %s is not a stage node", ep)
		}
		xy = s
	}
	if ep := c.Sequence.FocusLock; ep != "" {
		ctl, ok := rig.Locks[generichttp.SubMuxSanitize(ep)]
		if !ok {
			return nil, fmt.Errorf("sequence focus lock %s is not a focuslock node", ep)
		}
		lock = ctl
	}
	if c.Sequence.Fluidics != "" {
		fl = sequence.NewFluidicsClient(c.Sequence.Fluidics)
	}
	r := sequence.NewRunner(xy, lock, newClockAcquirer(c.Sequence.FrameRate), fl)
	r.Dir = dir
	return r, nil
}
