package sequence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/zhuanglab/gostorm/focuslock"
	"github.com/zhuanglab/gostorm/stage"
)

const (
	// DefaultPollInterval paces the waits on the stage
	DefaultPollInterval = 50 * time.Millisecond

	// DefaultSettleTime is the wait for fresh focus lock readings after a z
	// step of the sum search
	DefaultSettleTime = 200 * time.Millisecond

	// DefaultFindSumStep and DefaultFindSumRange bound the sum search, um
	DefaultFindSumStep  = 1.0
	DefaultFindSumRange = 20.0
)

var (
	// ErrSumNotFound is returned when the focus lock sum search fails
	ErrSumNotFound = errors.New("focus lock sum not found within the search range")

	// ErrMissingDevice is returned when a command needs a device the runner lacks
	ErrMissingDevice = errors.New("no device for command")
)

// Acquirer takes movies
type Acquirer interface {
	// Acquire records the movie, powering the illumination per the
	// schedule.  It returns when the movie is done.
	Acquire(ctx context.Context, m *Movie, s *Schedule) error
}

// Fluidics runs valve protocols
type Fluidics interface {
	RunProtocol(ctx context.Context, name string) error
}

// FocusLock is the part of the focus lock a sequence drives.
// *focuslock.Controller satisfies it.
type FocusLock interface {
	SetTarget(float64)
	Jump(dz float64) error
	Status() (focuslock.Status, error)
}

// Runner runs the commands of a sequence in order.  Devices a sequence
// does not use may be left nil.
type Runner struct {
	Stage    stage.XY
	Lock     FocusLock
	Acquirer Acquirer
	Fluidics Fluidics

	// Dir is where relative power file names are looked up
	Dir string

	// OnStep, if not nil, is called before command i of n is run
	OnStep func(i, n int, c Command)

	PollInterval time.Duration
	SettleTime   time.Duration
	FindSumStep  float64
	FindSumRange float64
}

// NewRunner returns a runner with the default timings
func NewRunner(xy stage.XY, lock FocusLock, acq Acquirer, fl Fluidics) *Runner {
	return &Runner{
		Stage:        xy,
		Lock:         lock,
		Acquirer:     acq,
		Fluidics:     fl,
		PollInterval: DefaultPollInterval,
		SettleTime:   DefaultSettleTime,
		FindSumStep:  DefaultFindSumStep,
		FindSumRange: DefaultFindSumRange,
	}
}

// Run runs cmds in order, stopping at the first error or when ctx is done
func (r *Runner) Run(ctx context.Context, cmds []Command) error {
	for i, c := range cmds {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.OnStep != nil {
			r.OnStep(i, len(cmds), c)
		}
		var err error
		switch c := c.(type) {
		case *Movie:
			err = r.movie(ctx, c)
		case *ValveProtocol:
			if r.Fluidics == nil {
				err = fmt.Errorf("fluidics: %w", ErrMissingDevice)
				break
			}
			err = r.Fluidics.RunProtocol(ctx, c.ProtocolName)
		default:
			err = fmt.Errorf("unknown command type %q", c.Type())
		}
		if err != nil {
			return fmt.Errorf("step %d (%v): %w", i, c, err)
		}
	}
	return nil
}

func (r *Runner) movie(ctx context.Context, m *Movie) error {
	if m.StageX != nil || m.StageY != nil {
		if err := r.moveStage(ctx, m); err != nil {
			return err
		}
	}
	if m.LockTarget != nil || m.FindSum > 0 {
		if r.Lock == nil {
			return fmt.Errorf("focus lock: %w", ErrMissingDevice)
		}
	}
	if m.FindSum > 0 {
		if err := r.findSum(ctx, m.FindSum); err != nil {
			return err
		}
	}
	// after the search, whose jumps relock at whatever offset they find
	if m.LockTarget != nil {
		r.Lock.SetTarget(*m.LockTarget)
	}
	if err := sleep(ctx, time.Duration(m.Delay)*time.Millisecond); err != nil {
		return err
	}
	if r.Acquirer == nil {
		return fmt.Errorf("acquisition: %w", ErrMissingDevice)
	}
	sched, err := NewSchedule(m.Progression, r.Dir)
	if err != nil {
		return err
	}
	return r.Acquirer.Acquire(ctx, m, sched)
}

// moveStage goes to the movie's position, keeping the current coordinate
// of an axis the movie does not set
func (r *Runner) moveStage(ctx context.Context, m *Movie) error {
	if r.Stage == nil {
		return fmt.Errorf("stage: %w", ErrMissingDevice)
	}
	pos, err := r.Stage.Position()
	if err != nil {
		return err
	}
	x, y := pos.X(), pos.Y()
	if m.StageX != nil {
		x = *m.StageX
	}
	if m.StageY != nil {
		y = *m.StageY
	}
	if err = r.Stage.GoAbsolute(x, y); err != nil {
		return err
	}
	b, ok := r.Stage.(stage.Busier)
	if !ok {
		return nil
	}
	for {
		busy, err := b.Busy()
		if err != nil {
			return err
		}
		if !busy {
			return nil
		}
		if err = sleep(ctx, r.poll()); err != nil {
			return err
		}
	}
}

// findSum steps z outward from the current focus, alternating sides,
// until the focus lock sum reaches min.  On failure z is returned to
// where it started.
func (r *Runner) findSum(ctx context.Context, min float64) error {
	step := r.FindSumStep
	if step <= 0 {
		step = DefaultFindSumStep
	}
	cur := 0.0
	n := int(math.Floor(r.FindSumRange / step))
	for i := 0; i <= 2*n; i++ {
		// 0, +1, -1, +2, -2, ...
		k := float64((i + 1) / 2)
		if i%2 == 0 {
			k = -k
		}
		target := k * step
		if target != cur {
			if err := r.Lock.Jump(target - cur); err != nil {
				return err
			}
			cur = target
		}
		if err := sleep(ctx, r.SettleTime); err != nil {
			return err
		}
		st, err := r.Lock.Status()
		if err != nil {
			return err
		}
		if st.Sum >= min {
			return nil
		}
	}
	if cur != 0 {
		if err := r.Lock.Jump(-cur); err != nil {
			log.Printf("sequence: could not return z after the sum search: %v", err)
		}
	}
	return ErrSumNotFound
}

func (r *Runner) poll() time.Duration {
	if r.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return r.PollInterval
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
