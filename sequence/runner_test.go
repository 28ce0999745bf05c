package sequence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhuanglab/gostorm/comm/commtest"
	"github.com/zhuanglab/gostorm/focuslock"
	"github.com/zhuanglab/gostorm/stage"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

type fakeAcquirer struct {
	*recorder
	xy stage.XY
}

func (a fakeAcquirer) Acquire(ctx context.Context, m *Movie, s *Schedule) error {
	pos, _ := a.xy.Position()
	a.add("acquire " + m.Name)
	if pos.X() != 0 || pos.Y() != 0 {
		a.add(fmt.Sprintf("at %g %g", pos.X(), pos.Y()))
	}
	return nil
}

type fakeFluidics struct{ *recorder }

func (f fakeFluidics) RunProtocol(ctx context.Context, name string) error {
	f.add("protocol " + name)
	return nil
}

// fakeLock has signal only while z is within 0.5 um of focus
type fakeLock struct {
	*recorder
	mu     sync.Mutex
	z      float64
	focus  float64
	target float64
}

func (l *fakeLock) SetTarget(t float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.target = t
	l.add("target")
}

func (l *fakeLock) Jump(dz float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.z += dz
	return nil
}

func (l *fakeLock) Status() (focuslock.Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := focuslock.Status{Target: l.target, Z: l.z}
	if d := l.z - l.focus; d < 0.5 && d > -0.5 {
		st.Sum = 1000
	}
	return st, nil
}

func fastRunner(rec *recorder) (*Runner, *stage.Mock, *fakeLock) {
	xy := stage.NewMock()
	xy.SetVelocity(1e6, 1e6)
	lock := &fakeLock{recorder: rec}
	r := NewRunner(xy, lock, fakeAcquirer{rec, xy}, fakeFluidics{rec})
	r.PollInterval = time.Millisecond
	r.SettleTime = time.Millisecond
	return r, xy, lock
}

func TestRunnerOrdersSteps(t *testing.T) {
	rec := &recorder{}
	r, xy, lock := fastRunner(rec)
	var steps []int
	r.OnStep = func(i, n int, c Command) { steps = append(steps, i) }

	m := NewMovie()
	m.Name = "cell"
	m.StageX = ptr(10.0)
	m.LockTarget = ptr(2.0)
	require.NoError(t, r.Run(context.Background(), []Command{&ValveProtocol{ProtocolName: "wash"}, m}))

	assert.Equal(t, []int{0, 1}, steps)
	assert.Equal(t, []string{"protocol wash", "target", "acquire cell", "at 10 0"}, rec.events)
	pos, _ := xy.Position()
	assert.Equal(t, 10.0, pos.X())
	assert.Equal(t, 2.0, lock.target)
}

func TestFindSumSearchesOutward(t *testing.T) {
	rec := &recorder{}
	r, _, lock := fastRunner(rec)
	lock.focus = -3
	m := NewMovie()
	m.FindSum = 500
	require.NoError(t, r.Run(context.Background(), []Command{m}))
	assert.Equal(t, -3.0, lock.z)

	lock.focus = 100
	lock.z = 0
	err := r.Run(context.Background(), []Command{m})
	assert.True(t, errors.Is(err, ErrSumNotFound), err)
	assert.Equal(t, 0.0, lock.z, "z is restored after a failed search")
}

// offsetZ is a z stage whose focus sensor sees signal only near z = +1
type offsetZ struct {
	mu sync.Mutex
	z  float64
}

func (o *offsetZ) ZMoveAbs(z float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.z = z
	return nil
}

func (o *offsetZ) ZMoveRel(dz float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.z += dz
	return nil
}

func (o *offsetZ) ZPosition() (float64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.z, nil
}

func (o *offsetZ) reading() focuslock.Reading {
	z, _ := o.ZPosition()
	if z < 0.5 || z > 1.5 {
		return focuslock.Reading{}
	}
	return focuslock.Reading{IsGood: true, Offset: 7, Sum: 1000}
}

func TestLockTargetSurvivesFindSum(t *testing.T) {
	z := &offsetZ{}
	ctl := focuslock.NewController(z)
	ctl.Lock()

	ctx, cancel := context.WithCancel(context.Background())
	readings := make(chan focuslock.Reading)
	done := make(chan struct{})
	go func() {
		ctl.Run(ctx, readings)
		close(done)
	}()
	go func() {
		tick := time.NewTicker(time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				select {
				case readings <- z.reading():
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	rec := &recorder{}
	xy := stage.NewMock()
	r := NewRunner(xy, ctl, fakeAcquirer{rec, xy}, nil)
	r.SettleTime = 20 * time.Millisecond
	r.FindSumRange = 3
	m := NewMovie()
	m.Name = "relock"
	m.FindSum = 500
	m.LockTarget = ptr(1.5)
	err := r.Run(ctx, []Command{m})
	cancel()
	<-done
	require.NoError(t, err)

	assert.True(t, ctl.Locked())
	assert.Equal(t, 1.5, ctl.Target(), "the movie target wins over the offset found by the search")
	assert.Equal(t, []string{"acquire relock"}, rec.events)
}

func TestRunnerNeedsDevices(t *testing.T) {
	r := NewRunner(nil, nil, nil, nil)
	err := r.Run(context.Background(), []Command{&ValveProtocol{ProtocolName: "x"}})
	assert.True(t, errors.Is(err, ErrMissingDevice))

	m := NewMovie()
	m.StageY = ptr(1.0)
	err = r.Run(context.Background(), []Command{m})
	assert.True(t, errors.Is(err, ErrMissingDevice))
}

func TestRunnerStopsOnCancel(t *testing.T) {
	rec := &recorder{}
	r, _, _ := fastRunner(rec)
	m := NewMovie()
	m.Delay = 60000
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := r.Run(ctx, []Command{m, m})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Empty(t, rec.events)
}

func TestFluidicsClient(t *testing.T) {
	srv := commtest.NewLineServer(t, '\n', '\n', func(req string) (string, bool) {
		switch req {
		case "list":
			return "Hybridize 1,wash", true
		case "run wash":
			return "done", true
		case "run clog":
			return "error valve 3 stuck", true
		}
		return "", false
	})
	fl := NewFluidicsClient(srv.Addr())
	ctx := context.Background()
	names, err := fl.Protocols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hybridize 1", "wash"}, names)

	require.NoError(t, fl.RunProtocol(ctx, "wash"))
	err = fl.RunProtocol(ctx, "clog")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "valve 3 stuck")

	// an unanswered protocol is abandoned with the context
	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err = fl.RunProtocol(short, "forever")
	assert.True(t, errors.Is(err, context.DeadlineExceeded), err)
}

func TestFluidicsConnectionSurvivesCanceledContexts(t *testing.T) {
	srv := commtest.NewLineServer(t, '\n', '\n', func(req string) (string, bool) {
		return "done", true
	})
	fl := NewFluidicsClient(srv.Addr())
	for i := 0; i < 50; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		err := fl.RunProtocol(ctx, "wash")
		cancel()
		require.NoError(t, err, "protocol %d", i)
	}
	assert.Len(t, srv.Requests(), 50)
}
