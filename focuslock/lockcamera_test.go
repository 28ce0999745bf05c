package focuslock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhuanglab/gostorm/stage"
)

func mockLock(t *testing.T, z stage.Z) (*LockCamera, *MockCamera) {
	cam := NewMockCamera(z)
	cam.Noise = 0
	p := ssParams()
	p.Reps, p.MinGood = 2, 2
	an, err := NewSSAnalyzer(p)
	require.NoError(t, err)
	lc := NewLockCamera(cam, an)
	t.Cleanup(func() { lc.Shutdown() })
	return lc, cam
}

func nextReading(t *testing.T, lc *LockCamera) Reading {
	select {
	case r := <-lc.Readings():
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no reading published")
	}
	return Reading{}
}

func TestLockCameraPublishesReadings(t *testing.T) {
	lc, _ := mockLock(t, stage.NewMock())
	_, err := lc.LastFrame()
	assert.Equal(t, ErrNoFrame, err)

	require.NoError(t, lc.Start(context.Background()))
	assert.Equal(t, ErrRunning, lc.Start(context.Background()))
	assert.True(t, lc.Running())

	r := nextReading(t, lc)
	assert.True(t, r.IsGood)
	assert.InDelta(t, 0, r.Offset, 0.05)
	assert.InDelta(t, 0, r.XOff, 0.05)

	f, err := lc.LastFrame()
	require.NoError(t, err)
	assert.Equal(t, 64, f.Width)

	st := lc.Stop()
	assert.False(t, lc.Running())
	assert.Greater(t, st.Analyzed, 0)
	assert.Equal(t, 32, st.OffsetX)
}

func TestLockCameraMovesAOIBetweenAcquisitions(t *testing.T) {
	lc, cam := mockLock(t, stage.NewMock())
	require.NoError(t, lc.Start(context.Background()))
	lc.AdjustAOI(5, -3)
	assert.Eventually(t, func() bool {
		x, y := cam.Offsets()
		return x == 37 && y == 29
	}, 2*time.Second, 5*time.Millisecond)

	// the spot is now 5 px left and 3 px below the AOI center
	assert.Eventually(t, func() bool {
		r, ok := lc.Last()
		return ok && r.IsGood && r.XOff < -4.9 && r.XOff > -5.1 && r.YOff > 2.9 && r.YOff < 3.1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAdjustAOIClampsToSensor(t *testing.T) {
	lc, _ := mockLock(t, stage.NewMock())
	lc.AdjustAOI(1000, -1000)
	x, y := lc.AOI()
	assert.Equal(t, 64, x)
	assert.Equal(t, 0, y)
}

func TestLockHoldsMockFocus(t *testing.T) {
	z := stage.NewMock()
	require.NoError(t, z.ZMoveAbs(1))
	require.Eventually(t, func() bool { p, _ := z.ZPosition(); return p == 1 }, time.Second, time.Millisecond)

	lc, _ := mockLock(t, z)
	ctl := NewController(z)
	ctl.Gain = 0.25
	ctl.Lock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctl.Run(ctx, lc.Readings())
	require.NoError(t, lc.Start(ctx))

	assert.Eventually(t, func() bool {
		p, _ := z.ZPosition()
		return p < 0.05 && p > -0.05
	}, 5*time.Second, 10*time.Millisecond)
}
