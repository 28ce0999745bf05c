package stage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateMoveTime(t *testing.T) {
	// 3-4-5 triangle at 100 um/s is 0.05 s of travel plus settling
	assert.Equal(t, 1050*time.Millisecond, EstimateMoveTime(3, 4, 100))
	assert.Equal(t, time.Second, EstimateMoveTime(0, 0, 100))
	assert.Equal(t, time.Second, EstimateMoveTime(10, 10, 0))
}

func TestCheckRange(t *testing.T) {
	assert.NoError(t, CheckRange("x", 0, -250, 250))
	err := CheckRange("x", 250, -250, 250)
	require.Error(t, err)
	var re RangeError
	assert.ErrorAs(t, err, &re)
	assert.Equal(t, "x", re.Axis)
}

func TestEstimatedBusyWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	e := NewEstimated(NewMock(), 100)
	e.now = func() time.Time { return now }

	busy, _ := e.Busy()
	assert.False(t, busy)

	require.NoError(t, e.GoRelative(300, 400))
	now = now.Add(5 * time.Second)
	busy, _ = e.Busy()
	assert.True(t, busy, "500 um at 100 um/s is still moving after 5 s")
	now = now.Add(time.Second + time.Millisecond)
	busy, _ = e.Busy()
	assert.False(t, busy)
}

func TestMockMovesAndSettles(t *testing.T) {
	m := NewMock()
	require.NoError(t, m.SetVelocity(10000, 10000))
	require.NoError(t, m.GoAbsolute(50, -20))
	assert.Eventually(t, func() bool {
		b, _ := m.Busy()
		return !b
	}, 2*time.Second, 5*time.Millisecond)
	pos, err := m.Position()
	require.NoError(t, err)
	assert.Equal(t, Position{"x": 50, "y": -20}, pos)
}

func TestAxesRoutesSingleAxisMoves(t *testing.T) {
	m := NewMock()
	m.SetVelocity(1e6, 1e6)
	a := NewAxes(m, m)
	require.NoError(t, a.MoveAbs("x", 10))
	assert.Eventually(t, func() bool { b, _ := a.Moving(); return !b }, time.Second, time.Millisecond)
	require.NoError(t, a.MoveRel("y", 5))
	require.NoError(t, a.MoveAbs("z", 2))
	assert.Eventually(t, func() bool { b, _ := a.Moving(); return !b }, time.Second, time.Millisecond)

	all, err := a.Position()
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"x": 10, "y": 5, "z": 2}, all)

	_, err = a.GetPos("theta")
	assert.Error(t, err)

	require.NoError(t, a.Jog("x", 3))
	require.NoError(t, a.Jog("y", -1))
	assert.Equal(t, 3.0, m.jx)
	assert.Equal(t, -1.0, m.jy)

	require.NoError(t, a.SetJoystick(false))
	assert.False(t, m.Joystick())
}

func TestAxesWithoutZ(t *testing.T) {
	a := NewAxes(NewMock(), nil)
	assert.Error(t, a.MoveAbs("z", 1))
	all, err := a.Position()
	require.NoError(t, err)
	_, hasZ := all["z"]
	assert.False(t, hasZ)
}

func TestMonitorPublishesLatest(t *testing.T) {
	m := NewMock()
	mon := NewMonitor("test", m, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mon.Run(ctx)

	select {
	case st := <-mon.Updates():
		assert.Equal(t, 0.0, st.Position.X())
	case <-time.After(time.Second):
		t.Fatal("no status published")
	}
	_, ok := mon.Last()
	assert.True(t, ok)
}

type slowStage struct {
	*Mock
	release chan struct{}
}

func (s slowStage) Position() (Position, error) {
	<-s.release
	return s.Mock.Position()
}

func TestMonitorSkipsOverlappingPolls(t *testing.T) {
	s := slowStage{Mock: NewMock(), release: make(chan struct{})}
	mon := NewMonitor("slow", s, time.Hour)
	done := make(chan bool)
	go func() { done <- mon.Poll() }()
	// give the first poll time to block inside Position
	time.Sleep(20 * time.Millisecond)
	assert.False(t, mon.Poll())
	close(s.release)
	assert.True(t, <-done)
}
