package focuslock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeZ struct {
	mu    sync.Mutex
	z     float64
	moves []float64
}

func (f *fakeZ) ZMoveAbs(z float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, z-f.z)
	f.z = z
	return nil
}

func (f *fakeZ) ZMoveRel(dz float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, dz)
	f.z += dz
	return nil
}

func (f *fakeZ) ZPosition() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.z, nil
}

func good(offset float64) Reading {
	return Reading{IsGood: true, Offset: offset, Sum: 100}
}

func TestUnlockedControllerDoesNotMove(t *testing.T) {
	z := &fakeZ{}
	c := NewController(z)
	dz, err := c.Handle(good(4))
	require.NoError(t, err)
	assert.Equal(t, 0.0, dz)
	assert.Empty(t, z.moves)
}

func TestLockedControllerCorrectsProportionally(t *testing.T) {
	z := &fakeZ{}
	c := NewController(z)
	c.SetTarget(1)
	c.Lock()
	dz, err := c.Handle(good(3))
	require.NoError(t, err)
	assert.InDelta(t, DefaultGain*2, dz, 1e-12)
	assert.Len(t, z.moves, 1)

	// weak or bad readings are ignored
	c.Handle(Reading{IsGood: true, Offset: 3, Sum: DefaultMinSum - 1})
	c.Handle(Reading{IsGood: false, Offset: 3, Sum: 100})
	assert.Len(t, z.moves, 1)

	st, err := c.Status()
	require.NoError(t, err)
	assert.True(t, st.Locked)
	assert.Equal(t, 1, st.Corrections)
	assert.InDelta(t, DefaultGain*2, st.Z, 1e-12)
}

func TestLockHereTakesNextGoodOffset(t *testing.T) {
	z := &fakeZ{}
	c := NewController(z)
	c.LockHere()
	assert.False(t, c.Locked())
	c.Handle(Reading{IsGood: false, Offset: 9})
	assert.False(t, c.Locked())

	dz, err := c.Handle(good(2.5))
	require.NoError(t, err)
	assert.Equal(t, 0.0, dz)
	assert.True(t, c.Locked())
	assert.Equal(t, 2.5, c.Target())
	assert.Empty(t, z.moves)
}

func TestJumpRelocksAtNewFocus(t *testing.T) {
	z := &fakeZ{}
	c := NewController(z)
	c.Lock()
	require.NoError(t, c.Jump(5))
	assert.Equal(t, []float64{5}, z.moves)
	assert.False(t, c.Locked(), "no correction until the next good reading")

	c.Handle(good(-10))
	assert.True(t, c.Locked())
	assert.Equal(t, -10.0, c.Target())
	assert.Equal(t, []float64{5}, z.moves)

	// an unlocked jump stays unlocked
	c.Unlock()
	require.NoError(t, c.Jump(-1))
	c.Handle(good(1))
	assert.False(t, c.Locked())
}

func TestSetTargetOverridesPendingRelock(t *testing.T) {
	z := &fakeZ{}
	c := NewController(z)
	c.Lock()
	require.NoError(t, c.Jump(1))
	c.SetTarget(1.5)
	assert.True(t, c.Locked())

	c.Handle(good(7))
	assert.Equal(t, 1.5, c.Target(), "a good reading after the jump does not replace the target")
	assert.InDelta(t, 1+DefaultGain*5.5, z.z, 1e-12)
}
