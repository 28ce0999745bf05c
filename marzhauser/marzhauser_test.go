package marzhauser_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhuanglab/gostorm/comm/commtest"
	"github.com/zhuanglab/gostorm/marzhauser"
	"github.com/zhuanglab/gostorm/stage"
)

var _ stage.XY = (*marzhauser.Stage)(nil)

func fakeTango(t *testing.T, pos string) *commtest.Server {
	return commtest.NewLineServer(t, '\r', '\r', func(req string) (string, bool) {
		switch req {
		case "?version":
			return "TANGO-DT 1.50", true
		case "?pos":
			return pos, true
		case "?readsn":
			return "12345", true
		}
		return "", false
	})
}

func waitFor(t *testing.T, srv *commtest.Server, n int) []string {
	t.Helper()
	assert.Eventually(t, func() bool { return len(srv.Requests()) >= n }, time.Second, time.Millisecond)
	return srv.Requests()
}

func TestCommandsScaleToTenthMicrons(t *testing.T) {
	srv := fakeTango(t, "1000 -250")
	s := marzhauser.New(srv.Addr(), false)
	require.True(t, s.Live())

	require.NoError(t, s.GoAbsolute(100, 25.5))
	require.NoError(t, s.GoRelative(-1, 0))
	require.NoError(t, s.Jog(10, 0))
	require.NoError(t, s.Lockout(true))
	require.NoError(t, s.JoystickOnOff(true))
	require.NoError(t, s.Zero())
	reqs := waitFor(t, srv, 7)
	assert.Equal(t, []string{
		"?version",
		"!moa 1000 255",
		"!mor -10 0",
		"!speed 100 0",
		"!joy 0",
		"!joy 2",
		"!pos 0 0",
	}, reqs)
}

func TestPositionParsesReply(t *testing.T) {
	srv := fakeTango(t, "1000 -250")
	s := marzhauser.New(srv.Addr(), false)
	pos, err := s.Position()
	require.NoError(t, err)
	assert.InDelta(t, 100.0, pos.X(), 1e-9)
	assert.InDelta(t, -25.0, pos.Y(), 1e-9)

	sn, err := s.SerialNumber()
	require.NoError(t, err)
	assert.Equal(t, "12345", sn)
}

func TestGarbledPositionKeepsLastGood(t *testing.T) {
	srv := fakeTango(t, "garbage")
	s := marzhauser.New(srv.Addr(), false)
	pos, err := s.Position()
	require.NoError(t, err)
	assert.Equal(t, stage.Position{"x": 0, "y": 0}, pos)
}

func TestSilentStageIsNotLive(t *testing.T) {
	srv := commtest.NewLineServer(t, '\r', '\r', func(string) (string, bool) { return "", true })
	s := marzhauser.New(srv.Addr(), false)
	assert.False(t, s.Live())
	assert.Equal(t, stage.ErrNotLive, s.GoAbsolute(1, 1))
}
