package pi

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhuanglab/gostorm/comm/commtest"
	"github.com/zhuanglab/gostorm/stage"
)

var (
	_ stage.XY      = (*E873)(nil)
	_ stage.Busier  = (*E873)(nil)
	_ stage.Stopper = (*E873)(nil)
	_ stage.Z       = (*E873Z)(nil)
)

// fakeE873 answers a subset of GCS2 for three axes of +/- 6.5 mm travel
type fakeE873 struct {
	mu  sync.Mutex
	pos map[string]float64
	err int
}

func newFakeE873() *fakeE873 {
	return &fakeE873{pos: map[string]float64{"1": 0, "2": 0, "3": 0}}
}

func multi(vals map[string]float64) string {
	axes := make([]string, 0, len(vals))
	for k := range vals {
		axes = append(axes, k)
	}
	sort.Strings(axes)
	lines := make([]string, len(axes))
	for i, ax := range axes {
		lines[i] = fmt.Sprintf("%s=%g", ax, vals[ax])
	}
	return strings.Join(lines, " \n")
}

func (f *fakeE873) handle(req string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fields := strings.Fields(req)
	switch fields[0] {
	case "*IDN?":
		return "(c)2019 Physik Instrumente (PI) GmbH & Co. KG, E-873.3QTU, 119006811, 01.00", true
	case "TMN?":
		return multi(map[string]float64{"1": -6.5, "2": -6.5, "3": -6.5}), true
	case "TMX?":
		return multi(map[string]float64{"1": 6.5, "2": 6.5, "3": 6.5}), true
	case "POS?":
		if len(fields) == 2 {
			return multi(map[string]float64{fields[1]: f.pos[fields[1]]}), true
		}
		return multi(f.pos), true
	case "ONT?":
		return fields[1] + "=1", true
	case "ERR?":
		e := f.err
		f.err = 0
		return strconv.Itoa(e), true
	case "MOV":
		v, _ := strconv.ParseFloat(fields[2], 64)
		f.pos[fields[1]] = v
	}
	return "", false
}

func newTestE873(t *testing.T) (*E873, *fakeE873, *commtest.Server) {
	f := newFakeE873()
	srv := commtest.NewLineServer(t, '\n', '\n', f.handle)
	s := NewE873(srv.Addr(), false)
	require.True(t, s.Live())
	return s, f, srv
}

func TestE873StartupReadsRanges(t *testing.T) {
	s, _, srv := newTestE873(t)
	lo, hi := s.Range(AxisX)
	assert.Equal(t, -650.0, lo)
	assert.Equal(t, 650.0, hi)
	// the servo commands get no reply, so wait for the server to log them
	require.Eventually(t, func() bool { return len(srv.Requests()) >= 6 }, time.Second, time.Millisecond)
	reqs := srv.Requests()
	assert.Equal(t, []string{"*IDN?", "TMN?", "TMX?", "POS?", "SVO 1 1", "SVO 2 1"}, reqs[:6])
}

func TestE873MovesInControllerUnits(t *testing.T) {
	s, f, _ := newTestE873(t)
	require.NoError(t, s.GoAbsolute(150, -25))
	assert.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.pos["1"] == 1.5 && f.pos["2"] == -0.25
	}, time.Second, time.Millisecond)

	pos, err := s.Position()
	require.NoError(t, err)
	assert.Equal(t, stage.Position{"x": 150, "y": -25, "z": 0}, pos)
}

func TestE873RejectsOutOfRange(t *testing.T) {
	s, _, srv := newTestE873(t)
	err := s.GoAbsolute(700, 0)
	var re stage.RangeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "x", re.Axis)
	assert.Eventually(t, func() bool {
		reqs := srv.Requests()
		return reqs[len(reqs)-1] == "MOV 2 0"
	}, time.Second, time.Millisecond, "the in-range axis still moves")
}

func TestE873RelativeChecksFromCurrent(t *testing.T) {
	s, f, _ := newTestE873(t)
	f.mu.Lock()
	f.pos["1"] = 6
	f.mu.Unlock()
	err := s.GoRelative(1000, 0)
	assert.ErrorAs(t, err, &stage.RangeError{})
}

func TestE873ZSharesController(t *testing.T) {
	s, f, _ := newTestE873(t)
	z := NewE873Z(s, "", false)
	require.NoError(t, z.ZMoveAbs(200))
	assert.Eventually(t, func() bool {
		p, err := z.ZPosition()
		return err == nil && p == 200
	}, time.Second, time.Millisecond)
	require.NoError(t, z.ZMoveRel(-50))
	assert.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.pos["3"] == 1.5
	}, time.Second, time.Millisecond)
	assert.Error(t, z.ZMoveAbs(-700))
}

func TestE873BusyAndErrors(t *testing.T) {
	s, f, _ := newTestE873(t)
	busy, err := s.Busy()
	require.NoError(t, err)
	assert.False(t, busy)

	f.mu.Lock()
	f.err = 7
	f.mu.Unlock()
	err = s.PopError()
	require.Error(t, err)
	assert.Equal(t, "GCS2 error 7: Position out of limits", err.Error())
	assert.True(t, err.(GCS2Status).Motion())
	assert.NoError(t, s.PopError())

	assert.Equal(t, stage.ErrNotSupported, s.Jog(1, 1))
}

func TestGCS2ErrUnknownCode(t *testing.T) {
	assert.Nil(t, GCS2Err(0))
	assert.Equal(t, "GCS2 error 123456: unknown code", GCS2Err(123456).Error())
	assert.Equal(t, 7, GCS2Err(7).(GCS2Status).Code())
	assert.False(t, GCS2Err(2).(GCS2Status).Motion())
}
