package motion_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhuanglab/gostorm/generichttp/motion"
	"github.com/zhuanglab/gostorm/util"
)

type fakeStage struct {
	pos    map[string]float64
	jog    map[string]float64
	zeroed bool
}

func newFake() *fakeStage {
	return &fakeStage{pos: map[string]float64{"x": 0, "y": 0}, jog: map[string]float64{}}
}

func (f *fakeStage) GetPos(axis string) (float64, error) { return f.pos[axis], nil }
func (f *fakeStage) MoveAbs(axis string, p float64) error { f.pos[axis] = p; return nil }
func (f *fakeStage) MoveRel(axis string, d float64) error { f.pos[axis] += d; return nil }
func (f *fakeStage) Jog(axis string, v float64) error     { f.jog[axis] = v; return nil }
func (f *fakeStage) Zero() error                          { f.zeroed = true; return nil }
func (f *fakeStage) Position() (map[string]float64, error) {
	return map[string]float64{"x": f.pos["x"], "y": f.pos["y"]}, nil
}

func router(f *fakeStage, limits map[string]util.Limiter) chi.Router {
	h := motion.NewHTTPMotionController(f)
	lim := motion.LimitMiddleware{Limits: limits, Mov: f}
	lim.Inject(h)
	r := chi.NewRouter()
	r.Use(lim.Check)
	h.RT().Bind(r)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
	return w
}

func TestOptionalInterfacesAreBound(t *testing.T) {
	h := motion.NewHTTPMotionController(newFake())
	eps := h.RT().Endpoints()
	assert.Contains(t, eps, "POST /axis/{axis}/jog")
	assert.Contains(t, eps, "POST /zero")
	assert.Contains(t, eps, "GET /pos")
	assert.NotContains(t, eps, "POST /axis/{axis}/home")
}

func TestMoveAbsoluteAndRelative(t *testing.T) {
	f := newFake()
	r := router(f, nil)
	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/axis/x/pos", `{"f64": 100}`).Code)
	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/axis/x/pos?relative=true", `{"f64": -25}`).Code)
	assert.Equal(t, 75.0, f.pos["x"])

	w := do(r, http.MethodGet, "/axis/x/pos", "")
	assert.JSONEq(t, `{"f64": 75}`, w.Body.String())

	w = do(r, http.MethodGet, "/pos", "")
	assert.JSONEq(t, `{"x": 75, "y": 0}`, w.Body.String())
}

func TestLimitsBlockOutOfRange(t *testing.T) {
	f := newFake()
	r := router(f, map[string]util.Limiter{"x": {Min: -100, Max: 100}})
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/axis/x/pos", `{"f64": 150}`).Code)
	assert.Equal(t, 0.0, f.pos["x"])

	f.pos["x"] = 90
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/axis/x/pos?relative=true", `{"f64": 20}`).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/axis/x/pos?relative=true", `{"f64": 5}`).Code)
	assert.Equal(t, 95.0, f.pos["x"])

	// no limit on y
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/axis/y/pos", `{"f64": 1e6}`).Code)

	w := do(r, http.MethodGet, "/axis/x/limits", "")
	assert.JSONEq(t, `{"min": -100, "max": 100}`, w.Body.String())
}

func TestJogAndZero(t *testing.T) {
	f := newFake()
	r := router(f, nil)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/axis/y/jog", `{"f64": 12.5}`).Code)
	assert.Equal(t, 12.5, f.jog["y"])
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/zero", "").Code)
	assert.True(t, f.zeroed)
}
