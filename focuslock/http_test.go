package focuslock

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhuanglab/gostorm/imgrec"
	"github.com/zhuanglab/gostorm/stage"
)

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
	return w
}

func TestHTTPFocusLock(t *testing.T) {
	lc, _ := mockLock(t, stage.NewMock())
	ctl := NewController(stage.NewMock())
	rec := imgrec.NewRecorder(t.TempDir(), "lock")
	h := NewHTTPFocusLock(context.Background(), lc, ctl, rec)
	assert.Contains(t, h.RT().Endpoints(), "GET /frame")
	assert.Contains(t, h.RT().Endpoints(), "POST /autowrite/prefix")

	r := chi.NewRouter()
	h.RT().Bind(r)

	assert.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodGet, "/reading", "").Code)
	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/start", "").Code)
	assert.Eventually(t, func() bool {
		return do(r, http.MethodGet, "/reading", "").Code == http.StatusOK
	}, 2*time.Second, 5*time.Millisecond)

	w := do(r, http.MethodGet, "/frame?fmt=png&shift=3", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	w = do(r, http.MethodGet, "/frame?fmt=fits", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "SIMPLE"))
	written, err := filepath.Glob(filepath.Join(rec.Root, "*", "lock*.fits"))
	require.NoError(t, err)
	assert.Len(t, written, 1)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/frame?fmt=tiff", "").Code)

	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/locked", `{"bool": true}`).Code)
	assert.JSONEq(t, `{"bool": true}`, do(r, http.MethodGet, "/locked", "").Body.String())
	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/target", `{"f64": 1.5}`).Code)
	assert.Equal(t, 1.5, ctl.Target())

	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/zero-dist", `{"f64": 3}`).Code)
	assert.InDelta(t, 0.3, lc.an.ZeroDist(), 1e-12)

	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/aoi", `{"dx": 2, "dy": -1}`).Code)
	assert.JSONEq(t, `{"left": 34, "top": 31}`, do(r, http.MethodGet, "/aoi", "").Body.String())

	w = do(r, http.MethodPost, "/stop", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"analyzed"`)
	assert.JSONEq(t, `{"bool": false}`, do(r, http.MethodGet, "/running", "").Body.String())
}
