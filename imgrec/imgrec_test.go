package imgrec

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhuanglab/gostorm/generichttp"
)

func fixedRecorder(t *testing.T) *Recorder {
	r := NewRecorder(t.TempDir(), "lock")
	r.now = func() time.Time { return time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC) }
	return r
}

func TestWriteAndIncr(t *testing.T) {
	r := fixedRecorder(t)
	_, err := r.Write([]byte("SIMPLE"))
	require.NoError(t, err)
	_, err = r.Write([]byte("  = T"))
	require.NoError(t, err)

	fn := filepath.Join(r.Root, "2026-03-09", "lock000000.fits")
	b, err := os.ReadFile(fn)
	require.NoError(t, err)
	assert.Equal(t, "SIMPLE  = T", string(b))

	r.Incr()
	next, err := r.Filename()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(r.Root, "2026-03-09", "lock000001.fits"), next)

	// files with another prefix do not move the counter
	require.NoError(t, os.WriteFile(filepath.Join(r.Root, "2026-03-09", "other000009.fits"), nil, 0666))
	require.NoError(t, os.WriteFile(filepath.Join(r.Root, "2026-03-09", "lock000005.fits"), nil, 0666))
	r.Incr()
	next, _ = r.Filename()
	assert.True(t, strings.HasSuffix(next, "lock000006.fits"), next)
}

type table struct{ rt generichttp.RouteTable }

func (t table) RT() generichttp.RouteTable { return t.rt }

func TestHTTPWrapperInject(t *testing.T) {
	r := fixedRecorder(t)
	tbl := table{generichttp.RouteTable{}}
	NewHTTPWrapper(r).Inject(tbl)
	assert.Len(t, tbl.rt, 6)

	w := httptest.NewRecorder()
	h := tbl.rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/enabled"}]
	h(w, httptest.NewRequest(http.MethodPost, "/autowrite/enabled", strings.NewReader(`{"bool": false}`)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, r.Active())

	w = httptest.NewRecorder()
	h = tbl.rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/prefix"}]
	h(w, httptest.NewRequest(http.MethodPost, "/autowrite/prefix", strings.NewReader(`{"str": "af"}`)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "af", r.Prefix)
}

func TestHTTPWrapperRoot(t *testing.T) {
	r := fixedRecorder(t)
	tbl := table{generichttp.RouteTable{}}
	NewHTTPWrapper(r).Inject(tbl)

	dir := filepath.Join(t.TempDir(), "movies")
	w := httptest.NewRecorder()
	h := tbl.rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/root"}]
	h(w, httptest.NewRequest(http.MethodPost, "/autowrite/root", strings.NewReader(`{"str": "`+filepath.ToSlash(dir)+`"}`)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.DirExists(t, filepath.Join(dir, "2026-03-09"))

	w = httptest.NewRecorder()
	h = tbl.rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/root"}]
	h(w, httptest.NewRequest(http.MethodGet, "/autowrite/root", nil))
	assert.JSONEq(t, `{"str": "`+filepath.ToSlash(dir)+`"}`, w.Body.String())
}
