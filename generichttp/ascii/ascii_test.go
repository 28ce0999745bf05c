package ascii_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zhuanglab/gostorm/generichttp"
	"github.com/zhuanglab/gostorm/generichttp/ascii"
)

type echo struct{}

func (echo) Raw(s string) (string, error) { return ":A " + s, nil }

type table generichttp.RouteTable

func (t table) RT() generichttp.RouteTable { return generichttp.RouteTable(t) }

func TestInjectRawComm(t *testing.T) {
	rt := table{}
	ascii.InjectRawComm(rt, echo{})
	h := rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/raw"}]
	if !assert.NotNil(t, h) {
		return
	}
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodPost, "/raw", strings.NewReader(`{"str": "2HW X Y"}`)))
	assert.JSONEq(t, `{"str": ":A 2HW X Y"}`, w.Body.String())
}
