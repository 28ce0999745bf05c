package crestoptics

import (
	"encoding/json"
	"net/http"

	"github.com/zhuanglab/gostorm/generichttp"
	"github.com/zhuanglab/gostorm/generichttp/ascii"
)

// HTTPConfocal wraps a Confocal in an HTTP interface
type HTTPConfocal struct {
	Confocal *Confocal

	RouteTable generichttp.RouteTable
}

// NewHTTPConfocal returns the HTTP wrapper.  If raw is not nil a /raw route
// is added for commands the settings do not cover.
func NewHTTPConfocal(c *Confocal, raw ascii.RawCommunicator) HTTPConfocal {
	h := HTTPConfocal{Confocal: c}
	h.RouteTable = generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/settings"}:  h.GetSettings,
		{Method: http.MethodPost, Path: "/settings"}: h.SetSettings,
		{Method: http.MethodGet, Path: "/allowed"}:   h.GetAllowed,
	}
	if raw != nil {
		ascii.InjectRawComm(h, raw)
	}
	return h
}

// RT satisfies generichttp.HTTPer
func (h HTTPConfocal) RT() generichttp.RouteTable {
	return h.RouteTable
}

// GetSettings answers the current settings as JSON
func (h HTTPConfocal) GetSettings(w http.ResponseWriter, r *http.Request) {
	generichttp.RespondJSON(w, h.Confocal.Settings())
}

// GetAllowed answers the allowed values of the string settings
func (h HTTPConfocal) GetAllowed(w http.ResponseWriter, r *http.Request) {
	generichttp.RespondJSON(w, h.Confocal.Allowed())
}

// SetSettings applies a JSON Settings body and answers {"old": .., "new": ..}.
// Fields missing from the body keep their current value.
func (h HTTPConfocal) SetSettings(w http.ResponseWriter, r *http.Request) {
	s := h.Confocal.Settings()
	err := json.NewDecoder(r.Body).Decode(&s)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err = h.Confocal.validate(s); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	old, updated, err := h.Confocal.NewSettings(s)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.RespondJSON(w, struct {
		Old Settings `json:"old"`
		New Settings `json:"new"`
	}{old, updated})
}
