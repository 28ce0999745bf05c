// Package locker provides an HTTP middleware which allows a device's routes
// to be locked, returning 423 (locked), so a running acquisition sequence
// cannot be disturbed from another client
package locker

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi"
	"github.com/zhuanglab/gostorm/generichttp"
)

// ManipulableLock is a lock that can be driven over HTTP and used as middleware
type ManipulableLock interface {
	// Check is the middleware
	Check(http.Handler) http.Handler

	// Inject adds the lock routes to an HTTPer
	Inject(generichttp.HTTPer)
}

// Inject adds the lock routes of l to other
func Inject(other generichttp.HTTPer, l ManipulableLock) {
	l.Inject(other)
}

// Locker is a type which behaves like a sync.Mutex without the blocking,
// and holds a list of routes not to protect
type Locker struct {
	mu       sync.Mutex
	isLocked bool

	// DoNotProtect is a list of path fragments the lock does not apply to
	DoNotProtect []string
}

// New returns a new Locker with DoNotProtect prepopulated with "lock"
func New() *Locker {
	return &Locker{DoNotProtect: []string{"lock"}}
}

// Lock the locker
func (l *Locker) Lock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.isLocked = true
}

// Unlock the locker
func (l *Locker) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.isLocked = false
}

// Locked returns true if the locker is locked
func (l *Locker) Locked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isLocked
}

func protected(dnp []string, path string) bool {
	for _, str := range dnp {
		if strings.Contains(path, str) {
			return false
		}
	}
	return true
}

// Check is an HTTP middleware that returns http.StatusLocked for mutating
// requests if Locked() is true, otherwise passes down the line.  Reads are
// always allowed.
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && l.Locked() && protected(l.DoNotProtect, r.URL.Path) {
			w.WriteHeader(http.StatusLocked)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPSet calls Lock or Unlock based on json:bool on the request body
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	b := generichttp.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&b)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if b.Bool {
		l.Lock()
	} else {
		l.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPGet returns Locked() over HTTP as JSON
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	hp := generichttp.HumanPayload{T: types.Bool, Bool: l.Locked()}
	hp.EncodeAndRespond(w, r)
}

// Inject adds GET and POST /lock to other
func (l *Locker) Inject(other generichttp.HTTPer) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/lock"}] = l.HTTPGet
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lock"}] = l.HTTPSet
}

// AxisLocker locks stages axis by axis, so the focus lock can own z while
// x and y stay free for the user
type AxisLocker struct {
	mu     sync.Mutex
	locked map[string]bool

	// DoNotProtect is a list of path fragments the lock does not apply to
	DoNotProtect []string
}

// NewAL returns a new AxisLocker
func NewAL() *AxisLocker {
	return &AxisLocker{locked: map[string]bool{}, DoNotProtect: []string{"lock"}}
}

// Lock an axis
func (al *AxisLocker) Lock(axis string) {
	al.mu.Lock()
	defer al.mu.Unlock()
	al.locked[axis] = true
}

// Unlock an axis
func (al *AxisLocker) Unlock(axis string) {
	al.mu.Lock()
	defer al.mu.Unlock()
	al.locked[axis] = false
}

// Locked reports if an axis is locked
func (al *AxisLocker) Locked(axis string) bool {
	al.mu.Lock()
	defer al.mu.Unlock()
	return al.locked[axis]
}

func axisOf(path string) (string, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "axis" {
			return parts[i+1], true
		}
	}
	return "", false
}

// Check rejects mutating requests on .../axis/{axis}/... with 423 if that axis is locked
func (al *AxisLocker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && protected(al.DoNotProtect, r.URL.Path) {
			if axis, ok := axisOf(r.URL.Path); ok && al.Locked(axis) {
				w.WriteHeader(http.StatusLocked)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Inject adds GET and POST /axis/{axis}/lock to other
func (al *AxisLocker) Inject(other generichttp.HTTPer) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/lock"}] = func(w http.ResponseWriter, r *http.Request) {
		hp := generichttp.HumanPayload{T: types.Bool, Bool: al.Locked(chi.URLParam(r, "axis"))}
		hp.EncodeAndRespond(w, r)
	}
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/lock"}] = func(w http.ResponseWriter, r *http.Request) {
		b := generichttp.BoolT{}
		err := json.NewDecoder(r.Body).Decode(&b)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		axis := chi.URLParam(r, "axis")
		if b.Bool {
			al.Lock(axis)
		} else {
			al.Unlock(axis)
		}
		w.WriteHeader(http.StatusOK)
	}
}
