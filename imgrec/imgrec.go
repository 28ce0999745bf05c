// Package imgrec records the images a camera serves to numbered FITS files
// in dated folders.
package imgrec

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zhuanglab/gostorm/generichttp"
)

// Recorder records image sequences with incrementing filenames in
// yyyy-mm-dd subfolders.  Each file is built from the Writes between calls
// to Incr.
type Recorder struct {
	mu sync.Mutex

	// counter is the internally incrementing counter
	counter int

	// Root is the root path
	Root string

	// Prefix is the prefix for the filenames
	Prefix string

	// Enabled switches recording on and off
	Enabled bool

	// now is the clock used to pick the dated folder
	now func() time.Time
}

// NewRecorder returns an enabled recorder writing under root
func NewRecorder(root, prefix string) *Recorder {
	return &Recorder{Root: root, Prefix: prefix, Enabled: true, now: time.Now}
}

// Active reports if the recorder is enabled and has somewhere to write
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Enabled && r.Root != ""
}

// folder returns today's folder, creating it if needed
func (r *Recorder) folder() (string, error) {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	t := now()
	fldr := filepath.Join(r.Root, fmt.Sprintf("%04d-%02d-%02d", t.Year(), t.Month(), t.Day()))
	err := os.MkdirAll(fldr, 0777)
	return fldr, err
}

// Filename returns the path the next Write goes to
func (r *Recorder) Filename() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filename()
}

func (r *Recorder) filename() (string, error) {
	fldr, err := r.folder()
	if err != nil {
		return "", err
	}
	return filepath.Join(fldr, fmt.Sprintf("%s%06d.fits", r.Prefix, r.counter)), nil
}

// Write implements io.Writer and appends to the current fits file
func (r *Recorder) Write(p []byte) (n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn, err := r.filename()
	if err != nil {
		return 0, err
	}
	fid, err := os.OpenFile(fn, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0666)
	if err != nil {
		return 0, err
	}
	defer fid.Close()
	return fid.Write(p)
}

// Incr moves on to the next file, numbered one past the highest already in
// the folder.  If the folder cannot be read, the counter is not incremented.
func (r *Recorder) Incr() {
	r.mu.Lock()
	defer r.mu.Unlock()
	dn, err := r.folder()
	if err != nil {
		return
	}
	files, err := os.ReadDir(dn)
	if err != nil {
		return
	}
	count := 0
	for _, file := range files {
		// skip directories, non-fits, and wrong prefix
		fn := file.Name()
		if file.IsDir() || !strings.HasSuffix(fn, ".fits") || !strings.HasPrefix(fn, r.Prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(fn, r.Prefix), ".fits"))
		if err != nil {
			continue
		}
		if count < n {
			count = n
		}
	}
	r.counter = count + 1
}

// SetRoot moves recording under root, creating today's folder there
func (r *Recorder) SetRoot(root string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Root = root
	_, err := r.folder()
	return err
}

// SetPrefix changes the file prefix and restarts the numbering
func (r *Recorder) SetPrefix(prefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Prefix = prefix
	r.counter = 0
}

// SetEnabled switches recording on or off
func (r *Recorder) SetEnabled(b bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Enabled = b
}

// locked reads a field of the recorder under its lock
func (r *Recorder) locked(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
}

// HTTPWrapper lets the folder, prefix and on/off state of a recorder be
// changed over HTTP.  It has no routes of its own; Inject adds them to the
// HTTPer the recorded images come from.
type HTTPWrapper struct {
	*Recorder
}

// NewHTTPWrapper returns an HTTP wrapper around a recorder
func NewHTTPWrapper(r *Recorder) HTTPWrapper {
	return HTTPWrapper{r}
}

// Inject adds GET and POST routes for /autowrite/root, /autowrite/prefix
// and /autowrite/enabled to other
func (h HTTPWrapper) Inject(other generichttp.HTTPer) {
	rec := h.Recorder
	root := func() (s string, err error) { rec.locked(func() { s = rec.Root }); return }
	prefix := func() (s string, err error) { rec.locked(func() { s = rec.Prefix }); return }
	enabled := func() (b bool, err error) { rec.locked(func() { b = rec.Enabled }); return }

	routes := generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/autowrite/root"}:     generichttp.GetString(root),
		{Method: http.MethodPost, Path: "/autowrite/root"}:    generichttp.SetString(rec.SetRoot),
		{Method: http.MethodGet, Path: "/autowrite/prefix"}:   generichttp.GetString(prefix),
		{Method: http.MethodPost, Path: "/autowrite/prefix"}:  generichttp.SetString(func(p string) error { rec.SetPrefix(p); return nil }),
		{Method: http.MethodGet, Path: "/autowrite/enabled"}:  generichttp.GetBool(enabled),
		{Method: http.MethodPost, Path: "/autowrite/enabled"}: generichttp.SetBool(func(b bool) error { rec.SetEnabled(b); return nil }),
	}
	rt := other.RT()
	for mp, hf := range routes {
		rt[mp] = hf
	}
}
