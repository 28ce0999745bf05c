package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-yaml/yaml"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	yml "gopkg.in/yaml.v2"

	"github.com/zhuanglab/gostorm/asi"
	"github.com/zhuanglab/gostorm/crestoptics"
	"github.com/zhuanglab/gostorm/focuslock"
	"github.com/zhuanglab/gostorm/generichttp"
	"github.com/zhuanglab/gostorm/generichttp/ascii"
	"github.com/zhuanglab/gostorm/generichttp/motion"
	"github.com/zhuanglab/gostorm/imgrec"
	"github.com/zhuanglab/gostorm/marzhauser"
	"github.com/zhuanglab/gostorm/pi"
	"github.com/zhuanglab/gostorm/sequence"
	"github.com/zhuanglab/gostorm/server/middleware/locker"
	"github.com/zhuanglab/gostorm/stage"
	"github.com/zhuanglab/gostorm/thorlabs"
	"github.com/zhuanglab/gostorm/util"
)

// ObjSetup holds the typical triplet of args for a New<device> call.
// Serial is not always used, and need not be populated in the config file
// if not used.
type ObjSetup struct {
	// Addr holds the network or filesystem address of the remote device,
	// e.g. 192.168.100.123:2006 for a device on port 6 of a terminal server,
	// or /dev/ttyUSB0 for a USB serial adapter
	Addr string `yaml:"Addr"`

	// Endpoint is the path the routes from this device will be served on
	// ex. Endpoint="/stage" will produce routes of /stage/axis/x/pos, etc.
	Endpoint string `yaml:"Endpoint"`

	// Serial determines if the connection is serial/RS232 (True) or TCP (False)
	Serial bool `yaml:"Serial"`

	// Type is the "type" of the object, e.g. marzhauser
	Type string `yaml:"Type"`

	// Args holds any arguments to pass into the constructor for the object
	Args map[string]interface{} `yaml:"Args"`
}

// SequenceSetup names the devices a sequence drives
type SequenceSetup struct {
	// Stage is the endpoint of the XY stage node
	Stage string `yaml:"Stage"`

	// FocusLock is the endpoint of the focus lock node
	FocusLock string `yaml:"FocusLock"`

	// Fluidics is the host:port of the valve controller
	Fluidics string `yaml:"Fluidics"`

	// FrameRate paces the simulated acquisitions, frames per second
	FrameRate float64 `yaml:"FrameRate"`
}

// Config is a struct that holds the initialization parameters for various
// HTTP adapted devices.  It is to be populated by a yaml/unmarshal call.
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr"`

	// Mock replaces every device with a simulation
	Mock bool `yaml:"Mock"`

	// MonitorInterval is the time between stage position polls, in seconds
	MonitorInterval float64 `yaml:"MonitorInterval"`

	// Nodes is the list of nodes to set up
	Nodes []ObjSetup `yaml:"Nodes"`

	Sequence SequenceSetup `yaml:"Sequence"`
}

// LoadYaml converts a (path to a) yaml file into a Config struct
func LoadYaml(path string) (Config, error) {
	cfg := Config{}
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	err = yaml.NewDecoder(f).Decode(&cfg)
	return cfg, err
}

// Rig holds the devices built from a Config, by endpoint, for the parts of
// the program that drive them directly
type Rig struct {
	XY    map[string]stage.XY
	Z     map[string]stage.Z
	Locks map[string]*focuslock.Controller
}

func newRig() *Rig {
	return &Rig{
		XY:    map[string]stage.XY{},
		Z:     map[string]stage.Z{},
		Locks: map[string]*focuslock.Controller{},
	}
}

// routes makes a bare route table an HTTPer
type routes generichttp.RouteTable

func (r routes) RT() generichttp.RouteTable { return generichttp.RouteTable(r) }

func argString(args map[string]interface{}, key, def string) string {
	if v, ok := args[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return def
}

func toFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		return strconv.ParseFloat(t, 64)
	}
	return 0, fmt.Errorf("%v is not a number", v)
}

func argFloat(args map[string]interface{}, key string, def float64) (float64, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, fmt.Errorf("arg %s: %w", key, err)
	}
	return f, nil
}

func argBool(args map[string]interface{}, key string, def bool) bool {
	if b, ok := args[key].(bool); ok {
		return b
	}
	return def
}

// stringMap accepts both the map types yaml decoders produce
func stringMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, v := range m {
			out[fmt.Sprint(k)] = v
		}
		return out, true
	}
	return nil, false
}

/* parseLimits reads the limits of a stage node, which are encoded as:
Args:
	Limits:
		x:
			Min: 0
			Max: 1
		y:
			...
*/
func parseLimits(args map[string]interface{}) (map[string]util.Limiter, error) {
	limiters := map[string]util.Limiter{}
	raw, ok := stringMap(args["Limits"])
	if !ok {
		return limiters, nil
	}
	for axis, v := range raw {
		m, ok := stringMap(v)
		if !ok {
			return nil, fmt.Errorf("limits of axis %s must have Min and Max", axis)
		}
		lim := util.Limiter{}
		var err error
		if lim.Min, err = argFloat(m, "Min", 0); err != nil {
			return nil, fmt.Errorf("axis %s: %w", axis, err)
		}
		if lim.Max, err = argFloat(m, "Max", 0); err != nil {
			return nil, fmt.Errorf("axis %s: %w", axis, err)
		}
		limiters[strings.ToLower(axis)] = lim
	}
	return limiters, nil
}

// decodeArgs re-encodes a node argument as yaml into dst
func decodeArgs(args map[string]interface{}, key string, dst interface{}) error {
	v, ok := args[key]
	if !ok {
		return nil
	}
	b, err := yml.Marshal(v)
	if err != nil {
		return err
	}
	return yml.Unmarshal(b, dst)
}

// mockXLight answers every command, for configs without the hardware
type mockXLight struct{}

func (mockXLight) CommandResponse(cmd string, timeout time.Duration) (string, error) {
	return cmd, nil
}

func monitorStatus(mon *stage.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, ok := mon.Last()
		if !ok {
			http.Error(w, "stage has not been polled yet", http.StatusServiceUnavailable)
			return
		}
		generichttp.RespondJSON(w, struct {
			Position stage.Position `json:"position"`
			Moving   bool           `json:"moving"`
			Time     time.Time      `json:"time"`
		}{st.Position, st.Moving, st.Time})
	}
}

// motorConfig picks the Thorlabs motor named by Args.Motor, defaulting to def.
// Args.CountsPerMM overrides its encoder scale.
func motorConfig(args map[string]interface{}, def thorlabs.MotorConfig) (thorlabs.MotorConfig, error) {
	cfg := def
	switch m := strings.ToLower(argString(args, "Motor", "")); m {
	case "":
	case "z8":
		cfg = thorlabs.Z8
	case "mls203":
		cfg = thorlabs.MLS203
	default:
		return cfg, fmt.Errorf("motor %q not understood, use z8 or mls203", m)
	}
	cpm, err := argFloat(args, "CountsPerMM", 0)
	if err != nil {
		return cfg, err
	}
	if cpm < 0 {
		return cfg, fmt.Errorf("CountsPerMM must be positive, got %g", cpm)
	}
	if cpm != 0 {
		cfg.CountsPerMM = cpm
	}
	return cfg, nil
}

func buildXY(c Config, node ObjSetup, typ string) (stage.XY, ascii.RawCommunicator, error) {
	var motor thorlabs.MotorConfig
	if strings.HasPrefix(typ, "thorlabs-") {
		def := thorlabs.Z8
		if typ == "thorlabs-bbd103" {
			def = thorlabs.MLS203
		}
		var err error
		if motor, err = motorConfig(node.Args, def); err != nil {
			return nil, nil, err
		}
	}
	if c.Mock {
		return stage.NewMock(), nil, nil
	}
	switch typ {
	case "marzhauser", "tango":
		s := marzhauser.New(node.Addr, node.Serial)
		return s, s, nil
	case "asi", "ms2000":
		s := asi.New(node.Addr, node.Serial)
		return s, s, nil
	case "asi-nf":
		return asi.NewNoFeedback(node.Addr, node.Serial), nil, nil
	case "pi-e873":
		s := pi.NewE873(node.Addr, node.Serial)
		if u, err := argFloat(node.Args, "UnitToUm", 0); err != nil {
			return nil, nil, err
		} else if u != 0 {
			s.UnitToUm = u
		}
		return s, s.Controller, nil
	case "thorlabs-kdc101":
		yAddr := argString(node.Args, "YAddr", "")
		if yAddr == "" {
			return nil, nil, fmt.Errorf("thorlabs-kdc101 needs Args.YAddr for the y controller")
		}
		return thorlabs.NewKDC101(node.Addr, yAddr, node.Serial, motor), nil, nil
	case "thorlabs-bbd103":
		return thorlabs.NewBBD103(node.Addr, node.Serial, motor), nil, nil
	}
	return nil, nil, fmt.Errorf("type %s is not a stage", typ)
}

func buildAnalyzer(args map[string]interface{}) (focuslock.Analyzer, error) {
	switch kind := strings.ToLower(argString(args, "Analyzer", "ss")); kind {
	case "ss":
		p := focuslock.SSParams{
			Common:    focuslock.Common{Reps: 3, MinGood: 2, SumScale: 1},
			Offset:    100,
			Sigma:     2,
			Threshold: 500,
		}
		if err := decodeArgs(args, "Params", &p); err != nil {
			return nil, err
		}
		return focuslock.NewSSAnalyzer(p)
	case "af":
		p := focuslock.AFParams{
			Common:     focuslock.Common{Reps: 3, MinGood: 2, SumScale: 1},
			Downsample: 1,
		}
		if err := decodeArgs(args, "Params", &p); err != nil {
			return nil, err
		}
		return focuslock.NewAFAnalyzer(p)
	default:
		return nil, fmt.Errorf("analyzer %q not understood, use ss or af", kind)
	}
}

// BuildMux constructs a chi mux with a submux for every node of c.
// The mux serves two special routes: /endpoints, which returns a map of
// every node's routes as JSON, and /metrics for prometheus.  Stage
// monitors and lock loops run until ctx is done.
func BuildMux(ctx context.Context, c Config) (chi.Router, *Rig, error) {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}
	rig := newRig()
	interval := util.SecsToDuration(c.MonitorInterval)
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	reg := prometheus.NewRegistry()
	if err := stage.RegisterMetrics(reg); err != nil {
		return nil, nil, err
	}
	if err := focuslock.RegisterMetrics(reg); err != nil {
		return nil, nil, err
	}

	// for every node specified, build a submux
	for _, node := range c.Nodes {
		var (
			httper generichttp.HTTPer
			mws    []func(http.Handler) http.Handler
		)
		if node.Args == nil {
			node.Args = map[string]interface{}{}
		}
		// prepare the URL, "focus/lock" => "/focus/lock"
		hndlS := generichttp.SubMuxSanitize(node.Endpoint)
		if _, dup := supergraph[hndlS]; dup {
			return nil, nil, fmt.Errorf("endpoint %s is used by more than one node", hndlS)
		}
		axislocker := false
		typ := strings.ToLower(node.Type)
		switch typ {
		case "marzhauser", "tango", "asi", "ms2000", "asi-nf", "pi-e873", "thorlabs-kdc101", "thorlabs-bbd103":
			axislocker = true
			xy, raw, err := buildXY(c, node, typ)
			if err != nil {
				return nil, nil, err
			}
			rig.XY[hndlS] = xy
			// the mock is also a z stage
			z, _ := xy.(stage.Z)
			if z != nil {
				rig.Z[hndlS] = z
			}
			axes := stage.NewAxes(xy, z)
			limiters, err := parseLimits(node.Args)
			if err != nil {
				return nil, nil, fmt.Errorf("%s: %w", hndlS, err)
			}
			limiter := motion.LimitMiddleware{Limits: limiters, Mov: axes}
			hmc := motion.NewHTTPMotionController(axes)
			limiter.Inject(hmc)
			mws = append(mws, limiter.Check)
			if raw != nil {
				ascii.InjectRawComm(hmc, raw)
			}
			mon := stage.NewMonitor(hndlS, xy, interval)
			go mon.Run(ctx)
			hmc.RT()[generichttp.MethodPath{Method: http.MethodGet, Path: "/status"}] = monitorStatus(mon)
			httper = hmc

		case "pi-e873z":
			var z stage.Z
			if c.Mock {
				z = stage.NewMock()
			} else {
				var xy *pi.E873
				if ref := argString(node.Args, "XY", ""); ref != "" {
					e, ok := rig.XY[generichttp.SubMuxSanitize(ref)].(*pi.E873)
					if !ok {
						return nil, nil, fmt.Errorf("%s: XY %s is not a pi-e873 node defined above", hndlS, ref)
					}
					xy = e
				}
				z = pi.NewE873Z(xy, node.Addr, node.Serial)
			}
			rig.Z[hndlS] = z
			httper = routes{
				{Method: http.MethodGet, Path: "/pos"}:  generichttp.GetFloat(z.ZPosition),
				{Method: http.MethodPost, Path: "/pos"}: generichttp.SetFloat(z.ZMoveAbs),
				{Method: http.MethodPost, Path: "/rel"}: generichttp.SetFloat(z.ZMoveRel),
			}

		case "xlight", "xlight2", "crestoptics":
			var (
				dev crestoptics.Commander = mockXLight{}
				raw ascii.RawCommunicator
			)
			if !c.Mock {
				x := crestoptics.NewXLight(node.Addr, node.Serial)
				dev, raw = x, x
			}
			conf, err := crestoptics.NewConfocal(dev, argString(node.Args, "Dichroics", ""), argString(node.Args, "Filters", ""))
			if err != nil {
				return nil, nil, fmt.Errorf("%s: %w", hndlS, err)
			}
			httper = crestoptics.NewHTTPConfocal(conf, raw)

		case "focuslock":
			zref := generichttp.SubMuxSanitize(argString(node.Args, "Z", ""))
			z, ok := rig.Z[zref]
			if !ok {
				return nil, nil, fmt.Errorf("%s: Z %s is not a z stage node defined above", hndlS, zref)
			}
			// lock cameras are only reached through their vendor SDKs; the
			// simulated camera stands in for them
			if cam := argString(node.Args, "Camera", "mock"); cam != "mock" {
				return nil, nil, fmt.Errorf("%s: camera %q is not supported, use mock", hndlS, cam)
			}
			an, err := buildAnalyzer(node.Args)
			if err != nil {
				return nil, nil, fmt.Errorf("%s: %w", hndlS, err)
			}
			lc := focuslock.NewLockCamera(focuslock.NewMockCamera(z), an)
			ctl := focuslock.NewController(z)
			if ctl.Gain, err = argFloat(node.Args, "Gain", focuslock.DefaultGain); err != nil {
				return nil, nil, err
			}
			if ctl.MinSum, err = argFloat(node.Args, "MinSum", focuslock.DefaultMinSum); err != nil {
				return nil, nil, err
			}
			go ctl.Run(ctx, lc.Readings())
			var rec *imgrec.Recorder
			if dir := argString(node.Args, "Autowrite", ""); dir != "" {
				rec = imgrec.NewRecorder(dir, argString(node.Args, "Prefix", "lock"))
			}
			rig.Locks[hndlS] = ctl
			httper = focuslock.NewHTTPFocusLock(ctx, lc, ctl, rec)
			if argBool(node.Args, "Start", true) {
				if err = lc.Start(ctx); err != nil {
					return nil, nil, err
				}
			}

		case "fluidics", "kilroy":
			fl := sequence.NewFluidicsClient(node.Addr)
			httper = routes{
				{Method: http.MethodGet, Path: "/protocols"}: func(w http.ResponseWriter, r *http.Request) {
					names, err := fl.Protocols(r.Context())
					if err != nil {
						http.Error(w, err.Error(), http.StatusInternalServerError)
						return
					}
					generichttp.RespondJSON(w, names)
				},
				{Method: http.MethodPost, Path: "/run"}: func(w http.ResponseWriter, r *http.Request) {
					generichttp.SetString(func(name string) error {
						return fl.RunProtocol(r.Context(), name)
					})(w, r)
				},
			}

		default:
			return nil, nil, fmt.Errorf("type %s not understood", typ)
		}

		// add the endpoints to the graph
		supergraph[hndlS] = httper.RT().Endpoints()

		// add a lock interface for this node
		var lock locker.ManipulableLock
		if !axislocker {
			lock = locker.New()
		} else {
			lock = locker.NewAL()
		}

		// add the lock middleware
		locker.Inject(httper, lock)

		// bind to the mux
		r := chi.NewRouter()
		r.Use(mws...)
		r.Use(lock.Check)
		httper.RT().Bind(r)
		root.Mount(hndlS, r)
		log.Printf("%s: %s at %s", hndlS, typ, node.Addr)
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	root.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return root, rig, nil
}
