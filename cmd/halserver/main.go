package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/gousb"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"
	yml "gopkg.in/yaml.v2"

	"github.com/zhuanglab/gostorm/sequence"
	"github.com/zhuanglab/gostorm/usbscan"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "halserver.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(Config{
		Addr:            ":8000",
		MonitorInterval: 0.5,
		Nodes:           []ObjSetup{},
		Sequence:        SequenceSetup{FrameRate: 100}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `halserver runs the hardware of a STORM microscope and exposes an HTTP
interface to it.  The stage, the confocal unit, the focus lock and the
fluidics are each served on their own endpoint, and acquisition sequences
can be run against them from the command line.

Usage:
	halserver <command>

Commands:
	run
	sequence <file.xml>
	devices
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `halserver is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

Without a configuration, the server will have no endpoints other than
/endpoints and /metrics.

No two endpoints can have the same URL.

URLs may look like any variation between "focus/lock" or "/focus/lock/*", the
leading and trailing slashes, as well as the *, are added by the server if missing.

Mock: true replaces every device with a simulation, which is good for trying
out sequences and clients away from the microscope.

Hardware and matching "type" fields, case insensitive, alphabetical by vendor:
- ASI
	> MS2000 "asi", "ms2000"
	> MS2000 without position feedback "asi-nf"
- Crest Optics
	> X-Light V2 spinning disk "xlight", "xlight2", "crestoptics"
		Args: Dichroics, Filters (comma separated names in wheel order)
- Marzhauser
	> Tango "marzhauser", "tango"
- Physik Instrumente
	> E-873 XY "pi-e873", Args: UnitToUm
	> E-873 third axis "pi-e873z", Args: XY (endpoint of the pi-e873 node)
- Thorlabs
	> KDC101 pair "thorlabs-kdc101", Args: YAddr, Motor, CountsPerMM
	> BBD103 "thorlabs-bbd103", Args: Motor, CountsPerMM
	Motor is z8 (KDC101 default) or mls203 (BBD103 default)
- Focus lock "focuslock"
	Args: Z (endpoint of a z stage), Camera (mock), Analyzer (ss, af), Params,
	Gain, MinSum, Autowrite (directory for frame recording), Prefix, Start
- Fluidics "fluidics", "kilroy", at the Addr of the valve controller

Every stage node takes Args.Limits, e.g.
	Limits:
		x: {Min: -5000, Max: 5000}

The Sequence section names the Stage and FocusLock endpoints and the Fluidics
address that "halserver sequence" drives.`
	fmt.Println(str)
}

func loadconf() Config {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	return c
}

func mkconf() {
	c := loadconf()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := loadconf()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("halserver version %v\n", Version)
}

func run() {
	c := loadconf()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	mux, _, err := BuildMux(ctx, c)
	if err != nil {
		log.Fatal(err)
	}
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

func devices() {
	ctx := gousb.NewContext()
	defer ctx.Close()
	devs, err := usbscan.Scan(ctx, usbscan.Controllers)
	if err != nil {
		log.Fatal(err)
	}
	if len(devs) == 0 {
		fmt.Println("no known controllers found")
		return
	}
	for _, d := range devs {
		fmt.Println(d)
	}
}

func runSequence(path string) {
	cmds, err := sequence.ParseFile(path)
	if err != nil {
		log.Fatal(err)
	}
	c := loadconf()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	mux, rig, err := BuildMux(ctx, c)
	if err != nil {
		log.Fatal(err)
	}
	// the devices stay reachable over HTTP while the sequence runs
	go func() {
		log.Println("now listening for requests at ", c.Addr)
		if err := http.ListenAndServe(c.Addr, mux); err != nil {
			log.Println(err)
		}
	}()
	r, err := newSequenceRunner(c, rig, filepath.Dir(path))
	if err != nil {
		log.Fatal(err)
	}

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		SuffixAutoColon:   true,
		Message:           path,
		StopCharacter:     "done",
		StopFailCharacter: "failed",
	})
	if err != nil {
		log.Fatal(err)
	}
	r.OnStep = func(i, n int, cmd sequence.Command) {
		spinner.Message(fmt.Sprintf("%d/%d %v", i+1, n, cmd))
	}
	if err = spinner.Start(); err != nil {
		log.Fatal(err)
	}
	if err = r.Run(ctx, cmds); err != nil {
		spinner.StopFailMessage(err.Error())
		spinner.StopFail()
		os.Exit(1)
	}
	spinner.StopMessage(fmt.Sprintf("%d commands", len(cmds)))
	spinner.Stop()
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "devices":
		devices()
		return
	case "sequence":
		if len(args) < 3 {
			log.Fatal("usage: halserver sequence <file.xml>")
		}
		runSequence(args[2])
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
