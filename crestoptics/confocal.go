package crestoptics

import (
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/zhuanglab/gostorm/util"
)

// pinhole disks
const (
	Disk70 = "70-micron pinholes"
	Disk40 = "40-micron pinholes"
)

// Commander sends a command and waits for the reply
type Commander interface {
	CommandResponse(cmd string, timeout time.Duration) (string, error)
}

// Settings is the state of the confocal unit
type Settings struct {
	BrightFieldBypass bool   `json:"bright_field_bypass" yaml:"BrightFieldBypass"`
	SpinDisk          bool   `json:"spin_disk" yaml:"SpinDisk"`
	Disk              string `json:"disk" yaml:"Disk"`
	DichroicMirror    string `json:"dichroic_mirror" yaml:"DichroicMirror"`
	FilterWheelPos1   string `json:"filter_wheel_pos1" yaml:"FilterWheelPos1"`
}

// Confocal maps named dichroics and filters to wheel positions and applies
// settings to the unit
type Confocal struct {
	dev       Commander
	dichroics map[string]int
	filters   map[string]int

	mu  sync.Mutex
	cur Settings
}

func positions(csv string) map[string]int {
	out := map[string]int{}
	for i, name := range util.SplitCSV(csv) {
		out[name] = i + 1
	}
	return out
}

// NewConfocal configures the unit.  dichroics and filters are comma
// separated names in wheel order.  Every setting is sent to the unit, with
// the bypass off, the disk spinning, the 70 micron disk, and the first
// dichroic and filter in sorted order.
func NewConfocal(dev Commander, dichroics, filters string) (*Confocal, error) {
	c := &Confocal{dev: dev, dichroics: positions(dichroics), filters: positions(filters)}
	if len(c.dichroics) == 0 || len(c.filters) == 0 {
		return nil, fmt.Errorf("the confocal needs at least one dichroic and one filter, got %q and %q", dichroics, filters)
	}
	initial := Settings{
		SpinDisk:        true,
		Disk:            Disk70,
		DichroicMirror:  util.SortedKeys(c.dichroics)[0],
		FilterWheelPos1: util.SortedKeys(c.filters)[0],
	}
	if err := c.apply(initial, true); err != nil {
		return c, err
	}
	return c, nil
}

// Allowed returns the allowed values of the string settings, sorted
func (c *Confocal) Allowed() map[string][]string {
	disks := []string{Disk70, Disk40}
	sort.Strings(disks)
	return map[string][]string{
		"disk":              disks,
		"dichroic_mirror":   util.SortedKeys(c.dichroics),
		"filter_wheel_pos1": util.SortedKeys(c.filters),
	}
}

// Settings returns the current settings
func (c *Confocal) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

func (c *Confocal) validate(s Settings) error {
	if s.Disk != Disk70 && s.Disk != Disk40 {
		return fmt.Errorf("disk %q is not one of %q, %q", s.Disk, Disk70, Disk40)
	}
	if _, ok := c.dichroics[s.DichroicMirror]; !ok {
		return fmt.Errorf("dichroic %q is not one of %v", s.DichroicMirror, util.SortedKeys(c.dichroics))
	}
	if _, ok := c.filters[s.FilterWheelPos1]; !ok {
		return fmt.Errorf("filter %q is not one of %v", s.FilterWheelPos1, util.SortedKeys(c.filters))
	}
	return nil
}

// NewSettings sends the settings that differ from the current ones and
// returns the settings before and after.  A setting the unit does not
// acknowledge stops the update; the ones applied before it are kept.
func (c *Confocal) NewSettings(s Settings) (old, updated Settings, err error) {
	old = c.Settings()
	err = c.apply(s, false)
	return old, c.Settings(), err
}

type step struct {
	changed bool
	cmd     string
	timeout time.Duration
	set     func(*Settings)
}

func (c *Confocal) apply(s Settings, all bool) error {
	if err := c.validate(s); err != nil {
		return err
	}
	c.mu.Lock()
	cur := c.cur
	c.mu.Unlock()

	bypass := "D1"
	if s.BrightFieldBypass {
		bypass = "D0"
	}
	spin := "N0"
	if s.SpinDisk {
		spin = "N1"
	}
	disk := "D1"
	if s.Disk == Disk40 {
		disk = "D2"
	}
	steps := []step{
		{all || s.BrightFieldBypass != cur.BrightFieldBypass, bypass, 3 * time.Second,
			func(p *Settings) { p.BrightFieldBypass = s.BrightFieldBypass }},
		{all || s.SpinDisk != cur.SpinDisk, spin, time.Second,
			func(p *Settings) { p.SpinDisk = s.SpinDisk }},
		{all || s.Disk != cur.Disk, disk, 3 * time.Second,
			func(p *Settings) { p.Disk = s.Disk }},
		{all || s.DichroicMirror != cur.DichroicMirror, "D" + strconv.Itoa(c.dichroics[s.DichroicMirror]), time.Second,
			func(p *Settings) { p.DichroicMirror = s.DichroicMirror }},
		{all || s.FilterWheelPos1 != cur.FilterWheelPos1, "B" + strconv.Itoa(c.filters[s.FilterWheelPos1]), time.Second,
			func(p *Settings) { p.FilterWheelPos1 = s.FilterWheelPos1 }},
	}
	for _, st := range steps {
		if !st.changed {
			continue
		}
		resp, err := c.dev.CommandResponse(st.cmd, st.timeout)
		if err != nil {
			return err
		}
		log.Printf("x-light %s -> %s", st.cmd, resp)
		c.mu.Lock()
		st.set(&c.cur)
		c.mu.Unlock()
	}
	return nil
}
