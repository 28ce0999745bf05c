// Package sequence reads the XML files that script acquisition runs, and
// runs them against the rig.
//
// A sequence file looks like
//
//	<sequence>
//	  <valve_protocol>Hybridize</valve_protocol>
//	  <movie>
//	    <name>cell_01</name>
//	    <length>5000</length>
//	    <stage_x>100.0</stage_x>
//	    <stage_y>-25.0</stage_y>
//	    <lock_target>1.5</lock_target>
//	    <progression>
//	      <type>linear</type>
//	      <channel start="0.1" frames="500" inc="0.05">3</channel>
//	    </progression>
//	  </movie>
//	</sequence>
//
// Elements other than movie and valve_protocol are ignored.
package sequence

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	// TypeMovie is the Type of a Movie
	TypeMovie = "movie"

	// TypeFluidics is the Type of a ValveProtocol
	TypeFluidics = "fluidics"
)

// Command is one step of a sequence
type Command interface {
	Type() string
}

// Channel is one illumination channel of a progression.  Start, Frames
// and Inc are nil when the attribute is missing or empty.
type Channel struct {
	Channel int
	Start   *float64
	Frames  *int
	Inc     *float64
}

// Progression changes the illumination power over the course of a movie
type Progression struct {
	// Type is none, linear, exponential or file
	Type string

	Channels []Channel

	// Filename is the power file of a file progression
	Filename string
}

// Movie is an acquisition.  The pointer fields are nil when the element
// is absent from the sequence.
type Movie struct {
	// Delay is the wait before acquisition starts, in milliseconds
	Delay int

	// FindSum is the focus lock sum to search for before acquiring, 0 to skip
	FindSum float64

	// Length is the number of frames
	Length int

	MinSpots int
	Name     string
	Pause    int
	Recenter int

	Progression Progression

	LockTarget *float64
	Parameters *int
	StageX     *float64
	StageY     *float64
}

// Type satisfies Command
func (m *Movie) Type() string { return TypeMovie }

// String names the movie and its stage position
func (m *Movie) String() string {
	x, y := "-", "-"
	if m.StageX != nil {
		x = strconv.FormatFloat(*m.StageX, 'f', -1, 64)
	}
	if m.StageY != nil {
		y = strconv.FormatFloat(*m.StageY, 'f', -1, 64)
	}
	return fmt.Sprintf("movie %s (%d frames at %s, %s)", m.Name, m.Length, x, y)
}

// NewMovie returns a movie with the default settings
func NewMovie() *Movie {
	return &Movie{
		Length:      1,
		Name:        "default",
		Pause:       1,
		Progression: Progression{Type: "none"},
	}
}

// ValveProtocol runs a fluidics protocol
type ValveProtocol struct {
	ProtocolName string
}

// Type satisfies Command
func (v *ValveProtocol) Type() string { return TypeFluidics }

// String names the protocol
func (v *ValveProtocol) String() string {
	return "valve protocol " + v.ProtocolName
}

// ParseFile parses the sequence file at path
func ParseFile(path string) ([]Command, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cmds, err := Parse(f)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return cmds, nil
}

// Parse reads the commands of the first <sequence> element of r, in
// document order
func Parse(r io.Reader) ([]Command, error) {
	d := xml.NewDecoder(r)
	d.CharsetReader = charsetReader
	if err := findSequence(d); err != nil {
		return nil, err
	}
	var cmds []Command
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, errors.Wrap(err, "reading sequence")
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return cmds, nil
		case xml.StartElement:
			switch t.Name.Local {
			case "movie":
				var mx movieXML
				if err = d.DecodeElement(&mx, &t); err != nil {
					return nil, errors.Wrapf(err, "movie %d", len(cmds))
				}
				m, err := mx.movie()
				if err != nil {
					return nil, errors.Wrapf(err, "movie %d", len(cmds))
				}
				cmds = append(cmds, m)
			case "valve_protocol":
				var text string
				if err = d.DecodeElement(&text, &t); err != nil {
					return nil, errors.Wrapf(err, "valve protocol %d", len(cmds))
				}
				cmds = append(cmds, &ValveProtocol{ProtocolName: strings.TrimSpace(text)})
			default:
				if err = d.Skip(); err != nil {
					return nil, err
				}
			}
		}
	}
}

// charsetReader handles the Latin-1 declaration sequence files are
// usually written with
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(label) {
	case "iso-8859-1", "latin1", "latin-1":
		b, err := io.ReadAll(input)
		if err != nil {
			return nil, err
		}
		var sb strings.Builder
		for _, c := range b {
			sb.WriteRune(rune(c))
		}
		return strings.NewReader(sb.String()), nil
	case "us-ascii", "ascii":
		return input, nil
	}
	return nil, fmt.Errorf("unsupported charset %q", label)
}

func findSequence(d *xml.Decoder) error {
	for {
		tok, err := d.Token()
		if err == io.EOF {
			return errors.New("no <sequence> element")
		}
		if err != nil {
			return err
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == "sequence" {
			return nil
		}
	}
}

type channelXML struct {
	Start  string `xml:"start,attr"`
	Frames string `xml:"frames,attr"`
	Inc    string `xml:"inc,attr"`
	Value  string `xml:",chardata"`
}

type progressionXML struct {
	Type     *string      `xml:"type"`
	Channels []channelXML `xml:"channel"`
	Filename *string      `xml:"filename"`
}

type movieXML struct {
	Delay       *string         `xml:"delay"`
	FindSum     *string         `xml:"find_sum"`
	Length      *string         `xml:"length"`
	LockTarget  *string         `xml:"lock_target"`
	MinSpots    *string         `xml:"min_spots"`
	Name        *string         `xml:"name"`
	Parameters  *string         `xml:"parameters"`
	Pause       *string         `xml:"pause"`
	Recenter    *string         `xml:"recenter"`
	StageX      *string         `xml:"stage_x"`
	StageY      *string         `xml:"stage_y"`
	Progression *progressionXML `xml:"progression"`
}

// fields converts element text, remembering the first failure
type fields struct {
	err error
}

func (f *fields) int(name string, s *string, dst *int) {
	if s == nil || f.err != nil {
		return
	}
	v, err := strconv.Atoi(strings.TrimSpace(*s))
	if err != nil {
		f.err = fmt.Errorf("<%s>: %w", name, err)
		return
	}
	*dst = v
}

func (f *fields) float(name string, s *string, dst *float64) {
	if s == nil || f.err != nil {
		return
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(*s), 64)
	if err != nil {
		f.err = fmt.Errorf("<%s>: %w", name, err)
		return
	}
	*dst = v
}

func (f *fields) optInt(name string, s *string) *int {
	if s == nil {
		return nil
	}
	var v int
	f.int(name, s, &v)
	return &v
}

func (f *fields) optFloat(name string, s *string) *float64 {
	if s == nil {
		return nil
	}
	var v float64
	f.float(name, s, &v)
	return &v
}

// attrFloat parses an attribute, which is unset when empty
func (f *fields) attrFloat(name, s string) *float64 {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return f.optFloat(name, &s)
}

func (f *fields) attrInt(name, s string) *int {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return f.optInt(name, &s)
}

func (mx movieXML) movie() (*Movie, error) {
	m := NewMovie()
	f := &fields{}
	f.int("delay", mx.Delay, &m.Delay)
	f.float("find_sum", mx.FindSum, &m.FindSum)
	f.int("length", mx.Length, &m.Length)
	f.int("min_spots", mx.MinSpots, &m.MinSpots)
	f.int("pause", mx.Pause, &m.Pause)
	f.int("recenter", mx.Recenter, &m.Recenter)
	if mx.Name != nil {
		m.Name = strings.TrimSpace(*mx.Name)
	}
	m.LockTarget = f.optFloat("lock_target", mx.LockTarget)
	m.Parameters = f.optInt("parameters", mx.Parameters)
	m.StageX = f.optFloat("stage_x", mx.StageX)
	m.StageY = f.optFloat("stage_y", mx.StageY)
	if p := mx.Progression; p != nil {
		if p.Type != nil {
			m.Progression.Type = strings.TrimSpace(*p.Type)
		}
		if p.Filename != nil {
			m.Progression.Filename = strings.TrimSpace(*p.Filename)
		}
		for _, c := range p.Channels {
			ch := Channel{
				Start:  f.attrFloat("channel start", c.Start),
				Frames: f.attrInt("channel frames", c.Frames),
				Inc:    f.attrFloat("channel inc", c.Inc),
			}
			f.int("channel", &c.Value, &ch.Channel)
			m.Progression.Channels = append(m.Progression.Channels, ch)
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return m, nil
}
