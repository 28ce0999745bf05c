package sequence

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zhuanglab/gostorm/util"
)

// power is a fraction of the channel's full power
var power = util.Limiter{Min: 0, Max: 1}

// Schedule gives the illumination power of every progressed channel for
// each frame of a movie
type Schedule struct {
	prog Progression
	rows [][]float64
}

// NewSchedule prepares a progression.  File progressions read their power
// file, relative paths being taken from dir.
func NewSchedule(p Progression, dir string) (*Schedule, error) {
	s := &Schedule{prog: p}
	switch p.Type {
	case "", "none", "linear", "exponential":
	case "file":
		fn := p.Filename
		if !filepath.IsAbs(fn) {
			fn = filepath.Join(dir, fn)
		}
		f, err := os.Open(fn)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if s.rows, err = ReadPowerFile(f); err != nil {
			return nil, fmt.Errorf("power file %s: %w", fn, err)
		}
	default:
		return nil, fmt.Errorf("unknown progression type %q", p.Type)
	}
	return s, nil
}

// Powers returns the power of each progressed channel at frame n.  Linear
// progressions step by inc every frames frames, exponential ones multiply
// by inc.  File progressions take row n of the power file, where column i
// is channel i; frames past the end keep the last row.
func (s *Schedule) Powers(n int) map[int]float64 {
	out := map[int]float64{}
	switch s.prog.Type {
	case "linear", "exponential":
		for _, c := range s.prog.Channels {
			if c.Start == nil || c.Frames == nil || c.Inc == nil || *c.Frames < 1 {
				continue
			}
			step := float64(n / *c.Frames)
			v := *c.Start + *c.Inc*step
			if s.prog.Type == "exponential" {
				v = *c.Start * math.Pow(*c.Inc, step)
			}
			out[c.Channel] = power.Clamp(v)
		}
	case "file":
		if len(s.rows) == 0 {
			return out
		}
		if n >= len(s.rows) {
			n = len(s.rows) - 1
		}
		for i, v := range s.rows[n] {
			out[i] = power.Clamp(v)
		}
	}
	return out
}

// ReadPowerFile reads whitespace separated powers, one frame per line.
// Blank lines and lines starting with # are skipped.
func ReadPowerFile(r io.Reader) ([][]float64, error) {
	var rows [][]float64
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		txt := strings.TrimSpace(sc.Text())
		if txt == "" || strings.HasPrefix(txt, "#") {
			continue
		}
		fields := strings.Fields(txt)
		row := make([]float64, len(fields))
		for i, fld := range fields {
			v, err := strconv.ParseFloat(fld, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	return rows, sc.Err()
}
