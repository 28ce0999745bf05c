// Package util contains misc internal utilities.
package util

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Limiter holds a closed interval [Min, Max] a value must stay inside
type Limiter struct {
	Min float64 `json:"min" yaml:"Min"`
	Max float64 `json:"max" yaml:"Max"`
}

// Check returns true if Min <= f <= Max
func (l Limiter) Check(f float64) bool {
	return f >= l.Min && f <= l.Max
}

// Clamp limits f to [Min, Max]
func (l Limiter) Clamp(f float64) float64 {
	return Clamp(f, l.Min, l.Max)
}

// Clamp limits f to the range [low, high]
func Clamp(f, low, high float64) float64 {
	return math.Max(low, math.Min(f, high))
}

// ClampInt limits i to the range [low, high]
func ClampInt(i, low, high int) int {
	if i < low {
		return low
	}
	if i > high {
		return high
	}
	return i
}

// SecsToDuration converts a floating point number of seconds to a time.Duration
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(math.Round(secs * 1e9))
}

// IntSliceToCSV converts a slice of ints to CSV formatted data.
// e.g., []int{1,2,3,4,5} => "1,2,3,4,5"
func IntSliceToCSV(is []int) string {
	s := make([]string, len(is))
	for i, v := range is {
		s[i] = strconv.Itoa(v)
	}
	return strings.Join(s, ",")
}

// CSVToIntSlice parses "1, 2,3" into []int{1,2,3}
func CSVToIntSlice(csv string) ([]int, error) {
	pieces := strings.Split(csv, ",")
	out := make([]int, len(pieces))
	for i, p := range pieces {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// SplitCSV splits a comma separated list of names, trimming whitespace
// and dropping empty entries
func SplitCSV(csv string) []string {
	var out []string
	for _, p := range strings.Split(csv, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// UniqueString returns the unique strings of a slice, in order of first appearance
func UniqueString(s []string) []string {
	seen := make(map[string]struct{}, len(s))
	out := []string{}
	for _, v := range s {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// SortedKeys returns the keys of a map in sorted order
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FormatFloat formats a float the shortest way that round trips,
// which is what ASCII motion controllers want
func FormatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
