// Package mathx holds the few numeric helpers the focus lock and the stage
// move-time estimates need beyond package math.
package mathx

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
func Round(x, unit float64) float64 {
	if x < 0 {
		return -Round(-x, unit)
	}
	return float64(int64(x/unit+0.5)) * unit
}

// Mean returns the arithmetic mean of xs, 0 for an empty slice
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// MeanWhere returns the mean of xs[i] for which mask[i] is true,
// 0 if no element is selected
func MeanWhere(xs []float64, mask []bool) float64 {
	var (
		s float64
		n int
	)
	for i, x := range xs {
		if i < len(mask) && mask[i] {
			s += x
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return s / float64(n)
}

// CountTrue returns the number of true elements
func CountTrue(bs []bool) int {
	n := 0
	for _, b := range bs {
		if b {
			n++
		}
	}
	return n
}
