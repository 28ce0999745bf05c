package mathx_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zhuanglab/gostorm/mathx"
)

func TestRound(t *testing.T) {
	assert.InDelta(t, 1.2, mathx.Round(1.234, 0.1), 1e-12)
	assert.InDelta(t, -1.2, mathx.Round(-1.234, 0.1), 1e-12)
	assert.InDelta(t, 2.0, mathx.Round(1.5, 1), 1e-12)
}

func TestMeanWhere(t *testing.T) {
	xs := []float64{1, 2, 3, 100}
	mask := []bool{true, true, true, false}
	assert.InDelta(t, 2.0, mathx.MeanWhere(xs, mask), 1e-12)
	assert.Equal(t, 0.0, mathx.MeanWhere(xs, []bool{false, false, false, false}))
	assert.InDelta(t, 26.5, mathx.Mean(xs), 1e-12)
	assert.Equal(t, 3, mathx.CountTrue(mask))
}
