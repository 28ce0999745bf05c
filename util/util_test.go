package util_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/zhuanglab/gostorm/util"
)

func ExampleIntSliceToCSV() {
	fmt.Println(util.IntSliceToCSV([]int{10, 20, 5, 45}))
	// Output: 10,20,5,45
}

func ExampleFormatFloat() {
	fmt.Println(util.FormatFloat(1000), util.FormatFloat(-12.5))
	// Output: 1000 -12.5
}

func TestUniqueString(t *testing.T) {
	inp := []string{"a", "b", "c", "a"}
	expected := []string{"a", "b", "c"}
	output := util.UniqueString(inp)
	if len(output) != len(expected) {
		t.Fatalf("expected %d elements got %d", len(expected), len(output))
	}
	for i := 0; i < len(output); i++ {
		if output[i] != expected[i] {
			t.Errorf("expected %s got %s", expected[i], output[i])
		}
	}
}

func TestIntSliceToCSV(t *testing.T) {
	inp := []int{1, 2, 3}
	expected := "1,2,3"
	out := util.IntSliceToCSV(inp)
	if expected != out {
		t.Errorf("expected %s got %s", expected, out)
	}
}

func TestCSVToIntSlice(t *testing.T) {
	out, err := util.CSVToIntSlice("0, 32,100,132")
	if err != nil {
		t.Fatal(err)
	}
	expected := []int{0, 32, 100, 132}
	for i := range expected {
		if out[i] != expected[i] {
			t.Errorf("expected %d at %d got %d", expected[i], i, out[i])
		}
	}
	if _, err := util.CSVToIntSlice("1,x"); err == nil {
		t.Error("expected an error for a non-integer entry")
	}
}

func TestSplitCSV(t *testing.T) {
	out := util.SplitCSV("GFP, RFP,,Cy5 ")
	if len(out) != 3 || out[0] != "GFP" || out[1] != "RFP" || out[2] != "Cy5" {
		t.Errorf("unexpected split %q", out)
	}
}

func TestClampHigh(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = 20.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != high {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestClampLow(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = -1.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != low {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestClampInt(t *testing.T) {
	if v := util.ClampInt(-4, 0, 100); v != 0 {
		t.Errorf("expected 0 got %d", v)
	}
	if v := util.ClampInt(400, 0, 100); v != 100 {
		t.Errorf("expected 100 got %d", v)
	}
}

func TestLimiterCheck(t *testing.T) {
	l := util.Limiter{Min: -250, Max: 250}
	if !l.Check(250) || !l.Check(-250) || l.Check(250.1) {
		t.Error("limiter bounds are not inclusive of the edges only")
	}
}

func TestSecsToDuration(t *testing.T) {
	var dur time.Duration = 123456789
	secs := dur.Seconds()
	out := util.SecsToDuration(secs)
	if out != dur {
		t.Errorf("expected SecsToDuration to round trip, output %v != expected %v", out, dur)
	}
}
