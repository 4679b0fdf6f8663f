package angle

import (
	"math"
	"testing"
)

func TestFromFloat(t *testing.T) {
	expectWrapResult(t, 0, 0)
	expectWrapResult(t, 179, 179)
	expectWrapResult(t, -179, -179)
	expectWrapResult(t, 180, 180)
	expectWrapResult(t, -180, 180)
	expectWrapResult(t, 360, 0)
	expectWrapResult(t, 361, 1)
	expectWrapResult(t, 359, -1)
	expectWrapResult(t, 720+180, 180)
	expectWrapResult(t, -450, -90)
}

func TestSubTakesShortestWay(t *testing.T) {
	a := FromFloat(-178)
	b := FromFloat(178)
	if d := a.Sub(b).Float(); math.Abs(d-4) > 1e-9 {
		t.Errorf("-178 - 178 = %f, expected 4", d)
	}
	if d := b.Sub(a).Float(); math.Abs(d+4) > 1e-9 {
		t.Errorf("178 - -178 = %f, expected -4", d)
	}
}

func TestRadians(t *testing.T) {
	if r := FromFloat(90).Radians(); math.Abs(r-math.Pi/2) > 1e-12 {
		t.Errorf("90 degrees = %f radians, expected pi/2", r)
	}
	if d := FromRadians(-3 * math.Pi / 2).Float(); math.Abs(d-90) > 1e-9 {
		t.Errorf("-3pi/2 radians = %f degrees, expected 90", d)
	}
}

func TestWrapRadians(t *testing.T) {
	for _, tc := range []struct{ in, out float64 }{
		{0, 0},
		{math.Pi, math.Pi},
		{-math.Pi, math.Pi},
		{3 * math.Pi / 2, -math.Pi / 2},
		{-5 * math.Pi / 2, -math.Pi / 2},
	} {
		if got := WrapRadians(tc.in); math.Abs(got-tc.out) > 1e-12 {
			t.Errorf("WrapRadians(%f) = %f, expected %f", tc.in, got, tc.out)
		}
	}
}

func expectWrapResult(t *testing.T, in, expected float64) {
	t.Helper()
	a := FromFloat(in).Float()
	if a <= -180 || a > 180 {
		t.Errorf("Out of range value for %f: %f", in, a)
	}
	if math.Abs(a-expected) > 1e-9 {
		t.Errorf("Wrapped %f to %f, expected %f", in, a, expected)
	}
}

func TestWrapRadiansHugeValues(t *testing.T) {
	for _, in := range []float64{1e17, -1e17, math.MaxFloat64, -math.MaxFloat64} {
		got := WrapRadians(in)
		if got <= -math.Pi || got > math.Pi {
			t.Errorf("WrapRadians(%g) = %f, out of range", in, got)
		}
	}
	for _, in := range []float64{math.Inf(1), math.Inf(-1), math.NaN()} {
		if got := WrapRadians(in); !math.IsNaN(got) {
			t.Errorf("WrapRadians(%g) = %f, expected NaN", in, got)
		}
	}
}
