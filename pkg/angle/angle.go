package angle

import "math"

// PlusMinus180 is a heading in degrees, stored as a value in range (-180, 180].
// All operations wrap their output back into range.
type PlusMinus180 struct {
	float64
}

// FromFloat converts a float of any magnitude to a PlusMinus180 by calculating
// f mod 360 and shifting into range.
func FromFloat(f float64) PlusMinus180 {
	d := math.Mod(f, 360)
	if d <= -180 {
		d += 360
	} else if d > 180 {
		d -= 360
	}
	return PlusMinus180{d}
}

// FromRadians converts an angle in radians (any magnitude) to a PlusMinus180.
func FromRadians(r float64) PlusMinus180 {
	return FromFloat(r * 180 / math.Pi)
}

// Sub returns the shortest signed rotation that takes b onto a.
func (a PlusMinus180) Sub(b PlusMinus180) PlusMinus180 {
	return FromFloat(a.float64 - b.float64)
}

// Float returns the angle in degrees, range (-180, 180].
func (a PlusMinus180) Float() float64 {
	return a.float64
}

// Radians returns the angle in radians, range (-pi, pi].
func (a PlusMinus180) Radians() float64 {
	return a.float64 * math.Pi / 180
}

func (a PlusMinus180) Abs() float64 {
	return math.Abs(a.float64)
}

// WrapRadians folds r into (-pi, pi].  Non-finite input gives NaN.
func WrapRadians(r float64) float64 {
	r = math.Remainder(r, 2*math.Pi)
	if r <= -math.Pi {
		r += 2 * math.Pi
	}
	return r
}
