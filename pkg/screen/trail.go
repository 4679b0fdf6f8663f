package screen

import (
	"image"
	"math"
	"sync"

	"github.com/fogleman/gg"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/tigerbot-team/bamboo/pkg/odometer"
)

const trailMargin = 0.1

// Trail records the path the robot has driven, for plotting.
type Trail struct {
	resolution float64

	lock   sync.Mutex
	points []r2.Vec
	last   odometer.Pose
}

// NewTrail returns a Trail that only records a point once the robot has
// moved at least resolution metres from the previous one.
func NewTrail(resolution float64) *Trail {
	return &Trail{resolution: resolution}
}

// Add is suitable for passing to Odometer.OnPositionChanged.
func (t *Trail) Add(p odometer.Pose) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.last = p
	v := r2.Vec{X: p.X, Y: p.Y}
	if n := len(t.points); n > 0 && r2.Norm(r2.Sub(v, t.points[n-1])) < t.resolution {
		return
	}
	t.points = append(t.points, v)
}

func (t *Trail) Points() []r2.Vec {
	t.lock.Lock()
	defer t.lock.Unlock()
	return append([]r2.Vec(nil), t.points...)
}

func (t *Trail) Clear() {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.points = nil
}

// bounds returns the corners of the square area to plot, with a margin.
func bounds(points []r2.Vec) (min, max r2.Vec) {
	min = r2.Vec{X: math.Inf(1), Y: math.Inf(1)}
	max = r2.Vec{X: math.Inf(-1), Y: math.Inf(-1)}
	for _, p := range points {
		min.X = math.Min(min.X, p.X)
		min.Y = math.Min(min.Y, p.Y)
		max.X = math.Max(max.X, p.X)
		max.Y = math.Max(max.Y, p.Y)
	}
	size := math.Max(max.X-min.X, max.Y-min.Y) + 2*trailMargin
	centre := r2.Scale(0.5, r2.Add(min, max))
	half := r2.Vec{X: size / 2, Y: size / 2}
	return r2.Sub(centre, half), r2.Add(centre, half)
}

// Render draws the trail on a size x size image with +Y upwards.
func (t *Trail) Render(size int) image.Image {
	t.lock.Lock()
	points := append([]r2.Vec(nil), t.points...)
	last := t.last
	t.lock.Unlock()

	dc := gg.NewContext(size, size)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	if len(points) == 0 {
		return dc.Image()
	}

	min, max := bounds(points)
	scale := float64(size) / (max.X - min.X)
	toPixel := func(v r2.Vec) (float64, float64) {
		p := r2.Scale(scale, r2.Sub(v, min))
		return p.X, float64(size) - p.Y
	}

	// Origin marker.
	dc.SetRGB(0.6, 0.6, 0.6)
	ox, oy := toPixel(r2.Vec{})
	dc.DrawCircle(ox, oy, 3)
	dc.Fill()

	dc.SetRGB(0, 0.3, 0.8)
	dc.SetLineWidth(2)
	for i, p := range points {
		x, y := toPixel(p)
		if i == 0 {
			dc.MoveTo(x, y)
		} else {
			dc.LineTo(x, y)
		}
	}
	dc.Stroke()

	// Current pose as an arrow.
	x, y := toPixel(r2.Vec{X: last.X, Y: last.Y})
	dc.SetRGB(0.9, 0.2, 0)
	dc.Push()
	dc.Translate(x, y)
	dc.Rotate(gg.Radians(-last.Theta))
	drawArrow(dc)
	dc.Pop()
	return dc.Image()
}

func (t *Trail) SavePNG(path string, size int) error {
	if err := gg.SavePNG(path, t.Render(size)); err != nil {
		return errors.Wrapf(err, "failed to save trail to %s", path)
	}
	return nil
}
