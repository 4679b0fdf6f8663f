package screen

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/tigerbot-team/bamboo/pkg/odometer"
)

func TestTrailSkipsSmallMoves(t *testing.T) {
	tr := NewTrail(0.05)
	tr.Add(odometer.Pose{})
	tr.Add(odometer.Pose{X: 0.01})
	tr.Add(odometer.Pose{X: 0.04})
	tr.Add(odometer.Pose{X: 0.06})
	tr.Add(odometer.Pose{X: 0.06, Y: 0.2})

	assert.Equal(t, []r2.Vec{{X: 0, Y: 0}, {X: 0.06, Y: 0}, {X: 0.06, Y: 0.2}}, tr.Points())

	tr.Clear()
	assert.Empty(t, tr.Points())
}

func TestBoundsAreSquareWithMargin(t *testing.T) {
	min, max := bounds([]r2.Vec{{X: 0, Y: 0}, {X: 1, Y: 0.2}})
	assert.InDelta(t, max.X-min.X, max.Y-min.Y, 1e-9)
	assert.InDelta(t, -trailMargin, min.X, 1e-9)
	assert.InDelta(t, 1+trailMargin, max.X, 1e-9)
	assert.InDelta(t, 0.1, (min.Y+max.Y)/2, 1e-9)
}

func TestRenderTrail(t *testing.T) {
	tr := NewTrail(0.01)
	img := tr.Render(64)
	assert.Equal(t, image.Rect(0, 0, 64, 64), img.Bounds())

	for i := 0; i <= 10; i++ {
		tr.Add(odometer.Pose{X: float64(i) / 10})
	}
	img = tr.Render(200)
	// The path runs along the middle of the image from left to right.
	_, _, b, _ := img.At(100, 100).RGBA()
	r, _, _, _ := img.At(100, 100).RGBA()
	assert.Greater(t, b, r, "expected the trail colour in the middle of the image")
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, color.RGBAModel.Convert(img.At(100, 10)))

	path := filepath.Join(t.TempDir(), "trail.png")
	require.NoError(t, tr.SavePNG(path, 200))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())
}

func TestRGB565Packing(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, S, S))
	img.Set(0, S-1, color.RGBA{255, 255, 255, 255})
	img.Set(1, S-1, color.RGBA{255, 0, 0, 255})

	buf := toRGB565(img)
	require.Len(t, buf, S*S*2)
	// Bottom-left pixel is first in the buffer.
	assert.Equal(t, []byte{0xff, 0xff}, buf[0:2])
	// Moving right one pixel skips a whole column.
	assert.Equal(t, []byte{0x00, 0xf8}, buf[S*2:S*2+2])
}

func TestDrawStatus(t *testing.T) {
	img := Draw(Status{Pose: odometer.Pose{X: 1, Y: 2, Theta: 90}, State: "moving"})
	assert.Equal(t, image.Rect(0, 0, S, S), img.Bounds())
}
