package screen

import (
	"context"
	"fmt"
	"image"
	"os"
	"time"

	"github.com/fogleman/gg"

	"github.com/tigerbot-team/bamboo/pkg/odometer"
)

const (
	S              = 128
	updateInterval = 500 * time.Millisecond
)

// Status is what the display shows: the pose plus a short state line.
type Status struct {
	Pose  odometer.Pose
	State string
}

// LoopUpdatingScreen redraws the 128x128 RGB565 framebuffer at device until
// ctx is done, then blanks it.
func LoopUpdatingScreen(ctx context.Context, device string, status func() Status) {
	f, err := os.OpenFile(device, os.O_RDWR, 0666)
	if err != nil {
		fmt.Println("Failed to open screen, ignoring")
		return
	}
	defer f.Close()

	ticker := time.NewTicker(updateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			var buf [S * S * 2]byte
			_, _ = f.Seek(0, 0)
			_, _ = f.Write(buf[:])
			return
		case <-ticker.C:
		}

		buf := toRGB565(Draw(status()))
		_, err = f.Seek(0, 0)
		if err != nil {
			fmt.Println("Screen failure: ", err)
			return
		}
		for i := 0; i < S; i++ {
			_, err = f.Write(buf[i*S*2 : (i+1)*S*2])
			if err != nil {
				fmt.Println("Screen failure: ", err)
				return
			}
			time.Sleep(10 * time.Microsecond)
		}
	}
}

// Draw renders the status display.
func Draw(st Status) image.Image {
	dc := gg.NewContext(S, S)
	dc.SetRGBA(1, 0.9, 0, 1)

	dc.DrawString(fmt.Sprintf("X %6.3fm", st.Pose.X), 4, 14)
	dc.DrawString(fmt.Sprintf("Y %6.3fm", st.Pose.Y), 4, 28)
	dc.DrawString(fmt.Sprintf("H %6.1fdeg", st.Pose.Theta), 4, 42)
	dc.DrawString(st.State, 4, 56)

	// Heading arrow; screen y grows downwards so the angle is negated.
	dc.Push()
	dc.RotateAbout(gg.Radians(-st.Pose.Theta), S/2, S*3/4)
	dc.Translate(S/2, S*3/4)
	drawArrow(dc)
	dc.Pop()
	return dc.Image()
}

func drawArrow(dc *gg.Context) {
	dc.MoveTo(22, 0)
	dc.LineTo(-12, 12)
	dc.LineTo(-4, 0)
	dc.LineTo(-12, -12)
	dc.ClosePath()
	dc.Fill()
}

// toRGB565 packs the image the way the display's framebuffer expects: column
// major, 16 bits per pixel, little endian.
func toRGB565(img image.Image) []byte {
	buf := make([]byte, S*S*2)
	for y := 0; y < S; y++ {
		for x := 0; x < S; x++ {
			r, g, b, _ := img.At(x, y).RGBA() // 16-bit pre-multiplied

			rb := byte(r >> (16 - 5))
			gb := byte(g >> (16 - 6)) // Green has 6 bits
			bb := byte(b >> (16 - 5))

			buf[(S-1-y)*2+x*S*2+1] = (rb << 3) | (gb >> 3)
			buf[(S-1-y)*2+x*S*2] = bb | (gb << 5)
		}
	}
	return buf
}
