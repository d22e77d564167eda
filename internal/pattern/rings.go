// Package pattern draws the animated test pattern that fills client targets.
package pattern

import (
	"fmt"
	"image"
	"image/draw"
	"math"

	"github.com/gogpu/gg"
	"github.com/matjam/hwcsession/internal/types"
)

// Rings is a set of concentric rings, shaded warm white by a cosine of the
// radius, that drift outward a little on every frame.
type Rings struct {
	dc     *gg.Context
	width  int
	height int
	phase  float64

	// Count is the number of filled rings per frame.
	Count int
	// Speed is the phase advance per frame in radians.
	Speed float64
}

func NewRings(width, height int) *Rings {
	return &Rings{
		dc:     gg.NewContext(width, height),
		width:  width,
		height: height,
		Count:  96,
		Speed:  0.15,
	}
}

// Draw renders the next frame into buf, which must match the pattern size.
func (r *Rings) Draw(buf *types.Buffer) error {
	if buf.Width != r.width || buf.Height != r.height {
		return fmt.Errorf("pattern: buffer is %dx%d, want %dx%d", buf.Width, buf.Height, r.width, r.height)
	}

	r.dc.ClearWithColor(gg.Black)

	cx, cy := float64(r.width)/2, float64(r.height)/2
	outer := math.Hypot(cx, cy)
	step := outer / float64(r.Count)

	// largest first so every smaller ring paints over the previous one
	for i := r.Count; i > 0; i-- {
		radius := float64(i) * step
		v := math.Cos(30*radius/outer - r.phase)
		if v < 0 {
			v = 0
		}
		r.dc.SetRGB(v, 0.9*v, 0.7*v)
		r.dc.DrawCircle(cx, cy, radius)
		if err := r.dc.Fill(); err != nil {
			return fmt.Errorf("pattern: fill: %w", err)
		}
	}
	r.phase += r.Speed

	_ = r.dc.FlushGPU()
	draw.Draw(buf.Pixels, buf.Pixels.Bounds(), r.dc.Image(), image.Point{}, draw.Src)
	return nil
}

// Phase returns the phase of the next frame.
func (r *Rings) Phase() float64 { return r.phase }

func (r *Rings) Close() error {
	return r.dc.Close()
}
