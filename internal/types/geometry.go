package types

import (
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"
	"sync/atomic"
)

// Rect is an integer rectangle in display coordinates, right/bottom exclusive.
type Rect struct {
	Left, Top, Right, Bottom int32
}

func (r Rect) Width() int32  { return r.Right - r.Left }
func (r Rect) Height() int32 { return r.Bottom - r.Top }
func (r Rect) Empty() bool   { return r.Width() <= 0 || r.Height() <= 0 }

func (r Rect) Image() image.Rectangle {
	return image.Rect(int(r.Left), int(r.Top), int(r.Right), int(r.Bottom))
}

// FRect is a floating point source crop.
type FRect struct {
	Left, Top, Right, Bottom float32
}

func (r FRect) Empty() bool { return r.Right <= r.Left || r.Bottom <= r.Top }

// Color is an 8-bit per channel RGBA value used for solid color layers.
type Color struct {
	R, G, B, A uint8
}

func (c Color) RGBA() color.RGBA { return color.RGBA{R: c.R, G: c.G, B: c.B, A: c.A} }

// ParseColor accepts "#rrggbb" or "#rrggbbaa".
func ParseColor(s string) (Color, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 && len(hex) != 8 {
		return Color{}, fmt.Errorf("invalid color %q", s)
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return Color{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

// NativeHandle is an opaque handle to a sideband stream.
type NativeHandle struct {
	Fds  []int
	Ints []int32
}

var bufferIDs atomic.Uint64

// Buffer is a CPU-mapped graphic buffer handed between a producer and the compositor.
type Buffer struct {
	ID     uint64
	Width  int
	Height int
	Stride int
	Format PixelFormat
	Pixels *image.RGBA
}

func NewBuffer(width, height int, format PixelFormat) *Buffer {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	return &Buffer{
		ID:     bufferIDs.Add(1),
		Width:  width,
		Height: height,
		Stride: img.Stride,
		Format: format,
		Pixels: img,
	}
}

func (b *Buffer) Bounds() Rect {
	return Rect{Right: int32(b.Width), Bottom: int32(b.Height)}
}
