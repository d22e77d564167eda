package pattern

import (
	"bytes"
	"testing"

	"github.com/matjam/hwcsession/internal/types"
)

func TestRingsDraw(t *testing.T) {
	r := NewRings(64, 48)
	defer r.Close()

	buf := types.NewBuffer(64, 48, types.PixelFormatRGBA8888)
	if err := r.Draw(buf); err != nil {
		t.Fatal(err)
	}
	first := bytes.Clone(buf.Pixels.Pix)

	lit := false
	for i := 0; i < len(first); i += 4 {
		if first[i] != 0 {
			lit = true
			break
		}
	}
	if !lit {
		t.Fatal("frame is black")
	}

	if err := r.Draw(buf); err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(first, buf.Pixels.Pix) {
		t.Fatal("pattern did not move between frames")
	}
	if r.Phase() == 0 {
		t.Fatal("phase did not advance")
	}
}

func TestRingsSizeMismatch(t *testing.T) {
	r := NewRings(64, 48)
	defer r.Close()

	if err := r.Draw(types.NewBuffer(32, 32, types.PixelFormatRGBA8888)); err == nil {
		t.Fatal("expected size error")
	}
}
