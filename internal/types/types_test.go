package types

import "testing"

func TestParseEnumsRoundTrip(t *testing.T) {
	for c := range compositionNames {
		got, err := ParseComposition(c.String())
		if err != nil || got != c {
			t.Fatalf("ParseComposition(%q) = %v, %v", c.String(), got, err)
		}
	}
	for m := range powerModeNames {
		got, err := ParsePowerMode(m.String())
		if err != nil || got != m {
			t.Fatalf("ParsePowerMode(%q) = %v, %v", m.String(), got, err)
		}
	}
	if _, err := ParseBlendMode("multiply"); err == nil {
		t.Fatal("expected error for unknown blend mode")
	}
	if got, _ := ParseTransform(" ROT-90 "); got != TransformRot90 {
		t.Fatalf("ParseTransform = %v, want rot-90", got)
	}
}

func TestTransformValid(t *testing.T) {
	if !TransformRot270.Valid() {
		t.Fatal("rot-270 should be valid")
	}
	if Transform(8).Valid() {
		t.Fatal("8 is not a defined transform")
	}
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in   string
		want Color
		err  bool
	}{
		{"#ff8000", Color{R: 0xff, G: 0x80, B: 0x00, A: 0xff}, false},
		{"10203040", Color{R: 0x10, G: 0x20, B: 0x30, A: 0x40}, false},
		{"#fff", Color{}, true},
		{"#zzzzzz", Color{}, true},
	}
	for _, tt := range tests {
		got, err := ParseColor(tt.in)
		if (err != nil) != tt.err {
			t.Fatalf("ParseColor(%q) error = %v, wantErr %v", tt.in, err, tt.err)
		}
		if got != tt.want {
			t.Fatalf("ParseColor(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestNewBuffer(t *testing.T) {
	a := NewBuffer(64, 32, PixelFormatRGBA8888)
	b := NewBuffer(64, 32, PixelFormatRGBA8888)
	if a.ID == b.ID {
		t.Fatal("buffer ids must be unique")
	}
	if a.Stride != 64*4 {
		t.Fatalf("stride = %d, want %d", a.Stride, 64*4)
	}
	if r := a.Bounds(); r.Width() != 64 || r.Height() != 32 {
		t.Fatalf("bounds = %+v", r)
	}
}
