package types

import (
	"fmt"
	"strings"
)

// Composition is the way a layer is composited into the display.
type Composition int32

const (
	CompositionInvalid Composition = iota
	CompositionClient
	CompositionDevice
	CompositionSolidColor
	CompositionCursor
	CompositionSideband
)

var compositionNames = map[Composition]string{
	CompositionInvalid:    "invalid",
	CompositionClient:     "client",
	CompositionDevice:     "device",
	CompositionSolidColor: "solid-color",
	CompositionCursor:     "cursor",
	CompositionSideband:   "sideband",
}

func (c Composition) String() string { return enumString(compositionNames, c) }

func ParseComposition(s string) (Composition, error) { return parseEnum(compositionNames, s) }

type BlendMode int32

const (
	BlendModeInvalid BlendMode = iota
	BlendModeNone
	BlendModePremultiplied
	BlendModeCoverage
)

var blendModeNames = map[BlendMode]string{
	BlendModeInvalid:       "invalid",
	BlendModeNone:          "none",
	BlendModePremultiplied: "premultiplied",
	BlendModeCoverage:      "coverage",
}

func (b BlendMode) String() string { return enumString(blendModeNames, b) }

func ParseBlendMode(s string) (BlendMode, error) { return parseEnum(blendModeNames, s) }

// Transform values are bit flags: FlipH=1, FlipV=2, Rot90=4.
type Transform int32

const (
	TransformNone       Transform = 0
	TransformFlipH      Transform = 1
	TransformFlipV      Transform = 2
	TransformRot90      Transform = 4
	TransformRot180     Transform = TransformFlipH | TransformFlipV
	TransformRot270     Transform = TransformRot180 | TransformRot90
	TransformFlipHRot90 Transform = TransformFlipH | TransformRot90
	TransformFlipVRot90 Transform = TransformFlipV | TransformRot90
)

var transformNames = map[Transform]string{
	TransformNone:       "none",
	TransformFlipH:      "flip-h",
	TransformFlipV:      "flip-v",
	TransformRot90:      "rot-90",
	TransformRot180:     "rot-180",
	TransformRot270:     "rot-270",
	TransformFlipHRot90: "flip-h-rot-90",
	TransformFlipVRot90: "flip-v-rot-90",
}

func (t Transform) String() string { return enumString(transformNames, t) }

func ParseTransform(s string) (Transform, error) { return parseEnum(transformNames, s) }

// Valid reports whether t is one of the eight defined orientations.
func (t Transform) Valid() bool {
	_, ok := transformNames[t]
	return ok
}

type PowerMode int32

const (
	PowerModeOff PowerMode = iota
	PowerModeDozeSuspend
	PowerModeDoze
	PowerModeOn
)

var powerModeNames = map[PowerMode]string{
	PowerModeOff:         "off",
	PowerModeDozeSuspend: "doze-suspend",
	PowerModeDoze:        "doze",
	PowerModeOn:          "on",
}

func (p PowerMode) String() string { return enumString(powerModeNames, p) }

func ParsePowerMode(s string) (PowerMode, error) { return parseEnum(powerModeNames, s) }

// Dataspace describes how pixel values map to colors.
type Dataspace int32

const (
	DataspaceUnknown    Dataspace = 0
	DataspaceArbitrary  Dataspace = 1
	DataspaceSRGBLinear Dataspace = 0x8410000
	DataspaceSRGB       Dataspace = 0x8810000
	DataspaceDisplayP3  Dataspace = 0x88a0000
	DataspaceBT709      Dataspace = 0x10810000
)

var dataspaceNames = map[Dataspace]string{
	DataspaceUnknown:    "unknown",
	DataspaceArbitrary:  "arbitrary",
	DataspaceSRGBLinear: "srgb-linear",
	DataspaceSRGB:       "srgb",
	DataspaceDisplayP3:  "display-p3",
	DataspaceBT709:      "bt709",
}

func (d Dataspace) String() string { return enumString(dataspaceNames, d) }

func ParseDataspace(s string) (Dataspace, error) { return parseEnum(dataspaceNames, s) }

type Connection int32

const (
	ConnectionInvalid Connection = iota
	Connected
	Disconnected
)

func (c Connection) String() string {
	switch c {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "invalid"
	}
}

type PixelFormat int32

const (
	PixelFormatRGBA8888 PixelFormat = 1
	PixelFormatRGBX8888 PixelFormat = 2
	PixelFormatRGB888   PixelFormat = 3
	PixelFormatRGB565   PixelFormat = 4
	PixelFormatBGRA8888 PixelFormat = 5
)

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatRGBA8888:
		return "rgba8888"
	case PixelFormatRGBX8888:
		return "rgbx8888"
	case PixelFormatRGB888:
		return "rgb888"
	case PixelFormatRGB565:
		return "rgb565"
	case PixelFormatBGRA8888:
		return "bgra8888"
	default:
		return fmt.Sprintf("format(%d)", int32(f))
	}
}

type enum interface {
	~int32
}

func enumString[E enum](names map[E]string, v E) string {
	if s, ok := names[v]; ok {
		return s
	}
	return fmt.Sprintf("%d", int32(v))
}

func parseEnum[E enum](names map[E]string, s string) (E, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for v, name := range names {
		if name == want {
			return v, nil
		}
	}
	var zero E
	return zero, fmt.Errorf("unknown value %q", s)
}
