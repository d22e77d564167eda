package hwc

import (
	"github.com/matjam/hwcsession/internal/fence"
	"github.com/matjam/hwcsession/internal/hal"
	"github.com/matjam/hwcsession/internal/types"
)

// LayerState is the last value set for each layer attribute. Attributes take
// effect at the next Validate. Effective is the composition the device will
// use: the requested one until AcceptChanges substitutes its own.
type LayerState struct {
	Composition   types.Composition
	Effective     types.Composition
	BlendMode     types.BlendMode
	Color         types.Color
	Dataspace     types.Dataspace
	DisplayFrame  types.Rect
	PlaneAlpha    float32
	Sideband      *types.NativeHandle
	SourceCrop    types.FRect
	Transform     types.Transform
	VisibleRegion types.Rect
	Buffer        *types.Buffer
}

// Layer is a surface attached to one Display. Its mutators fail with
// ErrFatal once the display is gone and with ErrNotFound once the layer has
// been destroyed.
type Layer struct {
	display *Display
	id      hal.LayerID

	// guarded by display.mu
	destroyed bool
	state     LayerState
}

func newLayer(d *Display, id hal.LayerID) *Layer {
	return &Layer{
		display: d,
		id:      id,
		state: LayerState{
			Composition: types.CompositionInvalid,
			Effective:   types.CompositionInvalid,
			BlendMode:   types.BlendModeNone,
			PlaneAlpha:  1,
		},
	}
}

func (l *Layer) ID() hal.LayerID { return l.id }

func (l *Layer) Display() *Display { return l.display }

// Valid reports whether the layer can still be used.
func (l *Layer) Valid() bool {
	l.display.mu.Lock()
	defer l.display.mu.Unlock()
	return !l.destroyed && l.display.Connected()
}

func (l *Layer) State() LayerState {
	l.display.mu.Lock()
	defer l.display.mu.Unlock()
	return l.state
}

func (l *Layer) checkLocked(op string) error {
	if err := l.display.checkLocked(op); err != nil {
		return err
	}
	if l.destroyed {
		return newError(op, l.display.id, ErrNotFound)
	}
	return nil
}

type layerCall func(c hal.Composer, display hal.DisplayID, layer hal.LayerID) error

func (l *Layer) set(op string, call layerCall, apply func(s *LayerState)) error {
	d := l.display
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := l.checkLocked(op); err != nil {
		return err
	}
	if err := call(d.hal, d.id, l.id); err != nil {
		return d.halErr(op, err)
	}
	apply(&l.state)
	d.state = stateIdle
	return nil
}

func (l *Layer) SetBlendMode(mode types.BlendMode) error {
	return l.set("SetBlendMode", func(c hal.Composer, d hal.DisplayID, id hal.LayerID) error {
		return c.SetLayerBlendMode(d, id, mode)
	}, func(s *LayerState) { s.BlendMode = mode })
}

func (l *Layer) SetColor(color types.Color) error {
	return l.set("SetColor", func(c hal.Composer, d hal.DisplayID, id hal.LayerID) error {
		return c.SetLayerColor(d, id, color)
	}, func(s *LayerState) { s.Color = color })
}

func (l *Layer) SetCompositionType(comp types.Composition) error {
	return l.set("SetCompositionType", func(c hal.Composer, d hal.DisplayID, id hal.LayerID) error {
		return c.SetLayerCompositionType(d, id, comp)
	}, func(s *LayerState) {
		s.Composition = comp
		s.Effective = comp
	})
}

func (l *Layer) SetDataspace(dataspace types.Dataspace) error {
	return l.set("SetDataspace", func(c hal.Composer, d hal.DisplayID, id hal.LayerID) error {
		return c.SetLayerDataspace(d, id, dataspace)
	}, func(s *LayerState) { s.Dataspace = dataspace })
}

func (l *Layer) SetDisplayFrame(frame types.Rect) error {
	return l.set("SetDisplayFrame", func(c hal.Composer, d hal.DisplayID, id hal.LayerID) error {
		return c.SetLayerDisplayFrame(d, id, frame)
	}, func(s *LayerState) { s.DisplayFrame = frame })
}

// SetPlaneAlpha takes a value between 0 and 1.
func (l *Layer) SetPlaneAlpha(alpha float32) error {
	return l.set("SetPlaneAlpha", func(c hal.Composer, d hal.DisplayID, id hal.LayerID) error {
		return c.SetLayerPlaneAlpha(d, id, alpha)
	}, func(s *LayerState) { s.PlaneAlpha = alpha })
}

func (l *Layer) SetSidebandStream(stream *types.NativeHandle) error {
	return l.set("SetSidebandStream", func(c hal.Composer, d hal.DisplayID, id hal.LayerID) error {
		return c.SetLayerSidebandStream(d, id, stream)
	}, func(s *LayerState) { s.Sideband = stream })
}

func (l *Layer) SetSourceCrop(crop types.FRect) error {
	return l.set("SetSourceCrop", func(c hal.Composer, d hal.DisplayID, id hal.LayerID) error {
		return c.SetLayerSourceCrop(d, id, crop)
	}, func(s *LayerState) { s.SourceCrop = crop })
}

func (l *Layer) SetTransform(transform types.Transform) error {
	return l.set("SetTransform", func(c hal.Composer, d hal.DisplayID, id hal.LayerID) error {
		return c.SetLayerTransform(d, id, transform)
	}, func(s *LayerState) { s.Transform = transform })
}

func (l *Layer) SetVisibleRegion(region types.Rect) error {
	return l.set("SetVisibleRegion", func(c hal.Composer, d hal.DisplayID, id hal.LayerID) error {
		return c.SetLayerVisibleRegion(d, id, region)
	}, func(s *LayerState) { s.VisibleRegion = region })
}

// SetBuffer binds the buffer a device-composed layer scans out next frame.
// The acquire fence is consumed in every case. Like SetClientTarget it must
// come before Validate unless the display has LateClientTarget.
func (l *Layer) SetBuffer(slot uint32, buffer *types.Buffer, acquire *fence.Fence) error {
	d := l.display
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := l.checkLocked("SetBuffer"); err != nil {
		acquire.Close()
		return err
	}
	if d.state != stateIdle && !d.caps.LateClientTarget {
		acquire.Close()
		return newError("SetBuffer", d.id, ErrBadState)
	}
	if err := d.hal.SetLayerBuffer(d.id, l.id, slot, buffer, acquire); err != nil {
		return d.halErr("SetBuffer", err)
	}
	l.state.Buffer = buffer
	return nil
}
