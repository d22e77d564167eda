package virtual

import (
	"time"

	"github.com/matjam/hwcsession/internal/fence"
	"github.com/matjam/hwcsession/internal/hal"
	"github.com/matjam/hwcsession/internal/types"
)

func (c *Composer) GetDisplayConfigs(id hal.DisplayID) ([]hal.ConfigID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, err := c.displayLocked("GetDisplayConfigs", id)
	if err != nil {
		return nil, err
	}
	ids := make([]hal.ConfigID, len(d.modes))
	for i := range d.modes {
		ids[i] = hal.ConfigID(i)
	}
	return ids, nil
}

func (c *Composer) GetDisplayAttributes(id hal.DisplayID, config hal.ConfigID) (hal.Attributes, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, err := c.displayLocked("GetDisplayAttributes", id)
	if err != nil {
		return hal.Attributes{}, err
	}
	if int(config) >= len(d.modes) {
		return hal.Attributes{}, hal.ErrorBadConfig
	}
	m := d.modes[config]
	return hal.Attributes{
		Width:       m.Width,
		Height:      m.Height,
		VsyncPeriod: int64(m.period()),
		DpiX:        m.DpiX,
		DpiY:        m.DpiY,
	}, nil
}

func (c *Composer) GetActiveConfig(id hal.DisplayID) (hal.ConfigID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, err := c.displayLocked("GetActiveConfig", id)
	if err != nil {
		return 0, err
	}
	if d.active < 0 {
		return 0, hal.ErrorBadConfig
	}
	return hal.ConfigID(d.active), nil
}

func (c *Composer) SetActiveConfig(id hal.DisplayID, config hal.ConfigID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, err := c.displayLocked("SetActiveConfig", id)
	if err != nil {
		return err
	}
	if int(config) >= len(d.modes) {
		return hal.ErrorBadConfig
	}
	d.active = int(config)
	d.epoch = time.Now()
	d.dirty = true
	d.stopVsyncLocked()
	d.startVsyncLocked()
	return nil
}

func (c *Composer) CreateLayer(id hal.DisplayID) (hal.LayerID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, err := c.displayLocked("CreateLayer", id)
	if err != nil {
		return 0, err
	}
	c.nextLayer++
	l := &layer{
		id:         c.nextLayer,
		comp:       types.CompositionInvalid,
		blend:      types.BlendModeNone,
		planeAlpha: 1,
	}
	d.layers[l.id] = l
	d.zorder = append(d.zorder, l.id)
	d.dirty = true
	return l.id, nil
}

func (c *Composer) DestroyLayer(id hal.DisplayID, lid hal.LayerID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, l, err := c.layerLocked("DestroyLayer", id, lid)
	if err != nil {
		return err
	}
	l.acquire.Close()
	d.releases[lid].Close()
	delete(d.releases, lid)
	delete(d.layers, lid)
	delete(d.changes, lid)
	for i, v := range d.zorder {
		if v == lid {
			d.zorder = append(d.zorder[:i], d.zorder[i+1:]...)
			break
		}
	}
	d.dirty = true
	return nil
}

func (c *Composer) SetClientTarget(id hal.DisplayID, slot uint32, buffer *types.Buffer, acquire *fence.Fence, dataspace types.Dataspace) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, err := c.displayLocked("SetClientTarget", id)
	if err != nil {
		acquire.Close()
		return err
	}
	if buffer == nil {
		acquire.Close()
		return hal.ErrorBadParameter
	}
	d.targetAcquire.Close()
	d.target = buffer
	d.targetAcquire = acquire
	d.targetDataspace = dataspace
	d.targetSet = true
	return nil
}

func (c *Composer) ValidateDisplay(id hal.DisplayID) (uint32, uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, err := c.displayLocked("ValidateDisplay", id)
	if err != nil {
		return 0, 0, err
	}
	return d.validateLocked()
}

func (c *Composer) GetChangedCompositionTypes(id hal.DisplayID) (map[hal.LayerID]types.Composition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, err := c.displayLocked("GetChangedCompositionTypes", id)
	if err != nil {
		return nil, err
	}
	if !d.validated {
		return nil, hal.ErrorNotValidated
	}
	out := make(map[hal.LayerID]types.Composition, len(d.changes))
	for k, v := range d.changes {
		out[k] = v
	}
	return out, nil
}

func (c *Composer) AcceptDisplayChanges(id hal.DisplayID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, err := c.displayLocked("AcceptDisplayChanges", id)
	if err != nil {
		return err
	}
	if !d.validated {
		return hal.ErrorNotValidated
	}
	for lid, comp := range d.changes {
		if l, ok := d.layers[lid]; ok {
			l.comp = comp
		}
	}
	d.changes = nil
	d.accepted = true
	return nil
}

func (c *Composer) PresentDisplay(id hal.DisplayID) (*fence.Fence, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, err := c.displayLocked("PresentDisplay", id)
	if err != nil {
		return nil, err
	}
	return d.presentLocked()
}

// PresentOrValidateDisplay skips validation when nothing that affects
// composition changed since the last presented frame.
func (c *Composer) PresentOrValidateDisplay(id hal.DisplayID) (hal.PresentOrValidateState, uint32, uint32, *fence.Fence, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, err := c.displayLocked("PresentOrValidateDisplay", id)
	if err != nil {
		return hal.StateValidated, 0, 0, nil, err
	}

	if d.hasPresented && !d.dirty && (len(d.changes) == 0 || d.accepted) {
		d.validated = true
		d.accepted = true
		pf, err := d.presentLocked()
		if err != nil {
			d.validated = false
			return hal.StatePresented, 0, 0, nil, err
		}
		return hal.StatePresented, 0, 0, pf, nil
	}

	numTypes, numRequests, err := d.validateLocked()
	return hal.StateValidated, numTypes, numRequests, nil, err
}

func (c *Composer) GetReleaseFences(id hal.DisplayID) (map[hal.LayerID]*fence.Fence, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, err := c.displayLocked("GetReleaseFences", id)
	if err != nil {
		return nil, err
	}
	out := d.releases
	d.releases = make(map[hal.LayerID]*fence.Fence)
	return out, nil
}

func (c *Composer) SetPowerMode(id hal.DisplayID, mode types.PowerMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, err := c.displayLocked("SetPowerMode", id)
	if err != nil {
		return err
	}
	switch mode {
	case types.PowerModeOff, types.PowerModeDozeSuspend, types.PowerModeDoze, types.PowerModeOn:
	default:
		return hal.ErrorBadParameter
	}
	d.power = mode
	if mode == types.PowerModeOff {
		d.stopVsyncLocked()
	} else {
		d.startVsyncLocked()
	}
	return nil
}

func (c *Composer) SetVsyncEnabled(id hal.DisplayID, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, err := c.displayLocked("SetVsyncEnabled", id)
	if err != nil {
		return err
	}
	d.vsyncEnabled = enabled
	if enabled {
		d.startVsyncLocked()
	} else {
		d.stopVsyncLocked()
	}
	return nil
}

func (c *Composer) SetLayerBuffer(id hal.DisplayID, lid hal.LayerID, slot uint32, buffer *types.Buffer, acquire *fence.Fence) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, l, err := c.layerLocked("SetLayerBuffer", id, lid)
	if err != nil {
		acquire.Close()
		return err
	}
	if buffer == nil {
		acquire.Close()
		return hal.ErrorBadParameter
	}
	if l.buffer == nil {
		d.dirty = true
	}
	l.acquire.Close()
	l.buffer = buffer
	l.acquire = acquire
	l.bufferSet = true
	return nil
}

// setLayer applies a geometry or state change that requires revalidation.
func (c *Composer) setLayer(op string, id hal.DisplayID, lid hal.LayerID, apply func(l *layer) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, l, err := c.layerLocked(op, id, lid)
	if err != nil {
		return err
	}
	if err := apply(l); err != nil {
		return err
	}
	d.dirty = true
	return nil
}

func (c *Composer) SetLayerBlendMode(id hal.DisplayID, lid hal.LayerID, mode types.BlendMode) error {
	return c.setLayer("SetLayerBlendMode", id, lid, func(l *layer) error {
		if mode <= types.BlendModeInvalid || mode > types.BlendModeCoverage {
			return hal.ErrorBadParameter
		}
		l.blend = mode
		return nil
	})
}

func (c *Composer) SetLayerColor(id hal.DisplayID, lid hal.LayerID, color types.Color) error {
	return c.setLayer("SetLayerColor", id, lid, func(l *layer) error {
		l.color = color
		return nil
	})
}

func (c *Composer) SetLayerCompositionType(id hal.DisplayID, lid hal.LayerID, comp types.Composition) error {
	return c.setLayer("SetLayerCompositionType", id, lid, func(l *layer) error {
		if comp <= types.CompositionInvalid || comp > types.CompositionSideband {
			return hal.ErrorBadParameter
		}
		l.comp = comp
		return nil
	})
}

func (c *Composer) SetLayerDataspace(id hal.DisplayID, lid hal.LayerID, dataspace types.Dataspace) error {
	return c.setLayer("SetLayerDataspace", id, lid, func(l *layer) error {
		if _, err := types.ParseDataspace(dataspace.String()); err != nil {
			return hal.ErrorUnsupported
		}
		l.dataspace = dataspace
		return nil
	})
}

func (c *Composer) SetLayerDisplayFrame(id hal.DisplayID, lid hal.LayerID, frame types.Rect) error {
	return c.setLayer("SetLayerDisplayFrame", id, lid, func(l *layer) error {
		if frame.Right < frame.Left || frame.Bottom < frame.Top {
			return hal.ErrorBadParameter
		}
		l.displayFrame = frame
		return nil
	})
}

func (c *Composer) SetLayerPlaneAlpha(id hal.DisplayID, lid hal.LayerID, alpha float32) error {
	return c.setLayer("SetLayerPlaneAlpha", id, lid, func(l *layer) error {
		if alpha < 0 || alpha > 1 {
			return hal.ErrorBadParameter
		}
		l.planeAlpha = alpha
		return nil
	})
}

func (c *Composer) SetLayerSidebandStream(id hal.DisplayID, lid hal.LayerID, stream *types.NativeHandle) error {
	return c.setLayer("SetLayerSidebandStream", id, lid, func(l *layer) error {
		if stream == nil {
			return hal.ErrorBadParameter
		}
		l.sideband = stream
		return nil
	})
}

func (c *Composer) SetLayerSourceCrop(id hal.DisplayID, lid hal.LayerID, crop types.FRect) error {
	return c.setLayer("SetLayerSourceCrop", id, lid, func(l *layer) error {
		if crop.Right < crop.Left || crop.Bottom < crop.Top {
			return hal.ErrorBadParameter
		}
		l.sourceCrop = crop
		return nil
	})
}

func (c *Composer) SetLayerTransform(id hal.DisplayID, lid hal.LayerID, transform types.Transform) error {
	return c.setLayer("SetLayerTransform", id, lid, func(l *layer) error {
		if !transform.Valid() {
			return hal.ErrorBadParameter
		}
		l.transform = transform
		return nil
	})
}

func (c *Composer) SetLayerVisibleRegion(id hal.DisplayID, lid hal.LayerID, region types.Rect) error {
	return c.setLayer("SetLayerVisibleRegion", id, lid, func(l *layer) error {
		l.visibleRegion = region
		return nil
	})
}

var _ hal.Composer = (*Composer)(nil)
