package hwc

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/matjam/hwcsession/internal/fence"
	"github.com/matjam/hwcsession/internal/hal"
	"github.com/matjam/hwcsession/internal/types"
)

type frameState int

const (
	stateIdle frameState = iota
	stateValidated
	stateHasChanges
	stateAccepted
)

func (s frameState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateValidated:
		return "validated"
	case stateHasChanges:
		return "has-changes"
	case stateAccepted:
		return "accepted"
	default:
		return "unknown"
	}
}

// Display is one output reported by the Device. Once the display is
// disconnected every operation fails with ErrFatal.
type Display struct {
	dev     *Device
	hal     hal.Composer
	id      hal.DisplayID
	primary bool
	alive   atomic.Bool

	mu      sync.Mutex
	caps    Capabilities
	state   frameState
	configs []*Config
	active  *Config
	layers  map[hal.LayerID]*Layer
	order   []*Layer
	// releases holds the display's own copies of the release fences of the
	// last present. nil until the first present.
	releases map[*Layer]*fence.Fence
	power    types.PowerMode
	vsync    bool
	frames   uint64
}

func newDisplay(dev *Device, id hal.DisplayID, primary bool) *Display {
	d := &Display{
		dev:     dev,
		hal:     dev.hal,
		id:      id,
		primary: primary,
		layers:  make(map[hal.LayerID]*Layer),
		power:   types.PowerModeOff,
	}
	d.alive.Store(true)
	return d
}

func (d *Display) ID() hal.DisplayID { return d.id }

func (d *Display) Primary() bool { return d.primary }

// Connected is false once the display has been removed from the Device.
func (d *Display) Connected() bool { return d.alive.Load() }

func (d *Display) Capabilities() Capabilities {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.caps
}

func (d *Display) SetCapabilities(caps Capabilities) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.caps = caps
}

func (d *Display) PowerMode() types.PowerMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.power
}

func (d *Display) VsyncEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.vsync
}

// Frames returns the number of successful presents.
func (d *Display) Frames() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}

func (d *Display) checkLocked(op string) error {
	if !d.alive.Load() {
		return newError(op, d.id, ErrFatal)
	}
	return nil
}

// Configs queries every mode the display supports.
func (d *Display) Configs() ([]*Config, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkLocked("Configs"); err != nil {
		return nil, err
	}
	if err := d.loadConfigsLocked(); err != nil {
		return nil, err
	}
	return append([]*Config(nil), d.configs...), nil
}

func (d *Display) loadConfigsLocked() error {
	ids, err := d.hal.GetDisplayConfigs(d.id)
	if err != nil {
		return d.halErr("Configs", err)
	}

	configs := make([]*Config, 0, len(ids))
	for _, cid := range ids {
		a, err := d.hal.GetDisplayAttributes(d.id, cid)
		if err != nil {
			return d.halErr("Configs", err)
		}
		configs = append(configs, &Config{
			ID:          cid,
			Display:     d.id,
			Width:       a.Width,
			Height:      a.Height,
			VsyncPeriod: time.Duration(a.VsyncPeriod),
			DpiX:        a.DpiX,
			DpiY:        a.DpiY,
		})
	}
	d.configs = configs
	return nil
}

// ActiveConfig returns nil without an error when no mode has been chosen yet.
func (d *Display) ActiveConfig() (*Config, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkLocked("ActiveConfig"); err != nil {
		return nil, err
	}
	return d.activeConfigLocked()
}

func (d *Display) activeConfigLocked() (*Config, error) {
	cid, err := d.hal.GetActiveConfig(d.id)
	if errors.Is(err, hal.ErrorBadConfig) {
		d.active = nil
		return nil, nil
	}
	if err != nil {
		return nil, d.halErr("ActiveConfig", err)
	}
	if d.active != nil && d.active.ID == cid {
		return d.active, nil
	}

	for attempt := 0; attempt < 2; attempt++ {
		for _, c := range d.configs {
			if c.ID == cid {
				d.active = c
				return c, nil
			}
		}
		if err := d.loadConfigsLocked(); err != nil {
			return nil, err
		}
	}

	log.Warnf("hwc: display %d reports unknown active config %d", d.id, cid)
	return nil, newError("ActiveConfig", d.id, ErrNotFound)
}

// SetActiveConfig switches mode. The next frame has to be validated again.
func (d *Display) SetActiveConfig(cfg *Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkLocked("SetActiveConfig"); err != nil {
		return err
	}
	if cfg == nil || cfg.Display != d.id {
		return newError("SetActiveConfig", d.id, ErrNotFound)
	}
	if err := d.hal.SetActiveConfig(d.id, cfg.ID); err != nil {
		return d.halErr("SetActiveConfig", err)
	}

	d.state = stateIdle
	d.active = nil
	d.configs = nil
	active, err := d.activeConfigLocked()
	if err != nil {
		return err
	}
	log.Infof("hwc: display %d mode %s", d.id, active)
	return nil
}

func (d *Display) CreateLayer() (*Layer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkLocked("CreateLayer"); err != nil {
		return nil, err
	}
	lid, err := d.hal.CreateLayer(d.id)
	if err != nil {
		return nil, d.halErr("CreateLayer", err)
	}

	l := newLayer(d, lid)
	d.layers[lid] = l
	d.order = append(d.order, l)
	d.state = stateIdle
	return l, nil
}

// DestroyLayer removes l. A release fence still held for it is dropped.
func (d *Display) DestroyLayer(l *Layer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkLocked("DestroyLayer"); err != nil {
		return err
	}
	if l == nil || l.display != d || l.destroyed {
		return newError("DestroyLayer", d.id, ErrNotFound)
	}
	if err := d.hal.DestroyLayer(d.id, l.id); err != nil {
		return d.halErr("DestroyLayer", err)
	}

	d.forgetLayerLocked(l)
	d.state = stateIdle
	return nil
}

func (d *Display) forgetLayerLocked(l *Layer) {
	l.destroyed = true
	delete(d.layers, l.id)
	for i, v := range d.order {
		if v == l {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	if f, ok := d.releases[l]; ok {
		f.Close()
		delete(d.releases, l)
	}
}

// Layers returns the display's layers in creation order.
func (d *Display) Layers() []*Layer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Layer(nil), d.order...)
}

// SetClientTarget binds the buffer for client-composed layers of the next
// frame. The acquire fence is consumed in every case. It must be called
// before Validate unless the display has the LateClientTarget capability.
func (d *Display) SetClientTarget(slot uint32, buffer *types.Buffer, acquire *fence.Fence, dataspace types.Dataspace) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkLocked("SetClientTarget"); err != nil {
		acquire.Close()
		return err
	}
	if d.state != stateIdle && !d.caps.LateClientTarget {
		acquire.Close()
		return newError("SetClientTarget", d.id, ErrBadState)
	}
	if err := d.hal.SetClientTarget(d.id, slot, buffer, acquire, dataspace); err != nil {
		return d.halErr("SetClientTarget", err)
	}
	return nil
}

// Validate asks the device whether it can composite the current layers as
// requested. Proposed changes are reported through the result and are not
// an error.
func (d *Display) Validate() (ValidateResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkLocked("Validate"); err != nil {
		return ValidateResult{}, err
	}
	numTypes, numRequests, err := d.hal.ValidateDisplay(d.id)
	return d.validatedLocked("Validate", ValidateResult{NumTypes: numTypes, NumRequests: numRequests}, err)
}

func (d *Display) validatedLocked(op string, res ValidateResult, err error) (ValidateResult, error) {
	if err != nil && !errors.Is(err, hal.ErrorHasChanges) {
		d.state = stateIdle
		return res, d.halErr(op, err)
	}
	if err != nil || res.HasChanges() {
		d.state = stateHasChanges
		log.Debugf("hwc: display %d validate: %d type changes, %d requests", d.id, res.NumTypes, res.NumRequests)
		return res, nil
	}
	d.state = stateValidated
	return res, nil
}

// ChangedCompositionTypes returns the composition types the device proposed
// in the last Validate.
func (d *Display) ChangedCompositionTypes() (map[*Layer]types.Composition, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkLocked("ChangedCompositionTypes"); err != nil {
		return nil, err
	}
	if d.state != stateHasChanges && d.state != stateValidated {
		return nil, newError("ChangedCompositionTypes", d.id, ErrBadState)
	}
	changes, err := d.hal.GetChangedCompositionTypes(d.id)
	if err != nil {
		return nil, d.halErr("ChangedCompositionTypes", err)
	}
	out := make(map[*Layer]types.Composition, len(changes))
	for lid, comp := range changes {
		if l, ok := d.layers[lid]; ok {
			out[l] = comp
		}
	}
	return out, nil
}

// AcceptChanges applies the changes proposed by Validate. Without pending
// changes it does nothing. On failure the frame must be skipped.
func (d *Display) AcceptChanges() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkLocked("AcceptChanges"); err != nil {
		return err
	}
	if d.state != stateHasChanges {
		return nil
	}

	changes, err := d.hal.GetChangedCompositionTypes(d.id)
	if err != nil {
		d.state = stateIdle
		return d.halErr("AcceptChanges", err)
	}
	if err := d.hal.AcceptDisplayChanges(d.id); err != nil {
		d.state = stateIdle
		return d.halErr("AcceptChanges", err)
	}
	for lid, comp := range changes {
		if l, ok := d.layers[lid]; ok {
			l.state.Effective = comp
		}
	}
	d.state = stateAccepted
	return nil
}

// Present commits the frame. It does not wait for the display; the returned
// fence signals when the frame has been latched and is owned by the caller.
func (d *Display) Present() (*fence.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkLocked("Present"); err != nil {
		return nil, err
	}
	if d.state != stateValidated && d.state != stateAccepted {
		log.Debugf("hwc: display %d present in state %s", d.id, d.state)
		return nil, newError("Present", d.id, ErrBadState)
	}

	pf, err := d.hal.PresentDisplay(d.id)
	d.state = stateIdle
	if err != nil {
		d.resetReleasesLocked()
		return nil, d.halErr("Present", err)
	}
	d.presentedLocked()
	return pf, nil
}

// PresentOrValidate presents right away when the device can reuse the last
// validation. Otherwise it validates and the caller continues with
// AcceptChanges and Present. Changes proposed by an earlier Validate must be
// accepted first.
func (d *Display) PresentOrValidate() (PresentOrValidateResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkLocked("PresentOrValidate"); err != nil {
		return PresentOrValidateResult{}, err
	}
	if d.state == stateHasChanges {
		log.Debugf("hwc: display %d present-or-validate with unaccepted changes", d.id)
		return PresentOrValidateResult{}, newError("PresentOrValidate", d.id, ErrBadState)
	}

	state, numTypes, numRequests, pf, err := d.hal.PresentOrValidateDisplay(d.id)
	if state == hal.StatePresented {
		d.state = stateIdle
		if err != nil {
			d.resetReleasesLocked()
			return PresentOrValidateResult{}, d.halErr("PresentOrValidate", err)
		}
		d.presentedLocked()
		return PresentOrValidateResult{Presented: true, PresentFence: pf}, nil
	}

	res, err := d.validatedLocked("PresentOrValidate", ValidateResult{NumTypes: numTypes, NumRequests: numRequests}, err)
	return PresentOrValidateResult{Validate: res}, err
}

func (d *Display) presentedLocked() {
	d.frames++
	d.resetReleasesLocked()

	fences, err := d.hal.GetReleaseFences(d.id)
	if err != nil {
		log.Warnf("hwc: display %d release fences: %v", d.id, err)
		return
	}
	for lid, f := range fences {
		l, ok := d.layers[lid]
		if !ok {
			f.Close()
			continue
		}
		d.releases[l] = f
	}
}

func (d *Display) resetReleasesLocked() {
	for _, f := range d.releases {
		f.Close()
	}
	d.releases = make(map[*Layer]*fence.Fence)
}

// ReleaseFences returns, for every layer whose buffer was consumed by the
// last present, a fence that signals when that buffer may be reused. The
// fences are duplicates owned by the caller. A layer without an entry has
// not released its buffer. After a failed present the map is empty.
func (d *Display) ReleaseFences() (map[*Layer]*fence.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkLocked("ReleaseFences"); err != nil {
		return nil, err
	}
	if d.releases == nil {
		return nil, newError("ReleaseFences", d.id, ErrBadState)
	}

	out := make(map[*Layer]*fence.Fence, len(d.releases))
	for l, f := range d.releases {
		dup, err := f.Dup()
		if err != nil {
			for _, o := range out {
				o.Close()
			}
			return nil, &Error{Op: "ReleaseFences", Display: d.id, Kind: ErrTransient, Err: err}
		}
		out[l] = dup
	}
	return out, nil
}

func (d *Display) SetPowerMode(mode types.PowerMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkLocked("SetPowerMode"); err != nil {
		return err
	}
	if err := d.hal.SetPowerMode(d.id, mode); err != nil {
		return d.halErr("SetPowerMode", err)
	}
	d.power = mode
	log.Infof("hwc: display %d power %s", d.id, mode)
	return nil
}

func (d *Display) SetVsyncEnabled(enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkLocked("SetVsyncEnabled"); err != nil {
		return err
	}
	if err := d.hal.SetVsyncEnabled(d.id, enabled); err != nil {
		return d.halErr("SetVsyncEnabled", err)
	}
	d.vsync = enabled
	return nil
}

// halErr wraps a composer failure. A display the composer no longer knows is
// dropped from the Device, since its disconnect may have been reported under
// an earlier sequence id.
func (d *Display) halErr(op string, err error) error {
	if errors.Is(err, hal.ErrorBadDisplay) && d.alive.Load() {
		d.invalidateLocked()
		d.dev.forget(d)
	}
	return wrapHAL(op, d.id, err)
}

// invalidate runs after the display has left the Device. Layers are
// invalidated before anything else is released.
func (d *Display) invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.invalidateLocked()
}

func (d *Display) invalidateLocked() {
	d.alive.Store(false)
	for _, l := range d.order {
		l.destroyed = true
	}
	d.layers = make(map[hal.LayerID]*Layer)
	d.order = nil
	for _, f := range d.releases {
		f.Close()
	}
	d.releases = nil
	d.state = stateIdle
	d.active = nil
	d.configs = nil
}
