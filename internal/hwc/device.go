// Package hwc is the display composition session: a Device that tracks
// hot-plugged displays, the Displays themselves with their layers and
// configurations, and the validate, accept, present protocol that has to be
// driven on every frame.
//
// All types are safe for concurrent use. The frame protocol of one Display is
// serialized internally; different Displays run independently.
package hwc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/matjam/hwcsession/internal/hal"
	"github.com/matjam/hwcsession/internal/types"
)

type Option func(*Device)

// WithSyntheticPrimary creates the primary display with the given id when the
// Device is constructed instead of waiting for it to be hot-plugged.
func WithSyntheticPrimary(id hal.DisplayID) Option {
	return func(d *Device) {
		d.synthetic = append(d.synthetic, id)
	}
}

type Device struct {
	hal         hal.Composer
	primaryOnly bool
	synthetic   []hal.DisplayID

	mu       sync.Mutex
	changed  *sync.Cond
	displays map[hal.DisplayID]*Display
	order    []hal.DisplayID
	version  uint64
	closed   bool

	sub atomic.Pointer[subscription]
}

// NewDevice takes ownership of c. When primaryDisplayOnly is set, hot-plug
// events for external displays are ignored.
func NewDevice(c hal.Composer, primaryDisplayOnly bool, opts ...Option) *Device {
	d := &Device{
		hal:         c,
		primaryOnly: primaryDisplayOnly,
		displays:    make(map[hal.DisplayID]*Display),
	}
	d.changed = sync.NewCond(&d.mu)

	for _, opt := range opts {
		opt(d)
	}
	for i, id := range d.synthetic {
		d.insertLocked(id, i == 0)
	}

	return d
}

// RegisterCallback subscribes l to device events under sequenceID. Events
// carrying any other sequence id are dropped. The device reports every
// display that is already connected as a fresh hot-plug.
func (d *Device) RegisterCallback(l Listener, sequenceID int32) {
	if l == nil {
		l = ListenerFuncs{}
	}
	d.sub.Store(&subscription{id: sequenceID, listener: l})
	d.hal.RegisterCallback(halCallback{dev: d}, sequenceID)
}

// OnHotplug applies a connect or disconnect. Duplicates are no-ops.
func (d *Device) OnHotplug(id hal.DisplayID, conn types.Connection) {
	d.hotplug(id, conn, false)
}

func (d *Device) hotplug(id hal.DisplayID, conn types.Connection, primary bool) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}

	var gone *Display
	switch conn {
	case types.Connected:
		if _, ok := d.displays[id]; !ok {
			d.insertLocked(id, primary)
		}
	case types.Disconnected:
		if disp, ok := d.displays[id]; ok {
			gone = disp
			d.removeLocked(id)
		}
	}
	d.mu.Unlock()

	if gone != nil {
		gone.invalidate()
		log.Infof("hwc: display %d removed", id)
	}
}

func (d *Device) insertLocked(id hal.DisplayID, primary bool) {
	d.displays[id] = newDisplay(d, id, primary)
	d.order = append(d.order, id)
	d.version++
	d.changed.Broadcast()
	log.Infof("hwc: display %d added", id)
}

func (d *Device) removeLocked(id hal.DisplayID) {
	delete(d.displays, id)
	for i, v := range d.order {
		if v == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	d.version++
	d.changed.Broadcast()
}

// forget removes disp if it is still the display mapped under its id. It is
// called with disp.mu held, so Device.mu never waits on a display lock.
func (d *Device) forget(disp *Display) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.displays[disp.id]; ok && cur == disp {
		d.removeLocked(disp.id)
		log.Infof("hwc: display %d dropped, composer no longer reports it", disp.id)
	}
}

// GetDisplayByID never blocks. A missing display is reported with ok=false.
func (d *Device) GetDisplayByID(id hal.DisplayID) (*Display, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	disp, ok := d.displays[id]
	return disp, ok
}

// WaitForDisplay blocks until the display is connected, the timeout passes or
// ctx is done. A timeout is reported as ErrTransient, meaning "not yet
// available". A timeout of zero or less waits until ctx is done.
func (d *Device) WaitForDisplay(ctx context.Context, id hal.DisplayID, timeout time.Duration) (*Display, error) {
	wake := func() {
		d.mu.Lock()
		d.changed.Broadcast()
		d.mu.Unlock()
	}

	var expired atomic.Bool
	if timeout > 0 {
		t := time.AfterFunc(timeout, func() {
			expired.Store(true)
			wake()
		})
		defer t.Stop()
	}
	stop := context.AfterFunc(ctx, wake)
	defer stop()

	d.mu.Lock()
	defer d.mu.Unlock()
	for {
		if disp, ok := d.displays[id]; ok {
			return disp, nil
		}
		if d.closed {
			return nil, newError("WaitForDisplay", id, ErrFatal)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if expired.Load() {
			return nil, newError("WaitForDisplay", id, ErrTransient)
		}
		d.changed.Wait()
	}
}

// Displays returns the connected displays in the order they arrived.
func (d *Device) Displays() []*Display {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Display, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.displays[id])
	}
	return out
}

// Version increases every time the display set changes.
func (d *Device) Version() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.version
}

// Close invalidates every display and closes the underlying composer.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	displays := make([]*Display, 0, len(d.order))
	for _, id := range d.order {
		displays = append(displays, d.displays[id])
	}
	d.displays = make(map[hal.DisplayID]*Display)
	d.order = nil
	d.version++
	d.changed.Broadcast()
	d.mu.Unlock()

	d.sub.Store(nil)
	for _, disp := range displays {
		disp.invalidate()
	}
	return d.hal.Close()
}
