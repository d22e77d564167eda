// Package virtual is a software display composition device.
//
// It models what a hardware composer does at its boundary: displays arrive
// and leave through hot-plug, each has a set of modes, validation decides
// which layers the "hardware" can scan out directly and which must fall back
// to client composition, and presented frames are latched on vsync
// boundaries by a per-display scanout goroutine that signals present and
// release fences. Hot-plug, refresh and error injection are driven by the
// caller, which makes the Composer usable both as a daemon backend and as a
// test double.
package virtual

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/matjam/hwcsession/internal/hal"
	"github.com/matjam/hwcsession/internal/types"
)

// NoActiveMode connects a display without selecting a mode.
const NoActiveMode = -1

type Mode struct {
	Width       int32
	Height      int32
	RefreshRate float64
	DpiX        float32
	DpiY        float32
}

func (m Mode) period() time.Duration {
	if m.RefreshRate <= 0 {
		return time.Second / 60
	}
	return time.Duration(float64(time.Second) / m.RefreshRate)
}

type DisplaySpec struct {
	Primary    bool
	Modes      []Mode
	ActiveMode int
}

type Options struct {
	// OverlayPlanes is the number of device-composed layers that can be
	// scanned out per frame; the rest fall back to client composition.
	OverlayPlanes int
	CursorPlane   bool
	// AcquireTimeout bounds how long scanout waits on an acquire fence.
	AcquireTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		OverlayPlanes:  2,
		CursorPlane:    true,
		AcquireTimeout: time.Second,
	}
}

type event struct {
	kind      eventKind
	seq       int32
	display   hal.DisplayID
	conn      types.Connection
	primary   bool
	timestamp int64
}

type eventKind int

const (
	eventHotplug eventKind = iota
	eventVsync
	eventRefresh
)

type Composer struct {
	mu sync.Mutex

	opts      Options
	displays  map[hal.DisplayID]*display
	order     []hal.DisplayID
	nextLayer hal.LayerID
	faults    map[string][]hal.Error

	cb  hal.Callback
	seq int32

	events []event
	wake   chan struct{}

	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

func New(opts Options) *Composer {
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = time.Second
	}
	c := &Composer{
		opts:     opts,
		displays: make(map[hal.DisplayID]*display),
		faults:   make(map[string][]hal.Error),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	c.wg.Add(1)
	go c.dispatch()

	return c
}

// RegisterCallback installs cb and replays a hot-plug for every display that
// is currently connected, as if it had just been plugged in.
func (c *Composer) RegisterCallback(cb hal.Callback, sequenceID int32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cb = cb
	c.seq = sequenceID
	for _, id := range c.order {
		d := c.displays[id]
		c.enqueueLocked(event{kind: eventHotplug, seq: sequenceID, display: id, conn: types.Connected, primary: d.primary})
	}
}

// Connect plugs in a display. Connecting an id that is already present is a no-op.
func (c *Composer) Connect(id hal.DisplayID, spec DisplaySpec) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if _, ok := c.displays[id]; ok {
		return
	}

	d := newDisplay(c, id, spec)
	c.displays[id] = d
	c.order = append(c.order, id)

	c.wg.Add(1)
	go d.scanoutLoop()

	log.Debugf("virtual: display %d connected (%d modes)", id, len(spec.Modes))
	if c.cb != nil {
		c.enqueueLocked(event{kind: eventHotplug, seq: c.seq, display: id, conn: types.Connected, primary: spec.Primary})
	}
}

// Disconnect unplugs a display. Outstanding fences of that display are signaled.
func (c *Composer) Disconnect(id hal.DisplayID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.displays[id]
	if !ok {
		return
	}
	c.removeLocked(id)
	d.shutdownLocked()

	log.Debugf("virtual: display %d disconnected", id)
	if c.cb != nil {
		c.enqueueLocked(event{kind: eventHotplug, seq: c.seq, display: id, conn: types.Disconnected, primary: d.primary})
	}
}

// Refresh asks the client to present a new frame on the display.
func (c *Composer) Refresh(id hal.DisplayID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.displays[id]; ok && c.cb != nil {
		c.enqueueLocked(event{kind: eventRefresh, seq: c.seq, display: id})
	}
}

// InjectError makes the next call of the named operation (for example
// "PresentDisplay") fail with err.
func (c *Composer) InjectError(op string, err hal.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults[op] = append(c.faults[op], err)
}

// Frames returns how many frames the display has latched.
func (c *Composer) Frames(id hal.DisplayID) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.displays[id]; ok {
		return d.frames
	}
	return 0
}

// Scanout returns the client target currently on screen, if any.
func (c *Composer) Scanout(id hal.DisplayID) *types.Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.displays[id]; ok {
		return d.onScreenTarget
	}
	return nil
}

func (c *Composer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for _, id := range append([]hal.DisplayID(nil), c.order...) {
		d := c.displays[id]
		c.removeLocked(id)
		d.shutdownLocked()
	}
	c.cb = nil
	close(c.done)
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}

func (c *Composer) removeLocked(id hal.DisplayID) {
	delete(c.displays, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Composer) faultLocked(op string) error {
	queued := c.faults[op]
	if len(queued) == 0 {
		return nil
	}
	err := queued[0]
	c.faults[op] = queued[1:]
	return err
}

func (c *Composer) displayLocked(op string, id hal.DisplayID) (*display, error) {
	if err := c.faultLocked(op); err != nil {
		return nil, err
	}
	d, ok := c.displays[id]
	if !ok {
		return nil, hal.ErrorBadDisplay
	}
	return d, nil
}

func (c *Composer) layerLocked(op string, id hal.DisplayID, lid hal.LayerID) (*display, *layer, error) {
	d, err := c.displayLocked(op, id)
	if err != nil {
		return nil, nil, err
	}
	l, ok := d.layers[lid]
	if !ok {
		return nil, nil, hal.ErrorBadLayer
	}
	return d, l, nil
}

func (c *Composer) enqueueLocked(ev event) {
	c.events = append(c.events, ev)
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// dispatch delivers events in the order they were raised, outside the lock.
func (c *Composer) dispatch() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}

		for {
			c.mu.Lock()
			if len(c.events) == 0 || c.cb == nil {
				c.events = c.events[:0]
				c.mu.Unlock()
				break
			}
			ev := c.events[0]
			c.events = c.events[1:]
			cb := c.cb
			c.mu.Unlock()

			switch ev.kind {
			case eventHotplug:
				cb.OnHotplug(ev.seq, ev.display, ev.conn, ev.primary)
			case eventVsync:
				cb.OnVsync(ev.seq, ev.display, ev.timestamp)
			case eventRefresh:
				cb.OnRefresh(ev.seq, ev.display)
			}
		}
	}
}
