package virtual

import (
	"time"

	"github.com/charmbracelet/log"
	"github.com/matjam/hwcsession/internal/fence"
	"github.com/matjam/hwcsession/internal/hal"
	"github.com/matjam/hwcsession/internal/types"
)

// pending frames a display accepts before PresentDisplay reports NoResources
const scanoutDepth = 3

type layer struct {
	id            hal.LayerID
	comp          types.Composition
	blend         types.BlendMode
	color         types.Color
	dataspace     types.Dataspace
	displayFrame  types.Rect
	planeAlpha    float32
	sideband      *types.NativeHandle
	sourceCrop    types.FRect
	transform     types.Transform
	visibleRegion types.Rect

	buffer    *types.Buffer
	acquire   *fence.Fence
	bufferSet bool
}

type frame struct {
	present  *fence.Signaler
	acquires []*fence.Fence
	releases []*fence.Signaler
	target   *types.Buffer
}

// abort releases everything a frame holds without putting it on screen.
func (f *frame) abort() {
	for _, a := range f.acquires {
		a.Close()
	}
	for _, r := range f.releases {
		r.Close()
	}
	f.present.Close()
}

type display struct {
	c       *Composer
	id      hal.DisplayID
	primary bool
	modes   []Mode
	active  int
	epoch   time.Time

	power        types.PowerMode
	vsyncEnabled bool
	vsyncStop    chan struct{}

	layers map[hal.LayerID]*layer
	zorder []hal.LayerID

	target          *types.Buffer
	targetAcquire   *fence.Fence
	targetDataspace types.Dataspace
	targetSet       bool

	// dirty is set by any change that can alter the validation outcome.
	dirty        bool
	validated    bool
	accepted     bool
	hasPresented bool
	changes      map[hal.LayerID]types.Composition

	releases map[hal.LayerID]*fence.Fence

	scanout chan *frame
	stop    chan struct{}
	stopped bool

	frames         uint64
	onScreenTarget *types.Buffer
}

func newDisplay(c *Composer, id hal.DisplayID, spec DisplaySpec) *display {
	active := spec.ActiveMode
	if active >= len(spec.Modes) {
		active = NoActiveMode
	}
	return &display{
		c:        c,
		id:       id,
		primary:  spec.Primary,
		modes:    append([]Mode(nil), spec.Modes...),
		active:   active,
		epoch:    time.Now(),
		power:    types.PowerModeOff,
		layers:   make(map[hal.LayerID]*layer),
		releases: make(map[hal.LayerID]*fence.Fence),
		scanout:  make(chan *frame, scanoutDepth),
		stop:     make(chan struct{}),
		dirty:    true,
	}
}

func (d *display) periodLocked() time.Duration {
	if d.active < 0 {
		return time.Second / 60
	}
	return d.modes[d.active].period()
}

func (d *display) shutdownLocked() {
	if d.stopped {
		return
	}
	d.stopped = true
	d.stopVsyncLocked()
	close(d.stop)

	d.targetAcquire.Close()
	d.targetAcquire = nil
	for _, l := range d.layers {
		l.acquire.Close()
		l.acquire = nil
	}
	for id, f := range d.releases {
		f.Close()
		delete(d.releases, id)
	}
}

func (d *display) startVsyncLocked() {
	if d.vsyncStop != nil || !d.vsyncEnabled || d.power == types.PowerModeOff || d.stopped {
		return
	}
	stop := make(chan struct{})
	d.vsyncStop = stop
	period := d.periodLocked()

	d.c.wg.Add(1)
	go func() {
		defer d.c.wg.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				d.c.mu.Lock()
				if d.c.cb != nil {
					d.c.enqueueLocked(event{kind: eventVsync, seq: d.c.seq, display: d.id, timestamp: now.UnixNano()})
				}
				d.c.mu.Unlock()
			}
		}
	}()
}

func (d *display) stopVsyncLocked() {
	if d.vsyncStop != nil {
		close(d.vsyncStop)
		d.vsyncStop = nil
	}
}

// scanoutLoop latches queued frames on vsync boundaries. Latching frame N
// signals its present fence and releases the buffers of frame N-1.
func (d *display) scanoutLoop() {
	defer d.c.wg.Done()

	var onScreen []*fence.Signaler
	defer func() {
		for _, s := range onScreen {
			s.Close()
		}
	}()

	for {
		select {
		case <-d.stop:
			d.drain()
			return
		case f := <-d.scanout:
			if !d.waitVsync() {
				f.abort()
				d.drain()
				return
			}
			for _, a := range f.acquires {
				if err := a.Wait(d.c.opts.AcquireTimeout); err != nil {
					log.Warnf("virtual: display %d acquire fence: %v", d.id, err)
				}
				a.Close()
			}
			f.present.Close()
			for _, s := range onScreen {
				s.Close()
			}
			onScreen = f.releases

			d.c.mu.Lock()
			d.frames++
			if f.target != nil {
				d.onScreenTarget = f.target
			}
			d.c.mu.Unlock()
		}
	}
}

func (d *display) waitVsync() bool {
	d.c.mu.Lock()
	off := d.power == types.PowerModeOff
	period := d.periodLocked()
	epoch := d.epoch
	d.c.mu.Unlock()

	if off {
		return true
	}

	elapsed := time.Since(epoch)
	delay := (elapsed/period+1)*period - elapsed
	t := time.NewTimer(delay)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-d.stop:
		return false
	}
}

func (d *display) drain() {
	for {
		select {
		case f := <-d.scanout:
			f.abort()
		default:
			return
		}
	}
}

func (d *display) validateLocked() (uint32, uint32, error) {
	changes := make(map[hal.LayerID]types.Composition)
	overlays := 0

	for _, id := range d.zorder {
		l := d.layers[id]
		want := l.comp

		switch l.comp {
		case types.CompositionInvalid:
			want = types.CompositionClient
		case types.CompositionDevice:
			if l.buffer == nil || overlays >= d.c.opts.OverlayPlanes || l.transform&types.TransformRot90 != 0 {
				want = types.CompositionClient
			} else {
				overlays++
			}
		case types.CompositionCursor:
			if !d.c.opts.CursorPlane || l.buffer == nil {
				want = types.CompositionClient
			}
		case types.CompositionSideband:
			if l.sideband == nil {
				want = types.CompositionClient
			}
		}

		if want != l.comp {
			changes[id] = want
		}
	}

	d.changes = changes
	d.validated = true
	d.accepted = len(changes) == 0
	d.dirty = false

	if len(changes) > 0 {
		return uint32(len(changes)), 0, hal.ErrorHasChanges
	}
	return 0, 0, nil
}

func (d *display) presentLocked() (*fence.Fence, error) {
	if !d.validated || !d.accepted {
		return nil, hal.ErrorNotValidated
	}
	if len(d.scanout) == cap(d.scanout) {
		return nil, hal.ErrorNoResources
	}

	present, presentFence, err := fence.NewPair()
	if err != nil {
		log.Errorf("virtual: present fence: %v", err)
		return nil, hal.ErrorNoResources
	}

	f := &frame{present: present}
	if d.targetSet {
		f.target = d.target
		f.acquires = append(f.acquires, d.targetAcquire)
		d.targetAcquire = nil
	}

	for _, id := range d.zorder {
		l := d.layers[id]
		contributes := false
		switch l.comp {
		case types.CompositionClient:
			contributes = d.targetSet
		case types.CompositionDevice, types.CompositionCursor:
			contributes = l.bufferSet
			if l.bufferSet {
				f.acquires = append(f.acquires, l.acquire)
				l.acquire = nil
			}
		}
		l.bufferSet = false
		if !contributes {
			continue
		}

		s, rf, err := fence.NewPair()
		if err != nil {
			log.Errorf("virtual: release fence: %v", err)
			continue
		}
		f.releases = append(f.releases, s)
		d.releases[id].Close()
		d.releases[id] = rf
	}

	d.targetSet = false
	d.validated = false
	d.hasPresented = true
	d.scanout <- f

	return presentFence, nil
}
