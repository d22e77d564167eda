package virtual

import (
	"errors"
	"testing"
	"time"

	"github.com/matjam/hwcsession/internal/fence"
	"github.com/matjam/hwcsession/internal/hal"
	"github.com/matjam/hwcsession/internal/types"
)

type hotplug struct {
	seq     int32
	display hal.DisplayID
	conn    types.Connection
}

type recorder struct {
	hotplugs chan hotplug
	vsyncs   chan hal.DisplayID
	refresh  chan hal.DisplayID
}

func newRecorder() *recorder {
	return &recorder{
		hotplugs: make(chan hotplug, 16),
		vsyncs:   make(chan hal.DisplayID, 256),
		refresh:  make(chan hal.DisplayID, 16),
	}
}

func (r *recorder) OnVsync(seq int32, d hal.DisplayID, ts int64) {
	select {
	case r.vsyncs <- d:
	default:
	}
}

func (r *recorder) OnHotplug(seq int32, d hal.DisplayID, conn types.Connection, primary bool) {
	r.hotplugs <- hotplug{seq, d, conn}
}

func (r *recorder) OnRefresh(seq int32, d hal.DisplayID) { r.refresh <- d }

func (r *recorder) nextHotplug(t *testing.T) hotplug {
	t.Helper()
	select {
	case h := <-r.hotplugs:
		return h
	case <-time.After(2 * time.Second):
		t.Fatalf("no hotplug event")
		return hotplug{}
	}
}

var testMode = Mode{Width: 640, Height: 480, RefreshRate: 120, DpiX: 96, DpiY: 96}

func newComposer(t *testing.T) *Composer {
	t.Helper()
	c := New(DefaultOptions())
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRegisterReplaysConnectedDisplays(t *testing.T) {
	c := newComposer(t)
	c.Connect(0, DisplaySpec{Primary: true, Modes: []Mode{testMode}})
	c.Connect(1, DisplaySpec{Modes: []Mode{testMode}})

	r := newRecorder()
	c.RegisterCallback(r, 7)

	for _, want := range []hal.DisplayID{0, 1} {
		h := r.nextHotplug(t)
		if h.display != want || h.conn != types.Connected || h.seq != 7 {
			t.Fatalf("got %+v, want connect of %d with seq 7", h, want)
		}
	}

	c.Disconnect(1)
	if h := r.nextHotplug(t); h.display != 1 || h.conn != types.Disconnected {
		t.Fatalf("got %+v, want disconnect of 1", h)
	}
}

func TestConfigs(t *testing.T) {
	c := newComposer(t)
	c.Connect(0, DisplaySpec{Modes: []Mode{testMode, {Width: 320, Height: 240, RefreshRate: 60}}, ActiveMode: NoActiveMode})

	if _, err := c.GetActiveConfig(0); !errors.Is(err, hal.ErrorBadConfig) {
		t.Fatalf("active config: got %v, want BadConfig", err)
	}
	ids, err := c.GetDisplayConfigs(0)
	if err != nil || len(ids) != 2 {
		t.Fatalf("configs: %v %v", ids, err)
	}
	attrs, err := c.GetDisplayAttributes(0, ids[1])
	if err != nil {
		t.Fatal(err)
	}
	if attrs.Width != 320 || attrs.VsyncPeriod != int64(time.Second/60) {
		t.Fatalf("unexpected attributes %+v", attrs)
	}
	if err := c.SetActiveConfig(0, 5); !errors.Is(err, hal.ErrorBadConfig) {
		t.Fatalf("set bad config: %v", err)
	}
	if err := c.SetActiveConfig(0, ids[1]); err != nil {
		t.Fatal(err)
	}
	if got, _ := c.GetActiveConfig(0); got != ids[1] {
		t.Fatalf("active config %d, want %d", got, ids[1])
	}
}

func TestValidateFallsBackToClient(t *testing.T) {
	opts := DefaultOptions()
	opts.OverlayPlanes = 1
	c := New(opts)
	defer c.Close()
	c.Connect(0, DisplaySpec{Modes: []Mode{testMode}})

	a, _ := c.CreateLayer(0)
	b, _ := c.CreateLayer(0)
	for _, l := range []hal.LayerID{a, b} {
		if err := c.SetLayerCompositionType(0, l, types.CompositionDevice); err != nil {
			t.Fatal(err)
		}
		if err := c.SetLayerBuffer(0, l, 0, types.NewBuffer(4, 4, types.PixelFormatRGBA8888), nil); err != nil {
			t.Fatal(err)
		}
	}

	numTypes, _, err := c.ValidateDisplay(0)
	if !errors.Is(err, hal.ErrorHasChanges) || numTypes != 1 {
		t.Fatalf("validate: %d %v", numTypes, err)
	}
	changes, err := c.GetChangedCompositionTypes(0)
	if err != nil {
		t.Fatal(err)
	}
	if changes[b] != types.CompositionClient {
		t.Fatalf("changes %v, want layer %d to client", changes, b)
	}

	if _, err := c.PresentDisplay(0); !errors.Is(err, hal.ErrorNotValidated) {
		t.Fatalf("present before accept: %v", err)
	}
	if err := c.AcceptDisplayChanges(0); err != nil {
		t.Fatal(err)
	}
	pf, err := c.PresentDisplay(0)
	if err != nil {
		t.Fatal(err)
	}
	defer pf.Close()
	if err := pf.Wait(time.Second); err != nil {
		t.Fatalf("present fence: %v", err)
	}
}

func TestReleaseFenceSignalsOnNextFrame(t *testing.T) {
	c := newComposer(t)
	c.Connect(0, DisplaySpec{Modes: []Mode{testMode}})
	if err := c.SetPowerMode(0, types.PowerModeOn); err != nil {
		t.Fatal(err)
	}
	l, _ := c.CreateLayer(0)

	frame := func() (*fence.Fence, *fence.Fence) {
		t.Helper()
		if err := c.SetClientTarget(0, 0, types.NewBuffer(4, 4, types.PixelFormatRGBA8888), nil, types.DataspaceSRGB); err != nil {
			t.Fatal(err)
		}
		if _, _, err := c.ValidateDisplay(0); err != nil && !errors.Is(err, hal.ErrorHasChanges) {
			t.Fatal(err)
		}
		if err := c.AcceptDisplayChanges(0); err != nil {
			t.Fatal(err)
		}
		pf, err := c.PresentDisplay(0)
		if err != nil {
			t.Fatal(err)
		}
		rel, err := c.GetReleaseFences(0)
		if err != nil {
			t.Fatal(err)
		}
		if len(rel) != 1 || rel[l] == nil {
			t.Fatalf("release fences %v, want one for layer %d", rel, l)
		}
		return pf, rel[l]
	}

	pf1, rf1 := frame()
	defer pf1.Close()
	defer rf1.Close()
	if err := pf1.Wait(time.Second); err != nil {
		t.Fatal(err)
	}
	if err := rf1.Wait(20 * time.Millisecond); !errors.Is(err, fence.ErrTimeout) {
		t.Fatalf("release fence of on-screen frame: %v", err)
	}

	pf2, rf2 := frame()
	defer pf2.Close()
	defer rf2.Close()
	if err := rf1.Wait(time.Second); err != nil {
		t.Fatalf("release after next frame: %v", err)
	}
	if c.Frames(0) < 1 {
		t.Fatal("no frames latched")
	}

	c.Disconnect(0)
	if err := rf2.Wait(time.Second); err != nil {
		t.Fatalf("release after disconnect: %v", err)
	}
}

func TestPresentOrValidate(t *testing.T) {
	c := newComposer(t)
	c.Connect(0, DisplaySpec{Modes: []Mode{testMode}})
	l, _ := c.CreateLayer(0)
	c.SetLayerCompositionType(0, l, types.CompositionClient)

	state, _, _, _, err := c.PresentOrValidateDisplay(0)
	if err != nil || state != hal.StateValidated {
		t.Fatalf("first frame: %v %v", state, err)
	}
	pf, err := c.PresentDisplay(0)
	if err != nil {
		t.Fatal(err)
	}
	pf.Close()

	state, _, _, pf, err = c.PresentOrValidateDisplay(0)
	if err != nil || state != hal.StatePresented {
		t.Fatalf("unchanged frame: %v %v", state, err)
	}
	pf.Close()

	c.SetLayerPlaneAlpha(0, l, 0.5)
	state, _, _, _, err = c.PresentOrValidateDisplay(0)
	if err != nil || state != hal.StateValidated {
		t.Fatalf("changed frame: %v %v", state, err)
	}
}

func TestPresentOrValidateKeepsPendingChanges(t *testing.T) {
	c := newComposer(t)
	c.Connect(0, DisplaySpec{Modes: []Mode{testMode}})
	l, _ := c.CreateLayer(0)
	c.SetLayerCompositionType(0, l, types.CompositionClient)
	if _, _, err := c.ValidateDisplay(0); err != nil {
		t.Fatal(err)
	}
	pf, err := c.PresentDisplay(0)
	if err != nil {
		t.Fatal(err)
	}
	pf.Close()

	c.SetLayerCompositionType(0, l, types.CompositionDevice)
	if _, _, err := c.ValidateDisplay(0); !errors.Is(err, hal.ErrorHasChanges) {
		t.Fatalf("got %v, want has-changes", err)
	}

	state, numTypes, _, pf, err := c.PresentOrValidateDisplay(0)
	if state != hal.StateValidated || numTypes != 1 || !errors.Is(err, hal.ErrorHasChanges) {
		t.Fatalf("got %v %d %v, want a fresh validation", state, numTypes, err)
	}
	if pf != nil {
		t.Fatal("presented unaccepted changes")
	}
}

func TestLayerSetterValidation(t *testing.T) {
	c := newComposer(t)
	c.Connect(0, DisplaySpec{Modes: []Mode{testMode}})
	l, _ := c.CreateLayer(0)

	tests := []struct {
		name string
		err  error
		want hal.Error
	}{
		{"alpha", c.SetLayerPlaneAlpha(0, l, 1.5), hal.ErrorBadParameter},
		{"transform", c.SetLayerTransform(0, l, types.Transform(9)), hal.ErrorBadParameter},
		{"blend", c.SetLayerBlendMode(0, l, types.BlendModeInvalid), hal.ErrorBadParameter},
		{"dataspace", c.SetLayerDataspace(0, l, types.Dataspace(42)), hal.ErrorUnsupported},
		{"sideband", c.SetLayerSidebandStream(0, l, nil), hal.ErrorBadParameter},
		{"frame", c.SetLayerDisplayFrame(0, l, types.Rect{Left: 10, Right: 0}), hal.ErrorBadParameter},
		{"layer", c.SetLayerColor(0, l+100, types.Color{}), hal.ErrorBadLayer},
		{"display", c.SetLayerColor(9, l, types.Color{}), hal.ErrorBadDisplay},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.want) {
			t.Errorf("%s: got %v, want %v", tt.name, tt.err, tt.want)
		}
	}
}

func TestInjectError(t *testing.T) {
	c := newComposer(t)
	c.Connect(0, DisplaySpec{Modes: []Mode{testMode}})
	c.InjectError("SetPowerMode", hal.ErrorNoResources)

	if err := c.SetPowerMode(0, types.PowerModeOn); !errors.Is(err, hal.ErrorNoResources) {
		t.Fatalf("got %v, want injected NoResources", err)
	}
	if err := c.SetPowerMode(0, types.PowerModeOn); err != nil {
		t.Fatalf("fault should fire once: %v", err)
	}
}

func TestVsyncAndRefresh(t *testing.T) {
	c := newComposer(t)
	c.Connect(0, DisplaySpec{Modes: []Mode{testMode}})
	r := newRecorder()
	c.RegisterCallback(r, 1)
	r.nextHotplug(t)

	c.SetPowerMode(0, types.PowerModeOn)
	c.SetVsyncEnabled(0, true)
	select {
	case d := <-r.vsyncs:
		if d != 0 {
			t.Fatalf("vsync for display %d", d)
		}
	case <-time.After(time.Second):
		t.Fatal("no vsync")
	}

	c.Refresh(0)
	select {
	case <-r.refresh:
	case <-time.After(time.Second):
		t.Fatal("no refresh")
	}
}
