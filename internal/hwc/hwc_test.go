package hwc

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/matjam/hwcsession/internal/fence"
	"github.com/matjam/hwcsession/internal/hal"
	"github.com/matjam/hwcsession/internal/hal/virtual"
	"github.com/matjam/hwcsession/internal/types"
)

var testMode = virtual.Mode{Width: 320, Height: 240, RefreshRate: 120, DpiX: 160, DpiY: 160}

func newSession(t *testing.T, opts ...Option) (*Device, *virtual.Composer) {
	t.Helper()
	vc := virtual.New(virtual.DefaultOptions())
	dev := NewDevice(vc, false, opts...)
	dev.RegisterCallback(nil, 0)
	t.Cleanup(func() { dev.Close() })
	return dev, vc
}

func connect(t *testing.T, dev *Device, vc *virtual.Composer, id hal.DisplayID, active int) *Display {
	t.Helper()
	vc.Connect(id, virtual.DisplaySpec{Primary: id == 0, Modes: []virtual.Mode{testMode}, ActiveMode: active})
	disp, err := dev.WaitForDisplay(context.Background(), id, 2*time.Second)
	if err != nil {
		t.Fatalf("display %d did not appear: %v", id, err)
	}
	return disp
}

func newBuffer() *types.Buffer {
	return types.NewBuffer(320, 240, types.PixelFormatRGBA8888)
}

func TestHotplugNetEffect(t *testing.T) {
	dev, _ := newSession(t)
	want := map[hal.DisplayID]bool{}

	for i := 0; i < 500; i++ {
		id := hal.DisplayID(rand.IntN(4))
		conn := types.Connected
		if rand.IntN(2) == 0 {
			conn = types.Disconnected
		}
		dev.OnHotplug(id, conn)
		if conn == types.Connected {
			want[id] = true
		} else {
			delete(want, id)
		}
	}

	got := dev.Displays()
	if len(got) != len(want) {
		t.Fatalf("got %d displays, want %d", len(got), len(want))
	}
	for _, d := range got {
		if !want[d.ID()] {
			t.Errorf("unexpected display %d", d.ID())
		}
	}
}

func TestDuplicateHotplugIsNoop(t *testing.T) {
	dev, _ := newSession(t)

	dev.OnHotplug(3, types.Connected)
	first, _ := dev.GetDisplayByID(3)
	dev.OnHotplug(3, types.Connected)
	second, _ := dev.GetDisplayByID(3)
	if first != second {
		t.Fatal("duplicate connect replaced the display")
	}

	v := dev.Version()
	dev.OnHotplug(7, types.Disconnected)
	if dev.Version() != v {
		t.Fatal("disconnect of unknown display changed the display set")
	}
}

func TestWaitForDisplayStress(t *testing.T) {
	dev, vc := newSession(t)

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id hal.DisplayID) {
			defer wg.Done()
			time.Sleep(time.Duration(rand.IntN(2000)) * time.Microsecond)
			disp, err := dev.WaitForDisplay(context.Background(), id, 5*time.Second)
			if err != nil {
				errs <- err
				return
			}
			if got, ok := dev.GetDisplayByID(id); !ok || got != disp {
				errs <- errors.New("display not visible after wake")
			}
		}(hal.DisplayID(i))
	}

	for _, i := range rand.Perm(n) {
		time.Sleep(time.Duration(rand.IntN(500)) * time.Microsecond)
		vc.Connect(hal.DisplayID(i), virtual.DisplaySpec{Modes: []virtual.Mode{testMode}})
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestWaitForDisplayTimeout(t *testing.T) {
	dev, _ := newSession(t)

	start := time.Now()
	_, err := dev.WaitForDisplay(context.Background(), 9, 30*time.Millisecond)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("got %v, want ErrTransient", err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatal("returned before the timeout")
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)
	if _, err := dev.WaitForDisplay(ctx, 9, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestStaleSequenceIgnored(t *testing.T) {
	vc := virtual.New(virtual.DefaultOptions())
	dev := NewDevice(vc, false)
	defer dev.Close()

	var mu sync.Mutex
	var seen []hal.DisplayID
	dev.RegisterCallback(ListenerFuncs{Hotplug: func(id hal.DisplayID, conn types.Connection, primary bool) {
		mu.Lock()
		seen = append(seen, id)
		mu.Unlock()
	}}, 2)

	cb := halCallback{dev: dev}
	cb.OnHotplug(1, 5, types.Connected, false)
	if _, ok := dev.GetDisplayByID(5); ok {
		t.Fatal("stale hotplug created a display")
	}
	cb.OnHotplug(2, 5, types.Connected, false)
	if _, ok := dev.GetDisplayByID(5); !ok {
		t.Fatal("current hotplug was dropped")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != 5 {
		t.Fatalf("listener saw %v, want [5]", seen)
	}
}

func TestPrimaryOnly(t *testing.T) {
	vc := virtual.New(virtual.DefaultOptions())
	dev := NewDevice(vc, true)
	defer dev.Close()
	dev.RegisterCallback(nil, 0)

	cb := halCallback{dev: dev}
	cb.OnHotplug(0, 1, types.Connected, false)
	cb.OnHotplug(0, 0, types.Connected, true)

	if _, ok := dev.GetDisplayByID(1); ok {
		t.Fatal("external display was added")
	}
	if d, ok := dev.GetDisplayByID(0); !ok || !d.Primary() {
		t.Fatal("primary display missing")
	}
}

func TestSyntheticPrimary(t *testing.T) {
	dev, _ := newSession(t, WithSyntheticPrimary(0))
	d, ok := dev.GetDisplayByID(0)
	if !ok || !d.Primary() {
		t.Fatal("synthetic primary display missing")
	}
}

func TestScenarioFirstFrame(t *testing.T) {
	dev, vc := newSession(t)

	if _, ok := dev.GetDisplayByID(0); ok {
		t.Fatal("display present before hotplug")
	}
	disp := connect(t, dev, vc, 0, virtual.NoActiveMode)

	if n := len(disp.Layers()); n != 0 {
		t.Fatalf("new display has %d layers", n)
	}
	cfg, err := disp.ActiveConfig()
	if err != nil || cfg != nil {
		t.Fatalf("active config: %v, %v; want none", cfg, err)
	}

	layer, err := disp.CreateLayer()
	if err != nil {
		t.Fatal(err)
	}
	if err := disp.SetClientTarget(0, newBuffer(), nil, types.DataspaceSRGB); err != nil {
		t.Fatal(err)
	}

	res, err := disp.Validate()
	if err != nil {
		t.Fatal(err)
	}
	if !res.HasChanges() || res.NumTypes != 1 {
		t.Fatalf("validate: %+v, want one type change", res)
	}
	if err := disp.AcceptChanges(); err != nil {
		t.Fatal(err)
	}

	pf, err := disp.Present()
	if err != nil {
		t.Fatal(err)
	}
	defer pf.Close()
	if err := pf.Wait(time.Second); err != nil {
		t.Fatalf("present fence: %v", err)
	}

	rel, err := disp.ReleaseFences()
	if err != nil {
		t.Fatal(err)
	}
	if len(rel) != 1 || rel[layer] == nil {
		t.Fatalf("release fences %v, want exactly layer %d", rel, layer.ID())
	}
	for _, f := range rel {
		f.Close()
	}
	st := layer.State()
	if st.Effective != types.CompositionClient {
		t.Fatalf("effective composition after accept is %s", st.Effective)
	}
	if st.Composition != types.CompositionInvalid {
		t.Fatalf("requested composition changed to %s by accept", st.Composition)
	}
}

func TestPresentWithoutAccept(t *testing.T) {
	dev, vc := newSession(t)
	disp := connect(t, dev, vc, 0, 0)

	if _, err := disp.CreateLayer(); err != nil {
		t.Fatal(err)
	}
	if _, err := disp.Present(); !errors.Is(err, ErrBadState) {
		t.Fatalf("present from idle: %v", err)
	}

	res, err := disp.Validate()
	if err != nil || !res.HasChanges() {
		t.Fatalf("validate: %+v %v", res, err)
	}
	if _, err := disp.Present(); !errors.Is(err, ErrBadState) {
		t.Fatalf("present with pending changes: got %v, want ErrBadState", err)
	}

	changes, err := disp.ChangedCompositionTypes()
	if err != nil || len(changes) != 1 {
		t.Fatalf("changes %v %v", changes, err)
	}
}

func TestAcceptWithoutChangesIsNoop(t *testing.T) {
	dev, vc := newSession(t)
	disp := connect(t, dev, vc, 0, 0)

	if err := disp.AcceptChanges(); err != nil {
		t.Fatal(err)
	}
	l, _ := disp.CreateLayer()
	l.SetCompositionType(types.CompositionClient)
	if res, err := disp.Validate(); err != nil || res.HasChanges() {
		t.Fatalf("validate: %+v %v", res, err)
	}
	if err := disp.AcceptChanges(); err != nil {
		t.Fatal(err)
	}
	pf, err := disp.Present()
	if err != nil {
		t.Fatal(err)
	}
	pf.Close()
}

func TestReleaseFencesPerLayer(t *testing.T) {
	dev, vc := newSession(t)
	disp := connect(t, dev, vc, 0, 0)

	client, _ := disp.CreateLayer()
	client.SetCompositionType(types.CompositionClient)
	device, _ := disp.CreateLayer()
	device.SetCompositionType(types.CompositionDevice)
	solid, _ := disp.CreateLayer()
	solid.SetCompositionType(types.CompositionSolidColor)

	present := func(target bool) map[*Layer]*fence.Fence {
		t.Helper()
		if target {
			if err := disp.SetClientTarget(0, newBuffer(), nil, types.DataspaceSRGB); err != nil {
				t.Fatal(err)
			}
		}
		if err := device.SetBuffer(0, newBuffer(), nil); err != nil {
			t.Fatal(err)
		}
		if _, err := disp.Validate(); err != nil {
			t.Fatal(err)
		}
		if err := disp.AcceptChanges(); err != nil {
			t.Fatal(err)
		}
		pf, err := disp.Present()
		if err != nil {
			t.Fatal(err)
		}
		pf.Close()
		rel, err := disp.ReleaseFences()
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() {
			for _, f := range rel {
				f.Close()
			}
		})
		return rel
	}

	rel := present(true)
	if len(rel) != 2 || rel[client] == nil || rel[device] == nil {
		t.Fatalf("with target: %d fences, want client and device", len(rel))
	}
	if _, ok := rel[solid]; ok {
		t.Fatal("solid color layer got a release fence")
	}

	rel = present(false)
	if len(rel) != 1 || rel[device] == nil {
		t.Fatalf("without target: %d fences, want device only", len(rel))
	}
}

func TestReleaseFencesBeforePresent(t *testing.T) {
	dev, vc := newSession(t)
	disp := connect(t, dev, vc, 0, 0)
	if _, err := disp.ReleaseFences(); !errors.Is(err, ErrBadState) {
		t.Fatalf("got %v, want ErrBadState", err)
	}
}

func TestFailedPresentEmptiesReleaseFences(t *testing.T) {
	dev, vc := newSession(t)
	disp := connect(t, dev, vc, 0, 0)
	l, _ := disp.CreateLayer()
	l.SetCompositionType(types.CompositionClient)

	frame := func() error {
		disp.SetClientTarget(0, newBuffer(), nil, types.DataspaceSRGB)
		if _, err := disp.Validate(); err != nil {
			return err
		}
		pf, err := disp.Present()
		pf.Close()
		return err
	}

	if err := frame(); err != nil {
		t.Fatal(err)
	}
	vc.InjectError("PresentDisplay", hal.ErrorNoResources)
	err := frame()
	if !errors.Is(err, ErrTransient) || !Retryable(err) {
		t.Fatalf("got %v, want retryable ErrTransient", err)
	}
	if !errors.Is(err, hal.ErrorNoResources) {
		t.Fatalf("%v does not carry the device error", err)
	}

	rel, err := disp.ReleaseFences()
	if err != nil {
		t.Fatal(err)
	}
	if len(rel) != 0 {
		t.Fatalf("failed present left %d release fences", len(rel))
	}
}

func TestClientTargetOrdering(t *testing.T) {
	dev, vc := newSession(t)
	disp := connect(t, dev, vc, 0, 0)
	l, _ := disp.CreateLayer()
	l.SetCompositionType(types.CompositionClient)

	if _, err := disp.Validate(); err != nil {
		t.Fatal(err)
	}
	if err := disp.SetClientTarget(0, newBuffer(), nil, types.DataspaceSRGB); !errors.Is(err, ErrBadState) {
		t.Fatalf("target after validate: got %v, want ErrBadState", err)
	}

	disp.SetCapabilities(Capabilities{LateClientTarget: true})
	if err := disp.SetClientTarget(0, newBuffer(), nil, types.DataspaceSRGB); err != nil {
		t.Fatalf("late target: %v", err)
	}
	pf, err := disp.Present()
	if err != nil {
		t.Fatal(err)
	}
	pf.Close()
	rel, _ := disp.ReleaseFences()
	if rel[l] == nil {
		t.Fatal("late target produced no release fence")
	}
	rel[l].Close()
}

func TestLayerStateRoundTrip(t *testing.T) {
	dev, vc := newSession(t)
	disp := connect(t, dev, vc, 0, 0)
	l, _ := disp.CreateLayer()

	want := LayerState{
		Composition:   types.CompositionClient,
		Effective:     types.CompositionClient,
		BlendMode:     types.BlendModePremultiplied,
		Color:         types.Color{R: 10, G: 20, B: 30, A: 255},
		Dataspace:     types.DataspaceDisplayP3,
		DisplayFrame:  types.Rect{Right: 320, Bottom: 240},
		PlaneAlpha:    0.5,
		SourceCrop:    types.FRect{Right: 320, Bottom: 240},
		Transform:     types.TransformRot180,
		VisibleRegion: types.Rect{Right: 100, Bottom: 100},
	}
	for _, err := range []error{
		l.SetCompositionType(want.Composition),
		l.SetBlendMode(want.BlendMode),
		l.SetColor(want.Color),
		l.SetDataspace(want.Dataspace),
		l.SetDisplayFrame(want.DisplayFrame),
		l.SetPlaneAlpha(want.PlaneAlpha),
		l.SetSourceCrop(want.SourceCrop),
		l.SetTransform(want.Transform),
		l.SetVisibleRegion(want.VisibleRegion),
	} {
		if err != nil {
			t.Fatal(err)
		}
	}

	disp.SetClientTarget(0, newBuffer(), nil, types.DataspaceSRGB)
	if _, err := disp.Validate(); err != nil {
		t.Fatal(err)
	}
	pf, err := disp.Present()
	if err != nil {
		t.Fatal(err)
	}
	pf.Close()

	if got := l.State(); got != want {
		t.Fatalf("state %+v, want %+v", got, want)
	}
}

func TestLayerRejectedValue(t *testing.T) {
	dev, vc := newSession(t)
	disp := connect(t, dev, vc, 0, 0)
	l, _ := disp.CreateLayer()

	err := l.SetPlaneAlpha(2)
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("got %v, want ErrUnsupported", err)
	}
	if l.State().PlaneAlpha != 1 {
		t.Fatal("rejected value was recorded")
	}
}

func TestAttributeChangeRequiresValidate(t *testing.T) {
	dev, vc := newSession(t)
	disp := connect(t, dev, vc, 0, 0)
	l, _ := disp.CreateLayer()
	l.SetCompositionType(types.CompositionClient)

	if _, err := disp.Validate(); err != nil {
		t.Fatal(err)
	}
	l.SetPlaneAlpha(0.25)
	if _, err := disp.Present(); !errors.Is(err, ErrBadState) {
		t.Fatalf("present after attribute change: %v", err)
	}
}

func TestDisconnectInvalidatesDisplay(t *testing.T) {
	dev, vc := newSession(t)
	disp := connect(t, dev, vc, 0, 0)
	l, _ := disp.CreateLayer()
	l.SetCompositionType(types.CompositionClient)

	if _, err := disp.Validate(); err != nil {
		t.Fatal(err)
	}

	vc.Disconnect(0)
	deadline := time.Now().Add(2 * time.Second)
	for disp.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("display still connected")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := disp.Present(); !errors.Is(err, ErrFatal) {
		t.Fatalf("present after disconnect: %v", err)
	}
	if err := l.SetColor(types.Color{}); !errors.Is(err, ErrFatal) {
		t.Fatalf("layer after disconnect: %v", err)
	}
	if l.Valid() {
		t.Fatal("layer still valid")
	}
	if n := len(disp.Layers()); n != 0 {
		t.Fatalf("%d layers survived the disconnect", n)
	}
	if _, ok := dev.GetDisplayByID(0); ok {
		t.Fatal("display still known to device")
	}
}

func TestStaleDisconnectDropsDisplayOnBadDisplay(t *testing.T) {
	vc := virtual.New(virtual.DefaultOptions())
	dev := NewDevice(vc, false)
	t.Cleanup(func() { dev.Close() })

	parked := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	dev.RegisterCallback(ListenerFuncs{Refresh: func(hal.DisplayID) {
		once.Do(func() {
			close(parked)
			<-release
		})
	}}, 1)
	disp := connect(t, dev, vc, 0, 0)
	l, _ := disp.CreateLayer()

	// hold the event goroutine so the disconnect is still queued under
	// sequence 1 when sequence 2 takes over
	vc.Refresh(0)
	<-parked
	vc.Disconnect(0)
	dev.RegisterCallback(nil, 2)
	close(release)

	if _, err := disp.ActiveConfig(); !errors.Is(err, ErrFatal) {
		t.Fatalf("got %v, want ErrFatal", err)
	}
	if _, ok := dev.GetDisplayByID(0); ok {
		t.Fatal("display still mapped after the composer dropped it")
	}
	if disp.Connected() || l.Valid() {
		t.Fatal("display or layer still valid")
	}
	if _, err := dev.WaitForDisplay(context.Background(), 0, 50*time.Millisecond); !errors.Is(err, ErrTransient) {
		t.Fatalf("WaitForDisplay: %v, want ErrTransient", err)
	}

	again := connect(t, dev, vc, 0, 0)
	if again == disp || !again.Connected() {
		t.Fatal("reconnect did not produce a fresh display")
	}
}

func TestDestroyedLayer(t *testing.T) {
	dev, vc := newSession(t)
	disp := connect(t, dev, vc, 0, 0)
	l, _ := disp.CreateLayer()

	if err := disp.DestroyLayer(l); err != nil {
		t.Fatal(err)
	}
	if err := l.SetColor(types.Color{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if err := disp.DestroyLayer(l); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double destroy: %v", err)
	}
}

func TestConfigs(t *testing.T) {
	vc := virtual.New(virtual.DefaultOptions())
	dev := NewDevice(vc, false)
	defer dev.Close()
	dev.RegisterCallback(nil, 0)

	vc.Connect(0, virtual.DisplaySpec{Modes: []virtual.Mode{testMode, {Width: 1920, Height: 1080, RefreshRate: 60}}})
	disp, err := dev.WaitForDisplay(context.Background(), 0, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	configs, err := disp.Configs()
	if err != nil || len(configs) != 2 {
		t.Fatalf("configs %v %v", configs, err)
	}
	active, err := disp.ActiveConfig()
	if err != nil || active == nil || active.Width != 320 {
		t.Fatalf("active %v %v", active, err)
	}
	if err := disp.SetActiveConfig(configs[1]); err != nil {
		t.Fatal(err)
	}
	active, _ = disp.ActiveConfig()
	if active.Width != 1920 || active.VsyncPeriod != time.Second/60 {
		t.Fatalf("active after switch %v", active)
	}
	if err := disp.SetActiveConfig(&Config{ID: 0, Display: 42}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign config: %v", err)
	}
}

func TestPresentOrValidate(t *testing.T) {
	dev, vc := newSession(t)
	disp := connect(t, dev, vc, 0, 0)
	l, _ := disp.CreateLayer()

	res, err := disp.PresentOrValidate()
	if err != nil || res.Presented || !res.Validate.HasChanges() {
		t.Fatalf("first frame: %+v %v", res, err)
	}
	if err := disp.AcceptChanges(); err != nil {
		t.Fatal(err)
	}
	pf, err := disp.Present()
	if err != nil {
		t.Fatal(err)
	}
	pf.Close()

	res, err = disp.PresentOrValidate()
	if err != nil || !res.Presented {
		t.Fatalf("unchanged frame: %+v %v", res, err)
	}
	res.PresentFence.Close()
	if disp.Frames() != 2 {
		t.Fatalf("frames %d, want 2", disp.Frames())
	}
	if l.State().Effective != types.CompositionClient {
		t.Fatal("accepted composition not recorded")
	}
}

func TestPresentOrValidateRejectsUnacceptedChanges(t *testing.T) {
	dev, vc := newSession(t)
	disp := connect(t, dev, vc, 0, 0)
	l, _ := disp.CreateLayer()
	if err := l.SetCompositionType(types.CompositionClient); err != nil {
		t.Fatal(err)
	}

	if _, err := disp.Validate(); err != nil {
		t.Fatal(err)
	}
	if err := disp.AcceptChanges(); err != nil {
		t.Fatal(err)
	}
	pf, err := disp.Present()
	if err != nil {
		t.Fatal(err)
	}
	pf.Close()

	// a device layer without a buffer falls back to client
	if err := l.SetCompositionType(types.CompositionDevice); err != nil {
		t.Fatal(err)
	}
	res, err := disp.Validate()
	if err != nil || !res.HasChanges() {
		t.Fatalf("validate: %+v %v, want changes", res, err)
	}

	pov, err := disp.PresentOrValidate()
	if !errors.Is(err, ErrBadState) {
		t.Fatalf("got %+v %v, want ErrBadState", pov, err)
	}
	if pov.Presented {
		t.Fatal("presented unaccepted changes")
	}
	if disp.Frames() != 1 {
		t.Fatalf("frames %d, want 1", disp.Frames())
	}

	if err := disp.AcceptChanges(); err != nil {
		t.Fatal(err)
	}
	st := l.State()
	if st.Composition != types.CompositionDevice || st.Effective != types.CompositionClient {
		t.Fatalf("state %s/%s, want device requested and client effective", st.Composition, st.Effective)
	}
	pf, err = disp.Present()
	if err != nil {
		t.Fatal(err)
	}
	pf.Close()
}

func TestListenerReceivesVsync(t *testing.T) {
	vc := virtual.New(virtual.DefaultOptions())
	dev := NewDevice(vc, false)
	defer dev.Close()

	vsyncs := make(chan hal.DisplayID, 64)
	dev.RegisterCallback(ListenerFuncs{Vsync: func(id hal.DisplayID, ts int64) {
		select {
		case vsyncs <- id:
		default:
		}
	}}, 1)

	disp := connect(t, dev, vc, 0, 0)
	disp.SetPowerMode(types.PowerModeOn)
	if err := disp.SetVsyncEnabled(true); err != nil {
		t.Fatal(err)
	}
	select {
	case <-vsyncs:
	case <-time.After(time.Second):
		t.Fatal("no vsync delivered")
	}
}

func TestWrapHAL(t *testing.T) {
	tests := []struct {
		code hal.Error
		kind error
	}{
		{hal.ErrorBadDisplay, ErrFatal},
		{hal.ErrorBadLayer, ErrFatal},
		{hal.ErrorBadConfig, ErrNotFound},
		{hal.ErrorBadParameter, ErrUnsupported},
		{hal.ErrorUnsupported, ErrUnsupported},
		{hal.ErrorNoResources, ErrTransient},
		{hal.ErrorNotValidated, ErrBadState},
	}
	for _, tt := range tests {
		err := wrapHAL("op", 0, tt.code)
		if !errors.Is(err, tt.kind) || !errors.Is(err, tt.code) {
			t.Errorf("%s: got %v, want kind %v", tt.code, err, tt.kind)
		}
	}
	if wrapHAL("op", 0, nil) != nil {
		t.Error("nil error was wrapped")
	}
}
