package ipc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/matjam/hwcsession/internal/hal"
	"github.com/matjam/hwcsession/internal/hal/virtual"
	"github.com/matjam/hwcsession/internal/hwc"
	"github.com/matjam/hwcsession/internal/pattern"
	"github.com/matjam/hwcsession/internal/present"
	"github.com/matjam/hwcsession/internal/scene"
	"github.com/matjam/hwcsession/internal/types"
	"github.com/spf13/viper"
)

// attachPoll is how long a single WaitForDisplay call blocks before the run
// loop looks at its command queue again.
const attachPoll = 100 * time.Millisecond

type VirtualSettings struct {
	Width         int32
	Height        int32
	RefreshRate   float64
	Dpi           float32
	OverlayPlanes int
	CursorPlane   bool
	Displays      int
}

type Settings struct {
	Backend           string
	DisplayID         hal.DisplayID
	PrimaryOnly       bool
	WaitTimeout       time.Duration
	PowerMode         types.PowerMode
	Vsync             bool
	FramerateLimit    int
	BufferCount       int
	FenceTimeout      time.Duration
	PresentWait       bool
	PresentOrValidate bool
	LateClientTarget  bool
	Scene             string
	Virtual           VirtualSettings
}

// SettingsFromViper reads the daemon settings from the loaded configuration.
func SettingsFromViper() (Settings, error) {
	power, err := types.ParsePowerMode(viper.GetString("power_mode"))
	if err != nil {
		return Settings{}, fmt.Errorf("power_mode: %w", err)
	}
	s := Settings{
		Backend:           viper.GetString("backend"),
		DisplayID:         hal.DisplayID(viper.GetUint64("display_id")),
		PrimaryOnly:       viper.GetBool("primary_only"),
		WaitTimeout:       viper.GetDuration("wait_timeout"),
		PowerMode:         power,
		Vsync:             viper.GetBool("vsync"),
		FramerateLimit:    viper.GetInt("framerate_limit"),
		BufferCount:       viper.GetInt("buffer_count"),
		FenceTimeout:      viper.GetDuration("fence_timeout"),
		PresentWait:       viper.GetBool("present_wait"),
		PresentOrValidate: viper.GetBool("present_or_validate"),
		LateClientTarget:  viper.GetBool("late_client_target"),
		Scene:             viper.GetString("scene"),
		Virtual: VirtualSettings{
			Width:         viper.GetInt32("virtual.width"),
			Height:        viper.GetInt32("virtual.height"),
			RefreshRate:   viper.GetFloat64("virtual.refresh_rate"),
			Dpi:           float32(viper.GetFloat64("virtual.dpi")),
			OverlayPlanes: viper.GetInt("virtual.overlay_planes"),
			CursorPlane:   viper.GetBool("virtual.cursor_plane"),
			Displays:      viper.GetInt("virtual.displays"),
		},
	}
	if s.Backend != "virtual" {
		return Settings{}, fmt.Errorf("backend %q is not supported", s.Backend)
	}
	if s.BufferCount < 1 {
		return Settings{}, fmt.Errorf("buffer_count must be at least 1, got %d", s.BufferCount)
	}
	return s, nil
}

// Manager owns the composition device and drives frames on one display
// until it is stopped.
type Manager struct {
	sync.Mutex

	id       string
	started  time.Time
	settings Settings
	scene    *scene.Scene

	vc   *virtual.Composer
	dev  *hwc.Device
	seq  int32
	cmds chan Command
	// refresh asks the run loop for a frame outside the frame rate limit.
	refresh chan struct{}

	// Owned by the run loop.
	session *present.Session
	rings   *pattern.Rings
	layers  []*hwc.Layer
	ticker  *time.Ticker

	attached  bool
	presented uint64
	skipped   uint64
	failed    uint64
	resyncs   uint64
	vsyncs    map[hal.DisplayID]uint64
}

// NewManager connects the virtual displays and registers for their events.
func NewManager(s Settings) (*Manager, error) {
	sc := scene.Default()
	if s.Scene != "" {
		var err error
		if sc, err = scene.Load(s.Scene); err != nil {
			return nil, err
		}
	}

	vc := virtual.New(virtual.Options{
		OverlayPlanes:  s.Virtual.OverlayPlanes,
		CursorPlane:    s.Virtual.CursorPlane,
		AcquireTimeout: s.FenceTimeout,
	})

	m := &Manager{
		id:       uuid.NewString(),
		started:  time.Now(),
		settings: s,
		scene:    sc,
		vc:       vc,
		dev:      hwc.NewDevice(vc, s.PrimaryOnly),
		cmds:     make(chan Command, 8),
		refresh:  make(chan struct{}, 1),
		vsyncs:   make(map[hal.DisplayID]uint64),
	}

	m.register()
	for i := 0; i < s.Virtual.Displays; i++ {
		vc.Connect(hal.DisplayID(i), m.displaySpec(hal.DisplayID(i)))
	}
	return m, nil
}

func (m *Manager) ID() string { return m.id }

func (m *Manager) displaySpec(id hal.DisplayID) virtual.DisplaySpec {
	v := m.settings.Virtual
	mode := virtual.Mode{Width: v.Width, Height: v.Height, RefreshRate: v.RefreshRate, DpiX: v.Dpi, DpiY: v.Dpi}
	half := mode
	half.RefreshRate = v.RefreshRate / 2
	return virtual.DisplaySpec{
		Primary:    id == 0,
		Modes:      []virtual.Mode{mode, half},
		ActiveMode: 0,
	}
}

// register subscribes with a fresh sequence id. The device replays every
// connected display, so this also resynchronises the display set.
func (m *Manager) register() {
	m.seq++
	m.dev.RegisterCallback(hwc.ListenerFuncs{
		Vsync: func(id hal.DisplayID, _ int64) {
			m.Lock()
			m.vsyncs[id]++
			m.Unlock()
		},
		Hotplug: func(id hal.DisplayID, conn types.Connection, _ bool) {
			if conn == types.Disconnected {
				m.Lock()
				delete(m.vsyncs, id)
				m.Unlock()
			}
		},
		Refresh: func(id hal.DisplayID) {
			if id != m.settings.DisplayID {
				return
			}
			select {
			case m.refresh <- struct{}{}:
			default:
			}
		},
	}, m.seq)
}

func (m *Manager) EnqueueCommand(cmd Command) {
	m.cmds <- cmd
}

// Stop asks the run loop to exit.
func (m *Manager) Stop() {
	select {
	case m.cmds <- Command{Type: CommandStop}:
	default:
	}
}

// Run drives frames until ctx is done or a stop command arrives.
func (m *Manager) Run(ctx context.Context) error {
	log.Infof("Session %s driving display %d", m.id, m.settings.DisplayID)

	waiting := time.Now()
	running := true
	for running {
		if !m.isAttached() {
			start := time.Now()
			err := m.attach(ctx)
			switch {
			case err == nil:
				log.Infof("Display %d attached", m.settings.DisplayID)
			case ctx.Err() != nil:
				running = false
				continue
			case errors.Is(err, hwc.ErrTransient):
				if time.Since(waiting) >= m.settings.WaitTimeout {
					log.Warnf("Display %d not available after %v, still waiting", m.settings.DisplayID, m.settings.WaitTimeout)
					waiting = time.Now()
				}
				running = m.drain()
				if running {
					backoff(ctx, attachPoll-time.Since(start))
				}
				continue
			default:
				m.shutdown()
				return err
			}
		}

		select {
		case cmd := <-m.cmds:
			running = m.handle(cmd)
		case <-m.refresh:
			m.frame(ctx)
		case <-m.ticker.C:
			m.frame(ctx)
		case <-ctx.Done():
			running = false
		}

		if !m.isAttached() {
			waiting = time.Now()
		}
	}

	m.shutdown()
	log.Infof("Session %s stopped", m.id)
	return nil
}

// backoff sleeps for d unless ctx ends first.
func backoff(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// drain handles queued commands without blocking.
func (m *Manager) drain() bool {
	for {
		select {
		case cmd := <-m.cmds:
			if !m.handle(cmd) {
				return false
			}
		default:
			return true
		}
	}
}

func (m *Manager) isAttached() bool {
	m.Lock()
	defer m.Unlock()
	return m.attached
}

// attach waits briefly for the display and builds a presentation session on it.
func (m *Manager) attach(ctx context.Context) error {
	disp, err := m.dev.WaitForDisplay(ctx, m.settings.DisplayID, attachPoll)
	if err != nil {
		return err
	}

	cfg, err := disp.ActiveConfig()
	if err != nil {
		return m.attachFailed(err)
	}
	if cfg == nil {
		configs, err := disp.Configs()
		if err != nil {
			return m.attachFailed(err)
		}
		if len(configs) == 0 {
			return fmt.Errorf("display %d has no configurations", disp.ID())
		}
		cfg = configs[0]
		if err := disp.SetActiveConfig(cfg); err != nil {
			return m.attachFailed(err)
		}
	}
	log.Infof("Display %d mode %v", disp.ID(), cfg)

	disp.SetCapabilities(hwc.Capabilities{LateClientTarget: m.settings.LateClientTarget})
	if err := disp.SetPowerMode(m.settings.PowerMode); err != nil {
		return m.attachFailed(err)
	}
	if err := disp.SetVsyncEnabled(m.settings.Vsync); err != nil {
		return m.attachFailed(err)
	}

	layers, err := m.scene.Apply(disp, cfg.Width, cfg.Height)
	if err != nil {
		return m.attachFailed(err)
	}
	target := clientLayer(layers)
	if target == nil {
		for _, l := range layers {
			disp.DestroyLayer(l)
		}
		return errors.New("scene has no client-composed layer to draw into")
	}

	queue := present.NewBufferQueue(m.settings.BufferCount, int(cfg.Width), int(cfg.Height), types.PixelFormatRGBA8888)
	opts := present.DefaultOptions()
	opts.FenceTimeout = m.settings.FenceTimeout
	opts.PresentWait = m.settings.PresentWait
	opts.PresentOrValidate = m.settings.PresentOrValidate

	period := cfg.VsyncPeriod
	if m.settings.FramerateLimit > 0 {
		period = time.Second / time.Duration(m.settings.FramerateLimit)
	}
	if period <= 0 {
		period = time.Second / 60
	}

	m.Lock()
	m.session = present.NewSession(disp, target, queue, opts)
	m.rings = pattern.NewRings(int(cfg.Width), int(cfg.Height))
	m.layers = layers
	m.ticker = time.NewTicker(period)
	m.attached = true
	m.Unlock()
	return nil
}

// attachFailed turns a display that vanished mid-setup into "not yet".
func (m *Manager) attachFailed(err error) error {
	if errors.Is(err, hwc.ErrFatal) {
		return fmt.Errorf("%w: %w", hwc.ErrTransient, err)
	}
	return err
}

func clientLayer(layers []*hwc.Layer) *hwc.Layer {
	for _, l := range layers {
		if l.State().Composition == types.CompositionClient {
			return l
		}
	}
	return nil
}

func (m *Manager) frame(ctx context.Context) {
	res, err := m.session.PresentFrame(ctx, m.rings.Draw)

	m.Lock()
	lost := false
	switch {
	case err == nil:
		m.presented++
		if res.Changes > 0 {
			log.Debugf("Frame on slot %d accepted %d composition changes", res.Slot, res.Changes)
		}
	case errors.Is(err, hwc.ErrBadState):
		m.skipped++
		log.Debugf("Frame skipped: %v", err)
	case hwc.Retryable(err), errors.Is(err, present.ErrNoBuffer), errors.Is(err, present.ErrReleasePending):
		m.skipped++
		log.Warnf("Frame skipped: %v", err)
	case errors.Is(err, hwc.ErrFatal):
		m.failed++
		m.resyncs++
		lost = true
		log.Warnf("Display lost, resynchronising: %v", err)
	default:
		m.failed++
		log.Errorf("Frame failed: %v", err)
	}
	m.Unlock()

	if lost {
		m.detach()
		m.register()
	}
}

// detach drops the session. Buffers still on screen are waited for only as
// long as the fence timeout.
func (m *Manager) detach() {
	m.Lock()
	if !m.attached {
		m.Unlock()
		return
	}
	session, rings, layers := m.session, m.rings, m.layers
	m.ticker.Stop()
	m.session = nil
	m.rings = nil
	m.layers = nil
	m.attached = false
	m.Unlock()

	for _, l := range layers {
		session.Display().DestroyLayer(l)
	}
	if err := session.Close(); err != nil {
		log.Debugf("Closing session: %v", err)
	}
	rings.Close()
}

func (m *Manager) shutdown() {
	// Closing the device first signals every outstanding release fence.
	if err := m.dev.Close(); err != nil {
		log.Errorf("Closing device: %v", err)
	}
	m.detach()
}

func (m *Manager) handle(cmd Command) bool {
	log.Infof("Received %s command for display %d", cmd.Type, cmd.Display)

	var err error
	switch cmd.Type {
	case CommandStop:
		log.Info("Stopping session ...")
		reply(cmd, nil)
		return false
	case CommandPower:
		err = m.withDisplay(cmd, func(d *hwc.Display, arg string) error {
			mode, err := types.ParsePowerMode(arg)
			if err != nil {
				return err
			}
			return d.SetPowerMode(mode)
		})
	case CommandVsync:
		err = m.withDisplay(cmd, func(d *hwc.Display, arg string) error {
			return d.SetVsyncEnabled(arg == "on")
		})
	case CommandHotplug:
		if len(cmd.Args) != 1 {
			err = fmt.Errorf("hotplug needs connect or disconnect")
			break
		}
		switch cmd.Args[0] {
		case "connect":
			m.vc.Connect(cmd.Display, m.displaySpec(cmd.Display))
		case "disconnect":
			m.vc.Disconnect(cmd.Display)
		default:
			err = fmt.Errorf("unknown hotplug action %q", cmd.Args[0])
		}
	default:
		err = fmt.Errorf("unknown command %q", cmd.Type)
	}

	if err != nil {
		log.Errorf("%s command failed: %v", cmd.Type, err)
	}
	reply(cmd, err)
	return true
}

func (m *Manager) withDisplay(cmd Command, fn func(d *hwc.Display, arg string) error) error {
	if len(cmd.Args) != 1 {
		return fmt.Errorf("%s needs one argument", cmd.Type)
	}
	d, ok := m.dev.GetDisplayByID(cmd.Display)
	if !ok {
		return fmt.Errorf("display %d: %w", cmd.Display, hwc.ErrNotFound)
	}
	return fn(d, cmd.Args[0])
}

func reply(cmd Command, err error) {
	if cmd.Reply != nil {
		cmd.Reply <- err
	}
}

func (m *Manager) Status() StatusResponse {
	m.Lock()
	defer m.Unlock()

	vsyncs := make(map[hal.DisplayID]uint64, len(m.vsyncs))
	for id, n := range m.vsyncs {
		vsyncs[id] = n
	}
	return StatusResponse{
		Status:    "ok",
		Message:   "hwcsession is running",
		Session:   m.id,
		Uptime:    time.Since(m.started).Round(time.Second).String(),
		Display:   m.settings.DisplayID,
		Attached:  m.attached,
		Presented: m.presented,
		Skipped:   m.skipped,
		Failed:    m.failed,
		Resyncs:   m.resyncs,
		Vsyncs:    vsyncs,
	}
}

func (m *Manager) Displays() []DisplayInfo {
	var out []DisplayInfo
	for _, d := range m.dev.Displays() {
		info := DisplayInfo{
			ID:        d.ID(),
			Primary:   d.Primary(),
			Connected: d.Connected(),
			PowerMode: d.PowerMode().String(),
			Vsync:     d.VsyncEnabled(),
			Layers:    len(d.Layers()),
			Frames:    d.Frames(),
		}
		if cfg, err := d.ActiveConfig(); err == nil && cfg != nil {
			info.Config = cfg.String()
			info.Width = cfg.Width
			info.Height = cfg.Height
			info.RefreshRate = cfg.RefreshRate()
		}
		out = append(out, info)
	}
	return out
}
