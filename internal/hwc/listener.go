package hwc

import (
	"github.com/charmbracelet/log"
	"github.com/matjam/hwcsession/internal/hal"
	"github.com/matjam/hwcsession/internal/types"
)

// Listener receives device events after the Device has processed them.
// Methods are called from the device's event goroutine and must not block.
type Listener interface {
	OnVsync(display hal.DisplayID, timestamp int64)
	OnHotplug(display hal.DisplayID, conn types.Connection, primary bool)
	OnRefresh(display hal.DisplayID)
}

// ListenerFuncs adapts plain functions to a Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Vsync   func(display hal.DisplayID, timestamp int64)
	Hotplug func(display hal.DisplayID, conn types.Connection, primary bool)
	Refresh func(display hal.DisplayID)
}

func (f ListenerFuncs) OnVsync(display hal.DisplayID, timestamp int64) {
	if f.Vsync != nil {
		f.Vsync(display, timestamp)
	}
}

func (f ListenerFuncs) OnHotplug(display hal.DisplayID, conn types.Connection, primary bool) {
	if f.Hotplug != nil {
		f.Hotplug(display, conn, primary)
	}
}

func (f ListenerFuncs) OnRefresh(display hal.DisplayID) {
	if f.Refresh != nil {
		f.Refresh(display)
	}
}

type subscription struct {
	id       int32
	listener Listener
}

// halCallback is what the Device registers with the Composer. It drops
// events from earlier registrations before anything else looks at them.
type halCallback struct {
	dev *Device
}

func (cb halCallback) current(op string, seq int32) *subscription {
	sub := cb.dev.sub.Load()
	if sub == nil || sub.id != seq {
		log.Debugf("hwc: ignoring stale %s (sequence %d)", op, seq)
		return nil
	}
	return sub
}

func (cb halCallback) OnVsync(seq int32, display hal.DisplayID, timestamp int64) {
	sub := cb.current("vsync", seq)
	if sub == nil {
		return
	}
	if _, ok := cb.dev.GetDisplayByID(display); !ok {
		return
	}
	sub.listener.OnVsync(display, timestamp)
}

func (cb halCallback) OnHotplug(seq int32, display hal.DisplayID, conn types.Connection, primary bool) {
	sub := cb.current("hotplug", seq)
	if sub == nil {
		return
	}

	kind := "external"
	if primary {
		kind = "primary"
	}
	log.Infof("hwc: hotplug display %d %s (%s)", display, conn, kind)
	if cb.dev.primaryOnly && !primary {
		log.Debugf("hwc: ignoring external display %d", display)
		return
	}

	cb.dev.hotplug(display, conn, primary)
	sub.listener.OnHotplug(display, conn, primary)
}

func (cb halCallback) OnRefresh(seq int32, display hal.DisplayID) {
	sub := cb.current("refresh", seq)
	if sub == nil {
		return
	}
	if _, ok := cb.dev.GetDisplayByID(display); !ok {
		return
	}
	sub.listener.OnRefresh(display)
}
