package hwc

import (
	"fmt"
	"time"

	"github.com/matjam/hwcsession/internal/fence"
	"github.com/matjam/hwcsession/internal/hal"
)

// Config is one display mode. Values are immutable once read.
type Config struct {
	ID          hal.ConfigID
	Display     hal.DisplayID
	Width       int32
	Height      int32
	VsyncPeriod time.Duration
	DpiX        float32
	DpiY        float32
}

func (c *Config) RefreshRate() float64 {
	if c.VsyncPeriod <= 0 {
		return 0
	}
	return float64(time.Second) / float64(c.VsyncPeriod)
}

func (c *Config) String() string {
	return fmt.Sprintf("%dx%d@%.2f", c.Width, c.Height, c.RefreshRate())
}

// Capabilities relax parts of the frame protocol for devices that support it.
type Capabilities struct {
	// LateClientTarget allows SetClientTarget and Layer.SetBuffer after
	// Validate in the same frame.
	LateClientTarget bool
}

// ValidateResult carries the counts reported by Validate. Nonzero counts
// mean the device proposed changes that must be accepted before Present.
type ValidateResult struct {
	NumTypes    uint32
	NumRequests uint32
}

func (r ValidateResult) HasChanges() bool {
	return r.NumTypes > 0 || r.NumRequests > 0
}

type PresentOrValidateResult struct {
	// Presented is set when the device skipped validation and presented.
	Presented    bool
	PresentFence *fence.Fence
	Validate     ValidateResult
}
