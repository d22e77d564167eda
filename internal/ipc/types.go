package ipc

import (
	"time"

	"github.com/matjam/hwcsession/internal/hal"
)

type CommandType string

const (
	CommandStop    CommandType = "stop"
	CommandPower   CommandType = "power"
	CommandVsync   CommandType = "vsync"
	CommandHotplug CommandType = "hotplug"
)

type Command struct {
	Type    CommandType   `json:"type"`
	Display hal.DisplayID `json:"display"`
	Args    []string      `json:"args"`

	// Reply, when set, receives the outcome once the run loop has handled
	// the command.
	Reply chan error `json:"-"`
}

type ManagerInterface interface {
	Status() StatusResponse
	Displays() []DisplayInfo
	EnqueueCommand(Command)
}

type Response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type StatusResponse struct {
	Status    string                   `json:"status"`
	Message   string                   `json:"message"`
	Version   string                   `json:"version"`
	Session   string                   `json:"session"`
	PID       int                      `json:"pid"`
	Socket    string                   `json:"socket"`
	Config    string                   `json:"config"`
	Uptime    string                   `json:"uptime"`
	Display   hal.DisplayID            `json:"display"`
	Attached  bool                     `json:"attached"`
	Presented uint64                   `json:"frames_presented"`
	Skipped   uint64                   `json:"frames_skipped"`
	Failed    uint64                   `json:"frames_failed"`
	Resyncs   uint64                   `json:"resyncs"`
	Vsyncs    map[hal.DisplayID]uint64 `json:"vsyncs"`
}

type DisplayInfo struct {
	ID          hal.DisplayID `json:"id"`
	Primary     bool          `json:"primary"`
	Connected   bool          `json:"connected"`
	PowerMode   string        `json:"power_mode"`
	Vsync       bool          `json:"vsync"`
	Config      string        `json:"config,omitempty"`
	Width       int32         `json:"width,omitempty"`
	Height      int32         `json:"height,omitempty"`
	RefreshRate float64       `json:"refresh_rate,omitempty"`
	Layers      int           `json:"layers"`
	Frames      uint64        `json:"frames"`
}

type PowerRequest struct {
	Display hal.DisplayID `json:"display"`
	Mode    string        `json:"mode"`
}

type VsyncRequest struct {
	Display hal.DisplayID `json:"display"`
	Enabled bool          `json:"enabled"`
}

type HotplugRequest struct {
	Display   hal.DisplayID `json:"display"`
	Connected bool          `json:"connected"`
}

// replyTimeout bounds how long a handler waits for the run loop.
const replyTimeout = 5 * time.Second
