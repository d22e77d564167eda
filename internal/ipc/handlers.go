package ipc

import (
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/matjam/hwcsession"
	"github.com/matjam/hwcsession/internal/hwc"
	"github.com/matjam/hwcsession/internal/types"
	"github.com/spf13/viper"
)

// GET /status
func statusHandler(m ManagerInterface) echo.HandlerFunc {
	return func(c echo.Context) error {
		status := m.Status()
		status.Version = strings.Trim(hwcsession.Version, "\n\r ")
		status.PID = os.Getpid()
		status.Socket = SocketPath()
		status.Config = viper.ConfigFileUsed()
		return c.JSONPretty(http.StatusOK, status, "  ")
	}
}

// GET /displays
func displaysHandler(m ManagerInterface) echo.HandlerFunc {
	return func(c echo.Context) error {
		displays := m.Displays()
		if displays == nil {
			displays = []DisplayInfo{}
		}
		return c.JSONPretty(http.StatusOK, displays, "  ")
	}
}

// POST /stop
func stopHandler(m ManagerInterface) echo.HandlerFunc {
	return func(c echo.Context) error {
		m.EnqueueCommand(Command{Type: CommandStop})
		return c.JSON(http.StatusOK, Response{Status: "ok", Message: "stopping"})
	}
}

// POST /power
func powerHandler(m ManagerInterface) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req PowerRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, Response{Status: "error", Message: "invalid power request"})
		}
		if _, err := types.ParsePowerMode(req.Mode); err != nil {
			return c.JSON(http.StatusBadRequest, Response{Status: "error", Message: err.Error()})
		}
		return dispatch(c, m, Command{Type: CommandPower, Display: req.Display, Args: []string{req.Mode}})
	}
}

// POST /vsync
func vsyncHandler(m ManagerInterface) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req VsyncRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, Response{Status: "error", Message: "invalid vsync request"})
		}
		arg := "off"
		if req.Enabled {
			arg = "on"
		}
		return dispatch(c, m, Command{Type: CommandVsync, Display: req.Display, Args: []string{arg}})
	}
}

// POST /hotplug
func hotplugHandler(m ManagerInterface) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req HotplugRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, Response{Status: "error", Message: "invalid hotplug request"})
		}
		arg := "disconnect"
		if req.Connected {
			arg = "connect"
		}
		return dispatch(c, m, Command{Type: CommandHotplug, Display: req.Display, Args: []string{arg}})
	}
}

// dispatch queues cmd and waits for the run loop to report back.
func dispatch(c echo.Context, m ManagerInterface, cmd Command) error {
	cmd.Reply = make(chan error, 1)
	m.EnqueueCommand(cmd)

	select {
	case err := <-cmd.Reply:
		if err != nil {
			return c.JSON(statusFor(err), Response{Status: "error", Message: err.Error()})
		}
		return c.JSON(http.StatusOK, Response{Status: "ok", Message: string(cmd.Type) + " applied"})
	case <-time.After(replyTimeout):
		return c.JSON(http.StatusServiceUnavailable, Response{Status: "error", Message: "session did not respond"})
	case <-c.Request().Context().Done():
		return c.Request().Context().Err()
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, hwc.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, hwc.ErrUnsupported):
		return http.StatusUnprocessableEntity
	case errors.Is(err, hwc.ErrBadState), errors.Is(err, hwc.ErrTransient):
		return http.StatusConflict
	case errors.Is(err, hwc.ErrFatal):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
