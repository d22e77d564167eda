package ipc

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"
	"github.com/matjam/hwcsession/internal/middleware"
)

// SocketPath is the control socket of the daemon.
func SocketPath() string {
	sockDir := os.Getenv("XDG_RUNTIME_DIR")
	if sockDir == "" {
		sockDir = os.TempDir()
	}
	return filepath.Join(sockDir, "hwcsession.sock")
}

func NewServer(manager ManagerInterface) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.CharmLog())

	RegisterRoutes(e, manager)
	return e
}

// Start serves the control socket until ctx is done.
func Start(ctx context.Context, manager ManagerInterface) error {
	sockPath := SocketPath()
	if _, err := os.Stat(sockPath); err == nil {
		_ = os.Remove(sockPath)
	}

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return err
	}

	e := NewServer(manager)
	e.Listener = listener

	go func() {
		<-ctx.Done()
		if err := e.Close(); err != nil {
			log.Debugf("Closing socket server: %v", err)
		}
	}()

	if err := e.StartServer(e.Server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
