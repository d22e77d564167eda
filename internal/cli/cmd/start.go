package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/matjam/hwcsession/internal/ipc"
	"github.com/sevlyar/go-daemon"
	"github.com/spf13/cobra"
)

func NewStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the hwcsession daemon",
		Long:  `Starts the session in the foreground, or detached with --background.`,
		Run: func(cmd *cobra.Command, args []string) {
			background, _ := cmd.Flags().GetBool("background")
			Start(background)
		},
	}
}

// Start runs the session, first forking into the background if asked to.
func Start(background bool) {
	if !background || daemon.WasReborn() {
		StartManager()
		return
	}

	ctx := &daemon.Context{
		PidFileName: filepath.Join(runtimeDir(), "hwcsession.pid"),
		PidFilePerm: 0644,
		WorkDir:     "/",
		Umask:       027,
		Env:         append(os.Environ(), "BACKGROUND_PROCESS=1"),
	}

	child, err := ctx.Reborn()
	if err != nil {
		log.Fatalf("Failed to start in background: %v", err)
	}
	if child != nil {
		log.Infof("hwcsession started in background with PID %d", child.Pid)
		return
	}
	defer ctx.Release()

	StartManager()
}

func StartManager() {
	log.Infof("StartManager() started in PID: %d", os.Getpid())

	if os.Getenv("BACKGROUND_PROCESS") == "1" {
		setupRotatingLogger()
	}

	if _, err := ipc.SendStatus(); err == nil {
		log.Infof("hwcsession is already running, exiting")
		os.Exit(0)
	}

	settings, err := ipc.SettingsFromViper()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	manager, err := ipc.NewManager(settings)
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Infof("Starting socket server on %s", ipc.SocketPath())
		if err := ipc.Start(ctx, manager); err != nil {
			log.Errorf("Socket server error: %v", err)
			manager.Stop()
		}
	}()

	if err := manager.Run(ctx); err != nil {
		log.Errorf("Session failed: %v", err)
	}
	stop()

	os.Remove(ipc.SocketPath())
	log.Infof("hwcsession exited")
}

func runtimeDir() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return dir
}

func setupRotatingLogger() {
	home := os.Getenv("HOME")
	logDir := filepath.Join(home, ".local", "share", "hwcsession")
	logPath := filepath.Join(logDir, "hwcsession.log")

	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.Fatalf("failed to create log directory: %v", err)
	}

	writer, err := rotatelogs.New(
		logPath+".%Y%m%d%H%M",
		rotatelogs.WithLinkName(logPath),
		rotatelogs.WithMaxAge(7*24*time.Hour),
		rotatelogs.WithRotationSize(10*1024*1024),
		rotatelogs.WithRotationTime(24*time.Hour),
	)
	if err != nil {
		log.Fatalf("failed to configure log rotation: %v", err)
	}

	level := log.GetLevel()
	log.SetOutput(writer)
	if level > log.InfoLevel {
		level = log.InfoLevel
	}
	log.SetLevel(level)
}
