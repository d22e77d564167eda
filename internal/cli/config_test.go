package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matjam/hwcsession/internal/ipc"
	"github.com/matjam/hwcsession/internal/types"
	"github.com/spf13/viper"
)

func resetConfig(t *testing.T) {
	t.Helper()
	viper.Reset()
	cfgFile = ""
	t.Cleanup(func() {
		viper.Reset()
		cfgFile = ""
	})
}

func TestDefaultsWithoutConfigFile(t *testing.T) {
	resetConfig(t)
	t.Setenv("HOME", t.TempDir())

	initConfig()

	s, err := ipc.SettingsFromViper()
	if err != nil {
		t.Fatal(err)
	}
	if s.WaitTimeout != 5*time.Second || s.FenceTimeout != time.Second {
		t.Fatalf("timeouts %v %v", s.WaitTimeout, s.FenceTimeout)
	}
	if s.PowerMode != types.PowerModeOn || s.BufferCount != 3 || !s.PresentWait {
		t.Fatalf("settings %+v", s)
	}
	if s.Virtual.Width != 1920 || s.Virtual.Height != 1080 || s.Virtual.Displays != 1 {
		t.Fatalf("virtual settings %+v", s.Virtual)
	}
}

func TestConfigFileAndEnv(t *testing.T) {
	resetConfig(t)
	path := filepath.Join(t.TempDir(), "hwcsession.toml")
	data := "power_mode = \"doze\"\nbuffer_count = 2\n\n[virtual]\nwidth = 640\nheight = 480\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	cfgFile = path
	t.Setenv("HWCSESSION_VIRTUAL_DISPLAYS", "3")

	initConfig()

	s, err := ipc.SettingsFromViper()
	if err != nil {
		t.Fatal(err)
	}
	if s.PowerMode != types.PowerModeDoze || s.BufferCount != 2 {
		t.Fatalf("file settings not applied: %+v", s)
	}
	if s.Virtual.Width != 640 || s.Virtual.Height != 480 {
		t.Fatalf("virtual size %dx%d", s.Virtual.Width, s.Virtual.Height)
	}
	if s.Virtual.Displays != 3 {
		t.Fatalf("env override ignored: %d displays", s.Virtual.Displays)
	}
}

func TestInvalidSettings(t *testing.T) {
	resetConfig(t)
	t.Setenv("HOME", t.TempDir())
	initConfig()

	viper.Set("power_mode", "hibernate")
	if _, err := ipc.SettingsFromViper(); err == nil {
		t.Fatal("expected error for unknown power mode")
	}
	viper.Set("power_mode", "on")
	viper.Set("backend", "drm")
	if _, err := ipc.SettingsFromViper(); err == nil {
		t.Fatal("expected error for unsupported backend")
	}
}
