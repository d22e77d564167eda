package cli

import (
	"errors"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("hwcsession")
		viper.SetConfigType("toml")
		if viper.GetString("config") != "" {
			viper.SetConfigFile(viper.GetString("config"))
		} else {
			viper.AddConfigPath("$HOME/.config/hwcsession")
			viper.AddConfigPath("/etc/xdg/hwcsession")
		}
	}

	setDefaults()

	viper.SetEnvPrefix("hwcsession")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv() // read environment variables that match

	// Defaults are enough to run, so a missing file is not an error.
	err := viper.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err != nil && !errors.As(err, &notFound) {
		cobra.CheckErr(err)
	}

	if viper.GetBool("debug") {
		log.SetLevel(log.DebugLevel)
	}
}

func setDefaults() {
	viper.SetDefault("backend", "virtual")
	viper.SetDefault("display_id", 0)
	viper.SetDefault("primary_only", false)
	viper.SetDefault("wait_timeout", "5s")
	viper.SetDefault("power_mode", "on")
	viper.SetDefault("vsync", false)
	viper.SetDefault("framerate_limit", 60)
	viper.SetDefault("buffer_count", 3)
	viper.SetDefault("fence_timeout", "1s")
	viper.SetDefault("present_wait", true)
	viper.SetDefault("present_or_validate", false)
	viper.SetDefault("late_client_target", false)
	viper.SetDefault("scene", "")
	viper.SetDefault("debug", false)

	viper.SetDefault("virtual.width", 1920)
	viper.SetDefault("virtual.height", 1080)
	viper.SetDefault("virtual.refresh_rate", 60)
	viper.SetDefault("virtual.dpi", 160)
	viper.SetDefault("virtual.overlay_planes", 2)
	viper.SetDefault("virtual.cursor_plane", true)
	viper.SetDefault("virtual.displays", 1)
}
