package cmd

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/matjam/hwcsession/internal/hal"
	"github.com/matjam/hwcsession/internal/ipc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func displayFlag(cmd *cobra.Command) {
	cmd.Flags().Uint64P("display", "D", 0, "Display id (default is display_id from the config)")
}

func displayArg(cmd *cobra.Command) hal.DisplayID {
	if cmd.Flags().Changed("display") {
		id, _ := cmd.Flags().GetUint64("display")
		return hal.DisplayID(id)
	}
	return hal.DisplayID(viper.GetUint64("display_id"))
}

func NewPowerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "power <off|doze-suspend|doze|on>",
		Short:     "Set the power mode of a display",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"off", "doze-suspend", "doze", "on"},
		Run: func(cmd *cobra.Command, args []string) {
			display := displayArg(cmd)
			if err := ipc.SendPower(display, args[0]); err != nil {
				log.Fatalf("Failed to send 'power' command: %v", err)
			}
			log.Infof("Display %d power mode set to %s", display, args[0])
		},
	}
	displayFlag(cmd)
	return cmd
}

func NewVsyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "vsync <on|off>",
		Short:     "Enable or disable vsync events for a display",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		Run: func(cmd *cobra.Command, args []string) {
			enabled, err := onOff(args[0], "on", "off")
			if err != nil {
				log.Fatal(err)
			}
			display := displayArg(cmd)
			if err := ipc.SendVsync(display, enabled); err != nil {
				log.Fatalf("Failed to send 'vsync' command: %v", err)
			}
			log.Infof("Display %d vsync %s", display, args[0])
		},
	}
	displayFlag(cmd)
	return cmd
}

func NewHotplugCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "hotplug <connect|disconnect>",
		Short:     "Simulate plugging a virtual display in or out",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"connect", "disconnect"},
		Run: func(cmd *cobra.Command, args []string) {
			connected, err := onOff(args[0], "connect", "disconnect")
			if err != nil {
				log.Fatal(err)
			}
			display := displayArg(cmd)
			if err := ipc.SendHotplug(display, connected); err != nil {
				log.Fatalf("Failed to send 'hotplug' command: %v", err)
			}
			log.Infof("Display %d %sed", display, args[0])
		},
	}
	displayFlag(cmd)
	return cmd
}

func onOff(arg, on, off string) (bool, error) {
	switch arg {
	case on:
		return true, nil
	case off:
		return false, nil
	}
	return false, fmt.Errorf("expected %s or %s, got %q", on, off, arg)
}
