package cmd

import (
	"github.com/charmbracelet/log"
	"github.com/matjam/hwcsession/internal/cli/cmd/utils"
	"github.com/matjam/hwcsession/internal/ipc"
	"github.com/spf13/cobra"
)

func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Get hwcsession status",
		Long:  `Returns the current status of the hwcsession process: frame counters, vsync counts and the display being driven.`,
		Run: func(cmd *cobra.Command, args []string) {
			response, err := ipc.SendStatus()
			if err != nil {
				log.Errorf("Error sending command: %v", err)
				return
			}

			utils.PrintJSONColored(response)
		},
	}
}

func NewDisplaysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "displays",
		Short: "List connected displays",
		Run: func(cmd *cobra.Command, args []string) {
			displays, err := ipc.SendDisplays()
			if err != nil {
				log.Errorf("Error sending command: %v", err)
				return
			}

			utils.PrintJSONColored(displays)
		},
	}
}
