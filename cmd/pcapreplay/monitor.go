package main

import (
	"github.com/spf13/cobra"

	"github.com/samaelod/pcapreplay/tui"
)

func newMonitorCmd() *cobra.Command {
	var start bool

	cmd := &cobra.Command{
		Use:   "monitor [profile.lua]",
		Short: "Open the live terminal monitor",
		Long: `Open the terminal monitor. Without a profile a picker lists the Lua
profiles of the working directory and of recent runs.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return tui.Run(version, settings, path, start)
		},
	}

	cmd.Flags().BoolVar(&start, "start", false, "Start the replay as soon as the profile is loaded")
	return cmd
}
