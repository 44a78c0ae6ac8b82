package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/samaelod/pcapreplay/config"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// settingsPath is the --config flag shared by every subcommand.
var settingsPath string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pcapreplay",
		Short: "Replay one side of a captured TCP/UDP exchange against a live peer",
		Long: `pcapreplay re-enacts the client or the server side of a recorded
conversation. Payloads are sent with the pacing seen in the capture, directly,
through a VPN tunnel or through a local Tor SOCKS5 proxy.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&settingsPath, "config", "", "Settings file (default: search pcapreplay.yaml, .pcapreplay.yaml, ~/.config/pcapreplay/config.yaml)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newMonitorCmd())
	rootCmd.AddCommand(newProfileCmd())
	rootCmd.AddCommand(newInspectCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func loadSettings() (*config.Settings, error) {
	if settingsPath == "" {
		return config.LoadDefault()
	}
	return config.Load(settingsPath)
}
