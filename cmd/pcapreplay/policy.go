package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/samaelod/pcapreplay/types"
)

// policyFlags override the replay policies of the settings file or profile.
// Only flags given on the command line take effect.
type policyFlags struct {
	rotation    string
	skipRule    string
	restart     bool
	maxRestarts int
	tunnelUDP   bool
}

func (p *policyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.rotation, "rotation", "round-robin", "Capture rotation on restart: round-robin|rewind")
	cmd.Flags().StringVar(&p.skipRule, "skip-rule", "empty", "Tunnel mode TCP filter: empty|no-push")
	cmd.Flags().BoolVar(&p.restart, "restart", false, "Reconnect and replay the next capture when the peer closes")
	cmd.Flags().IntVar(&p.maxRestarts, "max-restarts", 0, "Restart limit, 0 for unlimited")
	cmd.Flags().BoolVar(&p.tunnelUDP, "tunnel-udp", false, "Carry captured UDP datagrams over the tunnel TCP stream")
}

// apply writes the changed flags into cfg and reports how many it applied.
func (p *policyFlags) apply(changed func(string) bool, cfg *types.ReplayConfig) (int, error) {
	n := 0
	if changed("rotation") {
		r, err := types.ParseRotation(p.rotation)
		if err != nil {
			return n, err
		}
		cfg.Rotation = r
		n++
	}
	if changed("skip-rule") {
		s, err := types.ParseSkipRule(p.skipRule)
		if err != nil {
			return n, err
		}
		cfg.SkipRule = s
		n++
	}
	if changed("restart") {
		cfg.Restart = p.restart
		n++
	}
	if changed("max-restarts") {
		if p.maxRestarts < 0 {
			return n, fmt.Errorf("%w: --max-restarts must not be negative", types.ErrConfig)
		}
		cfg.MaxRestarts = p.maxRestarts
		n++
	}
	if changed("tunnel-udp") {
		cfg.TunnelUDP = p.tunnelUDP
		n++
	}
	return n, nil
}
