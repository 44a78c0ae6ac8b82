package main

import (
	"bytes"
	"fmt"
	"io"
	"net/netip"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/samaelod/pcapreplay/config"
	"github.com/samaelod/pcapreplay/engine"
	"github.com/samaelod/pcapreplay/flow"
	"github.com/samaelod/pcapreplay/pcapreader"
	"github.com/samaelod/pcapreplay/types"
)

type inspectFlags struct {
	clientIP  string
	netAddr   string
	mask      int
	mode      string
	skipRule  string
	tunnelUDP bool
}

func newInspectCmd() *cobra.Command {
	flags := &inspectFlags{}

	cmd := &cobra.Command{
		Use:   "inspect <pcap>...",
		Short: "Summarize captures and what each side would replay",
		Example: `  pcapreplay inspect session.pcap
  pcapreplay inspect session.pcap --client-ip 10.0.0.5 --net 10.0.0.0 --mask 24`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tally := flags.clientIP != ""
			if tally {
				if _, err := flags.matcher(); err != nil {
					return err
				}
			}

			// captures are read in parallel; a matcher is not shared between them
			reports := make([]bytes.Buffer, len(args))
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(runtime.NumCPU())
			for i, path := range args {
				g.Go(func() error {
					if err := ctx.Err(); err != nil {
						return err
					}
					var m *flow.Matcher
					if tally {
						m, _ = flags.matcher()
					}
					return inspectCapture(&reports[i], path, m)
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i := range reports {
				if i > 0 {
					fmt.Fprintln(out)
				}
				reports[i].WriteTo(out)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.clientIP, "client-ip", "", "Captured client address; enables the per-role tally")
	cmd.Flags().StringVar(&flags.netAddr, "net", "", "Local network address (default: the client address)")
	cmd.Flags().IntVar(&flags.mask, "mask", 24, "Local network prefix length")
	cmd.Flags().StringVar(&flags.mode, "mode", "plain", "Replay mode: plain|vpn|tor")
	cmd.Flags().StringVar(&flags.skipRule, "skip-rule", "empty", "Tunnel mode TCP filter: empty|no-push")
	cmd.Flags().BoolVar(&flags.tunnelUDP, "tunnel-udp", false, "Count UDP in tunnel mode")

	return cmd
}

func (f *inspectFlags) matcher() (*flow.Matcher, error) {
	client, err := netip.ParseAddr(f.clientIP)
	if err != nil || !client.Is4() {
		return nil, fmt.Errorf("%w: --client-ip %q is not an IPv4 address", types.ErrConfig, f.clientIP)
	}
	network := client
	if f.netAddr != "" {
		if network, err = netip.ParseAddr(f.netAddr); err != nil || !network.Is4() {
			return nil, fmt.Errorf("%w: --net %q is not an IPv4 address", types.ErrConfig, f.netAddr)
		}
	}
	if f.mask < 0 || f.mask > 32 {
		return nil, fmt.Errorf("%w: --mask %d must be between 0 and 32", types.ErrConfig, f.mask)
	}

	keyword := "client"
	if f.mode != "" && f.mode != "plain" {
		keyword += "-" + f.mode
	}
	_, mode, err := config.ParseRole(keyword)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown mode %q", types.ErrConfig, f.mode)
	}
	skip, err := types.ParseSkipRule(f.skipRule)
	if err != nil {
		return nil, err
	}

	return flow.NewMatcher(&types.ReplayConfig{
		Mode:            mode,
		CaptureClientIP: client,
		LocalNet:        network,
		MaskBits:        f.mask,
		SkipRule:        skip,
		TunnelUDP:       f.tunnelUDP,
	}), nil
}

func inspectCapture(out io.Writer, path string, matcher *flow.Matcher) error {
	s, err := pcapreader.Inspect(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s\n", path)
	fmt.Fprintf(out, "  format:    %s\n", s.Format)
	fmt.Fprintf(out, "  link type: %s\n", s.LinkType)
	fmt.Fprintf(out, "  frames:    %d\n", s.Frames)
	if s.Frames > 0 {
		fmt.Fprintf(out, "  first:     %s\n", s.First.UTC().Format(time.RFC3339Nano))
		fmt.Fprintf(out, "  duration:  %s\n", s.Duration())
	}

	if matcher == nil {
		return nil
	}

	r, err := pcapreader.Open([]string{path}, types.RotateRoundRobin)
	if err != nil {
		return err
	}
	defer r.Close()

	t, err := matcher.Tally(r)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "  client:    %d packets, %d bytes\n", t.Client.Packets, t.Client.Bytes)
	fmt.Fprintf(out, "  server:    %d packets, %d bytes\n", t.Server.Packets, t.Server.Bytes)
	if t.Replied {
		fmt.Fprintf(out, "  head start: %s\n", engine.Delay(t.Client.First, t.FirstReply))
	}
	fmt.Fprintf(out, "  ignored:   %d, undecodable: %d\n", t.Ignored, t.Undecodable)
	return nil
}
