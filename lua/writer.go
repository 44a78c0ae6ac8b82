package lua

import (
	"fmt"
	"io"
)

func WriteProfile(w io.Writer, p *Profile) error {
	fmt.Fprintln(w, "local profile = {}")
	fmt.Fprintln(w)

	// Replay
	fmt.Fprintln(w, "-- REPLAY -----------------------------------------")
	fmt.Fprintln(w, "profile.replay = {")
	fmt.Fprintf(w, "\trole = %q,\n", p.Replay.Role)
	if p.Replay.ProxyPort != 0 {
		fmt.Fprintf(w, "\tproxy_port = %d,\n", p.Replay.ProxyPort)
	}
	fmt.Fprintf(w, "\tserver_host = %q,\n", p.Replay.ServerHost)
	fmt.Fprintf(w, "\ttcp_port = %d, -- udp uses tcp_port + 1\n", p.Replay.TCPPort)
	fmt.Fprintf(w, "\tclient_ip = %q,\n", p.Replay.ClientIP)
	fmt.Fprintf(w, "\tnet_addr = %q,\n", p.Replay.NetAddr)
	fmt.Fprintf(w, "\tmask = %d,\n", p.Replay.Mask)
	fmt.Fprintf(w, "\ttimeout = %d,\n", p.Replay.Timeout)
	fmt.Fprintln(w, "\tcaptures = {")
	for _, c := range p.Replay.Captures {
		fmt.Fprintf(w, "\t\t%q,\n", c)
	}
	fmt.Fprintln(w, "\t},")
	fmt.Fprintln(w, "}")
	fmt.Fprintln(w)

	// Policy
	fmt.Fprintln(w, "-- POLICY -----------------------------------------")
	fmt.Fprintln(w, "profile.policy = {")
	fmt.Fprintf(w, "\trotation = %q,\n", p.Policy.Rotation)
	fmt.Fprintf(w, "\tskip_rule = %q,\n", p.Policy.SkipRule)
	fmt.Fprintf(w, "\trestart = %t,\n", p.Policy.Restart)
	fmt.Fprintf(w, "\tmax_restarts = %d,\n", p.Policy.MaxRestarts)
	fmt.Fprintf(w, "\ttunnel_udp = %t,\n", p.Policy.TunnelUDP)
	fmt.Fprintln(w, "}")
	fmt.Fprintln(w)

	_, err := fmt.Fprintln(w, "return profile")
	return err
}
