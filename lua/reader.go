package lua

import (
	"fmt"
	"time"

	"github.com/yuin/gluamapper"
	lua "github.com/yuin/gopher-lua"

	"github.com/samaelod/pcapreplay/config"
	"github.com/samaelod/pcapreplay/types"
)

// Profile is a replay run described as a Lua table.
type Profile struct {
	Replay Replay
	Policy Policy
}

type Replay struct {
	Role       string
	ProxyPort  int
	ServerHost string
	TCPPort    int
	ClientIP   string
	NetAddr    string
	Mask       int
	Timeout    int // seconds
	Captures   []string
}

type Policy struct {
	Rotation    string
	SkipRule    string
	Restart     bool
	MaxRestarts int
	TunnelUDP   bool
}

func ReadProfile(path string) (*Profile, error) {
	L := lua.NewState()
	defer L.Close()

	// Execute Lua file
	if err := L.DoFile(path); err != nil {
		return nil, err
	}

	// Lua file returns profile table
	lv := L.Get(-1)
	table, ok := lv.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("lua file did not return a table")
	}

	var p Profile

	// Map Lua table → Go struct
	if err := gluamapper.Map(table, &p); err != nil {
		return nil, err
	}

	if err := ValidateProfile(&p); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}

	return &p, nil
}

// Args renders the replay section as positional arguments.
func (p *Profile) Args() []string {
	args := []string{p.Replay.Role}
	if role, mode, err := config.ParseRole(p.Replay.Role); err == nil && config.TakesProxyPort(role, mode) {
		args = append(args, fmt.Sprint(p.Replay.ProxyPort))
	}
	args = append(args,
		p.Replay.ServerHost,
		fmt.Sprint(p.Replay.TCPPort),
		p.Replay.ClientIP,
		p.Replay.NetAddr,
		fmt.Sprint(p.Replay.Mask),
		fmt.Sprint(p.Replay.Timeout),
	)
	return append(args, p.Replay.Captures...)
}

// Config builds the replay configuration; the deadline is counted from now.
func (p *Profile) Config(now time.Time) (*types.ReplayConfig, error) {
	cfg, err := config.ParseArgs(p.Args(), now)
	if err != nil {
		return nil, err
	}

	settings := config.Settings{
		Rotation:    p.Policy.Rotation,
		SkipRule:    p.Policy.SkipRule,
		Restart:     p.Policy.Restart,
		MaxRestarts: p.Policy.MaxRestarts,
		TunnelUDP:   p.Policy.TunnelUDP,
	}
	if err := settings.Apply(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func ValidateProfile(p *Profile) error {
	if len(p.Replay.Captures) == 0 {
		return fmt.Errorf("replay.captures is empty")
	}
	if p.Policy.MaxRestarts < 0 {
		return fmt.Errorf("policy.max_restarts must not be negative")
	}
	if _, err := p.Config(time.Now()); err != nil {
		return err
	}
	return nil
}

// FromConfig describes cfg as a profile. timeout replaces the deadline.
func FromConfig(cfg *types.ReplayConfig, timeout time.Duration) *Profile {
	return &Profile{
		Replay: Replay{
			Role:       config.RoleKeyword(cfg.Role, cfg.Mode),
			ProxyPort:  cfg.ProxyPort,
			ServerHost: cfg.ServerHost,
			TCPPort:    cfg.TCPPort,
			ClientIP:   cfg.CaptureClientIP.String(),
			NetAddr:    cfg.LocalNet.String(),
			Mask:       cfg.MaskBits,
			Timeout:    int(timeout / time.Second),
			Captures:   append([]string(nil), cfg.Captures...),
		},
		Policy: Policy{
			Rotation:    cfg.Rotation.String(),
			SkipRule:    cfg.SkipRule.String(),
			Restart:     cfg.Restart,
			MaxRestarts: cfg.MaxRestarts,
			TunnelUDP:   cfg.TunnelUDP,
		},
	}
}
