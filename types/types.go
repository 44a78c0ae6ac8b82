package types

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// ErrConfig marks malformed replay parameters. Construction never returns a
// usable engine when it is reported.
var ErrConfig = errors.New("invalid configuration")

type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

type Mode int

const (
	ModePlain Mode = iota
	ModeVpnTunnel
	ModeTor
)

func (m Mode) String() string {
	switch m {
	case ModeVpnTunnel:
		return "vpn"
	case ModeTor:
		return "tor"
	default:
		return "plain"
	}
}

type Proto int

const (
	ProtoTCP Proto = iota
	ProtoUDP
)

func (p Proto) String() string {
	if p == ProtoUDP {
		return "udp"
	}
	return "tcp"
}

// Rotation selects how the capture list cycles when a role restarts.
type Rotation int

const (
	RotateRoundRobin Rotation = iota
	RotateRewind
)

func (r Rotation) String() string {
	if r == RotateRewind {
		return "rewind"
	}
	return "round-robin"
}

func ParseRotation(s string) (Rotation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "round-robin", "roundrobin", "rr":
		return RotateRoundRobin, nil
	case "rewind", "strict":
		return RotateRewind, nil
	}
	return 0, fmt.Errorf("%w: unknown rotation %q", ErrConfig, s)
}

// SkipRule decides which TCP segments carry nothing worth replaying.
type SkipRule int

const (
	SkipEmptyPayload SkipRule = iota
	SkipNoPush
)

func (s SkipRule) String() string {
	if s == SkipNoPush {
		return "no-push"
	}
	return "empty"
}

func ParseSkipRule(s string) (SkipRule, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "empty", "empty-payload":
		return SkipEmptyPayload, nil
	case "no-push", "push", "psh":
		return SkipNoPush, nil
	}
	return 0, fmt.Errorf("%w: unknown skip rule %q", ErrConfig, s)
}

// Timestamp is a capture-relative instant with microsecond resolution.
type Timestamp struct {
	Sec  int64
	Usec int64
}

func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp{Sec: t.Unix(), Usec: int64(t.Nanosecond() / 1000)}
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%06d", t.Sec, t.Usec)
}

func (t Timestamp) IsZero() bool {
	return t.Sec == 0 && t.Usec == 0
}

// PendingPacket is the single payload queued for the next timer fire.
// Payload is owned by the packet and never aliases a capture buffer.
type PendingPacket struct {
	Timestamp Timestamp
	Proto     Proto
	Payload   []byte
}

func (p *PendingPacket) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Payload)
}

// ReplayConfig carries everything needed to construct an engine.
type ReplayConfig struct {
	Role      Role
	Mode      Mode
	ProxyPort int

	ServerHost string
	TCPPort    int

	CaptureClientIP netip.Addr
	LocalNet        netip.Addr
	MaskBits        int

	Deadline time.Time
	Captures []string

	Rotation    Rotation
	SkipRule    SkipRule
	Restart     bool
	MaxRestarts int
	TunnelUDP   bool
}

func (c *ReplayConfig) UDPPort() int {
	return c.TCPPort + 1
}

// MaskSpan is the number of addresses covered by the local network prefix.
func (c *ReplayConfig) MaskSpan() uint64 {
	if c.MaskBits <= 0 {
		return 1 << 32
	}
	if c.MaskBits >= 32 {
		return 1
	}
	return 1 << uint(32-c.MaskBits)
}

func (c *ReplayConfig) Validate() error {
	if c.TCPPort <= 0 || c.TCPPort >= 65535 {
		return fmt.Errorf("%w: tcp port %d out of range", ErrConfig, c.TCPPort)
	}
	if c.Role == RoleClient && c.ServerHost == "" {
		return fmt.Errorf("%w: missing server host", ErrConfig)
	}
	if c.Mode == ModeTor && c.Role == RoleClient && (c.ProxyPort <= 0 || c.ProxyPort > 65535) {
		return fmt.Errorf("%w: proxy port %d out of range", ErrConfig, c.ProxyPort)
	}
	if !c.CaptureClientIP.Is4() {
		return fmt.Errorf("%w: client address %q is not IPv4", ErrConfig, c.CaptureClientIP)
	}
	if !c.LocalNet.Is4() {
		return fmt.Errorf("%w: network address %q is not IPv4", ErrConfig, c.LocalNet)
	}
	if c.MaskBits < 0 || c.MaskBits > 32 {
		return fmt.Errorf("%w: mask /%d out of range", ErrConfig, c.MaskBits)
	}
	if len(c.Captures) == 0 {
		return fmt.Errorf("%w: no capture files", ErrConfig)
	}
	if c.MaxRestarts < 0 {
		return fmt.Errorf("%w: negative restart limit", ErrConfig)
	}
	return nil
}

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelMessage
	LevelWarning
	LevelCritical
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelMessage:
		return "MSG"
	case LevelWarning:
		return "WARN"
	case LevelCritical:
		return "CRIT"
	default:
		return "ERROR"
	}
}

func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "message", "msg":
		return LevelMessage, nil
	case "warning", "warn":
		return LevelWarning, nil
	case "critical", "crit":
		return LevelCritical, nil
	case "error":
		return LevelError, nil
	}
	return 0, fmt.Errorf("%w: unknown log level %q", ErrConfig, s)
}

// LogFunc receives every significant engine event. origin names the handler.
type LogFunc func(level Level, origin, msg string)

// RoleState is the externally observable phase of the replayed role.
type RoleState int

const (
	StateConnecting RoleState = iota
	StateListening
	StateConnected
	StateSending
	StateParked
	StateDone
)

func (s RoleState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateConnected:
		return "connected"
	case StateSending:
		return "sending"
	case StateParked:
		return "parked"
	default:
		return "done"
	}
}
