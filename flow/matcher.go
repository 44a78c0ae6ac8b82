package flow

import (
	"net/netip"

	"github.com/samaelod/pcapreplay/pcapreader"
	"github.com/samaelod/pcapreplay/types"
)

// FrameSource yields raw frames in capture order.
type FrameSource interface {
	Next() (pcapreader.Frame, bool, error)
}

// Matcher selects the frames belonging to one direction of the replayed flow.
type Matcher struct {
	ClientIP  netip.Addr
	Mode      types.Mode
	SkipRule  types.SkipRule
	TunnelUDP bool

	base   uint64
	span   uint64
	parser Parser
}

func NewMatcher(cfg *types.ReplayConfig) *Matcher {
	return &Matcher{
		ClientIP:  cfg.CaptureClientIP,
		Mode:      cfg.Mode,
		SkipRule:  cfg.SkipRule,
		TunnelUDP: cfg.TunnelUDP,
		base:      addrValue(cfg.LocalNet),
		span:      cfg.MaskSpan(),
	}
}

func addrValue(a netip.Addr) uint64 {
	b := a.As4()
	return uint64(b[0])<<24 | uint64(b[1])<<16 | uint64(b[2])<<8 | uint64(b[3])
}

// IsLocal reports whether a lies in [base, base+span).
func (m *Matcher) IsLocal(a netip.Addr) bool {
	if !a.Is4() {
		return false
	}
	v := addrValue(a)
	return v >= m.base && v < m.base+m.span
}

// Matches applies the direction test for role.
func (m *Matcher) Matches(role types.Role, seg *Segment) bool {
	if role == types.RoleServer {
		return !m.IsLocal(seg.Src) && seg.Dst == m.ClientIP
	}
	return seg.Src == m.ClientIP && !m.IsLocal(seg.Dst)
}

// Extract returns the bytes to replay for seg and the transport to send them
// on. ok is false when the segment carries nothing to replay in this mode.
func (m *Matcher) Extract(seg *Segment) (proto types.Proto, payload []byte, ok bool) {
	tunnel := m.Mode == types.ModeVpnTunnel

	switch seg.Proto {
	case types.ProtoTCP:
		if tunnel && m.SkipRule == types.SkipNoPush {
			if !seg.PSH {
				return 0, nil, false
			}
		} else if len(seg.Payload) == 0 {
			return 0, nil, false
		}
		if tunnel {
			return types.ProtoTCP, seg.Transport, true
		}
		return types.ProtoTCP, seg.Payload, true

	case types.ProtoUDP:
		switch {
		case m.Mode == types.ModePlain:
			return types.ProtoUDP, seg.Payload, true
		case tunnel && m.TunnelUDP:
			// whole datagram rides the outer TCP stream
			return types.ProtoTCP, seg.Transport, true
		}
	}
	return 0, nil, false
}

// FindNext pulls frames from src until one matches role. It returns nil
// without error when src is exhausted. Undecodable frames are skipped.
func (m *Matcher) FindNext(src FrameSource, role types.Role) (*types.PendingPacket, error) {
	for {
		frame, ok, err := src.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}

		seg, err := m.parser.Parse(frame.Data, frame.LinkType)
		if err != nil {
			continue
		}
		proto, payload, ok := m.Extract(seg)
		if !ok || !m.Matches(role, seg) {
			continue
		}

		owned := make([]byte, len(payload))
		copy(owned, payload)
		return &types.PendingPacket{
			Timestamp: frame.Timestamp,
			Proto:     proto,
			Payload:   owned,
		}, nil
	}
}
