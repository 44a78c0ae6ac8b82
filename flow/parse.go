package flow

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/samaelod/pcapreplay/types"
)

var (
	ErrUnsupportedLink  = errors.New("unsupported link type")
	ErrNotIPv4          = errors.New("not an IPv4 frame")
	ErrUnsupportedProto = errors.New("unsupported transport protocol")
	ErrFragment         = errors.New("non-initial IPv4 fragment")
	ErrTruncated        = errors.New("truncated header")
)

// Segment is the decoded view of one frame. Its slices alias the frame data.
type Segment struct {
	Src   netip.Addr
	Dst   netip.Addr
	Proto types.Proto

	// Transport is the whole L4 segment, header included.
	Transport []byte
	Payload   []byte
	PSH       bool
}

// Parser decodes frames into segments. The layer values are reused between
// calls, so a Parser must not be shared.
type Parser struct {
	eth layers.Ethernet
	ip  layers.IPv4
	tcp layers.TCP
	udp layers.UDP
}

func (p *Parser) Parse(data []byte, link layers.LinkType) (*Segment, error) {
	if link != layers.LinkTypeEthernet {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedLink, link)
	}

	if err := p.eth.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("%w: ethernet: %w", ErrTruncated, err)
	}
	if p.eth.EthernetType != layers.EthernetTypeIPv4 {
		return nil, ErrNotIPv4
	}

	if err := p.ip.DecodeFromBytes(p.eth.Payload, gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("%w: ipv4: %w", ErrTruncated, err)
	}
	if p.ip.Version != 4 {
		return nil, ErrNotIPv4
	}
	if p.ip.FragOffset != 0 {
		return nil, ErrFragment
	}

	src, _ := netip.AddrFromSlice(p.ip.SrcIP)
	dst, _ := netip.AddrFromSlice(p.ip.DstIP)
	seg := &Segment{Src: src.Unmap(), Dst: dst.Unmap(), Transport: p.ip.Payload}

	switch p.ip.Protocol {
	case layers.IPProtocolTCP:
		if err := p.tcp.DecodeFromBytes(p.ip.Payload, gopacket.NilDecodeFeedback); err != nil {
			return nil, fmt.Errorf("%w: tcp: %w", ErrTruncated, err)
		}
		seg.Proto = types.ProtoTCP
		seg.Payload = p.tcp.Payload
		seg.PSH = p.tcp.PSH
	case layers.IPProtocolUDP:
		if err := p.udp.DecodeFromBytes(p.ip.Payload, gopacket.NilDecodeFeedback); err != nil {
			return nil, fmt.Errorf("%w: udp: %w", ErrTruncated, err)
		}
		seg.Proto = types.ProtoUDP
		seg.Payload = p.udp.Payload
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedProto, p.ip.Protocol)
	}

	return seg, nil
}
