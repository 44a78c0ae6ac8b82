// Package pcaptest builds small synthetic captures for tests.
package pcaptest

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Base is the capture time of the first packet in generated files.
var Base = time.Unix(1700000000, 0)

// Packet describes one Ethernet/IPv4 frame. Raw, when set, is written as is.
type Packet struct {
	At      time.Duration
	Src     string
	Dst     string
	UDP     bool
	SrcPort uint16
	DstPort uint16
	PSH     bool
	Payload []byte
	Raw     []byte
}

// Frame serializes p into an Ethernet frame.
func Frame(t testing.TB, p Packet) []byte {
	t.Helper()

	if p.Raw != nil {
		return p.Raw
	}

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version: 4,
		TTL:     64,
		SrcIP:   net.ParseIP(p.Src).To4(),
		DstIP:   net.ParseIP(p.Dst).To4(),
	}

	srcPort, dstPort := p.SrcPort, p.DstPort
	if srcPort == 0 {
		srcPort = 40000
	}
	if dstPort == 0 {
		dstPort = 80
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	var err error
	if p.UDP {
		ip.Protocol = layers.IPProtocolUDP
		udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
		udp.SetNetworkLayerForChecksum(ip)
		err = gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(p.Payload))
	} else {
		ip.Protocol = layers.IPProtocolTCP
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(srcPort),
			DstPort: layers.TCPPort(dstPort),
			Seq:     1,
			ACK:     true,
			PSH:     p.PSH,
			Window:  14600,
		}
		tcp.SetNetworkLayerForChecksum(ip)
		err = gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(p.Payload))
	}
	if err != nil {
		t.Fatalf("serialize packet: %v", err)
	}
	return buf.Bytes()
}

// WritePcap writes packets to a classic pcap file in dir and returns its path.
func WritePcap(t testing.TB, dir, name string, packets []Packet) string {
	t.Helper()

	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create pcap: %v", err)
	}
	defer file.Close()

	writer := pcapgo.NewWriter(file)
	if err := writer.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("write pcap header: %v", err)
	}

	for _, p := range packets {
		data := Frame(t, p)
		ci := gopacket.CaptureInfo{
			Timestamp:     Base.Add(p.At),
			CaptureLength: len(data),
			Length:        len(data),
		}
		if err := writer.WritePacket(ci, data); err != nil {
			t.Fatalf("write packet: %v", err)
		}
	}
	return path
}

// WritePcapNG writes packets to a pcapng file in dir and returns its path.
func WritePcapNG(t testing.TB, dir, name string, packets []Packet) string {
	t.Helper()

	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create pcapng: %v", err)
	}
	defer file.Close()

	writer, err := pcapgo.NewNgWriter(file, layers.LinkTypeEthernet)
	if err != nil {
		t.Fatalf("create ng writer: %v", err)
	}

	for _, p := range packets {
		data := Frame(t, p)
		ci := gopacket.CaptureInfo{
			Timestamp:      Base.Add(p.At),
			CaptureLength:  len(data),
			Length:         len(data),
			InterfaceIndex: 0,
		}
		if err := writer.WritePacket(ci, data); err != nil {
			t.Fatalf("write packet: %v", err)
		}
	}
	if err := writer.Flush(); err != nil {
		t.Fatalf("flush pcapng: %v", err)
	}
	return path
}
