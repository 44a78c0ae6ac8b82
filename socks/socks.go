// Package socks performs the client side of a SOCKS5 CONNECT with no
// authentication and an IPv4 destination.
package socks

import (
	"encoding/binary"
	"fmt"
	"io"
	"net/netip"
)

const (
	version5       = 0x05
	methodNoAuth   = 0x00
	cmdConnect     = 0x01
	atypIPv4       = 0x01
	replySucceeded = 0x00
)

// NegotiationError reports an unexpected proxy reply.
type NegotiationError struct {
	Step  string
	Reply []byte
	Err   error
}

func (e *NegotiationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("socks5 %s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("socks5 %s: unexpected reply % x", e.Step, e.Reply)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

// Negotiate asks the proxy on rw to connect to dst. rw must be a blocking
// stream already connected to the proxy.
func Negotiate(rw io.ReadWriter, dst netip.AddrPort) error {
	if !dst.Addr().Unmap().Is4() {
		return &NegotiationError{Step: "request", Err: fmt.Errorf("destination %s is not IPv4", dst.Addr())}
	}

	if _, err := rw.Write([]byte{version5, 1, methodNoAuth}); err != nil {
		return &NegotiationError{Step: "greeting", Err: err}
	}

	method := make([]byte, 2)
	if _, err := io.ReadFull(rw, method); err != nil {
		return &NegotiationError{Step: "method selection", Err: err}
	}
	if method[0] != version5 || method[1] != methodNoAuth {
		return &NegotiationError{Step: "method selection", Reply: method}
	}

	req := make([]byte, 0, 10)
	req = append(req, version5, cmdConnect, 0x00, atypIPv4)
	ip := dst.Addr().Unmap().As4()
	req = append(req, ip[:]...)
	req = binary.BigEndian.AppendUint16(req, dst.Port())
	if _, err := rw.Write(req); err != nil {
		return &NegotiationError{Step: "connect request", Err: err}
	}

	// The proxy answers with 10 bytes for an IPv4 bind address; only the
	// first four are checked and whatever else arrived in the same read is
	// dropped.
	reply := make([]byte, 10)
	n, err := io.ReadAtLeast(rw, reply, 4)
	if err != nil {
		return &NegotiationError{Step: "connect reply", Reply: reply[:n], Err: err}
	}
	if reply[0] != version5 || reply[1] != replySucceeded {
		return &NegotiationError{Step: "connect reply", Reply: reply[:n]}
	}
	return nil
}
