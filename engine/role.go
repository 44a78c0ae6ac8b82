package engine

import (
	"fmt"

	"github.com/samaelod/pcapreplay/netio"
	"github.com/samaelod/pcapreplay/types"
)

type fdKind int

const (
	fdUnknown fdKind = iota
	fdTimer
	fdListener
	fdPeer
	fdDatagram
)

// endpoint is one replayed side of the flow. Handlers return ErrPeerClosed
// (wrapped) when the remote side went away; any other error stops the engine.
type endpoint interface {
	role() types.Role
	classify(fd int) fdKind
	timer() *netio.Timer

	// transmit sends p on the socket matching its protocol. Zero bytes with
	// a nil error means there was no destination to send to.
	transmit(p *types.PendingPacket) (int, error)

	onAccept(e *Engine) error
	onPeerReadable(e *Engine) error
	onDatagram(e *Engine) error

	// start (re)establishes the role after construction or reset.
	start(e *Engine) error
	// reset drops the connection but keeps what survives a restart.
	reset(e *Engine) error
	release(e *Engine)
}

// readStream observes a connected stream. Received bytes are only counted.
func readStream(e *Engine, origin string, s *netio.Socket) error {
	n, err := s.Recv(e.recvBuf)
	switch {
	case err != nil && netio.IsTransient(err):
		return nil
	case err != nil:
		return wrapPeerClosed(err)
	case n == 0:
		return ErrPeerClosed
	}
	e.received(origin, types.ProtoTCP, n)
	return nil
}

func wrapPeerClosed(err error) error {
	return fmt.Errorf("%w: %w", ErrPeerClosed, err)
}
