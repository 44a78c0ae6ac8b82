package engine

import (
	"golang.org/x/sys/unix"

	"github.com/samaelod/pcapreplay/netio"
	"github.com/samaelod/pcapreplay/types"
)

// server replays the capture's server side to whichever peer shows up
// first. Only one stream peer is served at a time.
type server struct {
	listener *netio.Socket
	udp      *netio.Socket
	peer     *netio.Socket
	udpPeer  unix.Sockaddr

	// created on first peer contact
	tm      *netio.Timer
	sending bool
}

func newServer(e *Engine) (endpoint, error) {
	s := &server{}

	ln, err := netio.ListenTCP(e.cfg.TCPPort)
	if err != nil {
		return nil, err
	}
	if err := e.register(ln); err != nil {
		ln.Close()
		return nil, err
	}
	s.listener = ln

	u, err := netio.ListenUDP(e.cfg.UDPPort())
	if err != nil {
		e.closeSocket(ln)
		return nil, err
	}
	if err := e.register(u); err != nil {
		u.Close()
		e.closeSocket(ln)
		return nil, err
	}
	s.udp = u

	return s, nil
}

func (s *server) role() types.Role {
	return types.RoleServer
}

func (s *server) classify(fd int) fdKind {
	switch {
	case s.tm != nil && fd == s.tm.Fd():
		return fdTimer
	case s.listener.Valid() && fd == s.listener.Fd():
		return fdListener
	case s.peer.Valid() && fd == s.peer.Fd():
		return fdPeer
	case s.udp.Valid() && fd == s.udp.Fd():
		return fdDatagram
	}
	return fdUnknown
}

func (s *server) timer() *netio.Timer {
	return s.tm
}

func (s *server) start(e *Engine) error {
	e.state = types.StateListening
	e.log(types.LevelInfo, "server", "listening on tcp/%d and udp/%d", e.cfg.TCPPort, e.cfg.UDPPort())
	return nil
}

// beginSending waits out the capture's gap between the first client packet
// and the first server packet before the first send.
func (s *server) beginSending(e *Engine) error {
	if s.sending {
		return nil
	}

	if s.tm == nil {
		tm, err := netio.NewTimer()
		if err != nil {
			return err
		}
		if err := e.register(tm); err != nil {
			tm.Close()
			return err
		}
		s.tm = tm
	}
	s.sending = true

	first, err := e.matcher.FindNext(e.reader, types.RoleClient)
	if err != nil {
		return err
	}
	if first == nil {
		return e.park()
	}

	reply, err := e.matcher.FindNext(e.reader, types.RoleServer)
	if err != nil {
		return err
	}
	if reply == nil {
		return e.park()
	}

	headStart := Delay(first.Timestamp, reply.Timestamp)
	e.log(types.LevelInfo, "server", "first reply due in %s", headStart)
	e.pending = reply
	e.state = types.StateSending
	return e.arm(headStart)
}

func (s *server) transmit(p *types.PendingPacket) (int, error) {
	if p.Proto == types.ProtoUDP {
		if s.udpPeer == nil {
			return 0, nil
		}
		return s.udp.SendTo(p.Payload, s.udpPeer)
	}
	if !s.peer.Valid() {
		return 0, nil
	}
	return s.peer.Send(p.Payload)
}

func (s *server) onAccept(e *Engine) error {
	conn, sa, err := s.listener.Accept()
	if err != nil {
		if !netio.IsTransient(err) {
			e.log(types.LevelWarning, "server", "%v", err)
		}
		return nil
	}

	from := netio.AddrPortOf(sa)
	if s.peer.Valid() {
		e.log(types.LevelWarning, "server", "already serving a peer, refusing %s", from)
		conn.Close()
		return nil
	}

	if err := e.register(conn); err != nil {
		conn.Close()
		return err
	}
	s.peer = conn
	e.log(types.LevelMessage, "server", "accepted connection from %s", from)
	if e.state == types.StateListening {
		e.state = types.StateConnected
	}
	return s.beginSending(e)
}

func (s *server) onPeerReadable(e *Engine) error {
	return readStream(e, "server", s.peer)
}

func (s *server) onDatagram(e *Engine) error {
	n, from, err := s.udp.RecvFrom(e.recvBuf)
	if err != nil {
		if !netio.IsTransient(err) {
			e.log(types.LevelWarning, "server", "udp receive: %v", err)
		}
		return nil
	}

	if s.udpPeer == nil {
		s.udpPeer = from
		e.log(types.LevelMessage, "server", "udp peer is %s", netio.AddrPortOf(from))
	}
	e.received("server", types.ProtoUDP, n)
	return s.beginSending(e)
}

func (s *server) reset(e *Engine) error {
	e.closeSocket(s.peer)
	s.udpPeer = nil
	s.sending = false
	if s.tm != nil {
		return s.tm.Disarm()
	}
	return nil
}

func (s *server) release(e *Engine) {
	e.closeSocket(s.peer)
	e.closeSocket(s.udp)
	e.closeSocket(s.listener)
	e.closeTimer(s.tm)
}
