package engine

import (
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/samaelod/pcapreplay/netio"
	"github.com/samaelod/pcapreplay/socks"
	"github.com/samaelod/pcapreplay/types"
)

// client replays the capture's client side towards a live server.
type client struct {
	mode    types.Mode
	server  netip.AddrPort
	proxy   netip.AddrPort
	udpDest unix.Sockaddr

	tcp *netio.Socket
	udp *netio.Socket
	tm  *netio.Timer
}

func newClient(e *Engine) (endpoint, error) {
	addr, err := netio.ResolveIPv4(e.cfg.ServerHost)
	if err != nil {
		return nil, err
	}

	c := &client{
		mode:   e.cfg.Mode,
		server: netip.AddrPortFrom(addr, uint16(e.cfg.TCPPort)),
	}
	if c.mode == types.ModeTor {
		c.proxy = netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), uint16(e.cfg.ProxyPort))
	} else {
		c.udpDest = netio.Sockaddr(netip.AddrPortFrom(addr, uint16(e.cfg.UDPPort())))
	}

	c.tm, err = netio.NewTimer()
	if err != nil {
		return nil, err
	}
	if err := e.register(c.tm); err != nil {
		c.tm.Close()
		return nil, err
	}
	return c, nil
}

func (c *client) role() types.Role {
	return types.RoleClient
}

func (c *client) classify(fd int) fdKind {
	switch {
	case c.tm != nil && fd == c.tm.Fd():
		return fdTimer
	case c.tcp.Valid() && fd == c.tcp.Fd():
		return fdPeer
	case c.udp.Valid() && fd == c.udp.Fd():
		return fdDatagram
	}
	return fdUnknown
}

func (c *client) timer() *netio.Timer {
	return c.tm
}

func (c *client) connect(e *Engine) error {
	target := c.server
	if c.mode == types.ModeTor {
		target = c.proxy
	}

	e.log(types.LevelInfo, "client", "connecting to %s", target)
	s, err := netio.DialTCP(target)
	if err != nil {
		return err
	}

	if c.mode == types.ModeTor {
		if err := socks.Negotiate(s, c.server); err != nil {
			s.Close()
			return err
		}
		e.log(types.LevelInfo, "client", "proxy tunnel to %s established", c.server)
	}

	if err := s.SetNonblock(); err != nil {
		s.Close()
		return err
	}
	if err := e.register(s); err != nil {
		s.Close()
		return err
	}
	c.tcp = s

	if c.mode == types.ModeTor {
		return nil
	}

	u, err := netio.OpenUDP()
	if err != nil {
		return err
	}
	if err := e.register(u); err != nil {
		u.Close()
		return err
	}
	c.udp = u
	return nil
}

func (c *client) start(e *Engine) error {
	e.state = types.StateConnecting
	if err := c.connect(e); err != nil {
		return err
	}
	e.state = types.StateConnected
	e.log(types.LevelMessage, "client", "connected to %s", c.server)

	first, err := e.matcher.FindNext(e.reader, types.RoleClient)
	if err != nil {
		return err
	}
	if first == nil {
		if e.restarts > 0 {
			return e.park()
		}
		return fmt.Errorf("%w: %s", ErrNoMatchingPacket, e.reader.Path())
	}

	e.pending = first
	e.state = types.StateSending
	return e.arm(FirstDelay)
}

func (c *client) transmit(p *types.PendingPacket) (int, error) {
	if p.Proto == types.ProtoUDP {
		if !c.udp.Valid() {
			return 0, nil
		}
		return c.udp.SendTo(p.Payload, c.udpDest)
	}
	return c.tcp.Send(p.Payload)
}

func (c *client) onAccept(*Engine) error {
	return nil
}

func (c *client) onPeerReadable(e *Engine) error {
	return readStream(e, "client", c.tcp)
}

func (c *client) onDatagram(e *Engine) error {
	n, _, err := c.udp.RecvFrom(e.recvBuf)
	if err != nil {
		if netio.IsTransient(err) {
			return nil
		}
		e.log(types.LevelWarning, "client", "udp receive: %v", err)
		return nil
	}
	e.received("client", types.ProtoUDP, n)
	return nil
}

func (c *client) reset(e *Engine) error {
	e.closeSocket(c.tcp)
	e.closeSocket(c.udp)
	return c.tm.Disarm()
}

func (c *client) release(e *Engine) {
	e.closeSocket(c.tcp)
	e.closeSocket(c.udp)
	e.closeTimer(c.tm)
}
