//go:build linux

package netio

import (
	"io"
	"net/netip"

	"golang.org/x/sys/unix"
)

// ListenBacklog is the accept queue length of listening sockets.
const ListenBacklog = 100

// Socket owns one IPv4 socket descriptor. Close is idempotent: a released
// socket keeps fd -1 and every later call reports ErrClosed.
type Socket struct {
	fd     int
	stream bool
}

func newSocket(typ int) (*Socket, error) {
	fd, err := unix.Socket(unix.AF_INET, typ|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, sockErr("socket", err)
	}
	return &Socket{fd: fd, stream: typ&unix.SOCK_STREAM == unix.SOCK_STREAM}, nil
}

// Sockaddr converts an IPv4 address and port to its raw form.
func Sockaddr(ap netip.AddrPort) *unix.SockaddrInet4 {
	return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: ap.Addr().Unmap().As4()}
}

// AddrPortOf converts a raw IPv4 socket address back. Other families yield
// the zero value.
func AddrPortOf(sa unix.Sockaddr) netip.AddrPort {
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		return netip.AddrPortFrom(netip.AddrFrom4(in4.Addr), uint16(in4.Port))
	}
	return netip.AddrPort{}
}

// DialTCP connects a blocking stream socket to addr. Callers switch it to
// non-blocking with SetNonblock once any synchronous handshake is done.
func DialTCP(addr netip.AddrPort) (*Socket, error) {
	s, err := newSocket(unix.SOCK_STREAM)
	if err != nil {
		return nil, err
	}
	for {
		err = unix.Connect(s.fd, Sockaddr(addr))
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		s.Close()
		return nil, sockErr("connect "+addr.String(), err)
	}
	return s, nil
}

// ListenTCP opens a non-blocking listening socket on all interfaces.
func ListenTCP(port int) (*Socket, error) {
	s, err := newSocket(unix.SOCK_STREAM | unix.SOCK_NONBLOCK)
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		s.Close()
		return nil, sockErr("setsockopt SO_REUSEADDR", err)
	}
	if err := unix.Bind(s.fd, &unix.SockaddrInet4{Port: port}); err != nil {
		s.Close()
		return nil, sockErr("bind tcp", err)
	}
	if err := unix.Listen(s.fd, ListenBacklog); err != nil {
		s.Close()
		return nil, sockErr("listen", err)
	}
	return s, nil
}

// ListenUDP opens a non-blocking datagram socket bound on all interfaces.
func ListenUDP(port int) (*Socket, error) {
	s, err := newSocket(unix.SOCK_DGRAM | unix.SOCK_NONBLOCK)
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		s.Close()
		return nil, sockErr("setsockopt SO_REUSEADDR", err)
	}
	if err := unix.Bind(s.fd, &unix.SockaddrInet4{Port: port}); err != nil {
		s.Close()
		return nil, sockErr("bind udp", err)
	}
	return s, nil
}

// OpenUDP opens an unbound non-blocking datagram socket for SendTo.
func OpenUDP() (*Socket, error) {
	return newSocket(unix.SOCK_DGRAM | unix.SOCK_NONBLOCK)
}

func (s *Socket) Fd() int {
	if s == nil {
		return -1
	}
	return s.fd
}

func (s *Socket) Valid() bool {
	return s != nil && s.fd >= 0
}

func (s *Socket) SetNonblock() error {
	if !s.Valid() {
		return ErrClosed
	}
	if err := unix.SetNonblock(s.fd, true); err != nil {
		return sockErr("set nonblock", err)
	}
	return nil
}

func (s *Socket) LocalAddr() (netip.AddrPort, error) {
	if !s.Valid() {
		return netip.AddrPort{}, ErrClosed
	}
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return netip.AddrPort{}, sockErr("getsockname", err)
	}
	return AddrPortOf(sa), nil
}

// Accept takes one pending connection. The peer socket is non-blocking.
func (s *Socket) Accept() (*Socket, unix.Sockaddr, error) {
	if !s.Valid() {
		return nil, nil, ErrClosed
	}
	fd, sa, err := unix.Accept4(s.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if IsTransient(err) {
			return nil, nil, err
		}
		return nil, nil, sockErr("accept", err)
	}
	return &Socket{fd: fd, stream: true}, sa, nil
}

// Send writes p with a single call on a connected socket.
func (s *Socket) Send(p []byte) (int, error) {
	return s.SendTo(p, nil)
}

// SendTo writes p as one datagram to addr, or to the connected peer when addr
// is nil.
func (s *Socket) SendTo(p []byte, addr unix.Sockaddr) (int, error) {
	if !s.Valid() {
		return 0, ErrClosed
	}
	n, err := unix.SendmsgN(s.fd, p, nil, addr, unix.MSG_NOSIGNAL)
	if err != nil {
		if IsTransient(err) {
			return 0, err
		}
		return 0, sockErr("send", err)
	}
	return n, nil
}

// Recv reads at most len(p) bytes. Zero with a nil error means the peer
// closed the stream.
func (s *Socket) Recv(p []byte) (int, error) {
	if !s.Valid() {
		return 0, ErrClosed
	}
	n, err := unix.Read(s.fd, p)
	if err != nil {
		if IsTransient(err) {
			return 0, err
		}
		return 0, sockErr("recv", err)
	}
	return n, nil
}

func (s *Socket) RecvFrom(p []byte) (int, unix.Sockaddr, error) {
	if !s.Valid() {
		return 0, nil, ErrClosed
	}
	n, from, err := unix.Recvfrom(s.fd, p, 0)
	if err != nil {
		if IsTransient(err) {
			return 0, nil, err
		}
		return 0, nil, sockErr("recvfrom", err)
	}
	return n, from, nil
}

// Read implements io.Reader for a blocking stream socket.
func (s *Socket) Read(p []byte) (int, error) {
	for {
		n, err := s.Recv(p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		if n == 0 && len(p) > 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}

// Write implements io.Writer for a blocking stream socket.
func (s *Socket) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := s.Send(p[written:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

// Close shuts stream sockets down in both directions and releases the
// descriptor once.
func (s *Socket) Close() error {
	if !s.Valid() {
		return nil
	}
	if s.stream {
		// ENOTCONN for listeners and unconnected streams is expected
		_ = unix.Shutdown(s.fd, unix.SHUT_RDWR)
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}
