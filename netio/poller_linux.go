//go:build linux

package netio

import (
	"time"

	"golang.org/x/sys/unix"
)

const maxEvents = 100

// Event is one ready descriptor reported by the poller.
type Event struct {
	Fd     int
	Events uint32
}

func (e Event) Readable() bool {
	return e.Events&unix.EPOLLIN != 0
}

func (e Event) Hangup() bool {
	return e.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0
}

// Poller is an epoll instance watching descriptors for readability.
type Poller struct {
	fd     int
	events []unix.EpollEvent
}

func NewPoller() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, sockErr("epoll_create1", err)
	}
	return &Poller{fd: fd, events: make([]unix.EpollEvent, maxEvents)}, nil
}

func (p *Poller) Fd() int {
	return p.fd
}

func (p *Poller) Add(fd int) error {
	if p.fd < 0 {
		return ErrClosed
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return sockErr("epoll_ctl add", err)
	}
	return nil
}

func (p *Poller) Remove(fd int) error {
	if p.fd < 0 || fd < 0 {
		return nil
	}
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return sockErr("epoll_ctl del", err)
	}
	return nil
}

// Poll collects the descriptors that are ready right now. It never blocks.
func (p *Poller) Poll() ([]Event, error) {
	if p.fd < 0 {
		return nil, ErrClosed
	}

	n, err := unix.EpollWait(p.fd, p.events, 0)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, sockErr("epoll_wait", err)
	}

	ready := make([]Event, 0, n)
	for _, ev := range p.events[:n] {
		ready = append(ready, Event{Fd: int(ev.Fd), Events: ev.Events})
	}
	return ready, nil
}

// Wait blocks until at least one watched descriptor is ready or timeout
// elapses. A negative timeout waits forever.
func (p *Poller) Wait(timeout time.Duration) (bool, error) {
	if p.fd < 0 {
		return false, ErrClosed
	}

	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	fds := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, ms)
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, sockErr("poll", err)
	}
	return n > 0, nil
}

func (p *Poller) Close() error {
	if p.fd < 0 {
		return nil
	}
	err := unix.Close(p.fd)
	p.fd = -1
	return err
}
