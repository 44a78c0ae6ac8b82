//go:build linux

package netio

import (
	"encoding/binary"
	"time"

	"golang.org/x/sys/unix"
)

// Timer is a one-shot CLOCK_MONOTONIC timerfd. It becomes readable when it
// expires.
type Timer struct {
	fd  int
	buf [8]byte
}

func NewTimer() (*Timer, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, timerErr("timerfd_create", err)
	}
	return &Timer{fd: fd}, nil
}

func (t *Timer) Fd() int {
	return t.fd
}

// Arm schedules one expiration after d. A zero value would disarm the
// timerfd, so d is raised to one nanosecond.
func (t *Timer) Arm(d time.Duration) error {
	if t.fd < 0 {
		return timerErr("arm", ErrClosed)
	}
	if d <= 0 {
		d = time.Nanosecond
	}
	spec := unix.ItimerSpec{Value: unix.NsecToTimespec(int64(d))}
	if err := unix.TimerfdSettime(t.fd, 0, &spec, nil); err != nil {
		return timerErr("timerfd_settime", err)
	}
	return nil
}

func (t *Timer) Disarm() error {
	if t.fd < 0 {
		return nil
	}
	var spec unix.ItimerSpec
	if err := unix.TimerfdSettime(t.fd, 0, &spec, nil); err != nil {
		return timerErr("timerfd_settime", err)
	}
	return nil
}

// Drain consumes pending expirations so the descriptor stops being readable.
func (t *Timer) Drain() (uint64, error) {
	if t.fd < 0 {
		return 0, ErrClosed
	}
	n, err := unix.Read(t.fd, t.buf[:])
	if err != nil {
		if IsTransient(err) {
			return 0, nil
		}
		return 0, timerErr("read", err)
	}
	if n < len(t.buf) {
		return 0, nil
	}
	return binary.NativeEndian.Uint64(t.buf[:]), nil
}

func (t *Timer) Close() error {
	if t.fd < 0 {
		return nil
	}
	err := unix.Close(t.fd)
	t.fd = -1
	return err
}
