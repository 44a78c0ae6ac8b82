package netio

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

var (
	// ErrSocket wraps every failed socket, bind, listen, connect or accept call.
	ErrSocket = errors.New("socket error")
	// ErrTimer wraps failures of the timer descriptor.
	ErrTimer = errors.New("timer error")
	// ErrClosed is returned for operations on a released descriptor.
	ErrClosed = errors.New("descriptor closed")
)

func sockErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrSocket, op, err)
}

func timerErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTimer, op, err)
}

// IsTransient reports whether err only means "try again on the next pass".
func IsTransient(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}
