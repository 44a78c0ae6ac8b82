package engine

import (
	"time"

	"github.com/samaelod/pcapreplay/types"
)

const (
	// FirstDelay fires the first send as soon as possible; a zero timer
	// value would disarm the timer instead.
	FirstDelay = time.Nanosecond
	// ParkDelay keeps a role alive with nothing left to send until the
	// deadline ends the run.
	ParkDelay = 999999 * time.Second
	// RetryDelay re-fires a send the socket refused with EAGAIN.
	RetryDelay = time.Millisecond
)

// Delay returns the capture time between prev and next. Captures that go
// backwards in time yield zero so the next packet fires immediately.
func Delay(prev, next types.Timestamp) time.Duration {
	sec := next.Sec - prev.Sec
	usec := next.Usec - prev.Usec
	if usec < 0 {
		sec--
		usec += 1000000
	}
	if sec < 0 {
		return 0
	}
	return time.Duration(sec)*time.Second + time.Duration(usec)*time.Microsecond
}

// Before reports whether a was captured strictly before b.
func Before(a, b types.Timestamp) bool {
	if a.Sec != b.Sec {
		return a.Sec < b.Sec
	}
	return a.Usec < b.Usec
}
