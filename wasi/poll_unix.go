//go:build unix

package wasi

import (
	"math"
	"time"

	"golang.org/x/sys/unix"
)

// pollHandle waits for a single host handle to become readable or writable.
func pollHandle(handle int, kind EventType, timeout time.Duration) Errno {
	var events int16
	switch kind {
	case EventTypeFdRead:
		events = unix.POLLIN
	case EventTypeFdWrite:
		events = unix.POLLOUT
	default:
		return ErrnoNosys
	}

	ms := -1
	if timeout >= 0 {
		ms = math.MaxInt32
		if timeout < time.Duration(math.MaxInt32)*time.Millisecond {
			ms = int((timeout + time.Millisecond - 1) / time.Millisecond)
		}
	}

	fds := []unix.PollFd{{Fd: int32(handle), Events: events}}
	for {
		n, err := unix.Poll(fds, ms)
		switch {
		case err == unix.EINTR:
			continue
		case err != nil:
			return errnoOf(err)
		case n == 0:
			return ErrnoAgain
		case fds[0].Revents&unix.POLLNVAL != 0:
			return ErrnoBadf
		default:
			return ErrnoSuccess
		}
	}
}
