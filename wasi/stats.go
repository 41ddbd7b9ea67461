package wasi

import "time"

// SyscallStats summarizes the calls made to one syscall.
type SyscallStats struct {
	Syscall     string `csv:"syscall"`
	Calls       uint64 `csv:"calls"`
	Errors      uint64 `csv:"errors"`
	Nanoseconds int64  `csv:"nanoseconds"`
}

type syscallCounter struct {
	calls  uint64
	errors uint64
	time   time.Duration
}

// Stats counts the host function calls made by a guest.
type Stats struct {
	syscalls  [numSyscalls]syscallCounter
	busyWaits uint64
}

func (s *Stats) record(sc Syscall, errno Errno, elapsed time.Duration) {
	c := &s.syscalls[sc]
	c.calls++
	if errno != ErrnoSuccess {
		c.errors++
	}
	c.time += elapsed
}

// Syscalls returns the counters of every syscall that has been called at least once, in declaration order.
func (s *Stats) Syscalls() []SyscallStats {
	var rows []SyscallStats
	for i := range s.syscalls {
		c := &s.syscalls[i]
		if c.calls == 0 {
			continue
		}
		rows = append(rows, SyscallStats{
			Syscall:     Syscall(i).String(),
			Calls:       c.calls,
			Errors:      c.errors,
			Nanoseconds: int64(c.time),
		})
	}
	return rows
}

// BusyWaits returns the number of times poll_oneoff waited by spinning because no sleep binding was configured.
func (s *Stats) BusyWaits() uint64 {
	return s.busyWaits
}
