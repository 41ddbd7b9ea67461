package wasi

import (
	"context"
	"encoding/binary"
	"math"
	"runtime"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

const (
	// A blocking stdin read that comes up empty pauses for stdinPause, but only once stdin has been idle for
	// longer than stdinIdle.
	stdinIdle  = 2 * time.Second
	stdinPause = 50 * time.Millisecond
)

type event struct {
	userdata uint64
	errno    Errno
	kind     EventType
}

// Concurrently poll for the occurrence of a set of events.
//
// Clock subscriptions are satisfied by waiting for the longest of their timeouts. Descriptor subscriptions are not
// waited on and report ENOSYS, unless the host's socket poll hook can wait on the descriptor.
func (w *WASI) pollOneoff(_ context.Context, _ api.Module, params []uint64) error {
	in, out, nsubs, resultNevents := uint32(params[0]), uint32(params[1]), uint32(params[2]), uint32(params[3])
	if nsubs == 0 {
		return ErrnoInval
	}
	if uint64(nsubs)*subscriptionSize > uint64(^uint32(0)) {
		return ErrnoFault
	}

	raw, err := w.mem.slice(in, nsubs*subscriptionSize)
	if err != nil {
		return err
	}
	subs := append([]byte(nil), raw...)

	var (
		wait    time.Duration
		timeout = time.Duration(-1)
		fds     int
		fdIndex int
		fd      uint32
	)
	events := make([]event, 0, nsubs)
	for i := uint32(0); i < nsubs; i++ {
		sub := subs[i*subscriptionSize : (i+1)*subscriptionSize]
		ev := event{userdata: binary.LittleEndian.Uint64(sub[0:]), kind: EventType(sub[8])}

		switch ev.kind {
		case EventTypeClock:
			id := Clockid(binary.LittleEndian.Uint32(sub[16:]))
			ts := binary.LittleEndian.Uint64(sub[24:])
			absolute := Subclockflags(binary.LittleEndian.Uint16(sub[40:]))&SubclockflagsAbstime != 0

			now, ok := w.now(id)
			if !ok {
				ev.errno = ErrnoInval
				break
			}
			d := time.Duration(math.MaxInt64)
			if ts <= math.MaxInt64 {
				d = time.Duration(ts)
				if absolute {
					d = time.Duration(int64(ts) - now)
				}
			}
			if d < 0 {
				d = 0
			}
			if timeout < 0 || d < timeout {
				timeout = d
			}
			if d > wait {
				wait = d
			}
		case EventTypeFdRead, EventTypeFdWrite:
			fd = binary.LittleEndian.Uint32(sub[16:])
			fds, fdIndex = fds+1, len(events)
			ev.errno = ErrnoNosys
			if fd == 0 && ev.kind == EventTypeFdRead {
				w.shortPause()
			}
		default:
			return ErrnoInval
		}
		events = append(events, ev)
	}

	waited := false
	if len(events) == 2 && fds == 1 && w.bindings.SocketPoll != nil && !(fd == 0 && w.bindings.Stdin != nil) {
		if d, ok := w.files.lookup(fd); ok {
			switch errno := w.bindings.SocketPoll(d.handle, events[fdIndex].kind, timeout); errno {
			case ErrnoNosys:
			case ErrnoAgain:
				// The clock fired first.
				events = append(events[:fdIndex], events[fdIndex+1:]...)
				waited = true
			default:
				events[fdIndex].errno = errno
				waited = true
			}
		}
	}

	if err := w.writeEvents(out, events); err != nil {
		return err
	}
	if err := w.mem.putUint32(resultNevents, uint32(len(events))); err != nil {
		return err
	}

	if !waited && wait > 0 {
		w.wait(wait)
	}
	return nil
}

func (w *WASI) writeEvents(out uint32, events []event) error {
	buf, err := w.mem.slice(out, uint32(len(events))*eventSize)
	if err != nil {
		return err
	}
	clear(buf)
	for i, ev := range events {
		rec := buf[uint32(i)*eventSize:]
		binary.LittleEndian.PutUint64(rec[0:], ev.userdata)
		binary.LittleEndian.PutUint16(rec[8:], uint16(ev.errno))
		rec[10] = byte(ev.kind)
	}
	return nil
}

// wait blocks for d. Without a sleep binding it spins on the monotonic clock, yielding the processor between reads.
func (w *WASI) wait(d time.Duration) {
	if w.bindings.Sleep != nil {
		if d <= math.MaxInt64-time.Millisecond {
			d += time.Millisecond - 1
		}
		w.bindings.Sleep(d.Truncate(time.Millisecond))
		return
	}

	if !w.warnedBusyWait {
		w.warnedBusyWait = true
		w.log.Warn("no sleep function is configured; poll_oneoff will busy-wait", zap.Duration("wait", d))
	}
	w.stats.busyWaits++

	start := w.bindings.Hrtime()
	end := start + int64(d)
	if end < start {
		end = math.MaxInt64
	}
	for w.bindings.Hrtime() < end {
		runtime.Gosched()
	}
}

// shortPause throttles a guest that spins on an empty stdin.
func (w *WASI) shortPause() {
	if w.bindings.Sleep == nil {
		return
	}
	if time.Duration(w.bindings.Hrtime()-w.lastStdin) > stdinIdle {
		w.bindings.Sleep(stdinPause)
	}
}

// readStdin reads from the stdin binding, fetching more input once the previous batch is consumed.
func (w *WASI) readStdin(p []byte) int {
	if len(w.stdin) == 0 {
		w.stdin = w.bindings.Stdin()
	}
	if len(w.stdin) == 0 {
		w.shortPause()
		return 0
	}

	n := copy(p, w.stdin)
	w.stdin = w.stdin[n:]
	w.lastStdin = w.bindings.Hrtime()
	return n
}
