package wasi

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	subsPtr   = 8192
	eventsPtr = 16384
)

func (h *harness) clockSubscription(i uint32, userdata uint64, id Clockid, timeout int64, flags Subclockflags) {
	var sub [subscriptionSize]byte
	binary.LittleEndian.PutUint64(sub[0:], userdata)
	sub[8] = byte(EventTypeClock)
	binary.LittleEndian.PutUint32(sub[16:], uint32(id))
	binary.LittleEndian.PutUint64(sub[24:], uint64(timeout))
	binary.LittleEndian.PutUint16(sub[40:], uint16(flags))
	h.write(subsPtr+i*subscriptionSize, sub[:])
}

func (h *harness) fdSubscription(i uint32, userdata uint64, kind EventType, fd uint32) {
	var sub [subscriptionSize]byte
	binary.LittleEndian.PutUint64(sub[0:], userdata)
	sub[8] = byte(kind)
	binary.LittleEndian.PutUint32(sub[16:], fd)
	h.write(subsPtr+i*subscriptionSize, sub[:])
}

func (h *harness) events() []event {
	n := h.u32(nPtr)
	events := make([]event, n)
	for i := range events {
		rec := h.read(eventsPtr+uint32(i)*eventSize, eventSize)
		events[i] = event{
			userdata: binary.LittleEndian.Uint64(rec[0:]),
			errno:    Errno(binary.LittleEndian.Uint16(rec[8:])),
			kind:     EventType(rec[10]),
		}
	}
	return events
}

func (h *harness) poll(nsubs uint32) Errno {
	return h.call(SyscallPollOneoff, subsPtr, eventsPtr, uint64(nsubs), nPtr)
}

func TestPollWaitBound(t *testing.T) {
	const d = 20 * time.Millisecond

	var slept []time.Duration
	bindings := NewOSBindings()
	bindings.Sleep = func(d time.Duration) {
		slept = append(slept, d)
		time.Sleep(d)
	}
	h := newHarness(t, &Options{Bindings: bindings})

	h.clockSubscription(0, 42, ClockMonotonic, int64(d), 0)

	start := time.Now()
	require.Equal(t, ErrnoSuccess, h.poll(1))
	assert.GreaterOrEqual(t, time.Since(start), d)

	assert.Equal(t, []event{{userdata: 42, errno: ErrnoSuccess, kind: EventTypeClock}}, h.events())
	assert.Equal(t, []time.Duration{d}, slept)
}

func TestPollRoundsSleepUp(t *testing.T) {
	var slept []time.Duration
	bindings := NewOSBindings()
	bindings.Sleep = func(d time.Duration) { slept = append(slept, d) }
	h := newHarness(t, &Options{Bindings: bindings})

	h.clockSubscription(0, 1, ClockMonotonic, int64(1500*time.Microsecond), 0)
	h.clockSubscription(1, 2, ClockRealtime, int64(300*time.Microsecond), 0)
	require.Equal(t, ErrnoSuccess, h.poll(2))
	assert.Len(t, h.events(), 2)
	assert.Equal(t, []time.Duration{2 * time.Millisecond}, slept)
}

func TestPollBusyWait(t *testing.T) {
	const d = 5 * time.Millisecond

	bindings := NewOSBindings()
	bindings.Sleep = nil
	h := newHarness(t, &Options{Bindings: bindings})

	h.clockSubscription(0, 7, ClockMonotonic, int64(d), 0)

	start := time.Now()
	require.Equal(t, ErrnoSuccess, h.poll(1))
	assert.GreaterOrEqual(t, time.Since(start), d)
	assert.Equal(t, uint64(1), h.w.Stats().BusyWaits())

	require.Equal(t, ErrnoSuccess, h.poll(1))
	assert.Equal(t, uint64(2), h.w.Stats().BusyWaits())
}

func TestPollAbsolute(t *testing.T) {
	now := int64(time.Second)
	var slept []time.Duration

	bindings := NewOSBindings()
	bindings.Hrtime = func() int64 { return now }
	bindings.Sleep = func(d time.Duration) { slept = append(slept, d) }
	h := newHarness(t, &Options{Bindings: bindings})

	h.clockSubscription(0, 1, ClockMonotonic, now+int64(10*time.Millisecond), SubclockflagsAbstime)
	require.Equal(t, ErrnoSuccess, h.poll(1))
	assert.Equal(t, []time.Duration{10 * time.Millisecond}, slept)

	// A deadline in the past does not wait.
	h.clockSubscription(0, 1, ClockMonotonic, now-int64(10*time.Millisecond), SubclockflagsAbstime)
	require.Equal(t, ErrnoSuccess, h.poll(1))
	assert.Len(t, slept, 1)
}

func TestPollEvents(t *testing.T) {
	var slept []time.Duration
	bindings := NewOSBindings()
	bindings.Sleep = func(d time.Duration) { slept = append(slept, d) }
	bindings.SocketPoll = nil
	h := newHarness(t, &Options{Bindings: bindings})

	h.clockSubscription(0, 1, 9, int64(time.Second), 0)
	h.fdSubscription(1, 2, EventTypeFdRead, 0)
	h.fdSubscription(2, 3, EventTypeFdWrite, 1)
	require.Equal(t, ErrnoSuccess, h.poll(3))

	assert.Equal(t, []event{
		{userdata: 1, errno: ErrnoInval, kind: EventTypeClock},
		{userdata: 2, errno: ErrnoNosys, kind: EventTypeFdRead},
		{userdata: 3, errno: ErrnoNosys, kind: EventTypeFdWrite},
	}, h.events())
	assert.Empty(t, slept)

	assert.Equal(t, ErrnoInval, h.poll(0))

	h.fdSubscription(0, 1, 7, 0)
	assert.Equal(t, ErrnoInval, h.poll(1))

	assert.Equal(t, ErrnoFault, h.call(SyscallPollOneoff, 65500, eventsPtr, 1, nPtr))
	h.clockSubscription(0, 1, ClockMonotonic, 0, 0)
	assert.Equal(t, ErrnoFault, h.call(SyscallPollOneoff, subsPtr, 65530, 1, nPtr))
}

func TestPollSocketHook(t *testing.T) {
	type request struct {
		handle  int
		kind    EventType
		timeout time.Duration
	}
	var (
		requests []request
		result   Errno
		slept    []time.Duration
	)

	bindings := NewOSBindings()
	bindings.Sleep = func(d time.Duration) { slept = append(slept, d) }
	bindings.SocketPoll = func(handle int, kind EventType, timeout time.Duration) Errno {
		requests = append(requests, request{handle, kind, timeout})
		return result
	}
	h := newHarness(t, &Options{Bindings: bindings})

	h.clockSubscription(0, 1, ClockMonotonic, int64(time.Second), 0)
	h.fdSubscription(1, 2, EventTypeFdWrite, 1)

	result = ErrnoSuccess
	require.Equal(t, ErrnoSuccess, h.poll(2))
	assert.Equal(t, []event{
		{userdata: 1, errno: ErrnoSuccess, kind: EventTypeClock},
		{userdata: 2, errno: ErrnoSuccess, kind: EventTypeFdWrite},
	}, h.events())
	assert.Equal(t, []request{{1, EventTypeFdWrite, time.Second}}, requests)
	assert.Empty(t, slept)

	// The hook timed out: only the clock fired.
	result = ErrnoAgain
	require.Equal(t, ErrnoSuccess, h.poll(2))
	assert.Equal(t, []event{{userdata: 1, errno: ErrnoSuccess, kind: EventTypeClock}}, h.events())
	assert.Empty(t, slept)

	// The hook cannot wait on the handle: fall back to the clock.
	result = ErrnoNosys
	require.Equal(t, ErrnoSuccess, h.poll(2))
	assert.Len(t, h.events(), 2)
	assert.Equal(t, []time.Duration{time.Second}, slept)

	// An unknown descriptor is never handed to the hook.
	requests = nil
	h.fdSubscription(1, 2, EventTypeFdWrite, 99)
	require.Equal(t, ErrnoSuccess, h.poll(2))
	assert.Empty(t, requests)
}

func TestPollSocketHookAbsoluteDeadline(t *testing.T) {
	now := int64(time.Second)
	var timeouts []time.Duration

	bindings := NewOSBindings()
	bindings.Hrtime = func() int64 { return now }
	bindings.Sleep = func(time.Duration) {}
	bindings.SocketPoll = func(_ int, _ EventType, timeout time.Duration) Errno {
		timeouts = append(timeouts, timeout)
		return ErrnoAgain
	}
	h := newHarness(t, &Options{Bindings: bindings})

	h.clockSubscription(0, 1, ClockMonotonic, now+int64(50*time.Millisecond), SubclockflagsAbstime)
	h.fdSubscription(1, 2, EventTypeFdRead, 1)
	require.Equal(t, ErrnoSuccess, h.poll(2))
	assert.Equal(t, []event{{userdata: 1, errno: ErrnoSuccess, kind: EventTypeClock}}, h.events())

	// A deadline that has already passed polls without blocking.
	h.clockSubscription(0, 1, ClockMonotonic, now-int64(time.Millisecond), SubclockflagsAbstime)
	require.Equal(t, ErrnoSuccess, h.poll(2))

	assert.Equal(t, []time.Duration{50 * time.Millisecond, 0}, timeouts)
}

func TestPollSaturatesTimeout(t *testing.T) {
	var slept []time.Duration
	bindings := NewOSBindings()
	bindings.Sleep = func(d time.Duration) { slept = append(slept, d) }
	h := newHarness(t, &Options{Bindings: bindings})

	forever := ^uint64(0)
	h.clockSubscription(0, 1, ClockMonotonic, int64(forever), 0)
	require.Equal(t, ErrnoSuccess, h.poll(1))
	assert.Equal(t, []time.Duration{time.Duration(math.MaxInt64).Truncate(time.Millisecond)}, slept)
}
