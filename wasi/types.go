package wasi

// FileType is the type of the file referred to by a descriptor or directory entry.
type FileType uint8

const (
	FileTypeUnknown FileType = iota
	FileTypeBlockDevice
	FileTypeCharacterDevice
	FileTypeDirectory
	FileTypeRegularFile
	FileTypeSocketDgram
	FileTypeSocketStream
	FileTypeSymbolicLink
)

// Fdflags are the file descriptor flags accepted by `path_open` and reported by `fd_fdstat_get`.
type Fdflags uint16

const (
	FdflagsAppend   Fdflags = 1 << 0
	FdflagsDsync    Fdflags = 1 << 1
	FdflagsNonblock Fdflags = 1 << 2
	FdflagsRsync    Fdflags = 1 << 3
	FdflagsSync     Fdflags = 1 << 4
)

// Oflags are the open flags accepted by `path_open`.
type Oflags uint16

const (
	OflagsCreat     Oflags = 1 << 0
	OflagsDirectory Oflags = 1 << 1
	OflagsExcl      Oflags = 1 << 2
	OflagsTrunc     Oflags = 1 << 3
)

// Fstflags select the timestamps adjusted by `fd_filestat_set_times` and `path_filestat_set_times`.
type Fstflags uint16

const (
	FstflagsAtim    Fstflags = 1 << 0
	FstflagsAtimNow Fstflags = 1 << 1
	FstflagsMtim    Fstflags = 1 << 2
	FstflagsMtimNow Fstflags = 1 << 3
)

// Lookupflags determine how a path is resolved.
type Lookupflags uint32

// As long as the resolved path corresponds to a symbolic link, it is expanded.
const LookupflagsSymlinkFollow Lookupflags = 1 << 0

// Whence is the position relative to which `fd_seek` sets the offset of a descriptor.
type Whence uint8

const (
	WhenceSet Whence = iota
	WhenceCur
	WhenceEnd
)

// Clockid identifies a clock.
type Clockid uint32

const (
	// Wall-clock time. Zero is 1970-01-01T00:00:00Z.
	ClockRealtime Clockid = iota
	// A clock that cannot jump backwards and whose epoch is undefined.
	ClockMonotonic
	ClockProcessCPUTime
	ClockThreadCPUTime
)

// EventType is the type of a `poll_oneoff` subscription and of the event it produces.
type EventType uint8

const (
	EventTypeClock EventType = iota
	EventTypeFdRead
	EventTypeFdWrite
)

// Subclockflags modify a clock subscription.
type Subclockflags uint16

// The timeout is an absolute time on the subscription's clock rather than a duration.
const SubclockflagsAbstime Subclockflags = 1 << 0

const preopentypeDir = 0

// Record sizes in guest memory.
const (
	iovecSize        = 8
	fdstatSize       = 24
	filestatSize     = 64
	direntSize       = 24
	prestatSize      = 8
	subscriptionSize = 48
	eventSize        = 32
)

// signals lists the host signal names indexed by WASI signal number. Index 0 is SIGNONE, which is not delivered.
var signals = [...]string{
	"",
	"SIGHUP",
	"SIGINT",
	"SIGQUIT",
	"SIGILL",
	"SIGTRAP",
	"SIGABRT",
	"SIGBUS",
	"SIGFPE",
	"SIGKILL",
	"SIGUSR1",
	"SIGSEGV",
	"SIGUSR2",
	"SIGPIPE",
	"SIGALRM",
	"SIGTERM",
	"SIGCHLD",
	"SIGCONT",
	"SIGSTOP",
	"SIGTSTP",
	"SIGTTIN",
	"SIGTTOU",
	"SIGURG",
	"SIGXCPU",
	"SIGXFSZ",
	"SIGVTALRM",
	"SIGPROF",
	"SIGWINCH",
	"SIGPOLL",
	"SIGPWR",
	"SIGSYS",
}

// SignalName returns the host name of a WASI signal number, or false if the number is not a deliverable signal.
func SignalName(sig uint8) (string, bool) {
	if int(sig) >= len(signals) || signals[sig] == "" {
		return "", false
	}
	return signals[sig], true
}
