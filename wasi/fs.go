package wasi

import (
	"fmt"
	"os"
	"time"
)

// Stat describes a host file.
type Stat struct {
	Dev        uint64
	Inode      uint64
	Mode       os.FileMode
	LinkCount  uint64
	Size       uint64
	AccessTime time.Time
	ModTime    time.Time
	ChangeTime time.Time
}

// FileType returns the WASI file type of the file.
func (s *Stat) FileType() FileType {
	return filetype(s.Mode)
}

// Host open flags understood by FS.Open. The OS bindings translate these to the host's own flag values.
const (
	OpenReadOnly  = os.O_RDONLY
	OpenWriteOnly = os.O_WRONLY
	OpenReadWrite = os.O_RDWR
	OpenAppend    = os.O_APPEND
	OpenCreate    = os.O_CREATE
	OpenExclusive = os.O_EXCL
	OpenSync      = os.O_SYNC
	OpenTruncate  = os.O_TRUNC

	// Flags with no portable os equivalent live above the portable range.
	OpenDirectory = 1 << 28
	OpenDsync     = 1 << 29
	OpenNonblock  = 1 << 30
)

// FS is the host filesystem as seen by the WASI layer. Handles are host descriptor numbers. Errors are host errors
// (typically syscall.Errno values or io/fs sentinels) or explicit Errno values.
//
// Read and Pread report end-of-file as (0, nil).
type FS interface {
	Open(path string, flags int, perm os.FileMode) (int, error)
	Close(handle int) error

	Read(handle int, p []byte) (int, error)
	Pread(handle int, p []byte, offset int64) (int, error)
	Write(handle int, p []byte) (int, error)
	Pwrite(handle int, p []byte, offset int64) (int, error)

	Fstat(handle int) (Stat, error)
	Stat(path string) (Stat, error)
	Lstat(path string) (Stat, error)

	// ReadDir returns the names of the entries in the directory at path, sorted, excluding "." and "..".
	ReadDir(path string) ([]string, error)

	Mkdir(path string, perm os.FileMode) error
	Rmdir(path string) error
	Rename(from, to string) error
	Link(from, to string) error
	Symlink(target, link string) error
	Unlink(path string) error
	Readlink(path string) (string, error)

	// Realpath returns the canonical absolute form of path with all symbolic links resolved.
	Realpath(path string) (string, error)

	Ftruncate(handle int, size int64) error
	Futimes(handle int, atime, mtime time.Time) error
	Utimes(path string, atime, mtime time.Time, followSymlinks bool) error
	Fsync(handle int) error
	Fdatasync(handle int) error
}

// Bindings are the host primitives consumed by the WASI layer. FS, Hrtime, Walltime, and RandomFill are required;
// the remaining fields are optional.
type Bindings struct {
	FS FS

	// Hrtime returns a monotonic nanosecond counter.
	Hrtime func() int64
	// Walltime returns nanoseconds since the Unix epoch. It is read once to fix the offset of the realtime clock.
	Walltime func() int64

	// RandomFill fills p with cryptographically secure random bytes.
	RandomFill func(p []byte)

	// Exit is called by proc_exit before the guest is unwound.
	Exit func(code uint32)
	// Kill delivers the named signal (e.g. "SIGTERM") to the current process.
	Kill func(signal string) error
	// IsTTY reports whether a host handle refers to a terminal.
	IsTTY func(handle int) bool

	// Sleep blocks for the given duration, which is always a whole number of milliseconds. If nil, waits in
	// poll_oneoff busy-spin on Hrtime.
	Sleep func(d time.Duration)

	// Stdin, if set, supplies the bytes read from descriptor 0. It is called whenever previously supplied bytes have
	// been consumed; an empty result means no input is available yet.
	Stdin func() []byte
	// Stdout and Stderr, if set, receive the bytes written to descriptors 1 and 2. The slice aliases guest memory and
	// must not be retained.
	Stdout func(p []byte)
	Stderr func(p []byte)

	// SocketPoll, if set, waits up to timeout for the host handle to become ready for the given event. It returns
	// ErrnoSuccess if the handle is ready, ErrnoNosys if it cannot wait on the handle, or another error to report
	// for the subscription.
	SocketPoll func(handle int, kind EventType, timeout time.Duration) Errno
}

func (b *Bindings) validate() error {
	switch {
	case b.FS == nil:
		return fmt.Errorf("bindings: missing FS")
	case b.Hrtime == nil:
		return fmt.Errorf("bindings: missing Hrtime")
	case b.Walltime == nil:
		return fmt.Errorf("bindings: missing Walltime")
	case b.RandomFill == nil:
		return fmt.Errorf("bindings: missing RandomFill")
	}
	return nil
}

func (b *Bindings) isTTY(handle int) bool {
	return b.IsTTY != nil && b.IsTTY(handle)
}
