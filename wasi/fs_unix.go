//go:build unix

package wasi

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

type osFS struct{}

// NewOSFS returns an FS that performs operations directly on the host's filesystem.
func NewOSFS() FS {
	return osFS{}
}

// NewOSBindings returns bindings backed by the host process: its filesystem, clocks, CSPRNG, signals and terminal.
// Exit is left unset so that proc_exit unwinds the guest instead of terminating the host process.
func NewOSBindings() *Bindings {
	start := time.Now()
	return &Bindings{
		FS:       NewOSFS(),
		Hrtime:   func() int64 { return int64(time.Since(start)) },
		Walltime: func() int64 { return time.Now().UnixNano() },
		RandomFill: func(p []byte) {
			if _, err := rand.Read(p); err != nil {
				panic(err)
			}
		},
		Kill:       kill,
		IsTTY:      term.IsTerminal,
		Sleep:      time.Sleep,
		SocketPoll: pollHandle,
	}
}

func kill(signal string) error {
	sig := unix.SignalNum(signal)
	if sig == 0 {
		return ErrnoInval
	}
	return unix.Kill(unix.Getpid(), sig)
}

func hostOpenFlags(flags int) int {
	host := flags &^ (OpenDirectory | OpenDsync | OpenNonblock)
	if flags&OpenDirectory != 0 {
		host |= unix.O_DIRECTORY
	}
	if flags&OpenDsync != 0 {
		host |= unix.O_DSYNC
	}
	if flags&OpenNonblock != 0 {
		host |= unix.O_NONBLOCK
	}
	return host | unix.O_CLOEXEC
}

func (osFS) Open(path string, flags int, perm os.FileMode) (int, error) {
	for {
		fd, err := unix.Open(path, hostOpenFlags(flags), uint32(perm.Perm()))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return -1, err
		}
		return fd, nil
	}
}

func (osFS) Close(handle int) error {
	return unix.Close(handle)
}

func (osFS) Read(handle int, p []byte) (int, error) {
	for {
		n, err := unix.Read(handle, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		return n, nil
	}
}

func (osFS) Pread(handle int, p []byte, offset int64) (int, error) {
	n, err := unix.Pread(handle, p, offset)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (osFS) Write(handle int, p []byte) (int, error) {
	for {
		n, err := unix.Write(handle, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		return n, nil
	}
}

func (osFS) Pwrite(handle int, p []byte, offset int64) (int, error) {
	n, err := unix.Pwrite(handle, p, offset)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (osFS) Fstat(handle int) (Stat, error) {
	var st unix.Stat_t
	if err := unix.Fstat(handle, &st); err != nil {
		return Stat{}, err
	}
	return fileStat(&st), nil
}

func (osFS) Stat(path string) (Stat, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return Stat{}, err
	}
	return fileStat(&st), nil
}

func (osFS) Lstat(path string) (Stat, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return Stat{}, err
	}
	return fileStat(&st), nil
}

func (osFS) ReadDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

func (osFS) Mkdir(path string, perm os.FileMode) error {
	return unix.Mkdir(path, uint32(perm.Perm()))
}

func (osFS) Rmdir(path string) error {
	return unix.Rmdir(path)
}

func (osFS) Rename(from, to string) error {
	return unix.Rename(from, to)
}

func (osFS) Link(from, to string) error {
	return unix.Link(from, to)
}

func (osFS) Symlink(target, link string) error {
	return unix.Symlink(target, link)
}

func (osFS) Unlink(path string) error {
	return unix.Unlink(path)
}

func (osFS) Readlink(path string) (string, error) {
	return os.Readlink(path)
}

func (osFS) Realpath(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", err
	}
	return filepath.Abs(resolved)
}

func (osFS) Ftruncate(handle int, size int64) error {
	return unix.Ftruncate(handle, size)
}

func (osFS) Futimes(handle int, atime, mtime time.Time) error {
	return unix.Futimes(handle, []unix.Timeval{
		unix.NsecToTimeval(atime.UnixNano()),
		unix.NsecToTimeval(mtime.UnixNano()),
	})
}

func (osFS) Utimes(path string, atime, mtime time.Time, followSymlinks bool) error {
	flags := 0
	if !followSymlinks {
		flags = unix.AT_SYMLINK_NOFOLLOW
	}
	return unix.UtimesNanoAt(unix.AT_FDCWD, path, []unix.Timespec{
		unix.NsecToTimespec(atime.UnixNano()),
		unix.NsecToTimespec(mtime.UnixNano()),
	}, flags)
}

func (osFS) Fsync(handle int) error {
	return unix.Fsync(handle)
}

func (osFS) Fdatasync(handle int) error {
	return fdatasync(handle)
}
