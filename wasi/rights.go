package wasi

import (
	"fmt"
	"strings"
)

// Rights is a capability bitmask. Each descriptor carries two: the base rights that apply to operations on the
// descriptor itself, and the inheriting rights that bound descriptors opened through it.
type Rights uint64

const (
	// The right to invoke `fd_datasync`. With `path_open`, the right to open with `fdflags::dsync`.
	RightsFdDatasync Rights = 1 << 0

	// The right to invoke `fd_read` and `sock_recv`. With `fd_seek`, the right to invoke `fd_pread`.
	RightsFdRead Rights = 1 << 1

	// The right to invoke `fd_seek`. Implies `fd_tell`.
	RightsFdSeek Rights = 1 << 2

	// The right to invoke `fd_fdstat_set_flags`.
	RightsFdFdstatSetFlags Rights = 1 << 3

	// The right to invoke `fd_sync`. With `path_open`, the right to open with `fdflags::rsync` and `fdflags::dsync`.
	RightsFdSync Rights = 1 << 4

	// The right to invoke `fd_tell`, or `fd_seek` with `whence::cur` and a zero offset.
	RightsFdTell Rights = 1 << 5

	// The right to invoke `fd_write` and `sock_send`. With `fd_seek`, the right to invoke `fd_pwrite`.
	RightsFdWrite Rights = 1 << 6

	RightsFdAdvise            Rights = 1 << 7
	RightsFdAllocate          Rights = 1 << 8
	RightsPathCreateDirectory Rights = 1 << 9

	// With `path_open`, the right to open with `oflags::creat`.
	RightsPathCreateFile Rights = 1 << 10

	RightsPathLinkSource   Rights = 1 << 11
	RightsPathLinkTarget   Rights = 1 << 12
	RightsPathOpen         Rights = 1 << 13
	RightsFdReaddir        Rights = 1 << 14
	RightsPathReadlink     Rights = 1 << 15
	RightsPathRenameSource Rights = 1 << 16
	RightsPathRenameTarget Rights = 1 << 17
	RightsPathFilestatGet  Rights = 1 << 18

	// The right to change a file's size. With `path_open`, the right to open with `oflags::trunc`.
	RightsPathFilestatSetSize Rights = 1 << 19

	RightsPathFilestatSetTimes Rights = 1 << 20
	RightsFdFilestatGet        Rights = 1 << 21
	RightsFdFilestatSetSize    Rights = 1 << 22
	RightsFdFilestatSetTimes   Rights = 1 << 23
	RightsPathSymlink          Rights = 1 << 24
	RightsPathRemoveDirectory  Rights = 1 << 25
	RightsPathUnlinkFile       Rights = 1 << 26

	// With `fd_read` or `fd_write`, the right to subscribe to the corresponding `poll_oneoff` event.
	RightsPollFdReadwrite Rights = 1 << 27

	RightsSockShutdown Rights = 1 << 28
)

const (
	AllRights Rights = 1<<29 - 1

	FileRights = RightsFdDatasync | RightsFdRead | RightsFdSeek | RightsFdFdstatSetFlags | RightsFdSync |
		RightsFdTell | RightsFdWrite | RightsFdAdvise | RightsFdAllocate | RightsFdFilestatGet |
		RightsFdFilestatSetSize | RightsFdFilestatSetTimes | RightsPollFdReadwrite

	DirectoryRights = RightsFdFdstatSetFlags | RightsFdSync | RightsFdAdvise | RightsPathCreateDirectory |
		RightsPathCreateFile | RightsPathLinkSource | RightsPathLinkTarget | RightsPathOpen | RightsFdReaddir |
		RightsPathReadlink | RightsPathRenameSource | RightsPathRenameTarget | RightsPathFilestatGet |
		RightsPathFilestatSetSize | RightsPathFilestatSetTimes | RightsFdFilestatGet | RightsFdFilestatSetTimes |
		RightsPathSymlink | RightsPathUnlinkFile | RightsPathRemoveDirectory | RightsPollFdReadwrite

	DirectoryInheritingRights = DirectoryRights | FileRights

	ReadOnlyRights = RightsFdRead | RightsFdSeek | RightsFdTell | RightsFdAdvise | RightsFdReaddir |
		RightsFdFilestatGet | RightsPathOpen | RightsPathReadlink | RightsPathFilestatGet | RightsPollFdReadwrite

	SocketRights = RightsFdRead | RightsFdFdstatSetFlags | RightsFdWrite | RightsFdFilestatGet |
		RightsPollFdReadwrite | RightsSockShutdown

	TTYRights = RightsFdRead | RightsFdFdstatSetFlags | RightsFdWrite | RightsFdFilestatGet | RightsPollFdReadwrite

	StdinRights = RightsFdDatasync | RightsFdRead | RightsFdSync | RightsFdAdvise | RightsFdFilestatGet |
		RightsPollFdReadwrite
	StdoutRights = RightsFdDatasync | RightsFdWrite | RightsFdSync | RightsFdAdvise | RightsFdFilestatGet |
		RightsPollFdReadwrite
	StderrRights = StdoutRights
)

// Has returns true if r carries every right in required.
func (r Rights) Has(required Rights) bool {
	return r&required == required
}

// defaultRights returns the base and inheriting rights of a descriptor of the given type that was adopted without
// explicit rights.
func defaultRights(ft FileType, tty bool) (base, inheriting Rights) {
	switch ft {
	case FileTypeBlockDevice:
		return AllRights, AllRights
	case FileTypeCharacterDevice:
		if tty {
			return TTYRights, 0
		}
		return AllRights, AllRights
	case FileTypeDirectory:
		return DirectoryRights, DirectoryInheritingRights
	case FileTypeSocketStream, FileTypeSocketDgram:
		return SocketRights, AllRights
	case FileTypeRegularFile:
		return FileRights, 0
	default:
		return 0, 0
	}
}

var rightNames = [...]string{
	"fd_datasync", "fd_read", "fd_seek", "fd_fdstat_set_flags", "fd_sync", "fd_tell", "fd_write", "fd_advise",
	"fd_allocate", "path_create_directory", "path_create_file", "path_link_source", "path_link_target", "path_open",
	"fd_readdir", "path_readlink", "path_rename_source", "path_rename_target", "path_filestat_get",
	"path_filestat_set_size", "path_filestat_set_times", "fd_filestat_get", "fd_filestat_set_size",
	"fd_filestat_set_times", "path_symlink", "path_remove_directory", "path_unlink_file", "poll_fd_readwrite",
	"sock_shutdown",
}

// LookupRight returns the right with the given name, e.g. "fd_read", or one of the named sets "all", "dir", "file"
// and "ro".
func LookupRight(name string) (Rights, bool) {
	switch name {
	case "all":
		return AllRights, true
	case "dir":
		return DirectoryRights, true
	case "file":
		return FileRights, true
	case "ro":
		return ReadOnlyRights, true
	}
	for i, n := range rightNames {
		if n == name {
			return 1 << i, true
		}
	}
	return 0, false
}

// String returns the names of the rights in r, separated by '|'.
func (r Rights) String() string {
	if r == 0 {
		return "0"
	}
	var names []string
	for i, n := range rightNames {
		if r&(1<<i) != 0 {
			names = append(names, n)
		}
	}
	if rest := r &^ AllRights; rest != 0 {
		names = append(names, fmt.Sprintf("%#x", uint64(rest)))
	}
	return strings.Join(names, "|")
}
