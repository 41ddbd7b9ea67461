//go:build unix && !linux

package wasi

import "golang.org/x/sys/unix"

// There is no fdatasync on these hosts.
func fdatasync(handle int) error {
	return unix.Fsync(handle)
}
