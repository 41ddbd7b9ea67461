//go:build unix

package wasi

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func hostErrnoName(err syscall.Errno) string {
	return unix.ErrnoName(err)
}
