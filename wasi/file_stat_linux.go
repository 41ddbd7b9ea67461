package wasi

import "golang.org/x/sys/unix"

func fdatasync(handle int) error {
	return unix.Fdatasync(handle)
}
