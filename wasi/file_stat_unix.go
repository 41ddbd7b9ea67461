//go:build unix

package wasi

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

func fileStat(st *unix.Stat_t) Stat {
	return Stat{
		Dev:        uint64(st.Dev),
		Inode:      uint64(st.Ino),
		Mode:       fileMode(uint32(st.Mode)),
		LinkCount:  uint64(st.Nlink),
		Size:       uint64(st.Size),
		AccessTime: time.Unix(st.Atim.Unix()),
		ModTime:    time.Unix(st.Mtim.Unix()),
		ChangeTime: time.Unix(st.Ctim.Unix()),
	}
}

func fileMode(mode uint32) os.FileMode {
	m := os.FileMode(mode & 0o777)
	switch mode & unix.S_IFMT {
	case unix.S_IFBLK:
		m |= os.ModeDevice
	case unix.S_IFCHR:
		m |= os.ModeDevice | os.ModeCharDevice
	case unix.S_IFDIR:
		m |= os.ModeDir
	case unix.S_IFIFO:
		m |= os.ModeNamedPipe
	case unix.S_IFLNK:
		m |= os.ModeSymlink
	case unix.S_IFSOCK:
		m |= os.ModeSocket
	case unix.S_IFREG:
	default:
		m |= os.ModeIrregular
	}
	return m
}
