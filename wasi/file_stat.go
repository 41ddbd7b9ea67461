package wasi

import (
	"os"
	"time"
)

func filetype(mode os.FileMode) FileType {
	switch {
	case mode&os.ModeCharDevice != 0:
		return FileTypeCharacterDevice
	case mode&os.ModeDevice != 0:
		return FileTypeBlockDevice
	case mode&os.ModeDir != 0:
		return FileTypeDirectory
	case mode&os.ModeSymlink != 0:
		return FileTypeSymbolicLink
	case mode&(os.ModeNamedPipe|os.ModeSocket) != 0:
		return FileTypeSocketStream
	case mode.IsRegular():
		return FileTypeRegularFile
	default:
		return FileTypeUnknown
	}
}

// stdioStat is the record reported for a standard stream whose host handle cannot be stat'ed.
func stdioStat(now time.Time) Stat {
	return Stat{
		Mode:       os.ModeDevice | os.ModeCharDevice | 0o666,
		LinkCount:  1,
		AccessTime: now,
		ModTime:    now,
		ChangeTime: now,
	}
}
