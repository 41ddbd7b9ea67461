package wasi

import (
	"context"
	"encoding/binary"
	"path/filepath"
	"runtime"
	"time"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"
)

// Guest paths with this exact value refer to the controlling terminal, which is descriptor 0.
const ttyPath = "dev/tty"

// Read command-line argument data.
// The size of the array should match that returned by `args_sizes_get`.
func (w *WASI) argsGet(_ context.Context, _ api.Module, params []uint64) error {
	return w.writeStrings(w.args, uint32(params[0]), uint32(params[1]))
}

// Return command-line argument data sizes.
func (w *WASI) argsSizesGet(_ context.Context, _ api.Module, params []uint64) error {
	return w.writeSizes(w.args, uint32(params[0]), uint32(params[1]))
}

// Read environment variable data.
// The sizes of the buffers should match that returned by `environ_sizes_get`.
func (w *WASI) environGet(_ context.Context, _ api.Module, params []uint64) error {
	return w.writeStrings(w.env, uint32(params[0]), uint32(params[1]))
}

// Return environment variable data sizes.
func (w *WASI) environSizesGet(_ context.Context, _ api.Module, params []uint64) error {
	return w.writeSizes(w.env, uint32(params[0]), uint32(params[1]))
}

func (w *WASI) writeStrings(strs []string, ptrs, buf uint32) error {
	for _, s := range strs {
		if err := w.mem.putUint32(ptrs, buf); err != nil {
			return err
		}
		if err := w.mem.writeString(buf, s); err != nil {
			return err
		}
		ptrs, buf = ptrs+4, buf+uint32(len(s))+1
	}
	return nil
}

func (w *WASI) writeSizes(strs []string, pcount, psize uint32) error {
	size := 0
	for _, s := range strs {
		size += len(s) + 1
	}
	if err := w.mem.putUint32(pcount, uint32(len(strs))); err != nil {
		return err
	}
	return w.mem.putUint32(psize, uint32(size))
}

// now reads a clock in nanoseconds.
func (w *WASI) now(id Clockid) (int64, bool) {
	t := w.bindings.Hrtime()
	switch id {
	case ClockRealtime:
		return t + w.timeOrigin, true
	case ClockMonotonic:
		return t, true
	case ClockProcessCPUTime, ClockThreadCPUTime:
		return t - w.cpuStart, true
	default:
		return 0, false
	}
}

// Return the resolution of a clock.
// Note: This is similar to `clock_getres` in POSIX.
func (w *WASI) clockResGet(_ context.Context, _ api.Module, params []uint64) error {
	var res uint64
	switch Clockid(params[0]) {
	case ClockRealtime:
		res = uint64(time.Microsecond)
	case ClockMonotonic, ClockProcessCPUTime, ClockThreadCPUTime:
		res = uint64(time.Nanosecond)
	default:
		return ErrnoInval
	}
	return w.mem.putUint64(uint32(params[1]), res)
}

// Return the time value of a clock.
// Note: This is similar to `clock_gettime` in POSIX.
func (w *WASI) clockTimeGet(_ context.Context, _ api.Module, params []uint64) error {
	t, ok := w.now(Clockid(params[0]))
	if !ok {
		return ErrnoInval
	}
	return w.mem.putUint64(uint32(params[2]), uint64(t))
}

// Provide file advisory information on a file descriptor. Advice is accepted but not acted upon.
func (w *WASI) fdAdvise(_ context.Context, _ api.Module, params []uint64) error {
	if _, err := w.files.checkRights(uint32(params[0]), RightsFdAdvise); err != nil {
		return err
	}
	return ErrnoNosys
}

// Force the allocation of space in a file.
func (w *WASI) fdAllocate(_ context.Context, _ api.Module, params []uint64) error {
	if _, err := w.files.checkRights(uint32(params[0]), RightsFdAllocate); err != nil {
		return err
	}
	return ErrnoNosys
}

// Close a file descriptor.
// Note: This is similar to `close` in POSIX.
func (w *WASI) fdClose(_ context.Context, _ api.Module, params []uint64) error {
	return w.files.close(uint32(params[0]))
}

// Synchronize the data of a file to disk.
// Note: This is similar to `fdatasync` in POSIX.
func (w *WASI) fdDatasync(_ context.Context, _ api.Module, params []uint64) error {
	d, err := w.files.checkRights(uint32(params[0]), RightsFdDatasync)
	if err != nil {
		return err
	}
	return w.bindings.FS.Fdatasync(d.handle)
}

// Synchronize the data and metadata of a file to disk.
// Note: This is similar to `fsync` in POSIX.
func (w *WASI) fdSync(_ context.Context, _ api.Module, params []uint64) error {
	d, err := w.files.checkRights(uint32(params[0]), RightsFdSync)
	if err != nil {
		return err
	}
	return w.bindings.FS.Fsync(d.handle)
}

// Get the attributes of a file descriptor.
func (w *WASI) fdFdstatGet(_ context.Context, _ api.Module, params []uint64) error {
	d, err := w.files.stat(uint32(params[0]))
	if err != nil {
		return err
	}

	rec, err := w.mem.record(uint32(params[1]), fdstatSize)
	if err != nil {
		return err
	}
	clear(rec)
	rec[0] = byte(*d.fileType)
	binary.LittleEndian.PutUint16(rec[2:], uint16(d.fdflags))
	binary.LittleEndian.PutUint64(rec[8:], uint64(d.rights))
	binary.LittleEndian.PutUint64(rec[16:], uint64(d.inheriting))
	return nil
}

// Adjust the flags associated with a file descriptor. Changing flags after open is not supported.
func (w *WASI) fdFdstatSetFlags(_ context.Context, _ api.Module, params []uint64) error {
	if _, err := w.files.checkRights(uint32(params[0]), RightsFdFdstatSetFlags); err != nil {
		return err
	}
	return ErrnoNosys
}

// Adjust the rights associated with a file descriptor.
// This can only be used to remove rights.
func (w *WASI) fdFdstatSetRights(_ context.Context, _ api.Module, params []uint64) error {
	return w.files.narrowRights(uint32(params[0]), Rights(params[1]), Rights(params[2]))
}

// Return the attributes of an open file.
func (w *WASI) fdFilestatGet(_ context.Context, _ api.Module, params []uint64) error {
	fd := uint32(params[0])
	d, err := w.files.checkRights(fd, RightsFdFilestatGet)
	if err != nil {
		return err
	}
	st, err := w.files.fstat(fd, d)
	if err != nil {
		return err
	}
	return w.writeFilestat(uint32(params[1]), &st, *d.fileType)
}

func (w *WASI) writeFilestat(ptr uint32, st *Stat, ft FileType) error {
	rec, err := w.mem.record(ptr, filestatSize)
	if err != nil {
		return err
	}
	clear(rec)
	binary.LittleEndian.PutUint64(rec[0:], st.Dev)
	binary.LittleEndian.PutUint64(rec[8:], st.Inode)
	rec[16] = byte(ft)
	binary.LittleEndian.PutUint64(rec[24:], st.LinkCount)
	binary.LittleEndian.PutUint64(rec[32:], st.Size)
	binary.LittleEndian.PutUint64(rec[40:], uint64(st.AccessTime.UnixNano()))
	binary.LittleEndian.PutUint64(rec[48:], uint64(st.ModTime.UnixNano()))
	binary.LittleEndian.PutUint64(rec[56:], uint64(st.ChangeTime.UnixNano()))
	return nil
}

// Adjust the size of an open file. If this increases the file's size, the extra bytes are filled with zeros.
// Note: This is similar to `ftruncate` in POSIX.
func (w *WASI) fdFilestatSetSize(_ context.Context, _ api.Module, params []uint64) error {
	d, err := w.files.checkRights(uint32(params[0]), RightsFdFilestatSetSize)
	if err != nil {
		return err
	}
	return w.bindings.FS.Ftruncate(d.handle, int64(params[1]))
}

// Adjust the timestamps of an open file or directory.
// Note: This is similar to `futimens` in POSIX.
func (w *WASI) fdFilestatSetTimes(_ context.Context, _ api.Module, params []uint64) error {
	fd := uint32(params[0])
	d, err := w.files.checkRights(fd, RightsFdFilestatSetTimes)
	if err != nil {
		return err
	}
	st, err := w.files.fstat(fd, d)
	if err != nil {
		return err
	}
	atime, mtime, err := w.fileTimes(&st, params[1], params[2], Fstflags(params[3]))
	if err != nil {
		return err
	}
	return w.bindings.FS.Futimes(d.handle, atime, mtime)
}

// fileTimes computes the timestamps requested by a set_times call. Timestamps that are not being set keep their
// current values.
func (w *WASI) fileTimes(st *Stat, atim, mtim uint64, flags Fstflags) (time.Time, time.Time, error) {
	if flags&(FstflagsAtim|FstflagsAtimNow) == FstflagsAtim|FstflagsAtimNow ||
		flags&(FstflagsMtim|FstflagsMtimNow) == FstflagsMtim|FstflagsMtimNow {
		return time.Time{}, time.Time{}, ErrnoInval
	}

	now := time.Unix(0, w.bindings.Walltime())
	atime, mtime := st.AccessTime, st.ModTime
	switch {
	case flags&FstflagsAtim != 0:
		atime = time.Unix(0, int64(atim))
	case flags&FstflagsAtimNow != 0:
		atime = now
	}
	switch {
	case flags&FstflagsMtim != 0:
		mtime = time.Unix(0, int64(mtim))
	case flags&FstflagsMtimNow != 0:
		mtime = now
	}
	return atime, mtime, nil
}

// Read from a file descriptor, without using and updating the file descriptor's offset.
// Note: This is similar to `preadv` in POSIX.
func (w *WASI) fdPread(_ context.Context, _ api.Module, params []uint64) error {
	d, err := w.files.checkRights(uint32(params[0]), RightsFdRead|RightsFdSeek)
	if err != nil {
		return err
	}
	offset := int64(params[3])
	n, err := w.transfer(uint32(params[1]), uint32(params[2]), func(p []byte) (int, error) {
		n, err := w.bindings.FS.Pread(d.handle, p, offset)
		offset += int64(n)
		return n, err
	})
	if err != nil {
		return err
	}
	return w.mem.putUint32(uint32(params[4]), n)
}

// Write to a file descriptor, without using and updating the file descriptor's offset.
// Note: This is similar to `pwritev` in POSIX.
func (w *WASI) fdPwrite(_ context.Context, _ api.Module, params []uint64) error {
	d, err := w.files.checkRights(uint32(params[0]), RightsFdWrite|RightsFdSeek)
	if err != nil {
		return err
	}
	offset := int64(params[3])
	n, err := w.transfer(uint32(params[1]), uint32(params[2]), func(p []byte) (int, error) {
		n, err := w.bindings.FS.Pwrite(d.handle, p, offset)
		offset += int64(n)
		return n, err
	})
	if err != nil {
		return err
	}
	return w.mem.putUint32(uint32(params[4]), n)
}

// Read from a file descriptor.
// Note: This is similar to `readv` in POSIX.
func (w *WASI) fdRead(_ context.Context, _ api.Module, params []uint64) error {
	fd := uint32(params[0])
	d, err := w.files.checkRights(fd, RightsFdRead)
	if err != nil {
		return err
	}
	n, err := w.transfer(uint32(params[1]), uint32(params[2]), func(p []byte) (int, error) {
		return w.read(fd, d, p)
	})
	if err != nil {
		return err
	}
	return w.mem.putUint32(uint32(params[3]), n)
}

func (w *WASI) read(fd uint32, d *descriptor, p []byte) (int, error) {
	switch {
	case fd == 0 && w.bindings.Stdin != nil:
		return w.readStdin(p), nil
	case d.cursor != nil:
		n, err := w.bindings.FS.Pread(d.handle, p, *d.cursor)
		*d.cursor += int64(n)
		return n, err
	case fd == 0:
		n, err := w.bindings.FS.Read(d.handle, p)
		if err != nil && errnoOf(err) == ErrnoAgain {
			n, err = 0, nil
		}
		if n == 0 {
			w.shortPause()
		} else {
			w.lastStdin = w.bindings.Hrtime()
		}
		return n, err
	default:
		return w.bindings.FS.Read(d.handle, p)
	}
}

// Write to a file descriptor.
// Note: This is similar to `writev` in POSIX.
func (w *WASI) fdWrite(_ context.Context, _ api.Module, params []uint64) error {
	fd := uint32(params[0])
	d, err := w.files.checkRights(fd, RightsFdWrite)
	if err != nil {
		return err
	}
	n, err := w.transfer(uint32(params[1]), uint32(params[2]), func(p []byte) (int, error) {
		return w.write(fd, d, p)
	})
	if err != nil {
		return err
	}
	return w.mem.putUint32(uint32(params[3]), n)
}

func (w *WASI) write(fd uint32, d *descriptor, p []byte) (int, error) {
	switch {
	case fd == 1 && w.bindings.Stdout != nil:
		w.bindings.Stdout(p)
		return len(p), nil
	case fd == 2 && w.bindings.Stderr != nil:
		w.bindings.Stderr(p)
		return len(p), nil
	case d.cursor != nil && d.fdflags&FdflagsAppend == 0:
		n, err := w.bindings.FS.Pwrite(d.handle, p, *d.cursor)
		*d.cursor += int64(n)
		return n, err
	case d.cursor != nil:
		n, err := w.bindings.FS.Write(d.handle, p)
		if n > 0 {
			if st, serr := w.bindings.FS.Fstat(d.handle); serr == nil {
				*d.cursor = int64(st.Size)
			}
		}
		return n, err
	default:
		return w.bindings.FS.Write(d.handle, p)
	}
}

// transfer runs op over each non-empty buffer of the iovec array at iovs. It stops at the first short transfer.
// An error after some bytes have been transferred ends the transfer without failing it.
func (w *WASI) transfer(iovs, iovsLen uint32, op func(p []byte) (int, error)) (uint32, error) {
	segments, err := w.mem.readVector(iovs, iovsLen)
	if err != nil {
		return 0, err
	}

	total := uint32(0)
	for _, s := range segments {
		if s.length == 0 {
			continue
		}
		n, err := op(w.mem.bytes(s))
		if err != nil {
			if total > 0 {
				break
			}
			return 0, err
		}
		total += uint32(n)
		if n < int(s.length) {
			break
		}
	}
	return total, nil
}

// Read directory entries from a directory.
// When successful, the contents of the output buffer consist of a sequence of directory entries. The last entry is
// truncated if it does not fit; a buffer that is not filled completely marks the end of the directory. A buffer
// smaller than one record is filled with a partial record and reports bufused == buf_len, so the guest must retry
// with a larger buffer.
func (w *WASI) fdReaddir(_ context.Context, _ api.Module, params []uint64) error {
	d, err := w.files.checkRights(uint32(params[0]), RightsFdReaddir)
	if err != nil {
		return err
	}
	if d.hostPath == "" {
		return ErrnoNotdir
	}

	names, err := w.bindings.FS.ReadDir(d.hostPath)
	if err != nil {
		return err
	}

	out, err := w.mem.slice(uint32(params[1]), uint32(params[2]))
	if err != nil {
		return err
	}

	used := 0
	for i := params[3]; i < uint64(len(names)) && used < len(out); i++ {
		name := names[i]

		ino, ft := uint64(0), FileTypeUnknown
		if st, err := w.bindings.FS.Lstat(filepath.Join(d.hostPath, name)); err == nil {
			ino, ft = st.Inode, st.FileType()
		}

		var dirent [direntSize]byte
		binary.LittleEndian.PutUint64(dirent[0:], i+1)
		binary.LittleEndian.PutUint64(dirent[8:], ino)
		binary.LittleEndian.PutUint32(dirent[16:], uint32(len(name)))
		dirent[20] = byte(ft)

		used += copy(out[used:], dirent[:])
		used += copy(out[used:], name)
	}
	return w.mem.putUint32(uint32(params[4]), uint32(used))
}

// Atomically replace a file descriptor by renumbering another file descriptor.
func (w *WASI) fdRenumber(_ context.Context, _ api.Module, params []uint64) error {
	return w.files.renumber(uint32(params[0]), uint32(params[1]))
}

// Move the offset of a file descriptor.
// Note: This is similar to `lseek` in POSIX.
func (w *WASI) fdSeek(_ context.Context, _ api.Module, params []uint64) error {
	fd, offset, whence := uint32(params[0]), int64(params[1]), Whence(params[2])

	required := RightsFdSeek
	if whence == WhenceCur && offset == 0 {
		required = RightsFdTell
	}
	d, err := w.files.checkRights(fd, required)
	if err != nil {
		return err
	}
	if *d.fileType != FileTypeRegularFile {
		return ErrnoSpipe
	}

	cur := int64(0)
	if d.cursor != nil {
		cur = *d.cursor
	}

	var pos int64
	switch whence {
	case WhenceSet:
		pos = offset
	case WhenceCur:
		pos = cur + offset
	case WhenceEnd:
		st, err := w.files.fstat(fd, d)
		if err != nil {
			return err
		}
		pos = int64(st.Size) + offset
	default:
		return ErrnoInval
	}
	if pos < 0 {
		return ErrnoInval
	}

	if d.cursor == nil {
		d.cursor = new(int64)
	}
	*d.cursor = pos
	return w.mem.putUint64(uint32(params[3]), uint64(pos))
}

// Return the current offset of a file descriptor.
// Note: This is similar to `lseek(fd, 0, SEEK_CUR)` in POSIX.
func (w *WASI) fdTell(_ context.Context, _ api.Module, params []uint64) error {
	d, err := w.files.checkRights(uint32(params[0]), RightsFdTell)
	if err != nil {
		return err
	}
	pos := int64(0)
	if d.cursor != nil {
		pos = *d.cursor
	}
	return w.mem.putUint64(uint32(params[1]), uint64(pos))
}

func (w *WASI) lookupPreopen(fd uint32) (*descriptor, error) {
	d, ok := w.files.lookup(fd)
	if !ok || !d.preopen {
		return nil, ErrnoBadf
	}
	return d, nil
}

// Return a description of the given preopened file descriptor.
func (w *WASI) fdPrestatGet(_ context.Context, _ api.Module, params []uint64) error {
	d, err := w.lookupPreopen(uint32(params[0]))
	if err != nil {
		return err
	}
	rec, err := w.mem.record(uint32(params[1]), prestatSize)
	if err != nil {
		return err
	}
	clear(rec)
	rec[0] = preopentypeDir
	binary.LittleEndian.PutUint32(rec[4:], uint32(len(d.guestPath)))
	return nil
}

// Return the name of the given preopened file descriptor.
func (w *WASI) fdPrestatDirName(_ context.Context, _ api.Module, params []uint64) error {
	d, err := w.lookupPreopen(uint32(params[0]))
	if err != nil {
		return err
	}
	out, err := w.mem.slice(uint32(params[1]), uint32(params[2]))
	if err != nil {
		return err
	}
	copy(out, d.guestPath)
	return nil
}

// pathArg checks the rights of a directory descriptor and resolves the guest path at ptr/n against it.
func (w *WASI) pathArg(fd uint32, rights Rights, ptr, n uint32) (string, error) {
	d, err := w.files.checkRights(fd, rights)
	if err != nil {
		return "", err
	}
	p, err := w.mem.readString(ptr, n)
	if err != nil {
		return "", err
	}
	return w.resolve(d, p)
}

// lookupArg is pathArg for calls that take lookup flags. A path whose final symlink is followed resolves to its
// canonical target, which must stay inside the preopen.
func (w *WASI) lookupArg(fd uint32, rights Rights, flags Lookupflags, ptr, n uint32) (string, error) {
	if flags&LookupflagsSymlinkFollow == 0 {
		return w.pathArg(fd, rights, ptr, n)
	}
	d, err := w.files.checkRights(fd, rights)
	if err != nil {
		return "", err
	}
	p, err := w.mem.readString(ptr, n)
	if err != nil {
		return "", err
	}
	return w.resolveReal(d, p)
}

// Create a directory.
// Note: This is similar to `mkdirat` in POSIX.
func (w *WASI) pathCreateDirectory(_ context.Context, _ api.Module, params []uint64) error {
	full, err := w.pathArg(uint32(params[0]), RightsPathCreateDirectory, uint32(params[1]), uint32(params[2]))
	if err != nil {
		return err
	}
	return w.bindings.FS.Mkdir(full, 0o777)
}

func (w *WASI) statPath(full string, flags Lookupflags) (Stat, error) {
	if flags&LookupflagsSymlinkFollow != 0 {
		return w.bindings.FS.Stat(full)
	}
	return w.bindings.FS.Lstat(full)
}

// Return the attributes of a file or directory.
// Note: This is similar to `stat` in POSIX.
func (w *WASI) pathFilestatGet(_ context.Context, _ api.Module, params []uint64) error {
	flags := Lookupflags(params[1])
	full, err := w.lookupArg(uint32(params[0]), RightsPathFilestatGet, flags, uint32(params[2]), uint32(params[3]))
	if err != nil {
		return err
	}
	st, err := w.statPath(full, flags)
	if err != nil {
		return err
	}
	return w.writeFilestat(uint32(params[4]), &st, st.FileType())
}

// Adjust the timestamps of a file or directory.
// Note: This is similar to `utimensat` in POSIX.
func (w *WASI) pathFilestatSetTimes(_ context.Context, _ api.Module, params []uint64) error {
	flags := Lookupflags(params[1])
	full, err := w.lookupArg(uint32(params[0]), RightsPathFilestatSetTimes, flags, uint32(params[2]), uint32(params[3]))
	if err != nil {
		return err
	}
	st, err := w.statPath(full, flags)
	if err != nil {
		return err
	}
	atime, mtime, err := w.fileTimes(&st, params[4], params[5], Fstflags(params[6]))
	if err != nil {
		return err
	}
	return w.bindings.FS.Utimes(full, atime, mtime, flags&LookupflagsSymlinkFollow != 0)
}

// Create a hard link.
// Note: This is similar to `linkat` in POSIX.
func (w *WASI) pathLink(_ context.Context, _ api.Module, params []uint64) error {
	from, err := w.pathArg(uint32(params[0]), RightsPathLinkSource, uint32(params[2]), uint32(params[3]))
	if err != nil {
		return err
	}
	to, err := w.pathArg(uint32(params[4]), RightsPathLinkTarget, uint32(params[5]), uint32(params[6]))
	if err != nil {
		return err
	}
	return w.bindings.FS.Link(from, to)
}

// Open a file or directory.
// Note: This is similar to `openat` in POSIX.
func (w *WASI) pathOpen(_ context.Context, _ api.Module, params []uint64) error {
	dirfd := uint32(params[0])
	oflags, fdflags := Oflags(params[4]), Fdflags(params[7])
	result := uint32(params[8])

	dir, err := w.files.checkRights(dirfd, RightsPathOpen)
	if err != nil {
		return err
	}
	p, err := w.mem.readString(uint32(params[2]), uint32(params[3]))
	if err != nil {
		return err
	}
	if p == ttyPath {
		return w.mem.putUint32(result, 0)
	}

	required := RightsPathOpen
	if oflags&OflagsCreat != 0 {
		required |= RightsPathCreateFile
	}
	if oflags&OflagsTrunc != 0 {
		required |= RightsPathFilestatSetSize
	}
	if !dir.rights.Has(required) {
		return ErrnoPerm
	}

	base := Rights(params[5]) & dir.inheriting
	inheriting := Rights(params[6]) & dir.inheriting

	read := base&(RightsFdRead|RightsFdReaddir) != 0
	write := base&(RightsFdDatasync|RightsFdWrite|RightsFdAllocate|RightsFdFilestatSetSize) != 0
	if !read && !write {
		return ErrnoPerm
	}

	flags, newBase, newInheriting := openFlags(oflags, fdflags, read, write, base, inheriting)

	full, err := w.resolveReal(dir, p)
	if err != nil {
		return err
	}
	if !write {
		if st, err := w.bindings.FS.Stat(full); err == nil && st.Mode.IsDir() {
			flags = OpenReadOnly | flags&OpenDirectory
		}
	}

	handle, err := w.bindings.FS.Open(full, flags, 0o666)
	if err != nil {
		w.log.Debug("path_open failed", zap.String("path", full), zap.Error(err))
		return err
	}

	d := &descriptor{
		handle:     handle,
		hasRights:  true,
		rights:     newBase,
		inheriting: newInheriting,
		hostPath:   full,
		root:       dir.root,
		realRoot:   dir.realRoot,
		fdflags:    fdflags,
	}
	fd, err := w.files.open(d)
	if err != nil {
		w.bindings.FS.Close(handle)
		return err
	}
	if _, err := w.files.stat(fd); err != nil {
		w.files.close(fd)
		return err
	}
	if *d.fileType == FileTypeRegularFile {
		d.cursor = new(int64)
	}

	if err := w.mem.putUint32(result, fd); err != nil {
		w.files.close(fd)
		return err
	}
	return nil
}

// openFlags derives the host open flags for a path_open request and the rights of the descriptor it creates.
func openFlags(oflags Oflags, fdflags Fdflags, read, write bool, base, inheriting Rights) (int, Rights, Rights) {
	flags := OpenReadOnly
	switch {
	case read && write:
		flags = OpenReadWrite
	case write:
		flags = OpenWriteOnly
	}

	newBase, newInheriting := base|RightsPathOpen, base|inheriting

	if oflags&OflagsCreat != 0 {
		flags |= OpenCreate
		newBase |= RightsPathCreateFile
	}
	if oflags&OflagsDirectory != 0 {
		flags |= OpenDirectory
	}
	if oflags&OflagsExcl != 0 {
		flags |= OpenExclusive
	}
	if oflags&OflagsTrunc != 0 {
		flags |= OpenTruncate
		newBase |= RightsPathFilestatSetSize
	}

	if fdflags&FdflagsAppend != 0 {
		flags |= OpenAppend
	}
	if fdflags&FdflagsDsync != 0 {
		flags |= OpenDsync
		newInheriting |= RightsFdDatasync
	}
	if fdflags&FdflagsNonblock != 0 {
		flags |= OpenNonblock
	}
	if fdflags&(FdflagsRsync|FdflagsSync) != 0 {
		flags |= OpenSync
		newInheriting |= RightsFdSync
	}
	if write && fdflags&FdflagsAppend == 0 && oflags&OflagsTrunc == 0 {
		newInheriting |= RightsFdSeek
	}
	return flags, newBase, newInheriting
}

// Read the contents of a symbolic link.
// Note: This is similar to `readlinkat` in POSIX.
func (w *WASI) pathReadlink(_ context.Context, _ api.Module, params []uint64) error {
	full, err := w.pathArg(uint32(params[0]), RightsPathReadlink, uint32(params[1]), uint32(params[2]))
	if err != nil {
		return err
	}
	target, err := w.bindings.FS.Readlink(full)
	if err != nil {
		return err
	}
	out, err := w.mem.slice(uint32(params[3]), uint32(params[4]))
	if err != nil {
		return err
	}
	n := copy(out, target)
	return w.mem.putUint32(uint32(params[5]), uint32(n))
}

// Remove a directory.
// Note: This is similar to `unlinkat(fd, path, AT_REMOVEDIR)` in POSIX.
func (w *WASI) pathRemoveDirectory(_ context.Context, _ api.Module, params []uint64) error {
	full, err := w.pathArg(uint32(params[0]), RightsPathRemoveDirectory, uint32(params[1]), uint32(params[2]))
	if err != nil {
		return err
	}
	return w.bindings.FS.Rmdir(full)
}

// Rename a file or directory.
// Note: This is similar to `renameat` in POSIX.
func (w *WASI) pathRename(_ context.Context, _ api.Module, params []uint64) error {
	from, err := w.pathArg(uint32(params[0]), RightsPathRenameSource, uint32(params[1]), uint32(params[2]))
	if err != nil {
		return err
	}
	to, err := w.pathArg(uint32(params[3]), RightsPathRenameTarget, uint32(params[4]), uint32(params[5]))
	if err != nil {
		return err
	}
	return w.bindings.FS.Rename(from, to)
}

// Create a symbolic link. The target is stored as given.
// Note: This is similar to `symlinkat` in POSIX.
func (w *WASI) pathSymlink(_ context.Context, _ api.Module, params []uint64) error {
	target, err := w.mem.readString(uint32(params[0]), uint32(params[1]))
	if err != nil {
		return err
	}
	link, err := w.pathArg(uint32(params[2]), RightsPathSymlink, uint32(params[3]), uint32(params[4]))
	if err != nil {
		return err
	}
	return w.bindings.FS.Symlink(target, link)
}

// Unlink a file.
// Note: This is similar to `unlinkat(fd, path, 0)` in POSIX.
func (w *WASI) pathUnlinkFile(_ context.Context, _ api.Module, params []uint64) error {
	full, err := w.pathArg(uint32(params[0]), RightsPathUnlinkFile, uint32(params[1]), uint32(params[2]))
	if err != nil {
		return err
	}
	return w.bindings.FS.Unlink(full)
}

// Terminate the process normally. An exit code of 0 indicates successful termination of the program.
func (w *WASI) procExit(ctx context.Context, mod api.Module, params []uint64) error {
	code := uint32(params[0])
	w.log.Debug("proc_exit", zap.Uint32("code", code))

	_ = mod.CloseWithExitCode(ctx, code)
	if w.bindings.Exit != nil {
		w.bindings.Exit(code)
	}

	// Nothing in the guest may run after exit.
	panic(sys.NewExitError(code))
}

// Send a signal to the process of the calling thread.
// Note: This is similar to `raise` in POSIX.
func (w *WASI) procRaise(_ context.Context, _ api.Module, params []uint64) error {
	name, ok := SignalName(uint8(params[0]))
	if !ok {
		return ErrnoInval
	}
	if w.bindings.Kill == nil {
		return ErrnoNosys
	}
	return w.bindings.Kill(name)
}

// Temporarily yield execution of the calling thread.
func (w *WASI) schedYield(_ context.Context, _ api.Module, _ []uint64) error {
	runtime.Gosched()
	return nil
}

// Write high-quality random data into a buffer.
func (w *WASI) randomGet(_ context.Context, _ api.Module, params []uint64) error {
	out, err := w.mem.slice(uint32(params[0]), uint32(params[1]))
	if err != nil {
		return err
	}
	w.bindings.RandomFill(out)
	return nil
}

// Sockets are not supported.
func (w *WASI) sockUnsupported(_ context.Context, _ api.Module, _ []uint64) error {
	return ErrnoNosys
}
