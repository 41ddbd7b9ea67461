package wasi

import (
	"time"

	"github.com/willf/bitset"
)

const (
	// maxDescriptors is the largest descriptor number the table hands out.
	maxDescriptors = 32768

	firstFreeDescriptor = 3
)

type descriptor struct {
	handle int

	// borrowed handles belong to the host process (the standard streams) and are never closed by the table.
	borrowed bool

	// fileType is nil until the descriptor is first stat'ed.
	fileType *FileType

	hasRights  bool
	rights     Rights
	inheriting Rights

	hostPath  string
	guestPath string
	preopen   bool

	// root and realRoot are the lexical and canonical host paths of the preopen this descriptor was opened
	// through. Paths resolved against the descriptor must stay beneath them.
	root     string
	realRoot string

	fdflags Fdflags

	// cursor is the seek position of a regular file opened by path_open. Descriptors without a cursor read and
	// write at the host handle's own position.
	cursor *int64
}

type fdTable struct {
	bindings *Bindings
	used     *bitset.BitSet
	entries  map[uint32]*descriptor
}

func newFDTable(bindings *Bindings) *fdTable {
	return &fdTable{
		bindings: bindings,
		used:     bitset.New(maxDescriptors + 1),
		entries:  map[uint32]*descriptor{},
	}
}

// set installs d at a fixed descriptor number. It is used for the standard streams.
func (t *fdTable) set(fd uint32, d *descriptor) {
	t.used.Set(uint(fd))
	t.entries[fd] = d
}

// open installs d at the lowest free descriptor number.
func (t *fdTable) open(d *descriptor) (uint32, error) {
	fd, ok := t.used.NextClear(firstFreeDescriptor)
	if !ok || fd > maxDescriptors {
		return 0, ErrnoNfile
	}
	t.used.Set(fd)
	t.entries[uint32(fd)] = d
	return uint32(fd), nil
}

func (t *fdTable) lookup(fd uint32) (*descriptor, bool) {
	d, ok := t.entries[fd]
	return d, ok
}

// close releases a descriptor and its host handle. The standard streams stay in the table.
func (t *fdTable) close(fd uint32) error {
	d, ok := t.entries[fd]
	if !ok {
		return ErrnoBadf
	}
	if fd < firstFreeDescriptor {
		return nil
	}

	delete(t.entries, fd)
	t.used.Clear(uint(fd))
	return t.release(d)
}

func (t *fdTable) release(d *descriptor) error {
	if d.borrowed {
		return nil
	}
	return t.bindings.FS.Close(d.handle)
}

// stat returns the entry for fd, resolving its file type on first use. Entries opened without explicit rights
// receive the default rights for their type.
func (t *fdTable) stat(fd uint32) (*descriptor, error) {
	d, ok := t.entries[fd]
	if !ok {
		return nil, ErrnoBadf
	}
	if d.fileType != nil {
		return d, nil
	}

	st, err := t.fstat(fd, d)
	if err != nil {
		return nil, err
	}

	ft := st.FileType()
	d.fileType = &ft
	if !d.hasRights {
		d.rights, d.inheriting = defaultRights(ft, t.bindings.isTTY(d.handle))
		d.hasRights = true
	}
	return d, nil
}

// fstat stats the host handle behind d. A standard stream whose handle cannot be stat'ed is reported as a character
// device.
func (t *fdTable) fstat(fd uint32, d *descriptor) (Stat, error) {
	st, err := t.bindings.FS.Fstat(d.handle)
	if err != nil && fd < firstFreeDescriptor {
		return stdioStat(time.Unix(0, t.bindings.Walltime())), nil
	}
	return st, err
}

// checkRights returns the entry for fd if it carries every right in required.
func (t *fdTable) checkRights(fd uint32, required Rights) (*descriptor, error) {
	d, err := t.stat(fd)
	if err != nil {
		return nil, err
	}
	if !d.rights.Has(required) {
		return nil, ErrnoPerm
	}
	return d, nil
}

// narrowRights replaces the rights of fd. Rights can only be removed.
func (t *fdTable) narrowRights(fd uint32, base, inheriting Rights) error {
	d, err := t.stat(fd)
	if err != nil {
		return err
	}
	if !d.rights.Has(base) || !d.inheriting.Has(inheriting) {
		return ErrnoPerm
	}
	d.rights, d.inheriting = base, inheriting
	return nil
}

// renumber moves the entry at from to to, closing the handle previously held by to. The standard streams can be
// neither moved nor replaced.
func (t *fdTable) renumber(from, to uint32) error {
	src, ok := t.entries[from]
	if !ok {
		return ErrnoBadf
	}
	dst, ok := t.entries[to]
	if !ok {
		return ErrnoBadf
	}
	if from == to {
		return nil
	}
	if from < firstFreeDescriptor || to < firstFreeDescriptor {
		return ErrnoNotsup
	}

	if err := t.release(dst); err != nil {
		return err
	}
	t.entries[to] = src
	delete(t.entries, from)
	t.used.Clear(uint(from))
	return nil
}

// closeAll releases every host handle owned by the table.
func (t *fdTable) closeAll() error {
	var first error
	for fd, d := range t.entries {
		if err := t.release(d); err != nil && first == nil {
			first = err
		}
		delete(t.entries, fd)
		t.used.Clear(uint(fd))
	}
	return first
}
