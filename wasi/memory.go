package wasi

import (
	"encoding/binary"

	"github.com/tetratelabs/wazero/api"
)

// memoryView is a view of a guest's linear memory. The byte slice it hands out is only valid until the memory grows,
// so handlers call refresh (directly or through the accessors) before every dereference.
type memoryView struct {
	mem api.Memory
	buf []byte
}

// segment is a byte range in guest memory.
type segment struct {
	offset uint32
	length uint32
}

func (v *memoryView) bind(mem api.Memory) {
	if v.mem != mem {
		v.mem, v.buf = mem, nil
	}
}

// refresh re-acquires the view if the memory has been replaced or has grown since the view was taken.
func (v *memoryView) refresh() []byte {
	if v.mem == nil {
		v.buf = nil
		return nil
	}
	if size := v.mem.Size(); v.buf == nil || uint32(len(v.buf)) != size {
		v.buf, _ = v.mem.Read(0, size)
	}
	return v.buf
}

// slice returns the n bytes at ptr.
func (v *memoryView) slice(ptr, n uint32) ([]byte, error) {
	buf := v.refresh()
	if uint64(ptr)+uint64(n) > uint64(len(buf)) {
		return nil, ErrnoFault
	}
	return buf[ptr : ptr+n : ptr+n], nil
}

// record returns the window for a fixed-layout record of the given size at ptr. Fields are written into the window
// at their fixed offsets.
func (v *memoryView) record(ptr, size uint32) ([]byte, error) {
	return v.slice(ptr, size)
}

func (v *memoryView) bytes(s segment) []byte {
	buf := v.refresh()
	if uint64(s.offset)+uint64(s.length) > uint64(len(buf)) {
		return nil
	}
	return buf[s.offset : s.offset+s.length]
}

// readVector decodes n iovecs at ptr. Buffers that run past the end of memory are truncated to what remains.
func (v *memoryView) readVector(ptr, n uint32) ([]segment, error) {
	if uint64(n)*iovecSize > uint64(^uint32(0)) {
		return nil, ErrnoFault
	}
	raw, err := v.slice(ptr, n*iovecSize)
	if err != nil {
		return nil, err
	}

	size := uint32(len(v.buf))
	segments := make([]segment, n)
	for i := range segments {
		offset := binary.LittleEndian.Uint32(raw[i*iovecSize:])
		length := binary.LittleEndian.Uint32(raw[i*iovecSize+4:])
		switch {
		case offset >= size:
			offset, length = size, 0
		case length > size-offset:
			length = size - offset
		}
		segments[i] = segment{offset: offset, length: length}
	}
	return segments, nil
}

func (v *memoryView) readString(ptr, n uint32) (string, error) {
	b, err := v.slice(ptr, n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// writeString writes s followed by a NUL byte at ptr.
func (v *memoryView) writeString(ptr uint32, s string) error {
	b, err := v.slice(ptr, uint32(len(s))+1)
	if err != nil {
		return err
	}
	copy(b, s)
	b[len(s)] = 0
	return nil
}

func (v *memoryView) putUint32(ptr, x uint32) error {
	b, err := v.slice(ptr, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, x)
	return nil
}

func (v *memoryView) putUint64(ptr uint32, x uint64) error {
	b, err := v.slice(ptr, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, x)
	return nil
}
