package wasi

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"golang.org/x/sys/unix"
)

var wasmHeader = []byte("\x00asm\x01\x00\x00\x00")

// memoryModule exports one page of memory and nothing else.
var memoryModule = concat(wasmHeader,
	[]byte{0x05, 0x03, 0x01, 0x00, 0x01},
	[]byte{0x07, 0x0a, 0x01, 0x06}, []byte("memory"), []byte{0x02, 0x00},
)

// helloModule writes "hello" to stdout through fd_write and returns.
var helloModule = concat(wasmHeader,
	[]byte{0x01, 0x0c, 0x02, 0x60, 0x04, 0x7f, 0x7f, 0x7f, 0x7f, 0x01, 0x7f, 0x60, 0x00, 0x00},
	[]byte{0x02, 0x23, 0x01, 0x16}, []byte(SnapshotPreview1), []byte{0x08}, []byte("fd_write"), []byte{0x00, 0x00},
	[]byte{0x03, 0x02, 0x01, 0x01},
	[]byte{0x05, 0x03, 0x01, 0x00, 0x01},
	[]byte{0x07, 0x13, 0x02, 0x06}, []byte("memory"), []byte{0x02, 0x00, 0x06}, []byte("_start"), []byte{0x00, 0x01},
	[]byte{0x0a, 0x0f, 0x01, 0x0d, 0x00, 0x41, 0x01, 0x41, 0x00, 0x41, 0x01, 0x41, 0x08, 0x10, 0x00, 0x1a, 0x0b},
	[]byte{0x0b, 0x1b, 0x01, 0x00, 0x41, 0x00, 0x0b, 0x15},
	[]byte{0x10, 0x00, 0x00, 0x00, 0x05, 0x00, 0x00, 0x00, 0, 0, 0, 0, 0, 0, 0, 0},
	[]byte("hello"),
)

// exitModule calls proc_exit(3).
var exitModule = concat(wasmHeader,
	[]byte{0x01, 0x08, 0x02, 0x60, 0x01, 0x7f, 0x00, 0x60, 0x00, 0x00},
	[]byte{0x02, 0x24, 0x01, 0x16}, []byte(SnapshotPreview1), []byte{0x09}, []byte("proc_exit"), []byte{0x00, 0x00},
	[]byte{0x03, 0x02, 0x01, 0x01},
	[]byte{0x05, 0x03, 0x01, 0x00, 0x01},
	[]byte{0x07, 0x13, 0x02, 0x06}, []byte("memory"), []byte{0x02, 0x00, 0x06}, []byte("_start"), []byte{0x00, 0x01},
	[]byte{0x0a, 0x08, 0x01, 0x06, 0x00, 0x41, 0x03, 0x10, 0x00, 0x0b},
)

// importModule returns a module that imports sched_yield from each of the given namespaces.
func importModule(namespaces ...string) []byte {
	var imports []byte
	imports = append(imports, byte(len(namespaces)))
	for _, ns := range namespaces {
		imports = append(imports, byte(len(ns)))
		imports = append(imports, ns...)
		imports = append(imports, byte(len("sched_yield")))
		imports = append(imports, "sched_yield"...)
		imports = append(imports, 0x00, 0x00)
	}
	return concat(wasmHeader,
		[]byte{0x01, 0x05, 0x01, 0x60, 0x00, 0x01, 0x7f},
		[]byte{0x02, byte(len(imports))}, imports,
	)
}

func concat(parts ...[]byte) []byte {
	var b []byte
	for _, p := range parts {
		b = append(b, p...)
	}
	return b
}

// harness runs handlers against the memory of a real module.
type harness struct {
	t   *testing.T
	ctx context.Context
	w   *WASI
	mod api.Module
	mem api.Memory
}

func newHarness(t *testing.T, opts *Options) *harness {
	ctx := context.Background()

	r := wazero.NewRuntime(ctx)
	t.Cleanup(func() { r.Close(ctx) })

	mod, err := r.Instantiate(ctx, memoryModule)
	require.NoError(t, err)

	w, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	return &harness{t: t, ctx: ctx, w: w, mod: mod, mem: mod.Memory()}
}

// sandbox returns a harness with a fresh temporary directory preopened as "/" at descriptor 3.
func sandbox(t *testing.T, opts *Options) (*harness, string) {
	dir := t.TempDir()
	if opts == nil {
		opts = &Options{}
	}
	opts.Preopen = append([]Preopen{{FSPath: dir, Path: "/"}}, opts.Preopen...)
	return newHarness(t, opts), dir
}

func (h *harness) call(sc Syscall, params ...uint64) Errno {
	stack := make([]uint64, max(len(params), 1))
	copy(stack, params)
	h.w.call(h.ctx, h.mod, sc, stack)
	return Errno(stack[0])
}

func (h *harness) write(ptr uint32, b []byte) {
	require.True(h.t, h.mem.Write(ptr, b))
}

func (h *harness) read(ptr, n uint32) []byte {
	b, ok := h.mem.Read(ptr, n)
	require.True(h.t, ok)
	return append([]byte(nil), b...)
}

func (h *harness) u32(ptr uint32) uint32 {
	v, ok := h.mem.ReadUint32Le(ptr)
	require.True(h.t, ok)
	return v
}

func (h *harness) u64(ptr uint32) uint64 {
	v, ok := h.mem.ReadUint64Le(ptr)
	require.True(h.t, ok)
	return v
}

// iovec writes a single iovec at ptr describing n bytes at buf.
func (h *harness) iovec(ptr, buf, n uint32) {
	require.True(h.t, h.mem.WriteUint32Le(ptr, buf))
	require.True(h.t, h.mem.WriteUint32Le(ptr+4, n))
}

// open opens path relative to dirfd and returns the new descriptor.
func (h *harness) open(dirfd uint32, path string, oflags Oflags, rights Rights, fdflags Fdflags) (uint32, Errno) {
	const pathPtr, resultPtr = 1024, 1020
	h.write(pathPtr, []byte(path))
	errno := h.call(SyscallPathOpen, uint64(dirfd), uint64(LookupflagsSymlinkFollow), pathPtr, uint64(len(path)),
		uint64(oflags), uint64(rights), uint64(rights), uint64(fdflags), resultPtr)
	return h.u32(resultPtr), errno
}

func TestHello(t *testing.T) {
	var stdout []byte
	bindings := NewOSBindings()
	bindings.Stdout = func(p []byte) { stdout = append(stdout, p...) }

	err := Run(context.Background(), "hello", helloModule, &Options{Bindings: bindings})
	require.NoError(t, err)
	assert.Equal(t, "hello", string(stdout))
}

func TestRunExitCode(t *testing.T) {
	var exited []uint32
	bindings := NewOSBindings()
	bindings.Exit = func(code uint32) { exited = append(exited, code) }

	err := Run(context.Background(), "exit", exitModule, &Options{Bindings: bindings})

	var exit *ExitError
	require.True(t, errors.As(err, &exit))
	assert.Equal(t, 3, exit.Code())
	assert.Equal(t, "exit status 3", exit.Error())
	assert.Equal(t, []uint32{3}, exited)
}

func TestRunStats(t *testing.T) {
	ctx := context.Background()

	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	compiled, err := r.CompileModule(ctx, helloModule)
	require.NoError(t, err)

	bindings := NewOSBindings()
	bindings.Stdout = func([]byte) {}

	w, err := New(&Options{Bindings: bindings})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Run(ctx, r, compiled))

	rows := w.Stats().Syscalls()
	require.Len(t, rows, 1)
	assert.Equal(t, "fd_write", rows[0].Syscall)
	assert.Equal(t, uint64(1), rows[0].Calls)
	assert.Zero(t, rows[0].Errors)
}

func TestDetectNamespace(t *testing.T) {
	ctx := context.Background()

	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	cases := []struct {
		name       string
		namespaces []string
		expected   string
		err        bool
	}{
		{name: "preview1", namespaces: []string{SnapshotPreview1}, expected: SnapshotPreview1},
		{name: "unstable", namespaces: []string{Unstable}, expected: Unstable},
		{name: "both", namespaces: []string{SnapshotPreview1, Unstable}, err: true},
		{name: "neither", namespaces: []string{"env"}, err: true},
		{name: "unknown", namespaces: []string{"wasi_preview2"}, err: true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			compiled, err := r.CompileModule(ctx, importModule(c.namespaces...))
			require.NoError(t, err)

			ns, err := DetectNamespace(compiled)
			if c.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expected, ns)
		})
	}
}

func TestInstantiateUnstable(t *testing.T) {
	ctx := context.Background()

	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	compiled, err := r.CompileModule(ctx, importModule(Unstable))
	require.NoError(t, err)

	w, err := New(nil)
	require.NoError(t, err)
	defer w.Close()

	host, err := w.Instantiate(ctx, r, Unstable)
	require.NoError(t, err)
	defer host.Close(ctx)

	mod, err := r.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	require.NoError(t, err)
	mod.Close(ctx)
}

func TestLookupSyscall(t *testing.T) {
	sc, ok := LookupSyscall("path_open")
	require.True(t, ok)
	assert.Equal(t, SyscallPathOpen, sc)
	assert.Equal(t, "path_open", sc.String())

	_, ok = LookupSyscall("path_close")
	assert.False(t, ok)

	for sc := Syscall(0); sc < numSyscalls; sc++ {
		assert.NotNil(t, syscalls[sc].handler, sc.String())
		assert.Len(t, syscalls[sc].paramNames, len(syscalls[sc].params), sc.String())
	}
}

func TestNewOptions(t *testing.T) {
	dir := t.TempDir()

	_, err := New(&Options{Preopen: []Preopen{{FSPath: dir, Path: "/a"}, {FSPath: dir, Path: "/a"}}})
	assert.Error(t, err)

	_, err = New(&Options{Preopen: []Preopen{{FSPath: filepath.Join(dir, "missing"), Path: "/a"}}})
	assert.Error(t, err)

	_, err = New(&Options{FDs: map[uint32]int{2: 2}})
	assert.Error(t, err)

	_, err = New(&Options{Bindings: &Bindings{}})
	assert.Error(t, err)
}

func TestAdoptFDs(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "adopted")
	require.NoError(t, err)
	defer f.Close()

	handle, err := unix.Dup(int(f.Fd()))
	require.NoError(t, err)

	h := newHarness(t, &Options{FDs: map[uint32]int{10: handle}, Preopen: []Preopen{{FSPath: t.TempDir(), Path: "/"}}})

	d, err := h.w.files.stat(10)
	require.NoError(t, err)
	assert.Equal(t, FileTypeRegularFile, *d.fileType)
	assert.Equal(t, FileRights, d.rights)

	// Preopens take the lowest free numbers after the adopted descriptors are placed.
	d, ok := h.w.files.lookup(3)
	require.True(t, ok)
	assert.True(t, d.preopen)
}
