package wasi

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"
)

// Preopen makes the host directory FSPath available to the guest under the name Path.
//
// Rights and Inherit, if non-zero, narrow the rights of the preopened descriptor. They cannot widen them.
type Preopen struct {
	FSPath  string
	Path    string
	Rights  Rights
	Inherit Rights
}

type Options struct {
	Env  map[string]string
	Args []string

	// Preopen lists the directories available to the guest. They are numbered in order starting at descriptor 3.
	Preopen []Preopen

	// FDs adopts additional host handles under fixed descriptor numbers. Their rights are derived from their file
	// type. Adopted handles are closed with the instance.
	FDs map[uint32]int

	// Bindings supplies the host primitives. Defaults to NewOSBindings().
	Bindings *Bindings

	// Logger defaults to the package logger.
	Logger *zap.Logger

	// PermissivePaths disables the confinement of guest paths to the preopened directories.
	PermissivePaths bool
}

// WASI is the WASI state of a single guest module: its arguments, environment and descriptor table. A WASI value
// is not safe for concurrent use; the guest calls into it from one goroutine at a time.
type WASI struct {
	args []string
	env  []string

	bindings        *Bindings
	files           *fdTable
	mem             memoryView
	log             *zap.Logger
	permissivePaths bool

	timeOrigin int64
	cpuStart   int64

	stdin          []byte
	lastStdin      int64
	warnedBusyWait bool

	stats Stats
}

type ExitError struct {
	code uint32
}

func (e *ExitError) Code() int {
	return int(e.code)
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// New creates the WASI state for one guest module.
func New(opts *Options) (*WASI, error) {
	if opts == nil {
		opts = &Options{}
	}

	bindings := opts.Bindings
	if bindings == nil {
		bindings = NewOSBindings()
	}
	if err := bindings.validate(); err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = Logger()
	}

	env := make([]string, 0, len(opts.Env))
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)

	hrtime := bindings.Hrtime()
	w := &WASI{
		args:            append([]string(nil), opts.Args...),
		env:             env,
		bindings:        bindings,
		files:           newFDTable(bindings),
		log:             log,
		permissivePaths: opts.PermissivePaths,
		timeOrigin:      bindings.Walltime() - hrtime,
		cpuStart:        hrtime,
		lastStdin:       hrtime,
	}

	w.files.set(0, &descriptor{handle: 0, borrowed: true, hasRights: true, rights: StdinRights})
	w.files.set(1, &descriptor{handle: 1, borrowed: true, hasRights: true, rights: StdoutRights})
	w.files.set(2, &descriptor{handle: 2, borrowed: true, hasRights: true, rights: StderrRights})

	if err := w.adopt(opts.FDs); err != nil {
		w.files.closeAll()
		return nil, err
	}
	if err := w.preopen(opts.Preopen); err != nil {
		w.files.closeAll()
		return nil, err
	}
	return w, nil
}

func (w *WASI) adopt(fds map[uint32]int) error {
	numbers := make([]uint32, 0, len(fds))
	for fd := range fds {
		numbers = append(numbers, fd)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })

	for _, fd := range numbers {
		if fd < firstFreeDescriptor || fd > maxDescriptors {
			return fmt.Errorf("cannot adopt host handle %d as descriptor %d", fds[fd], fd)
		}
		w.files.set(fd, &descriptor{handle: fds[fd]})
		if _, err := w.files.stat(fd); err != nil {
			w.log.Warn("ignoring unusable host handle", zap.Uint32("fd", fd), zap.Int("handle", fds[fd]), zap.Error(err))
			delete(w.files.entries, fd)
			w.files.used.Clear(uint(fd))
		}
	}
	return nil
}

func (w *WASI) preopen(preopens []Preopen) error {
	seen := map[string]bool{}
	for _, p := range preopens {
		if seen[p.Path] {
			return fmt.Errorf("duplicate preopen %q", p.Path)
		}
		seen[p.Path] = true

		root, err := filepath.Abs(p.FSPath)
		if err != nil {
			return fmt.Errorf("preopen %q: %w", p.Path, err)
		}
		realRoot, err := w.bindings.FS.Realpath(root)
		if err != nil {
			realRoot = root
		}

		handle, err := w.bindings.FS.Open(root, OpenReadOnly|OpenDirectory, 0)
		if err != nil {
			return fmt.Errorf("opening preopen %q: %w", p.Path, err)
		}

		rights, inheriting := DirectoryRights, DirectoryInheritingRights
		if p.Rights != 0 {
			rights &= p.Rights
		}
		if p.Inherit != 0 {
			inheriting &= p.Inherit
		}

		_, err = w.files.open(&descriptor{
			handle:     handle,
			hasRights:  true,
			rights:     rights,
			inheriting: inheriting,
			hostPath:   root,
			guestPath:  p.Path,
			preopen:    true,
			root:       root,
			realRoot:   realRoot,
		})
		if err != nil {
			w.bindings.FS.Close(handle)
			return fmt.Errorf("preopen %q: %w", p.Path, err)
		}
	}
	return nil
}

// Stats returns the call counters of the instance.
func (w *WASI) Stats() *Stats {
	return &w.stats
}

// Close releases the host handles owned by the descriptor table.
func (w *WASI) Close() error {
	return w.files.closeAll()
}

// Start runs a guest module that was instantiated without start functions. It calls _start if the module exports
// it, or _initialize for reactor modules. The guest's exit status is reported as an *ExitError.
func (w *WASI) Start(ctx context.Context, mod api.Module) error {
	mem := mod.Memory()
	if mem == nil {
		return fmt.Errorf("module does not export its memory")
	}
	w.mem.bind(mem)

	start := mod.ExportedFunction("_start")
	if start == nil {
		start = mod.ExportedFunction("_initialize")
	}
	if start == nil {
		return fmt.Errorf("module exports neither _start nor _initialize")
	}

	_, err := start.Call(ctx)
	return exitError(err)
}

func exitError(err error) error {
	var exit *sys.ExitError
	if errors.As(err, &exit) {
		if exit.ExitCode() == 0 {
			return nil
		}
		return &ExitError{code: exit.ExitCode()}
	}
	return err
}

// Run instantiates the WASI host module and the compiled guest in r, then starts the guest.
func (w *WASI) Run(ctx context.Context, r wazero.Runtime, compiled wazero.CompiledModule) error {
	namespace, err := DetectNamespace(compiled)
	if err != nil {
		return err
	}

	host, err := w.Instantiate(ctx, r, namespace)
	if err != nil {
		return fmt.Errorf("instantiating %s: %w", namespace, err)
	}
	defer host.Close(ctx)

	mod, err := r.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("").WithStartFunctions())
	if err != nil {
		return exitError(err)
	}
	defer mod.Close(ctx)

	return w.Start(ctx, mod)
}

// Run compiles and runs the command module bin with a new WASI instance. The module name is passed to the guest
// as its first argument.
func Run(ctx context.Context, name string, bin []byte, opts *Options) error {
	if opts == nil {
		opts = &Options{}
	}
	withName := *opts
	withName.Args = append([]string{name}, opts.Args...)

	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	compiled, err := r.CompileModule(ctx, bin)
	if err != nil {
		return err
	}

	w, err := New(&withName)
	if err != nil {
		return err
	}
	defer w.Close()

	return w.Run(ctx, r, compiled)
}
