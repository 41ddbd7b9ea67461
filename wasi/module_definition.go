package wasi

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// Import namespaces under which the host functions are exported.
const (
	SnapshotPreview1 = "wasi_snapshot_preview1"
	Unstable         = "wasi_unstable"
)

// Syscall identifies a WASI host function.
type Syscall uint8

const (
	SyscallArgsGet Syscall = iota
	SyscallArgsSizesGet
	SyscallEnvironGet
	SyscallEnvironSizesGet
	SyscallClockResGet
	SyscallClockTimeGet
	SyscallFdAdvise
	SyscallFdAllocate
	SyscallFdClose
	SyscallFdDatasync
	SyscallFdFdstatGet
	SyscallFdFdstatSetFlags
	SyscallFdFdstatSetRights
	SyscallFdFilestatGet
	SyscallFdFilestatSetSize
	SyscallFdFilestatSetTimes
	SyscallFdPread
	SyscallFdPrestatGet
	SyscallFdPrestatDirName
	SyscallFdPwrite
	SyscallFdRead
	SyscallFdReaddir
	SyscallFdRenumber
	SyscallFdSeek
	SyscallFdSync
	SyscallFdTell
	SyscallFdWrite
	SyscallPathCreateDirectory
	SyscallPathFilestatGet
	SyscallPathFilestatSetTimes
	SyscallPathLink
	SyscallPathOpen
	SyscallPathReadlink
	SyscallPathRemoveDirectory
	SyscallPathRename
	SyscallPathSymlink
	SyscallPathUnlinkFile
	SyscallPollOneoff
	SyscallProcExit
	SyscallProcRaise
	SyscallSchedYield
	SyscallRandomGet
	SyscallSockAccept
	SyscallSockRecv
	SyscallSockSend
	SyscallSockShutdown

	numSyscalls
)

type handler func(w *WASI, ctx context.Context, mod api.Module, params []uint64) error

type syscallDefinition struct {
	name       string
	params     []api.ValueType
	paramNames []string
	noResult   bool
	handler    handler
}

const (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

func def(name string, h handler, params []api.ValueType, names ...string) syscallDefinition {
	return syscallDefinition{name: name, params: params, paramNames: names, handler: h}
}

var syscalls = [numSyscalls]syscallDefinition{
	SyscallArgsGet:         def("args_get", (*WASI).argsGet, []api.ValueType{i32, i32}, "argv", "argv_buf"),
	SyscallArgsSizesGet:    def("args_sizes_get", (*WASI).argsSizesGet, []api.ValueType{i32, i32}, "result.argc", "result.argv_len"),
	SyscallEnvironGet:      def("environ_get", (*WASI).environGet, []api.ValueType{i32, i32}, "environ", "environ_buf"),
	SyscallEnvironSizesGet: def("environ_sizes_get", (*WASI).environSizesGet, []api.ValueType{i32, i32}, "result.environc", "result.environv_len"),
	SyscallClockResGet:     def("clock_res_get", (*WASI).clockResGet, []api.ValueType{i32, i32}, "id", "result.resolution"),
	SyscallClockTimeGet:    def("clock_time_get", (*WASI).clockTimeGet, []api.ValueType{i32, i64, i32}, "id", "precision", "result.timestamp"),

	SyscallFdAdvise:           def("fd_advise", (*WASI).fdAdvise, []api.ValueType{i32, i64, i64, i32}, "fd", "offset", "len", "advice"),
	SyscallFdAllocate:         def("fd_allocate", (*WASI).fdAllocate, []api.ValueType{i32, i64, i64}, "fd", "offset", "len"),
	SyscallFdClose:            def("fd_close", (*WASI).fdClose, []api.ValueType{i32}, "fd"),
	SyscallFdDatasync:         def("fd_datasync", (*WASI).fdDatasync, []api.ValueType{i32}, "fd"),
	SyscallFdFdstatGet:        def("fd_fdstat_get", (*WASI).fdFdstatGet, []api.ValueType{i32, i32}, "fd", "result.stat"),
	SyscallFdFdstatSetFlags:   def("fd_fdstat_set_flags", (*WASI).fdFdstatSetFlags, []api.ValueType{i32, i32}, "fd", "flags"),
	SyscallFdFdstatSetRights:  def("fd_fdstat_set_rights", (*WASI).fdFdstatSetRights, []api.ValueType{i32, i64, i64}, "fd", "fs_rights_base", "fs_rights_inheriting"),
	SyscallFdFilestatGet:      def("fd_filestat_get", (*WASI).fdFilestatGet, []api.ValueType{i32, i32}, "fd", "result.buf"),
	SyscallFdFilestatSetSize:  def("fd_filestat_set_size", (*WASI).fdFilestatSetSize, []api.ValueType{i32, i64}, "fd", "size"),
	SyscallFdFilestatSetTimes: def("fd_filestat_set_times", (*WASI).fdFilestatSetTimes, []api.ValueType{i32, i64, i64, i32}, "fd", "atim", "mtim", "fst_flags"),
	SyscallFdPread:            def("fd_pread", (*WASI).fdPread, []api.ValueType{i32, i32, i32, i64, i32}, "fd", "iovs", "iovs_len", "offset", "result.nread"),
	SyscallFdPrestatGet:       def("fd_prestat_get", (*WASI).fdPrestatGet, []api.ValueType{i32, i32}, "fd", "result.prestat"),
	SyscallFdPrestatDirName:   def("fd_prestat_dir_name", (*WASI).fdPrestatDirName, []api.ValueType{i32, i32, i32}, "fd", "path", "path_len"),
	SyscallFdPwrite:           def("fd_pwrite", (*WASI).fdPwrite, []api.ValueType{i32, i32, i32, i64, i32}, "fd", "iovs", "iovs_len", "offset", "result.nwritten"),
	SyscallFdRead:             def("fd_read", (*WASI).fdRead, []api.ValueType{i32, i32, i32, i32}, "fd", "iovs", "iovs_len", "result.nread"),
	SyscallFdReaddir:          def("fd_readdir", (*WASI).fdReaddir, []api.ValueType{i32, i32, i32, i64, i32}, "fd", "buf", "buf_len", "cookie", "result.bufused"),
	SyscallFdRenumber:         def("fd_renumber", (*WASI).fdRenumber, []api.ValueType{i32, i32}, "fd", "to"),
	SyscallFdSeek:             def("fd_seek", (*WASI).fdSeek, []api.ValueType{i32, i64, i32, i32}, "fd", "offset", "whence", "result.newoffset"),
	SyscallFdSync:             def("fd_sync", (*WASI).fdSync, []api.ValueType{i32}, "fd"),
	SyscallFdTell:             def("fd_tell", (*WASI).fdTell, []api.ValueType{i32, i32}, "fd", "result.offset"),
	SyscallFdWrite:            def("fd_write", (*WASI).fdWrite, []api.ValueType{i32, i32, i32, i32}, "fd", "iovs", "iovs_len", "result.nwritten"),

	SyscallPathCreateDirectory:  def("path_create_directory", (*WASI).pathCreateDirectory, []api.ValueType{i32, i32, i32}, "fd", "path", "path_len"),
	SyscallPathFilestatGet:      def("path_filestat_get", (*WASI).pathFilestatGet, []api.ValueType{i32, i32, i32, i32, i32}, "fd", "flags", "path", "path_len", "result.buf"),
	SyscallPathFilestatSetTimes: def("path_filestat_set_times", (*WASI).pathFilestatSetTimes, []api.ValueType{i32, i32, i32, i32, i64, i64, i32}, "fd", "flags", "path", "path_len", "atim", "mtim", "fst_flags"),
	SyscallPathLink:             def("path_link", (*WASI).pathLink, []api.ValueType{i32, i32, i32, i32, i32, i32, i32}, "old_fd", "old_flags", "old_path", "old_path_len", "new_fd", "new_path", "new_path_len"),
	SyscallPathOpen:             def("path_open", (*WASI).pathOpen, []api.ValueType{i32, i32, i32, i32, i32, i64, i64, i32, i32}, "fd", "dirflags", "path", "path_len", "oflags", "fs_rights_base", "fs_rights_inheriting", "fdflags", "result.opened_fd"),
	SyscallPathReadlink:         def("path_readlink", (*WASI).pathReadlink, []api.ValueType{i32, i32, i32, i32, i32, i32}, "fd", "path", "path_len", "buf", "buf_len", "result.bufused"),
	SyscallPathRemoveDirectory:  def("path_remove_directory", (*WASI).pathRemoveDirectory, []api.ValueType{i32, i32, i32}, "fd", "path", "path_len"),
	SyscallPathRename:           def("path_rename", (*WASI).pathRename, []api.ValueType{i32, i32, i32, i32, i32, i32}, "fd", "old_path", "old_path_len", "new_fd", "new_path", "new_path_len"),
	SyscallPathSymlink:          def("path_symlink", (*WASI).pathSymlink, []api.ValueType{i32, i32, i32, i32, i32}, "old_path", "old_path_len", "fd", "new_path", "new_path_len"),
	SyscallPathUnlinkFile:       def("path_unlink_file", (*WASI).pathUnlinkFile, []api.ValueType{i32, i32, i32}, "fd", "path", "path_len"),

	SyscallPollOneoff: def("poll_oneoff", (*WASI).pollOneoff, []api.ValueType{i32, i32, i32, i32}, "in", "out", "nsubscriptions", "result.nevents"),
	SyscallProcExit: {
		name:       "proc_exit",
		params:     []api.ValueType{i32},
		paramNames: []string{"rval"},
		noResult:   true,
		handler:    (*WASI).procExit,
	},
	SyscallProcRaise:  def("proc_raise", (*WASI).procRaise, []api.ValueType{i32}, "sig"),
	SyscallSchedYield: def("sched_yield", (*WASI).schedYield, nil),
	SyscallRandomGet:  def("random_get", (*WASI).randomGet, []api.ValueType{i32, i32}, "buf", "buf_len"),

	SyscallSockAccept:   def("sock_accept", (*WASI).sockUnsupported, []api.ValueType{i32, i32, i32}, "fd", "flags", "result.fd"),
	SyscallSockRecv:     def("sock_recv", (*WASI).sockUnsupported, []api.ValueType{i32, i32, i32, i32, i32, i32}, "fd", "ri_data", "ri_data_len", "ri_flags", "result.ro_datalen", "result.ro_flags"),
	SyscallSockSend:     def("sock_send", (*WASI).sockUnsupported, []api.ValueType{i32, i32, i32, i32, i32}, "fd", "si_data", "si_data_len", "si_flags", "result.so_datalen"),
	SyscallSockShutdown: def("sock_shutdown", (*WASI).sockUnsupported, []api.ValueType{i32, i32}, "fd", "how"),
}

var syscallsByName = func() map[string]Syscall {
	m := make(map[string]Syscall, numSyscalls)
	for i := range syscalls {
		m[syscalls[i].name] = Syscall(i)
	}
	return m
}()

// String returns the name under which the syscall is imported.
func (sc Syscall) String() string {
	if sc < numSyscalls {
		return syscalls[sc].name
	}
	return fmt.Sprintf("syscall(%d)", uint8(sc))
}

// LookupSyscall returns the syscall imported under the given name.
func LookupSyscall(name string) (Syscall, bool) {
	sc, ok := syscallsByName[name]
	return sc, ok
}

// DetectNamespace returns the WASI namespace the compiled module imports functions from. It is an error for the
// module to import from both WASI namespaces or from neither.
func DetectNamespace(compiled wazero.CompiledModule) (string, error) {
	seen := map[string]bool{}
	for _, f := range compiled.ImportedFunctions() {
		module, _, _ := f.Import()
		if strings.HasPrefix(module, "wasi_") {
			seen[module] = true
		}
	}

	namespaces := make([]string, 0, len(seen))
	for ns := range seen {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)

	switch len(namespaces) {
	case 0:
		return "", fmt.Errorf("module does not import any WASI functions")
	case 1:
		switch ns := namespaces[0]; ns {
		case SnapshotPreview1, Unstable:
			return ns, nil
		default:
			return "", fmt.Errorf("unsupported WASI namespace %q", ns)
		}
	default:
		return "", fmt.Errorf("module imports from multiple WASI namespaces: %s", strings.Join(namespaces, ", "))
	}
}

// Instantiate exports the WASI host functions from a host module with the given name.
func (w *WASI) Instantiate(ctx context.Context, r wazero.Runtime, namespace string) (api.Module, error) {
	builder := r.NewHostModuleBuilder(namespace)
	for sc := Syscall(0); sc < numSyscalls; sc++ {
		sc := sc
		def := &syscalls[sc]

		var results []api.ValueType
		if !def.noResult {
			results = []api.ValueType{i32}
		}

		fn := api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			w.call(ctx, mod, sc, stack)
		})
		builder.NewFunctionBuilder().
			WithGoModuleFunction(fn, def.params, results).
			WithParameterNames(def.paramNames...).
			Export(def.name)
	}
	return builder.Instantiate(ctx)
}

// call dispatches one host function call from the guest module mod. The errno is stored in the result slot.
func (w *WASI) call(ctx context.Context, mod api.Module, sc Syscall, stack []uint64) {
	def := &syscalls[sc]
	w.mem.bind(mod.Memory())

	start := time.Now()
	errno := errnoOf(def.handler(w, ctx, mod, stack))
	w.stats.record(sc, errno, time.Since(start))

	if ce := w.log.Check(zap.DebugLevel, "syscall"); ce != nil {
		ce.Write(zap.Stringer("syscall", sc), zap.String("errno", errno.Name()))
	}

	if !def.noResult {
		stack[0] = uint64(errno)
	}
}
