package wasi

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"syscall"
)

// Errno is a WASI error number. It is returned by every host function; zero means success.
//
// Errno implements error so that handlers and host bindings can return a WASI error code explicitly. Such errors are
// passed to the guest verbatim.
type Errno uint16

const (
	ErrnoSuccess        Errno = iota // No error occurred. System call completed successfully.
	Errno2big                        // Argument list too long.
	ErrnoAcces                       // Permission denied.
	ErrnoAddrinuse                   // Address in use.
	ErrnoAddrnotavail                // Address not available.
	ErrnoAfnosupport                 // Address family not supported.
	ErrnoAgain                       // Resource unavailable, or operation would block.
	ErrnoAlready                     // Connection already in progress.
	ErrnoBadf                        // Bad file descriptor.
	ErrnoBadmsg                      // Bad message.
	ErrnoBusy                        // Device or resource busy.
	ErrnoCanceled                    // Operation canceled.
	ErrnoChild                       // No child processes.
	ErrnoConnaborted                 // Connection aborted.
	ErrnoConnrefused                 // Connection refused.
	ErrnoConnreset                   // Connection reset.
	ErrnoDeadlk                      // Resource deadlock would occur.
	ErrnoDestaddrreq                 // Destination address required.
	ErrnoDom                         // Mathematics argument out of domain of function.
	ErrnoDquot                       // Reserved.
	ErrnoExist                       // File exists.
	ErrnoFault                       // Bad address.
	ErrnoFbig                        // File too large.
	ErrnoHostunreach                 // Host is unreachable.
	ErrnoIdrm                        // Identifier removed.
	ErrnoIlseq                       // Illegal byte sequence.
	ErrnoInprogress                  // Operation in progress.
	ErrnoIntr                        // Interrupted function.
	ErrnoInval                       // Invalid argument.
	ErrnoIo                          // I/O error.
	ErrnoIsconn                      // Socket is connected.
	ErrnoIsdir                       // Is a directory.
	ErrnoLoop                        // Too many levels of symbolic links.
	ErrnoMfile                       // File descriptor value too large.
	ErrnoMlink                       // Too many links.
	ErrnoMsgsize                     // Message too large.
	ErrnoMultihop                    // Reserved.
	ErrnoNametoolong                 // Filename too long.
	ErrnoNetdown                     // Network is down.
	ErrnoNetreset                    // Connection aborted by network.
	ErrnoNetunreach                  // Network unreachable.
	ErrnoNfile                       // Too many files open in system.
	ErrnoNobufs                      // No buffer space available.
	ErrnoNodev                       // No such device.
	ErrnoNoent                       // No such file or directory.
	ErrnoNoexec                      // Executable file format error.
	ErrnoNolck                       // No locks available.
	ErrnoNolink                      // Reserved.
	ErrnoNomem                       // Not enough space.
	ErrnoNomsg                       // No message of the desired type.
	ErrnoNoprotoopt                  // Protocol not available.
	ErrnoNospc                       // No space left on device.
	ErrnoNosys                       // Function not supported.
	ErrnoNotconn                     // The socket is not connected.
	ErrnoNotdir                      // Not a directory or a symbolic link to a directory.
	ErrnoNotempty                    // Directory not empty.
	ErrnoNotrecoverable              // State not recoverable.
	ErrnoNotsock                     // Not a socket.
	ErrnoNotsup                      // Not supported, or operation not supported on socket.
	ErrnoNotty                       // Inappropriate I/O control operation.
	ErrnoNxio                        // No such device or address.
	ErrnoOverflow                    // Value too large to be stored in data type.
	ErrnoOwnerdead                   // Previous owner died.
	ErrnoPerm                        // Operation not permitted.
	ErrnoPipe                        // Broken pipe.
	ErrnoProto                       // Protocol error.
	ErrnoProtonosupport              // Protocol not supported.
	ErrnoPrototype                   // Protocol wrong type for socket.
	ErrnoRange                       // Result too large.
	ErrnoRofs                        // Read-only file system.
	ErrnoSpipe                       // Invalid seek.
	ErrnoSrch                        // No such process.
	ErrnoStale                       // Reserved.
	ErrnoTimedout                    // Connection timed out.
	ErrnoTxtbsy                      // Text file busy.
	ErrnoXdev                        // Cross-device link.
	ErrnoNotcapable                  // Extension: Capabilities insufficient.
)

var errnoNames = [...]string{
	"ESUCCESS", "E2BIG", "EACCES", "EADDRINUSE", "EADDRNOTAVAIL", "EAFNOSUPPORT", "EAGAIN", "EALREADY", "EBADF",
	"EBADMSG", "EBUSY", "ECANCELED", "ECHILD", "ECONNABORTED", "ECONNREFUSED", "ECONNRESET", "EDEADLK",
	"EDESTADDRREQ", "EDOM", "EDQUOT", "EEXIST", "EFAULT", "EFBIG", "EHOSTUNREACH", "EIDRM", "EILSEQ",
	"EINPROGRESS", "EINTR", "EINVAL", "EIO", "EISCONN", "EISDIR", "ELOOP", "EMFILE", "EMLINK", "EMSGSIZE",
	"EMULTIHOP", "ENAMETOOLONG", "ENETDOWN", "ENETRESET", "ENETUNREACH", "ENFILE", "ENOBUFS", "ENODEV", "ENOENT",
	"ENOEXEC", "ENOLCK", "ENOLINK", "ENOMEM", "ENOMSG", "ENOPROTOOPT", "ENOSPC", "ENOSYS", "ENOTCONN", "ENOTDIR",
	"ENOTEMPTY", "ENOTRECOVERABLE", "ENOTSOCK", "ENOTSUP", "ENOTTY", "ENXIO", "EOVERFLOW", "EOWNERDEAD", "EPERM",
	"EPIPE", "EPROTO", "EPROTONOSUPPORT", "EPROTOTYPE", "ERANGE", "EROFS", "ESPIPE", "ESRCH", "ESTALE", "ETIMEDOUT",
	"ETXTBSY", "EXDEV", "ENOTCAPABLE",
}

// hostErrnos maps symbolic host error names to WASI error numbers.
var hostErrnos = func() map[string]Errno {
	m := make(map[string]Errno, len(errnoNames)+4)
	for i, name := range errnoNames[1:] {
		m[name] = Errno(i + 1)
	}

	// Host spellings that share a WASI code.
	m["EDEADLOCK"] = ErrnoDeadlk
	m["EHOSTDOWN"] = ErrnoHostunreach
	m["EWOULDBLOCK"] = ErrnoAgain
	m["EOPNOTSUPP"] = ErrnoNotsup
	return m
}()

// Name returns the symbolic name of the error number, e.g. "ENOENT".
func (e Errno) Name() string {
	if int(e) < len(errnoNames) {
		return errnoNames[e]
	}
	return fmt.Sprintf("errno(%d)", uint16(e))
}

func (e Errno) Error() string {
	return "wasi: " + e.Name()
}

// HostErrno translates a symbolic host error name (as reported by the host's errno table) to a WASI error number.
// Unknown names translate to ErrnoInval.
func HostErrno(name string) Errno {
	if e, ok := hostErrnos[name]; ok {
		return e
	}
	return ErrnoInval
}

// errnoOf translates an error returned by a handler or by the host bindings into the WASI error number reported to
// the guest.
//
// Errors that are neither explicit WASI errors nor host errors are not translated: errnoOf panics, and the panic
// surfaces from the runtime as a failed host call.
func errnoOf(err error) Errno {
	if err == nil {
		return ErrnoSuccess
	}

	var errno Errno
	if errors.As(err, &errno) {
		return errno
	}

	var sysErr syscall.Errno
	if errors.As(err, &sysErr) {
		if sysErr == 0 {
			return ErrnoSuccess
		}
		return HostErrno(hostErrnoName(sysErr))
	}

	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrnoNoent
	case errors.Is(err, fs.ErrExist):
		return ErrnoExist
	case errors.Is(err, fs.ErrPermission):
		return ErrnoPerm
	case errors.Is(err, fs.ErrInvalid):
		return ErrnoInval
	case errors.Is(err, fs.ErrClosed):
		return ErrnoBadf
	case errors.Is(err, io.ErrShortWrite):
		return ErrnoIo
	}

	panic(fmt.Errorf("wasi: untranslatable host error: %w", err))
}
