package wasi

import (
	"path/filepath"
	"strings"
)

// Guest paths under this prefix name a virtual namespace that has no host counterpart.
const procPrefix = "proc/"

// resolve maps a path relative to the directory descriptor d to a host path. The result is confined to the preopen
// d was opened through unless the instance allows path escapes.
func (w *WASI) resolve(d *descriptor, rel string) (string, error) {
	if d.hostPath == "" {
		return "", ErrnoInval
	}
	if strings.HasPrefix(rel, procPrefix) {
		return "", ErrnoBadf
	}

	if w.permissivePaths {
		if filepath.IsAbs(rel) {
			return filepath.Clean(rel), nil
		}
		return filepath.Join(d.hostPath, rel), nil
	}

	candidate := filepath.Join(d.hostPath, rel)
	if !within(d.root, candidate) {
		return "", ErrnoNotcapable
	}

	// A symlinked parent directory must not lead out of the preopen either.
	if candidate != d.root && d.realRoot != "" {
		parent, err := w.bindings.FS.Realpath(filepath.Dir(candidate))
		if err == nil && !within(d.realRoot, parent) {
			return "", ErrnoNotcapable
		}
	}
	return candidate, nil
}

// resolveReal is resolve followed by best-effort symlink resolution. A path that does not exist yet resolves to
// itself. The canonical result must stay under the canonical preopen root.
func (w *WASI) resolveReal(d *descriptor, rel string) (string, error) {
	candidate, err := w.resolve(d, rel)
	if err != nil {
		return "", err
	}

	real, err := w.bindings.FS.Realpath(candidate)
	switch {
	case err == nil:
		if !w.permissivePaths && d.realRoot != "" && !within(d.realRoot, real) {
			return "", ErrnoNotcapable
		}
		return real, nil
	case errnoOf(err) == ErrnoNoent:
		return candidate, nil
	default:
		return "", err
	}
}

// within returns true if path is root or lies beneath it. Both paths must be clean.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
