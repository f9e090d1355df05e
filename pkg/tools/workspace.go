package tools

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/maestro-dev/maestro/pkg/config"
	"github.com/maestro-dev/maestro/pkg/protocol"
)

// Workspace confines tool file access to a root directory and keeps
// sensitive paths out of reach entirely.
type Workspace struct {
	root      string
	realRoot  string
	sensitive []string
}

func NewWorkspace(root string, sensitive []string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	// The root itself may sit behind a symlink (tmpfs mounts often do);
	// confinement compares resolved paths against the resolved root.
	realRoot, err := filepath.EvalSymlinks(abs)
	if err != nil {
		realRoot = abs
	}
	return &Workspace{root: abs, realRoot: realRoot, sensitive: sensitive}, nil
}

func (w *Workspace) Root() string { return w.root }

// Resolve turns a workspace-relative path into an absolute one,
// rejecting escapes and sensitive paths. Absolute input paths are
// rejected outright.
func (w *Workspace) Resolve(rel string) (string, error) {
	if rel == "" {
		return "", protocol.NewError(protocol.KindInvalidInput, "path cannot be empty", nil)
	}
	if filepath.IsAbs(rel) {
		return "", protocol.Errorf(protocol.KindNotPermitted, "absolute paths are not allowed: %s", rel)
	}

	full := filepath.Clean(filepath.Join(w.root, rel))
	if full != w.root && !strings.HasPrefix(full, w.root+string(filepath.Separator)) {
		return "", protocol.Errorf(protocol.KindNotPermitted, "path escapes workspace: %s", rel)
	}

	cleaned, err := filepath.Rel(w.root, full)
	if err != nil {
		return "", protocol.Errorf(protocol.KindInvalidInput, "invalid path: %s", rel)
	}
	if config.MatchAnyPattern(w.sensitive, filepath.ToSlash(cleaned)) {
		return "", protocol.Errorf(protocol.KindNotPermitted, "path is sensitive: %s", rel)
	}

	// The lexical checks above do not see symlinks; the on-disk target
	// must stay inside the root too.
	real, err := w.realPath(full)
	if err != nil {
		return "", protocol.Errorf(protocol.KindInvalidInput, "invalid path: %s", rel)
	}
	if real != w.realRoot && !strings.HasPrefix(real, w.realRoot+string(filepath.Separator)) {
		return "", protocol.Errorf(protocol.KindNotPermitted, "path escapes workspace: %s", rel)
	}

	return full, nil
}

// realPath resolves symlinks in full. For paths not on disk yet, the
// nearest existing ancestor is resolved and the remainder re-joined.
func (w *Workspace) realPath(full string) (string, error) {
	resolved, err := filepath.EvalSymlinks(full)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	dir, suffix := full, ""
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", err
		}
		suffix = filepath.Join(filepath.Base(dir), suffix)
		dir = parent

		resolved, rerr := filepath.EvalSymlinks(dir)
		if rerr == nil {
			return filepath.Join(resolved, suffix), nil
		}
		if !os.IsNotExist(rerr) {
			return "", rerr
		}
	}
}

// Rel converts an absolute path under the root back to workspace form.
func (w *Workspace) Rel(abs string) string {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

// IsSensitive reports whether a workspace-relative path matches any
// sensitive pattern.
func (w *Workspace) IsSensitive(rel string) bool {
	return config.MatchAnyPattern(w.sensitive, filepath.ToSlash(filepath.Clean(rel)))
}
