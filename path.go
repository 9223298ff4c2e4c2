package fatfs

import (
	"strings"

	"github.com/yimjisu/fatfs/checkpoint"
)

// MaxSymlinkHops is how many symlinks one resolution may expand before it fails
// with ErrSymlinkLoop.
const MaxSymlinkHops = 8

// walker resolves paths for one operation. The hop budget is shared by every
// walk of the operation, so following the final component counts as well.
type walker struct {
	vol  *volume
	cwd  *Dir
	hops int
}

func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	segments := parts[:0]
	for _, p := range parts {
		if p != "" {
			segments = append(segments, p)
		}
	}
	return segments
}

// start opens the directory a path is relative to.
func (w *walker) start(absolute bool) (*Dir, error) {
	if absolute || w.cwd == nil {
		return w.vol.openRoot()
	}
	return w.cwd.Reopen(), nil
}

// expand counts one symlink expansion.
func (w *walker) expand(target string) error {
	w.hops++
	if w.hops > MaxSymlinkHops {
		return checkpoint.Errorf(ErrSymlinkLoop, "more than %d symlinks while resolving %q", MaxSymlinkHops, target)
	}
	if target == "" {
		return checkpoint.Errorf(ErrNotFound, "empty symlink target")
	}
	return nil
}

// walk resolves every component of path but the last one and returns the
// containing directory, opened, together with the unresolved last name.
// An empty path is the root directory with an empty name, a path of only
// slashes is the root directory with the name ".".
func (w *walker) walk(path string) (*Dir, string, error) {
	if path == "" {
		dir, err := w.vol.openRoot()
		return dir, "", err
	}

	dir, err := w.start(strings.HasPrefix(path, "/"))
	if err != nil {
		return nil, "", err
	}

	queue := splitPath(path)
	if len(queue) == 0 {
		queue = []string{selfName}
	}

	for len(queue) > 1 {
		inode, err := dir.Lookup(queue[0])
		if err != nil {
			_ = dir.Close()
			return nil, "", err
		}

		if inode.IsSymlink() {
			target := inode.Target()
			_ = inode.Close()
			_ = dir.Close()

			if err := w.expand(target); err != nil {
				return nil, "", err
			}

			// Continue with the target followed by what is left of the path.
			queue = append(splitPath(target), queue[1:]...)
			if dir, err = w.start(strings.HasPrefix(target, "/")); err != nil {
				return nil, "", err
			}
			continue
		}

		if !inode.IsDir() {
			_ = inode.Close()
			_ = dir.Close()
			return nil, "", checkpoint.Errorf(ErrNotADirectory, "%q in %q", queue[0], path)
		}

		_ = dir.Close()
		dir = &Dir{inode: inode}
		queue = queue[1:]
	}

	if dir.Inode().IsRemoved() {
		_ = dir.Close()
		return nil, "", checkpoint.Errorf(ErrNotFound, "directory of %q was removed", path)
	}

	return dir, queue[0], nil
}

// lookup resolves path completely and returns its inode, opened. With follow set
// a symlink in the last component is expanded as well.
func (w *walker) lookup(path string, follow bool) (*Inode, string, error) {
	for {
		dir, name, err := w.walk(path)
		if err != nil {
			return nil, "", err
		}

		if name == "" {
			// The empty path names nothing.
			_ = dir.Close()
			return nil, "", checkpoint.Errorf(ErrNotFound, "empty path")
		}

		inode, err := dir.Lookup(name)
		_ = dir.Close()
		if err != nil {
			return nil, "", err
		}

		if !follow || !inode.IsSymlink() {
			return inode, name, nil
		}

		path = inode.Target()
		_ = inode.Close()
		if err := w.expand(path); err != nil {
			return nil, "", err
		}
	}
}
