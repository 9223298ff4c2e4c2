package fatfs

import (
	"errors"
	"os"
	"path"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/yimjisu/fatfs/checkpoint"
)

// Fs exposes a Context as afero.Fs. Paths are resolved like Context does it,
// relative ones against its working directory.
// Permissions and times are not stored, perm arguments are ignored.
type Fs struct {
	ctx *Context
}

var (
	_ afero.Fs        = (*Fs)(nil)
	_ afero.Symlinker = (*Fs)(nil)
)

// Afero returns the context as afero.Fs.
func (c *Context) Afero() *Fs {
	return &Fs{ctx: c}
}

func pathError(op, name string, err error) error {
	if err == nil {
		return nil
	}
	return &os.PathError{Op: op, Path: name, Err: err}
}

func (fs *Fs) Create(name string) (afero.File, error) {
	return fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
}

func (fs *Fs) Mkdir(name string, perm os.FileMode) error {
	return pathError("mkdir", name, fs.ctx.CreateDir(name))
}

// MkdirAll creates name and every missing parent. Existing directories are fine.
func (fs *Fs) MkdirAll(name string, perm os.FileMode) error {
	prefix := ""
	if strings.HasPrefix(name, "/") {
		prefix = "/"
	}

	for _, segment := range splitPath(name) {
		prefix = path.Join(prefix, segment)

		info, err := fs.ctx.Stat(prefix)
		switch {
		case err == nil && info.IsDir():
			continue
		case err == nil:
			return pathError("mkdir", prefix, checkpoint.From(ErrNotADirectory))
		case !errors.Is(err, ErrNotFound):
			return pathError("mkdir", prefix, err)
		}

		if err := fs.ctx.CreateDir(prefix); err != nil && !errors.Is(err, ErrNameInUse) {
			return pathError("mkdir", prefix, err)
		}
	}

	return nil
}

// Open opens name read only.
func (fs *Fs) Open(name string) (afero.File, error) {
	return fs.OpenFile(name, os.O_RDONLY, 0)
}

// OpenFile supports os.O_CREATE, os.O_EXCL, os.O_TRUNC and os.O_APPEND.
func (fs *Fs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	file, err := fs.ctx.Open(name)
	switch {
	case err == nil && flag&os.O_CREATE != 0 && flag&os.O_EXCL != 0:
		_ = file.Close()
		return nil, pathError("open", name, checkpoint.From(ErrNameInUse))
	case errors.Is(err, ErrNotFound) && flag&os.O_CREATE != 0:
		if err := fs.ctx.Create(name, 0); err != nil {
			return nil, pathError("open", name, err)
		}
		file, err = fs.ctx.Open(name)
	}
	if err != nil {
		return nil, pathError("open", name, err)
	}

	file.flag = flag
	if flag&os.O_TRUNC != 0 && flag&(os.O_WRONLY|os.O_RDWR) != 0 && !file.IsDir() {
		if err := file.Truncate(0); err != nil {
			_ = file.Close()
			return nil, pathError("open", name, err)
		}
	}

	return file, nil
}

func (fs *Fs) Remove(name string) error {
	return pathError("remove", name, fs.ctx.Remove(name))
}

// RemoveAll removes name and everything below it. A missing name is no error.
// Symlinks are removed, not followed.
func (fs *Fs) RemoveAll(name string) error {
	info, err := fs.ctx.Lstat(name)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return pathError("removeall", name, err)
	}

	if info.IsDir() {
		dir, err := fs.ctx.Open(name)
		if err != nil {
			return pathError("removeall", name, err)
		}
		children, err := dir.Readdirnames(-1)
		_ = dir.Close()
		if err != nil {
			return pathError("removeall", name, err)
		}

		for _, child := range children {
			if err := fs.RemoveAll(path.Join(name, child)); err != nil {
				return err
			}
		}
	}

	return pathError("removeall", name, fs.ctx.Remove(name))
}

func (fs *Fs) Rename(oldname, newname string) error {
	return pathError("rename", oldname, fs.ctx.Rename(oldname, newname))
}

func (fs *Fs) Stat(name string) (os.FileInfo, error) {
	info, err := fs.ctx.Stat(name)
	return info, pathError("stat", name, err)
}

func (fs *Fs) Name() string {
	return "fatfs"
}

func (fs *Fs) Chmod(name string, mode os.FileMode) error {
	return pathError("chmod", name, ErrUnsupported)
}

func (fs *Fs) Chown(name string, uid, gid int) error {
	return pathError("chown", name, ErrUnsupported)
}

func (fs *Fs) Chtimes(name string, atime time.Time, mtime time.Time) error {
	return pathError("chtimes", name, ErrUnsupported)
}

func (fs *Fs) LstatIfPossible(name string) (os.FileInfo, bool, error) {
	info, err := fs.ctx.Lstat(name)
	return info, true, pathError("lstat", name, err)
}

func (fs *Fs) SymlinkIfPossible(oldname, newname string) error {
	return pathError("symlink", newname, fs.ctx.Symlink(oldname, newname))
}

func (fs *Fs) ReadlinkIfPossible(name string) (string, error) {
	target, err := fs.ctx.Readlink(name)
	return target, pathError("readlink", name, err)
}
