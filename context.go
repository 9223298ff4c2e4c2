package fatfs

import (
	"os"
	"path"

	"github.com/yimjisu/fatfs/checkpoint"
)

// Context is the view of one execution context on the filesystem: it owns a
// working directory handle and resolves relative paths against it.
// A Context is as safe for concurrent use as the FileSystem, but it is meant to
// be used by one process or thread.
type Context struct {
	fs  *FileSystem
	cwd *Dir
}

// NewContext creates a context whose working directory is the root.
func (fs *FileSystem) NewContext() (*Context, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return nil, checkpoint.From(ErrClosed)
	}

	root, err := fs.vol.openRoot()
	if err != nil {
		return nil, err
	}

	fs.cwds[root.Inode().Inumber()]++
	return &Context{fs: fs, cwd: root}, nil
}

// lock takes the filesystem lock. On error the lock is not held.
func (c *Context) lock() error {
	c.fs.mu.Lock()
	if c.fs.closed || c.cwd == nil {
		c.fs.mu.Unlock()
		return checkpoint.From(ErrClosed)
	}
	return nil
}

func (c *Context) walker() *walker {
	return &walker{vol: c.fs.vol, cwd: c.cwd}
}

// setCwd replaces the working directory, taking ownership of dir.
func (c *Context) setCwd(dir *Dir) error {
	old := c.cwd
	if old != nil {
		sector := old.Inode().Inumber()
		if c.fs.cwds[sector]--; c.fs.cwds[sector] <= 0 {
			delete(c.fs.cwds, sector)
		}
	}

	c.cwd = dir
	if dir != nil {
		c.fs.cwds[dir.Inode().Inumber()]++
	}
	return old.Close()
}

// Clone creates a new context with the same working directory, like a forked process.
func (c *Context) Clone() (*Context, error) {
	if err := c.lock(); err != nil {
		return nil, err
	}
	defer c.fs.mu.Unlock()

	clone := &Context{fs: c.fs}
	return clone, clone.setCwd(c.cwd.Reopen())
}

// Close releases the working directory.
func (c *Context) Close() error {
	if err := c.lock(); err != nil {
		return err
	}
	defer c.fs.mu.Unlock()

	return c.setCwd(nil)
}

// WorkingDirectory returns the inumber of the working directory.
func (c *Context) WorkingDirectory() (uint32, error) {
	if err := c.lock(); err != nil {
		return 0, err
	}
	defer c.fs.mu.Unlock()

	return c.cwd.Inode().Inumber(), nil
}

// link creates a new inode with build and links it as the last component of path.
// The record cluster is released again if anything fails.
func (c *Context) link(path string, isDir bool, build func(record fatEntry) error) error {
	v := c.fs.vol

	dir, name, err := c.walker().walk(path)
	if err != nil {
		return err
	}
	defer dir.Close()

	if name != selfName && name != parentName {
		if err := validName(name); err != nil {
			return err
		}
	}

	record, err := v.fat.createChain(freeCluster)
	if err != nil {
		return err
	}

	err = build(record)
	if err == nil {
		err = dir.Add(name, v.fat.clusterToSector(record), isDir)
	}

	if err != nil {
		if rerr := v.fat.removeChain(record, freeCluster); rerr != nil {
			c.fs.log.Error("Failed to release clusters of a failed create.",
				"path", path,
				"err", rerr,
			)
		}
		return err
	}

	return nil
}

// Create creates a regular file of initialSize zero bytes.
func (c *Context) Create(path string, initialSize int64) error {
	if initialSize < 0 {
		return checkpoint.Errorf(ErrInvalidArgument, "negative size %d", initialSize)
	}

	if err := c.lock(); err != nil {
		return err
	}
	defer c.fs.mu.Unlock()

	return c.link(path, false, func(record fatEntry) error {
		return c.fs.vol.createInode(record, uint64(initialSize), false)
	})
}

// CreateDir creates an empty directory.
func (c *Context) CreateDir(path string) error {
	if err := c.lock(); err != nil {
		return err
	}
	defer c.fs.mu.Unlock()

	return c.link(path, true, func(record fatEntry) error {
		return c.fs.vol.createDir(record, defaultDirEntries)
	})
}

// Symlink creates a symbolic link at linkPath pointing to target.
// The target is not resolved and does not need to exist.
func (c *Context) Symlink(target, linkPath string) error {
	switch {
	case target == "":
		return checkpoint.Errorf(ErrInvalidName, "empty symlink target")
	case len(target) > SymlinkMax:
		return checkpoint.Errorf(ErrNameTooLong, "symlink target of %d bytes", len(target))
	}

	if err := c.lock(); err != nil {
		return err
	}
	defer c.fs.mu.Unlock()

	return c.link(linkPath, false, func(record fatEntry) error {
		return c.fs.vol.createSymlink(record, target)
	})
}

// Open opens the file or directory at path, following symlinks.
func (c *Context) Open(path string) (*File, error) {
	if err := c.lock(); err != nil {
		return nil, err
	}
	defer c.fs.mu.Unlock()

	inode, _, err := c.walker().lookup(path, true)
	if err != nil {
		return nil, err
	}

	return newFile(c.fs, inode, path), nil
}

// Remove deletes the file, empty directory or symlink at path. Open handles keep
// working until they are closed. A directory which is the working directory
// of any context cannot be removed.
func (c *Context) Remove(path string) error {
	if err := c.lock(); err != nil {
		return err
	}
	defer c.fs.mu.Unlock()

	dir, name, err := c.walker().walk(path)
	if err != nil {
		return err
	}
	defer dir.Close()

	switch name {
	case "", selfName, parentName:
		return checkpoint.Errorf(ErrInvalidName, "cannot remove %q", path)
	}

	inode, err := dir.Lookup(name)
	if err != nil {
		return err
	}
	busy := inode.IsDir() && c.fs.cwds[inode.Inumber()] > 0
	_ = inode.Close()

	if busy {
		return checkpoint.Errorf(ErrBusy, "%q", path)
	}

	return dir.Remove(name)
}

// Chdir changes the working directory of the context.
func (c *Context) Chdir(path string) error {
	if err := c.lock(); err != nil {
		return err
	}
	defer c.fs.mu.Unlock()

	inode, _, err := c.walker().lookup(path, true)
	if err != nil {
		return err
	}

	dir, err := openDir(inode)
	if err != nil {
		return err
	}

	return c.setCwd(dir)
}

// Readlink returns the target of the symlink at path.
func (c *Context) Readlink(path string) (string, error) {
	if err := c.lock(); err != nil {
		return "", err
	}
	defer c.fs.mu.Unlock()

	inode, _, err := c.walker().lookup(path, false)
	if err != nil {
		return "", err
	}
	defer inode.Close()

	if !inode.IsSymlink() {
		return "", checkpoint.Errorf(ErrInvalidArgument, "%q is no symlink", path)
	}
	return inode.Target(), nil
}

// Stat describes the file at path, following symlinks.
func (c *Context) Stat(path string) (os.FileInfo, error) {
	return c.stat(path, true)
}

// Lstat describes the file at path without following a final symlink.
func (c *Context) Lstat(path string) (os.FileInfo, error) {
	return c.stat(path, false)
}

func (c *Context) stat(name string, follow bool) (os.FileInfo, error) {
	if err := c.lock(); err != nil {
		return nil, err
	}
	defer c.fs.mu.Unlock()

	inode, _, err := c.walker().lookup(name, follow)
	if err != nil {
		return nil, err
	}
	defer inode.Close()

	// A followed symlink is reported under the name it was reached by.
	return newFileInfo(path.Base(name), inode), nil
}

// Rename moves the entry at oldPath to newPath, which must not exist yet.
// A directory cannot be moved below itself.
func (c *Context) Rename(oldPath, newPath string) error {
	if err := c.lock(); err != nil {
		return err
	}
	defer c.fs.mu.Unlock()

	w := c.walker()
	src, srcName, err := w.walk(oldPath)
	if err != nil {
		return err
	}
	defer src.Close()

	switch srcName {
	case "", selfName, parentName:
		return checkpoint.Errorf(ErrInvalidName, "cannot rename %q", oldPath)
	}

	inode, err := src.Lookup(srcName)
	if err != nil {
		return err
	}
	defer inode.Close()

	dst, dstName, err := w.walk(newPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	if src.Inode() == dst.Inode() && srcName == dstName {
		return nil
	}

	if inode.IsDir() {
		if err := c.checkNotBelow(dst, inode.Inumber()); err != nil {
			return err
		}
	}

	if err := dst.Add(dstName, inode.Inumber(), inode.IsDir()); err != nil {
		if inode.IsDir() {
			// Add may already have pointed ".." at dst.
			if rerr := c.fs.vol.writeDots(inode.Inumber(), src.Inode().Inumber()); rerr != nil {
				c.fs.log.Error("Failed to restore parent entry.", "path", oldPath, "err", rerr)
			}
		}
		return err
	}

	if _, err := src.unlink(srcName); err != nil {
		if _, rerr := dst.unlink(dstName); rerr != nil {
			c.fs.log.Error("Failed to roll back rename.", "path", newPath, "err", rerr)
		}
		return err
	}

	return nil
}

// checkNotBelow fails if dir is the directory at sector or lies below it.
func (c *Context) checkNotBelow(dir *Dir, sector uint32) error {
	v := c.fs.vol
	root := v.rootSector()

	current := dir.Inode().Inumber()
	for steps := 0; steps <= len(v.fat.table); steps++ {
		if current == sector {
			return checkpoint.Errorf(ErrInvalidArgument, "cannot move directory %d below itself", sector)
		}
		if current == root {
			return nil
		}

		inode, err := v.openInode(current)
		if err != nil {
			return err
		}
		parent, err := (&Dir{inode: inode}).parentSector()
		_ = inode.Close()
		if err != nil {
			return err
		}
		current = parent
	}

	return checkpoint.Errorf(ErrCorrupted, "directory %d has no path to the root", dir.Inode().Inumber())
}
