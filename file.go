package fatfs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"syscall"

	"github.com/spf13/afero"
	"github.com/yimjisu/fatfs/checkpoint"
)

// These errors may occur while processing a file.
var (
	ErrReadFile  = errors.New("could not read file completely")
	ErrWriteFile = errors.New("could not write file completely")
	ErrSeekFile  = errors.New("could not seek inside of the file")
	ErrReadDir   = errors.New("could not read the directory")
)

// File is an open file or directory. It implements afero.File.
type File struct {
	fs    *FileSystem
	inode *Inode
	dir   *Dir
	name  string
	flag  int

	offset int64
	denied bool
	isDir  bool
}

var _ afero.File = (*File)(nil)

// newFile takes ownership of inode.
func newFile(fs *FileSystem, inode *Inode, name string) *File {
	f := &File{
		fs:    fs,
		inode: inode,
		name:  name,
		flag:  os.O_RDWR,
		isDir: inode.IsDir(),
	}
	if f.isDir {
		f.dir = &Dir{inode: inode, pos: firstEntryOffset}
	}
	return f
}

// lock takes the filesystem lock. On error the lock is not held.
func (f *File) lock() error {
	f.fs.mu.Lock()
	if f.fs.closed || f.inode == nil {
		f.fs.mu.Unlock()
		return checkpoint.From(ErrClosed)
	}
	return nil
}

// Close closes the file. If writes were denied through this file they are allowed again.
// A removed inode is released when its last file is closed.
func (f *File) Close() error {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	if f.fs.closed || f.inode == nil {
		return checkpoint.From(ErrClosed)
	}

	var err error
	if f.denied {
		err = f.inode.AllowWrite()
	}
	if cerr := f.inode.Close(); err == nil {
		err = cerr
	}

	f.inode = nil
	f.dir = nil
	return err
}

func (f *File) Read(p []byte) (n int, err error) {
	if err := f.lock(); err != nil {
		return 0, err
	}
	defer f.fs.mu.Unlock()

	if f.dir != nil {
		return 0, checkpoint.Wrap(ErrIsADirectory, ErrReadFile)
	}

	n, err = f.inode.ReadAt(p, f.offset)
	f.offset += int64(n)

	if err == io.EOF {
		if n > 0 {
			return n, nil
		}
		return 0, io.EOF
	}
	if err != nil {
		return n, checkpoint.Wrap(err, ErrReadFile)
	}
	return n, nil
}

// ReadAt reads from off without touching the file position.
// It returns io.EOF if fewer than len(p) bytes are left.
func (f *File) ReadAt(p []byte, off int64) (n int, err error) {
	if err := f.lock(); err != nil {
		return 0, err
	}
	defer f.fs.mu.Unlock()

	if f.dir != nil {
		return 0, checkpoint.Wrap(ErrIsADirectory, ErrReadFile)
	}

	n, err = f.inode.ReadAt(p, off)
	if err != nil && err != io.EOF {
		return n, checkpoint.Wrap(err, ErrReadFile)
	}
	return n, err
}

// writable must be called with the lock held.
func (f *File) writable() error {
	switch {
	case f.dir != nil:
		return checkpoint.Wrap(ErrIsADirectory, ErrWriteFile)
	case f.flag&(os.O_WRONLY|os.O_RDWR) == 0:
		return checkpoint.Wrap(syscall.EBADF, ErrWriteFile)
	}
	return nil
}

// Write writes at the file position, or at the end if the file was opened with os.O_APPEND.
// Writing past the end grows the file.
func (f *File) Write(p []byte) (n int, err error) {
	if err := f.lock(); err != nil {
		return 0, err
	}
	defer f.fs.mu.Unlock()

	if err := f.writable(); err != nil {
		return 0, err
	}

	if f.flag&os.O_APPEND != 0 {
		f.offset = f.inode.Length()
	}

	n, err = f.inode.WriteAt(p, f.offset)
	f.offset += int64(n)
	if err != nil {
		return n, checkpoint.Wrap(err, ErrWriteFile)
	}
	return n, nil
}

func (f *File) WriteAt(p []byte, off int64) (n int, err error) {
	if err := f.lock(); err != nil {
		return 0, err
	}
	defer f.fs.mu.Unlock()

	if err := f.writable(); err != nil {
		return 0, err
	}

	n, err = f.inode.WriteAt(p, off)
	if err != nil {
		return n, checkpoint.Wrap(err, ErrWriteFile)
	}
	return n, nil
}

func (f *File) WriteString(s string) (ret int, err error) {
	return f.Write([]byte(s))
}

// Seek sets the position for the next Read or Write. Seeking past the end is
// allowed, a following Write fills the gap with zeros.
// For a directory the position selects the next entry returned by Readdir,
// 0 is the first entry and every entry is 20 bytes long.
// May return a syscall.EINVAL error if the whence value is invalid.
// May return an afero.ErrOutOfRange error if the offset is negative.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if err := f.lock(); err != nil {
		return 0, err
	}
	defer f.fs.mu.Unlock()

	current, length := f.offset, f.inode.Length()
	if f.dir != nil {
		current, length = f.dir.Tell()-firstEntryOffset, length-firstEntryOffset
	}

	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset = current + offset
	case io.SeekEnd:
		offset = length + offset
	default:
		return 0, checkpoint.Wrap(ErrSeekFile, fmt.Errorf("%w, offset: %v, whence: %v", syscall.EINVAL, offset, whence))
	}

	if offset < 0 {
		return 0, checkpoint.Wrap(afero.ErrOutOfRange, fmt.Errorf("%w, offset: %v, whence: %v", ErrSeekFile, offset, whence))
	}

	if f.dir != nil {
		if err := f.dir.Seek(offset + firstEntryOffset); err != nil {
			return 0, err
		}
		return offset, nil
	}
	f.offset = offset
	return offset, nil
}

// Tell returns the current position.
func (f *File) Tell() (int64, error) {
	return f.Seek(0, io.SeekCurrent)
}

// Length returns the size of the file in bytes.
func (f *File) Length() (int64, error) {
	if err := f.lock(); err != nil {
		return 0, err
	}
	defer f.fs.mu.Unlock()

	return f.inode.Length(), nil
}

// Name returns the path the file was opened with.
func (f *File) Name() string {
	return f.name
}

// ReadDirName returns the name of the next directory entry, skipping "." and "..".
// It returns io.EOF once all entries were read.
func (f *File) ReadDirName() (string, error) {
	if err := f.lock(); err != nil {
		return "", err
	}
	defer f.fs.mu.Unlock()

	if f.dir == nil {
		return "", checkpoint.Wrap(ErrNotADirectory, ErrReadDir)
	}

	name, _, err := f.dir.Readdir()
	if err == io.EOF {
		return "", io.EOF
	}
	if err != nil {
		return "", checkpoint.Wrap(err, ErrReadDir)
	}
	return name, nil
}

// Readdir reads the contents of a directory like os.File.Readdir: with count > 0
// at most count entries are returned and io.EOF once there are none left, otherwise
// all remaining entries are returned.
// May return ErrNotADirectory if the current File is no directory.
func (f *File) Readdir(count int) ([]os.FileInfo, error) {
	if err := f.lock(); err != nil {
		return nil, err
	}
	defer f.fs.mu.Unlock()

	if f.dir == nil {
		return nil, checkpoint.Wrap(ErrNotADirectory, ErrReadDir)
	}

	result := make([]os.FileInfo, 0)
	for count <= 0 || len(result) < count {
		name, sector, err := f.dir.Readdir()
		if err == io.EOF {
			break
		}
		if err != nil {
			return result, checkpoint.Wrap(err, ErrReadDir)
		}

		inode, err := f.fs.vol.openInode(sector)
		if err != nil {
			return result, checkpoint.Wrap(err, ErrReadDir)
		}
		result = append(result, newFileInfo(name, inode))
		_ = inode.Close()
	}

	if count > 0 && len(result) == 0 {
		return nil, io.EOF
	}
	return result, nil
}

func (f *File) Readdirnames(count int) ([]string, error) {
	content, err := f.Readdir(count)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(content))
	for i, entry := range content {
		names[i] = entry.Name()
	}

	return names, nil
}

func (f *File) Stat() (os.FileInfo, error) {
	if err := f.lock(); err != nil {
		return nil, err
	}
	defer f.fs.mu.Unlock()

	return newFileInfo(path.Base(f.name), f.inode), nil
}

// Sync writes the allocation table to the device. File data is written through
// on every Write.
func (f *File) Sync() error {
	if err := f.lock(); err != nil {
		return err
	}
	defer f.fs.mu.Unlock()

	return f.fs.sync()
}

// Truncate changes the size of the file. New bytes read as zeros.
func (f *File) Truncate(size int64) error {
	if err := f.lock(); err != nil {
		return err
	}
	defer f.fs.mu.Unlock()

	if err := f.writable(); err != nil {
		return err
	}
	return f.inode.Truncate(size)
}

// DenyWrite prevents writes to the inode, through any file, until AllowWrite or Close.
// Calling it again on the same file does nothing.
func (f *File) DenyWrite() error {
	if err := f.lock(); err != nil {
		return err
	}
	defer f.fs.mu.Unlock()

	if f.denied {
		return nil
	}
	if err := f.inode.DenyWrite(); err != nil {
		return err
	}
	f.denied = true
	return nil
}

// AllowWrite reverts DenyWrite of this file.
func (f *File) AllowWrite() error {
	if err := f.lock(); err != nil {
		return err
	}
	defer f.fs.mu.Unlock()

	if !f.denied {
		return nil
	}
	if err := f.inode.AllowWrite(); err != nil {
		return err
	}
	f.denied = false
	return nil
}

// Inumber returns the sector of the inode record, which identifies the file.
func (f *File) Inumber() (uint32, error) {
	if err := f.lock(); err != nil {
		return 0, err
	}
	defer f.fs.mu.Unlock()

	return f.inode.Inumber(), nil
}

// IsDir reports whether the file was a directory when it was opened.
func (f *File) IsDir() bool {
	return f.isDir
}
