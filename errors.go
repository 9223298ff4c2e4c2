package fatfs

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// These errors are returned by the filesystem operations, usually decorated by a
// checkpoint. Each one wraps the matching io/fs error or errno, so callers may test
// with either, e.g. errors.Is(err, fs.ErrNotExist).
var (
	ErrNotFound          = fmt.Errorf("no such file or directory: %w", fs.ErrNotExist)
	ErrNotADirectory     = fmt.Errorf("not a directory: %w", syscall.ENOTDIR)
	ErrIsADirectory      = fmt.Errorf("is a directory: %w", syscall.EISDIR)
	ErrNameTooLong       = fmt.Errorf("name too long: %w", syscall.ENAMETOOLONG)
	ErrNameInUse         = fmt.Errorf("name already in use: %w", fs.ErrExist)
	ErrDirectoryNotEmpty = fmt.Errorf("directory not empty: %w", syscall.ENOTEMPTY)
	ErrNoSpace           = fmt.Errorf("no space left on device: %w", syscall.ENOSPC)
	ErrIO                = fmt.Errorf("device i/o failure: %w", syscall.EIO)
	ErrRemoved           = fmt.Errorf("inode was removed: %w", syscall.ESTALE)
	ErrSymlinkLoop       = fmt.Errorf("too many levels of symbolic links: %w", syscall.ELOOP)

	ErrInvalidName     = fmt.Errorf("invalid name: %w", fs.ErrInvalid)
	ErrInvalidArgument = fmt.Errorf("invalid argument: %w", fs.ErrInvalid)
	ErrBusy            = fmt.Errorf("directory is a working directory: %w", syscall.EBUSY)
	ErrWriteDenied     = fmt.Errorf("writes are denied: %w", syscall.ETXTBSY)
	ErrCorrupted       = errors.New("filesystem structure is corrupted")
	ErrNoFilesystem    = errors.New("no valid filesystem on device")
	ErrClosed          = fmt.Errorf("filesystem or handle is closed: %w", fs.ErrClosed)
	ErrUnsupported     = errors.New("operation not supported")
)
