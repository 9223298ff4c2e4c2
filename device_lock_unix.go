//go:build unix

package fatfs

import (
	"fmt"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

// lockImage takes an exclusive advisory lock on images backed by an OS file,
// so two processes never mount the same image. In-memory files are not locked.
func lockImage(file afero.File) (func() error, error) {
	fd, ok := file.(interface{ Fd() uintptr })
	if !ok {
		return func() error { return nil }, nil
	}

	if err := unix.Flock(int(fd.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return nil, fmt.Errorf("lock image %s: %w", file.Name(), err)
	}

	return func() error {
		return unix.Flock(int(fd.Fd()), unix.LOCK_UN)
	}, nil
}
