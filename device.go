package fatfs

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/yimjisu/fatfs/checkpoint"
)

// Device is the block device the filesystem lives on.
// Every call blocks until the transfer has completed. buf is always SectorSize long.
//
// Generated mock using mockgen:
//
//	mockgen -source=device.go -destination=mock_device_test.go -package fatfs
type Device interface {
	ReadSector(index uint32, buf []byte) error
	WriteSector(index uint32, buf []byte) error
	SectorCount() uint32
}

// deviceError reports a failed transfer as ErrIO, whatever the device returned.
func deviceError(err error) error {
	if errors.Is(err, ErrIO) {
		return checkpoint.From(err)
	}
	return checkpoint.Wrap(err, ErrIO)
}

// syncer is implemented by devices which buffer writes below the filesystem.
type syncer interface {
	Sync() error
}

// ImageDevice is a Device backed by a disk image file of any afero filesystem.
// Use afero.NewOsFs() for real image files and afero.NewMemMapFs() for throwaway volumes.
type ImageDevice struct {
	file    afero.File
	sectors uint32

	// SyncWrites flushes the image after every sector write.
	SyncWrites bool

	unlock func() error
}

// OpenImage opens an existing image. Its size is rounded down to whole sectors.
// OS backed images are locked exclusively for as long as the device is open.
func OpenImage(fs afero.Fs, name string) (*ImageDevice, error) {
	file, err := fs.OpenFile(name, os.O_RDWR, 0)
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrIO)
	}

	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, checkpoint.Wrap(err, ErrIO)
	}

	return newImageDevice(file, uint32(stat.Size()/SectorSize))
}

// CreateImage creates (or truncates) an image of the given number of zeroed sectors.
func CreateImage(fs afero.Fs, name string, sectors uint32) (*ImageDevice, error) {
	file, err := fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrIO)
	}

	if err := file.Truncate(int64(sectors) * SectorSize); err != nil {
		_ = file.Close()
		return nil, checkpoint.Wrap(err, ErrIO)
	}

	return newImageDevice(file, sectors)
}

func newImageDevice(file afero.File, sectors uint32) (*ImageDevice, error) {
	unlock, err := lockImage(file)
	if err != nil {
		_ = file.Close()
		return nil, checkpoint.Wrap(err, ErrIO)
	}

	return &ImageDevice{
		file:    file,
		sectors: sectors,
		unlock:  unlock,
	}, nil
}

func (d *ImageDevice) checkIndex(index uint32) error {
	if index >= d.sectors {
		return checkpoint.Errorf(ErrIO, "sector %d out of range (device has %d sectors)", index, d.sectors)
	}
	return nil
}

func (d *ImageDevice) ReadSector(index uint32, buf []byte) error {
	if err := d.checkIndex(index); err != nil {
		return err
	}

	n, err := d.file.ReadAt(buf[:SectorSize], int64(index)*SectorSize)
	if err != nil || n != SectorSize {
		return checkpoint.Wrap(fmt.Errorf("read sector %d: %d bytes: %w", index, n, err), ErrIO)
	}
	return nil
}

func (d *ImageDevice) WriteSector(index uint32, buf []byte) error {
	if err := d.checkIndex(index); err != nil {
		return err
	}

	if _, err := d.file.WriteAt(buf[:SectorSize], int64(index)*SectorSize); err != nil {
		return checkpoint.Wrap(fmt.Errorf("write sector %d: %w", index, err), ErrIO)
	}

	if d.SyncWrites {
		return d.Sync()
	}
	return nil
}

func (d *ImageDevice) SectorCount() uint32 {
	return d.sectors
}

// Sync flushes the image file.
func (d *ImageDevice) Sync() error {
	if err := d.file.Sync(); err != nil {
		return checkpoint.Wrap(err, ErrIO)
	}
	return nil
}

// Close releases the image lock and closes the file.
func (d *ImageDevice) Close() error {
	var unlockErr error
	if d.unlock != nil {
		unlockErr = d.unlock()
	}

	if err := d.file.Close(); err != nil {
		return checkpoint.Wrap(err, ErrIO)
	}
	return checkpoint.From(unlockErr)
}
