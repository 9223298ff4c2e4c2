package fatfs

import (
	"os"
	"time"
)

// InodeStat is returned by the Sys method of the os.FileInfo values of this package.
type InodeStat struct {
	Inumber   uint32
	Length    int64
	IsDir     bool
	IsSymlink bool
}

type inodeFileInfo struct {
	name  string
	inode InodeStat
}

// newFileInfo captures the state of inode, the result stays valid after it is closed.
func newFileInfo(name string, inode *Inode) os.FileInfo {
	return inodeFileInfo{
		name: name,
		inode: InodeStat{
			Inumber:   inode.Inumber(),
			Length:    inode.Length(),
			IsDir:     inode.IsDir(),
			IsSymlink: inode.IsSymlink(),
		},
	}
}

func (e inodeFileInfo) Name() string {
	return e.name
}

func (e inodeFileInfo) Size() int64 {
	return e.inode.Length
}

// Mode reports fixed permissions, the filesystem has no permission model.
func (e inodeFileInfo) Mode() os.FileMode {
	switch {
	case e.inode.IsDir:
		return os.ModeDir | 0o755
	case e.inode.IsSymlink:
		return os.ModeSymlink | 0o777
	}
	return 0o644
}

// ModTime is always the zero time, no timestamps are stored.
func (e inodeFileInfo) ModTime() time.Time {
	return time.Time{}
}

func (e inodeFileInfo) IsDir() bool {
	return e.inode.IsDir
}

func (e inodeFileInfo) Sys() interface{} {
	return e.inode
}
