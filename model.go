// File model contains the structs which match the direct structures on the disk.
// All of them are packed and little endian so that encoding/binary can read and
// write them without any manual offset handling.

package fatfs

import (
	"bytes"
	"encoding/binary"
)

const (
	// SectorSize is the size of one device sector and, as one cluster is one sector, of one cluster.
	SectorSize = 512

	// NameMax is the longest name a directory entry can hold.
	NameMax = 14

	// SymlinkMax is the longest target path a symlink record can hold.
	SymlinkMax = symlinkCapacity - 1

	bootMagic  uint32 = 0xEB3C9000
	inodeMagic uint32 = 0x494E4F44

	bootSector        = 0
	fatStartSector    = 1
	sectorsPerCluster = 1
	entriesPerSector  = SectorSize / 4

	symlinkCapacity = SectorSize - 4 - 8 - 4 - 1 - 1

	// dirEntrySize is binary.Size(dirEntry{}).
	dirEntrySize = NameMax + 1 + 4 + 1

	// defaultDirEntries is the number of entry slots a new directory gets.
	defaultDirEntries = 16
)

// bootRecord is stored in the first sector of the volume.
type bootRecord struct {
	Magic             uint32
	SectorsPerCluster uint32
	TotalSectors      uint32
	FATStart          uint32
	FATSectors        uint32
	RootDirCluster    uint32
}

// diskInode is the metadata record stored in the first cluster of every inode chain.
// It is exactly one sector long.
type diskInode struct {
	Start     uint32
	Length    uint64
	Magic     uint32
	IsDir     bool
	IsSymlink bool
	Target    [symlinkCapacity]byte
}

// dirEntry is one slot of the record stream of a directory.
type dirEntry struct {
	Name   [NameMax + 1]byte
	Sector uint32
	InUse  bool
}

func (e *dirEntry) name() string {
	return cString(e.Name[:])
}

func (e *dirEntry) setName(name string) {
	e.Name = [NameMax + 1]byte{}
	copy(e.Name[:NameMax], name)
}

func (d *diskInode) target() string {
	return cString(d.Target[:])
}

func (d *diskInode) setTarget(target string) {
	d.Target = [symlinkCapacity]byte{}
	copy(d.Target[:SymlinkMax], target)
}

// cString returns the bytes up to the first NUL.
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// encode serializes one of the on-disk structs into a buffer of exactly size bytes.
func encode(v interface{}, size int) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, size))
	// Writing fixed size structs into a bytes.Buffer cannot fail.
	_ = binary.Write(buf, binary.LittleEndian, v)

	out := buf.Bytes()
	if len(out) < size {
		out = append(out, make([]byte, size-len(out))...)
	}
	return out
}

// decode reads one of the on-disk structs from raw.
func decode(raw []byte, v interface{}) error {
	return binary.Read(bytes.NewReader(raw), binary.LittleEndian, v)
}
