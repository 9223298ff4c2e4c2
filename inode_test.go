package fatfs

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

// testingInode creates a regular inode of length zero bytes on v and opens it.
func testingInode(t *testing.T, v *volume, length uint64) *Inode {
	t.Helper()

	record, err := v.fat.createChain(freeCluster)
	if err != nil {
		t.Fatalf("allocator.createChain() error = %v", err)
	}
	if err := v.createInode(record, length, false); err != nil {
		t.Fatalf("volume.createInode() error = %v", err)
	}

	inode, err := v.openInode(v.fat.clusterToSector(record))
	if err != nil {
		t.Fatalf("volume.openInode() error = %v", err)
	}
	return inode
}

func TestVolume_createInode(t *testing.T) {
	tests := []struct {
		name         string
		length       uint64
		wantClusters uint32
	}{
		{name: "empty", length: 0, wantClusters: 1},
		{name: "one byte", length: 1, wantClusters: 2},
		{name: "exactly one sector", length: SectorSize, wantClusters: 2},
		{name: "one byte more", length: SectorSize + 1, wantClusters: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := testingVolume(t, testSectors)
			free := v.fat.freeCount()

			inode := testingInode(t, v, tt.length)
			defer inode.Close()

			if got := free - v.fat.freeCount(); got != tt.wantClusters {
				t.Errorf("createInode() used %v clusters, want %v", got, tt.wantClusters)
			}
			if inode.Length() != int64(tt.length) || inode.IsDir() || inode.IsSymlink() {
				t.Errorf("createInode() = length %v dir %v symlink %v", inode.Length(), inode.IsDir(), inode.IsSymlink())
			}

			buf := bytes.Repeat([]byte{0xFF}, int(tt.length))
			n, err := inode.ReadAt(buf, 0)
			if n != int(tt.length) || (err != nil && err != io.EOF) {
				t.Fatalf("Inode.ReadAt() = %v, %v", n, err)
			}
			if !bytes.Equal(buf, make([]byte, tt.length)) {
				t.Errorf("Inode.ReadAt() of a new inode is not zeroed")
			}
		})
	}
}

func TestVolume_createInode_noSpace(t *testing.T) {
	v := testingVolume(t, smallSectors)

	record, err := v.fat.createChain(freeCluster)
	if err != nil {
		t.Fatalf("allocator.createChain() error = %v", err)
	}
	free := v.fat.freeCount()

	if err := v.createInode(record, 20*SectorSize, false); !errors.Is(err, ErrNoSpace) {
		t.Fatalf("volume.createInode() error = %v, want ErrNoSpace", err)
	}
	if got := v.fat.freeCount(); got != free {
		t.Errorf("volume.createInode() leaked %v clusters", free-got)
	}
	if !v.fat.table[record].IsEOC() {
		t.Errorf("volume.createInode() did not leave the record cluster reserved")
	}
}

func TestInode_WriteAtReadAt(t *testing.T) {
	type args struct {
		off  int64
		size int
	}
	tests := []struct {
		name       string
		length     uint64
		args       args
		wantLength int64
	}{
		{name: "start of the first sector", length: 1000, args: args{off: 0, size: 10}, wantLength: 1000},
		{name: "across a sector border", length: 1000, args: args{off: 500, size: 30}, wantLength: 1000},
		{name: "a whole aligned sector", length: 2048, args: args{off: 1024, size: SectorSize}, wantLength: 2048},
		{name: "grow at the end", length: 1000, args: args{off: 990, size: 100}, wantLength: 1090},
		{name: "grow with a gap", length: 1000, args: args{off: 3000, size: 700}, wantLength: 3700},
		{name: "grow an empty inode", length: 0, args: args{off: 0, size: 1500}, wantLength: 1500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := testingVolume(t, testSectors)
			inode := testingInode(t, v, tt.length)
			defer inode.Close()

			data := make([]byte, tt.args.size)
			for i := range data {
				data[i] = byte(i%251 + 1)
			}

			n, err := inode.WriteAt(data, tt.args.off)
			if err != nil || n != len(data) {
				t.Fatalf("Inode.WriteAt() = %v, %v, want %v", n, err, len(data))
			}
			if inode.Length() != tt.wantLength {
				t.Errorf("Inode.Length() = %v, want %v", inode.Length(), tt.wantLength)
			}

			got := make([]byte, len(data))
			if n, err := inode.ReadAt(got, tt.args.off); n != len(got) || (err != nil && err != io.EOF) {
				t.Fatalf("Inode.ReadAt() = %v, %v", n, err)
			}
			if !bytes.Equal(got, data) {
				t.Errorf("Inode.ReadAt() did not return the written bytes")
			}

			// Everything before the written range is still zero.
			before := make([]byte, tt.args.off)
			if _, err := inode.ReadAt(before, 0); err != nil && err != io.EOF {
				t.Fatalf("Inode.ReadAt() error = %v", err)
			}
			if !bytes.Equal(before, make([]byte, tt.args.off)) {
				t.Errorf("Inode.WriteAt() changed bytes before the offset")
			}

			// A fresh handle reads the persisted length.
			fresh := &Inode{vol: v, sector: inode.sector, openCount: 1}
			buf := make([]byte, SectorSize)
			if err := v.dev.ReadSector(inode.sector, buf); err != nil {
				t.Fatalf("ReadSector() error = %v", err)
			}
			if err := decode(buf, &fresh.data); err != nil {
				t.Fatalf("decode() error = %v", err)
			}
			if fresh.Length() != tt.wantLength {
				t.Errorf("persisted length = %v, want %v", fresh.Length(), tt.wantLength)
			}
		})
	}
}

func TestInode_ReadAt_pastEnd(t *testing.T) {
	v := testingVolume(t, testSectors)
	inode := testingInode(t, v, 100)
	defer inode.Close()

	tests := []struct {
		name    string
		size    int
		off     int64
		wantN   int
		wantErr error
	}{
		{name: "clipped at the end", size: 50, off: 80, wantN: 20, wantErr: io.EOF},
		{name: "exactly to the end", size: 20, off: 80, wantN: 20},
		{name: "at the end", size: 1, off: 100, wantN: 0, wantErr: io.EOF},
		{name: "empty buffer at the end", size: 0, off: 100, wantN: 0},
		{name: "negative offset", size: 1, off: -1, wantN: 0, wantErr: ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := inode.ReadAt(make([]byte, tt.size), tt.off)
			if n != tt.wantN || !errors.Is(err, tt.wantErr) {
				t.Errorf("Inode.ReadAt() = %v, %v, want %v, %v", n, err, tt.wantN, tt.wantErr)
			}
		})
	}
}

// Writing one byte at 12287 into an empty file must grow it to 12288 bytes which
// all read as zero but the last one.
func TestInode_growWithZeros(t *testing.T) {
	v := testingVolume(t, testSectors)
	inode := testingInode(t, v, 0)
	defer inode.Close()

	free := v.fat.freeCount()

	if n, err := inode.WriteAt([]byte{0x42}, 12287); n != 1 || err != nil {
		t.Fatalf("Inode.WriteAt() = %v, %v", n, err)
	}
	if inode.Length() != 12288 {
		t.Errorf("Inode.Length() = %v, want 12288", inode.Length())
	}
	if used := free - v.fat.freeCount(); used != 24 {
		t.Errorf("Inode.WriteAt() allocated %v clusters, want 24", used)
	}

	buf := make([]byte, 12288)
	if n, err := inode.ReadAt(buf, 0); n != len(buf) || err != nil {
		t.Fatalf("Inode.ReadAt() = %v, %v", n, err)
	}
	want := make([]byte, 12288)
	want[12287] = 0x42
	if !bytes.Equal(buf, want) {
		t.Errorf("Inode.ReadAt() after growth is not zero filled")
	}
}

func TestInode_grow_noSpace(t *testing.T) {
	v := testingVolume(t, smallSectors)
	inode := testingInode(t, v, 100)
	defer inode.Close()

	free := v.fat.freeCount()
	start := inode.data.Start

	n, err := inode.WriteAt([]byte{1}, 20*SectorSize)
	if n != 0 || !errors.Is(err, ErrNoSpace) {
		t.Fatalf("Inode.WriteAt() = %v, %v, want 0, ErrNoSpace", n, err)
	}
	if inode.Length() != 100 || inode.data.Start != start {
		t.Errorf("Inode after failed growth: length %v start %v", inode.Length(), inode.data.Start)
	}
	if got := v.fat.freeCount(); got != free {
		t.Errorf("failed growth leaked %v clusters", free-got)
	}

	// The inode still works.
	if n, err := inode.WriteAt([]byte("ok"), 98); n != 2 || err != nil {
		t.Errorf("Inode.WriteAt() after failed growth = %v, %v", n, err)
	}
}

func TestInode_deferredDeletion(t *testing.T) {
	v := testingVolume(t, testSectors)
	free := v.fat.freeCount()

	inode := testingInode(t, v, 0)
	if _, err := inode.WriteAt([]byte(strings.Repeat("x", 1500)), 0); err != nil {
		t.Fatalf("Inode.WriteAt() error = %v", err)
	}

	other, err := v.openInode(inode.Inumber())
	if err != nil {
		t.Fatalf("volume.openInode() error = %v", err)
	}
	if other != inode {
		t.Fatalf("volume.openInode() returned a second handle for the same sector")
	}

	inode.Remove()
	if err := inode.Close(); err != nil {
		t.Fatalf("Inode.Close() error = %v", err)
	}

	// The other owner can still read everything.
	buf := make([]byte, 1500)
	if n, err := other.ReadAt(buf, 0); n != 1500 || err != nil || buf[1499] != 'x' {
		t.Errorf("Inode.ReadAt() of a removed inode = %v, %v", n, err)
	}
	if v.fat.freeCount() == free {
		t.Errorf("clusters were released before the last close")
	}

	if err := other.Close(); err != nil {
		t.Fatalf("Inode.Close() error = %v", err)
	}
	if got := v.fat.freeCount(); got != free {
		t.Errorf("last close released %v clusters too few", free-got)
	}
	if len(v.inodes) != 0 {
		t.Errorf("volume.inodes = %v, want empty", v.inodes)
	}
}

func TestInode_DenyWrite(t *testing.T) {
	v := testingVolume(t, testSectors)
	inode := testingInode(t, v, 10)
	defer inode.Close()

	if err := inode.AllowWrite(); !errors.Is(err, ErrWriteDenied) {
		t.Errorf("Inode.AllowWrite() without deny error = %v, want ErrWriteDenied", err)
	}

	if err := inode.DenyWrite(); err != nil {
		t.Fatalf("Inode.DenyWrite() error = %v", err)
	}
	// Only one owner, so only one denial.
	if err := inode.DenyWrite(); !errors.Is(err, ErrWriteDenied) {
		t.Errorf("Inode.DenyWrite() twice error = %v, want ErrWriteDenied", err)
	}

	if n, err := inode.WriteAt([]byte("abc"), 0); n != 0 || !errors.Is(err, ErrWriteDenied) {
		t.Errorf("Inode.WriteAt() while denied = %v, %v, want 0, ErrWriteDenied", n, err)
	}
	if err := inode.Truncate(0); !errors.Is(err, ErrWriteDenied) {
		t.Errorf("Inode.Truncate() while denied error = %v, want ErrWriteDenied", err)
	}

	if err := inode.AllowWrite(); err != nil {
		t.Fatalf("Inode.AllowWrite() error = %v", err)
	}
	if n, err := inode.WriteAt([]byte("abc"), 0); n != 3 || err != nil {
		t.Errorf("Inode.WriteAt() after allow = %v, %v", n, err)
	}
}

func TestInode_Truncate(t *testing.T) {
	v := testingVolume(t, testSectors)
	free := v.fat.freeCount()

	inode := testingInode(t, v, 0)
	defer inode.Close()

	if _, err := inode.WriteAt(bytes.Repeat([]byte{0xAA}, 1500), 0); err != nil {
		t.Fatalf("Inode.WriteAt() error = %v", err)
	}

	if err := inode.Truncate(700); err != nil {
		t.Fatalf("Inode.Truncate(700) error = %v", err)
	}
	if inode.Length() != 700 {
		t.Errorf("Inode.Length() = %v, want 700", inode.Length())
	}
	if used := free - v.fat.freeCount(); used != 3 {
		t.Errorf("Inode.Truncate(700) keeps %v clusters, want 3", used)
	}

	// Growing again shows zeros past the old cut.
	if err := inode.Truncate(1500); err != nil {
		t.Fatalf("Inode.Truncate(1500) error = %v", err)
	}
	buf := make([]byte, 1500)
	if _, err := inode.ReadAt(buf, 0); err != nil {
		t.Fatalf("Inode.ReadAt() error = %v", err)
	}
	want := append(bytes.Repeat([]byte{0xAA}, 700), make([]byte, 800)...)
	if !bytes.Equal(buf, want) {
		t.Errorf("Inode.ReadAt() after shrink and growth returned stale bytes")
	}

	if err := inode.Truncate(0); err != nil {
		t.Fatalf("Inode.Truncate(0) error = %v", err)
	}
	if inode.data.Start != 0 || inode.Length() != 0 {
		t.Errorf("Inode.Truncate(0) = start %v length %v", inode.data.Start, inode.Length())
	}
	if used := free - v.fat.freeCount(); used != 1 {
		t.Errorf("Inode.Truncate(0) keeps %v clusters, want only the record", used)
	}
}

func TestVolume_createSymlink(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		wantErr error
	}{
		{name: "relative", target: "a/b"},
		{name: "absolute", target: "/x/y/z"},
		{name: "longest", target: strings.Repeat("t", SymlinkMax)},
		{name: "too long", target: strings.Repeat("t", SymlinkMax+1), wantErr: ErrNameTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := testingVolume(t, testSectors)
			record, err := v.fat.createChain(freeCluster)
			if err != nil {
				t.Fatalf("allocator.createChain() error = %v", err)
			}

			err = v.createSymlink(record, tt.target)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("volume.createSymlink() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}

			inode, err := v.openInode(v.fat.clusterToSector(record))
			if err != nil {
				t.Fatalf("volume.openInode() error = %v", err)
			}
			defer inode.Close()

			if !inode.IsSymlink() || inode.Target() != tt.target || inode.Length() != int64(len(tt.target)) {
				t.Errorf("symlink inode = symlink %v target %q length %v", inode.IsSymlink(), inode.Target(), inode.Length())
			}
		})
	}
}

func TestVolume_openInode_noInode(t *testing.T) {
	v := testingVolume(t, testSectors)

	// A free cluster holds zeros, not an inode record.
	if _, err := v.openInode(v.fat.clusterToSector(100)); !errors.Is(err, ErrCorrupted) {
		t.Errorf("volume.openInode() of a free cluster error = %v, want ErrCorrupted", err)
	}
	if _, err := v.openInode(0); !errors.Is(err, ErrCorrupted) {
		t.Errorf("volume.openInode(0) error = %v, want ErrCorrupted", err)
	}
}
