package fatfs

import (
	"io"

	"github.com/yimjisu/fatfs/checkpoint"
)

// Inode is the in-memory handle of one on-disk inode record.
// There is at most one Inode per sector, shared by everyone who opened it.
// All methods must be called with the filesystem lock held.
type Inode struct {
	vol    *volume
	sector uint32

	openCount int
	denyWrite int
	removed   bool

	data diskInode

	// cursor remembers the last translated data cluster for sequential access.
	cursor struct {
		valid   bool
		index   uint64
		cluster fatEntry
	}
}

func bytesToClusters(length uint64) uint64 {
	return (length + SectorSize - 1) / SectorSize
}

// createInode writes a new inode record of the given type into the already
// reserved cluster and appends ceil(length / SectorSize) zeroed data clusters to it.
// On failure the data clusters are released again, the record cluster stays
// reserved for the caller to release.
func (v *volume) createInode(record fatEntry, length uint64, isDir bool) error {
	disk := diskInode{
		Length: length,
		Magic:  inodeMagic,
		IsDir:  isDir,
	}

	zero := make([]byte, SectorSize)
	tail := record
	for i := uint64(0); i < bytesToClusters(length); i++ {
		cluster, err := v.fat.createChain(tail)
		if err != nil {
			return checkpoint.From(v.releaseData(record, err))
		}
		if disk.Start == 0 {
			disk.Start = cluster.Value()
		}
		tail = cluster

		if err := v.dev.WriteSector(v.fat.clusterToSector(cluster), zero); err != nil {
			return v.releaseData(record, deviceError(err))
		}
	}

	if err := v.dev.WriteSector(v.fat.clusterToSector(record), encode(disk, SectorSize)); err != nil {
		return v.releaseData(record, deviceError(err))
	}

	return nil
}

// createSymlink writes a symlink record into the already reserved cluster.
// A symlink has no data clusters, the target lives inside the record.
func (v *volume) createSymlink(record fatEntry, target string) error {
	if len(target) > SymlinkMax {
		return checkpoint.Errorf(ErrNameTooLong, "symlink target of %d bytes", len(target))
	}

	disk := diskInode{
		Length:    uint64(len(target)),
		Magic:     inodeMagic,
		IsSymlink: true,
	}
	disk.setTarget(target)

	if err := v.dev.WriteSector(v.fat.clusterToSector(record), encode(disk, SectorSize)); err != nil {
		return deviceError(err)
	}
	return nil
}

// releaseData frees all data clusters behind record and returns cause.
func (v *volume) releaseData(record fatEntry, cause error) error {
	next, err := v.fat.get(record)
	if err != nil || !next.IsNextCluster() {
		return cause
	}

	if err := v.fat.removeChain(next, record); err != nil {
		v.log.Error("Failed to release data clusters after a failed create.",
			"cluster", record,
			"err", err,
		)
	}
	return cause
}

// openInode returns the shared handle of the inode stored at sector.
func (v *volume) openInode(sector uint32) (*Inode, error) {
	if inode, ok := v.inodes[sector]; ok {
		return inode.Reopen(), nil
	}

	if _, err := v.fat.sectorToCluster(sector); err != nil {
		return nil, err
	}

	buf := make([]byte, SectorSize)
	if err := v.dev.ReadSector(sector, buf); err != nil {
		return nil, deviceError(err)
	}

	inode := &Inode{
		vol:       v,
		sector:    sector,
		openCount: 1,
	}
	if err := decode(buf, &inode.data); err != nil {
		return nil, checkpoint.Wrap(err, ErrIO)
	}
	if inode.data.Magic != inodeMagic {
		return nil, checkpoint.Errorf(ErrCorrupted, "sector %d holds no inode (magic %#x)", sector, inode.data.Magic)
	}

	v.inodes[sector] = inode
	return inode, nil
}

// Reopen adds an owner to the inode. Each owner has to call Close.
func (i *Inode) Reopen() *Inode {
	if i != nil {
		i.openCount++
	}
	return i
}

// Close drops one owner. The last Close unregisters the inode and, if it was
// removed, frees its whole chain including the record cluster.
// Closing a nil inode does nothing.
func (i *Inode) Close() error {
	if i == nil {
		return nil
	}

	i.openCount--
	if i.openCount > 0 {
		return nil
	}

	delete(i.vol.inodes, i.sector)
	if !i.removed {
		return nil
	}

	record, err := i.vol.fat.sectorToCluster(i.sector)
	if err != nil {
		return err
	}

	i.vol.log.Debug("Releasing removed inode.",
		"inumber", i.sector,
		"length", i.data.Length,
	)
	return checkpoint.From(i.vol.fat.removeChain(record, freeCluster))
}

// releaseRemoved frees the chains of removed inodes which are still open, so
// they are not persisted as allocated. The handles stay registered but must not
// be closed afterwards.
func (v *volume) releaseRemoved() error {
	for sector, inode := range v.inodes {
		if !inode.removed {
			continue
		}

		record, err := v.fat.sectorToCluster(sector)
		if err != nil {
			return err
		}
		if err := v.fat.removeChain(record, freeCluster); err != nil {
			return err
		}
		inode.removed = false
		v.log.Debug("Released removed inode on unmount.", "inumber", sector)
	}
	return nil
}

// Remove marks the inode for deletion. Its clusters are released by the last Close,
// until then everyone who has it open can keep using it.
func (i *Inode) Remove() {
	i.removed = true
}

func (i *Inode) Inumber() uint32 {
	return i.sector
}

func (i *Inode) Length() int64 {
	return int64(i.data.Length)
}

func (i *Inode) IsDir() bool {
	return i.data.IsDir
}

func (i *Inode) IsSymlink() bool {
	return i.data.IsSymlink
}

func (i *Inode) IsRemoved() bool {
	return i.removed
}

// Target returns the path a symlink points to.
func (i *Inode) Target() string {
	return i.data.target()
}

// DenyWrite disables writes until the matching AllowWrite.
// Each owner may deny writes at most once.
func (i *Inode) DenyWrite() error {
	if i.denyWrite >= i.openCount {
		return checkpoint.Errorf(ErrWriteDenied, "inode %d: %d denials for %d owners", i.sector, i.denyWrite+1, i.openCount)
	}
	i.denyWrite++
	return nil
}

// AllowWrite reverts one DenyWrite.
func (i *Inode) AllowWrite() error {
	if i.denyWrite == 0 {
		return checkpoint.Errorf(ErrWriteDenied, "inode %d: allow without deny", i.sector)
	}
	i.denyWrite--
	return nil
}

func (i *Inode) recordCluster() (fatEntry, error) {
	return i.vol.fat.sectorToCluster(i.sector)
}

// syncRecord writes the metadata record back to the disk.
func (i *Inode) syncRecord() error {
	if err := i.vol.dev.WriteSector(i.sector, encode(i.data, SectorSize)); err != nil {
		return deviceError(err)
	}
	return nil
}

// byteToSector returns the sector holding byte pos of the inode data.
// It walks the chain pos / SectorSize steps, starting from the cursor when that
// is not behind pos.
func (i *Inode) byteToSector(pos uint64) (uint32, error) {
	if pos >= i.data.Length {
		return 0, checkpoint.Errorf(ErrCorrupted, "inode %d: offset %d beyond length %d", i.sector, pos, i.data.Length)
	}

	index := pos / SectorSize
	cluster := fatEntry(i.data.Start)
	step := uint64(0)
	if i.cursor.valid && i.cursor.index <= index {
		cluster = i.cursor.cluster
		step = i.cursor.index
	}

	for ; step < index; step++ {
		next, err := i.vol.fat.get(cluster)
		if err != nil {
			return 0, err
		}
		if !next.IsNextCluster() {
			return 0, checkpoint.Errorf(ErrCorrupted, "inode %d: chain ends before cluster %d", i.sector, index)
		}
		cluster = next
	}

	if !cluster.IsNextCluster() {
		return 0, checkpoint.Errorf(ErrCorrupted, "inode %d: no data cluster", i.sector)
	}

	i.cursor.valid = true
	i.cursor.index = index
	i.cursor.cluster = cluster
	return i.vol.fat.clusterToSector(cluster), nil
}

// ReadAt reads up to len(p) bytes starting at off. Reads are clipped at the
// inode length, a short read returns io.EOF. If the device fails midway the bytes
// read so far are returned with the error.
func (i *Inode) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, checkpoint.Errorf(ErrInvalidArgument, "negative offset %d", off)
	}
	if uint64(off) >= i.data.Length {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}

	var bounce []byte
	read := 0
	pos := uint64(off)
	for read < len(p) && pos < i.data.Length {
		sector, err := i.byteToSector(pos)
		if err != nil {
			return read, err
		}

		sectorOfs := int(pos % SectorSize)
		chunk := min(len(p)-read, SectorSize-sectorOfs, int(min(i.data.Length-pos, SectorSize)))

		if sectorOfs == 0 && chunk == SectorSize {
			if err := i.vol.dev.ReadSector(sector, p[read:read+SectorSize]); err != nil {
				return read, deviceError(err)
			}
		} else {
			if bounce == nil {
				bounce = make([]byte, SectorSize)
			}
			if err := i.vol.dev.ReadSector(sector, bounce); err != nil {
				return read, deviceError(err)
			}
			copy(p[read:read+chunk], bounce[sectorOfs:])
		}

		read += chunk
		pos += uint64(chunk)
	}

	if read < len(p) {
		return read, io.EOF
	}
	return read, nil
}

// WriteAt writes p at off. Writing past the end first grows the chain by exactly
// the clusters needed and persists the new length, then writes the bytes.
// While writes are denied nothing is written and ErrWriteDenied is returned.
func (i *Inode) WriteAt(p []byte, off int64) (int, error) {
	if i.denyWrite > 0 {
		return 0, checkpoint.Errorf(ErrWriteDenied, "inode %d", i.sector)
	}
	if off < 0 {
		return 0, checkpoint.Errorf(ErrInvalidArgument, "negative offset %d", off)
	}
	if len(p) == 0 {
		return 0, nil
	}

	end := uint64(off) + uint64(len(p))
	if end > i.data.Length {
		if err := i.grow(end); err != nil {
			return 0, err
		}
	}

	var bounce []byte
	written := 0
	pos := uint64(off)
	for written < len(p) {
		sector, err := i.byteToSector(pos)
		if err != nil {
			return written, err
		}

		sectorOfs := int(pos % SectorSize)
		chunk := min(len(p)-written, SectorSize-sectorOfs)

		if sectorOfs == 0 && chunk == SectorSize {
			if err := i.vol.dev.WriteSector(sector, p[written:written+SectorSize]); err != nil {
				return written, deviceError(err)
			}
		} else {
			if bounce == nil {
				bounce = make([]byte, SectorSize)
			}
			// Partial sector: keep the bytes around the chunk.
			if err := i.vol.dev.ReadSector(sector, bounce); err != nil {
				return written, deviceError(err)
			}
			copy(bounce[sectorOfs:], p[written:written+chunk])
			if err := i.vol.dev.WriteSector(sector, bounce); err != nil {
				return written, deviceError(err)
			}
		}

		written += chunk
		pos += uint64(chunk)
	}

	return written, nil
}

// grow extends the data chain with zeroed clusters until it covers length bytes
// and persists the new length. If allocation fails every cluster added here is
// released again and the inode is left unchanged.
func (i *Inode) grow(length uint64) error {
	have := bytesToClusters(i.data.Length)
	need := bytesToClusters(length)

	if need > have {
		record, err := i.recordCluster()
		if err != nil {
			return err
		}
		oldTail, err := i.vol.fat.tail(record)
		if err != nil {
			return err
		}

		zero := make([]byte, SectorSize)
		first := freeCluster
		tail := oldTail
		for n := have; n < need; n++ {
			cluster, err := i.vol.fat.createChain(tail)
			if err == nil {
				if werr := i.vol.dev.WriteSector(i.vol.fat.clusterToSector(cluster), zero); werr != nil {
					err = deviceError(werr)
				}
				if first == freeCluster {
					first = cluster
				}
			}
			if err != nil {
				if first != freeCluster {
					if rerr := i.vol.fat.removeChain(first, oldTail); rerr != nil {
						i.vol.log.Error("Failed to roll back inode growth.", "inumber", i.sector, "err", rerr)
					}
				}
				return checkpoint.From(err)
			}
			tail = cluster
		}

		oldStart, oldLength := i.data.Start, i.data.Length
		if i.data.Start == 0 {
			i.data.Start = first.Value()
		}
		i.data.Length = length

		if err := i.syncRecord(); err != nil {
			i.data.Start, i.data.Length = oldStart, oldLength
			if rerr := i.vol.fat.removeChain(first, oldTail); rerr != nil {
				i.vol.log.Error("Failed to roll back inode growth.", "inumber", i.sector, "err", rerr)
			}
			return err
		}
		return nil
	}

	i.data.Length = length
	return i.syncRecord()
}

// Truncate changes the length of the inode. Shrinking releases the clusters past
// the new end and clears the rest of the last sector, so growing again reads zeros.
func (i *Inode) Truncate(length int64) error {
	if i.denyWrite > 0 {
		return checkpoint.Errorf(ErrWriteDenied, "inode %d", i.sector)
	}
	if length < 0 {
		return checkpoint.Errorf(ErrInvalidArgument, "negative length %d", length)
	}

	size := uint64(length)
	if size >= i.data.Length {
		if size == i.data.Length {
			return nil
		}
		return i.grow(size)
	}

	keep := bytesToClusters(size)
	record, err := i.recordCluster()
	if err != nil {
		return err
	}

	// Find the last kept cluster, the record itself when no data stays.
	last := record
	if keep > 0 {
		sector, err := i.byteToSector((keep - 1) * SectorSize)
		if err != nil {
			return err
		}
		if last, err = i.vol.fat.sectorToCluster(sector); err != nil {
			return err
		}
	}

	// Clear the tail of the last kept sector while the chain is still intact,
	// a failure here leaves the inode as it was.
	if size%SectorSize != 0 {
		sector := i.vol.fat.clusterToSector(last)
		buf := make([]byte, SectorSize)
		if err := i.vol.dev.ReadSector(sector, buf); err != nil {
			return deviceError(err)
		}
		for j := size % SectorSize; j < SectorSize; j++ {
			buf[j] = 0
		}
		if err := i.vol.dev.WriteSector(sector, buf); err != nil {
			return deviceError(err)
		}
	}

	next, err := i.vol.fat.get(last)
	if err != nil {
		return err
	}
	if next.IsNextCluster() {
		if err := i.vol.fat.removeChain(next, last); err != nil {
			return err
		}
	}

	// The chain is cut, memory must follow it even if the record write fails.
	if keep == 0 {
		i.data.Start = 0
	}
	i.data.Length = size
	i.cursor.valid = false
	return i.syncRecord()
}
