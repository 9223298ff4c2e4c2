package fatfs

import (
	"encoding/binary"
	"log/slog"

	"github.com/yimjisu/fatfs/checkpoint"
)

// fatEntry is one value of the cluster allocation table.
// Depending on its value it is a free marker, the end of a chain or the next cluster.
type fatEntry uint32

const (
	freeCluster fatEntry = 0
	eocCluster  fatEntry = 0x0FFFFFFF

	rootDirCluster fatEntry = 1

	// firstUsableCluster is where allocation starts.
	// Cluster 0 is reserved and cluster 1 is the root directory.
	firstUsableCluster fatEntry = 2
)

func (e fatEntry) Value() uint32 {
	return uint32(e)
}

func (e fatEntry) IsFree() bool {
	return e == freeCluster
}

func (e fatEntry) IsEOC() bool {
	return e == eocCluster
}

// IsNextCluster reports whether the entry links to another cluster.
func (e fatEntry) IsNextCluster() bool {
	return !e.IsFree() && !e.IsEOC()
}

// allocator owns the in-memory cluster allocation table.
// All methods must be called with the filesystem lock held.
type allocator struct {
	dev   Device
	log   *slog.Logger
	boot  bootRecord
	table []fatEntry

	// dataStart is the sector of cluster 0.
	dataStart uint32
}

// newBootRecord synthesizes a boot record for a device of the given size.
func newBootRecord(totalSectors uint32) bootRecord {
	fatSectors := (totalSectors-1)/(entriesPerSector*sectorsPerCluster+1) + 1

	return bootRecord{
		Magic:             bootMagic,
		SectorsPerCluster: sectorsPerCluster,
		TotalSectors:      totalSectors,
		FATStart:          fatStartSector,
		FATSectors:        fatSectors,
		RootDirCluster:    rootDirCluster.Value(),
	}
}

// readBoot loads the boot record. ok is false if the magic does not match, in
// which case a record synthesized from the device size is used instead.
func (a *allocator) readBoot() (ok bool, err error) {
	buf := make([]byte, SectorSize)
	if err := a.dev.ReadSector(bootSector, buf); err != nil {
		return false, deviceError(err)
	}

	if err := decode(buf, &a.boot); err != nil {
		return false, checkpoint.Wrap(err, ErrIO)
	}

	if a.boot.Magic != bootMagic {
		a.log.Warn("Invalid boot record magic, synthesizing one from the device size.",
			"magic", a.boot.Magic,
			"sectors", a.dev.SectorCount(),
		)
		a.boot = newBootRecord(a.dev.SectorCount())
		a.layout()
		return false, nil
	}

	if err := a.validateBoot(); err != nil {
		return false, err
	}

	a.layout()
	return true, nil
}

func (a *allocator) validateBoot() error {
	b := a.boot
	switch {
	case b.SectorsPerCluster != sectorsPerCluster:
		return checkpoint.Errorf(ErrNoFilesystem, "unsupported sectors per cluster %d", b.SectorsPerCluster)
	case b.FATStart != fatStartSector:
		return checkpoint.Errorf(ErrNoFilesystem, "unexpected FAT start %d", b.FATStart)
	case b.TotalSectors > a.dev.SectorCount():
		return checkpoint.Errorf(ErrNoFilesystem, "volume has %d sectors but the device only %d", b.TotalSectors, a.dev.SectorCount())
	case b.FATStart+b.FATSectors >= b.TotalSectors:
		return checkpoint.Errorf(ErrNoFilesystem, "FAT of %d sectors does not fit the volume", b.FATSectors)
	case uint64(b.TotalSectors-b.FATStart-b.FATSectors) > uint64(b.FATSectors)*entriesPerSector:
		return checkpoint.Errorf(ErrNoFilesystem, "FAT of %d sectors is too small", b.FATSectors)
	case b.RootDirCluster != rootDirCluster.Value():
		return checkpoint.Errorf(ErrNoFilesystem, "unexpected root directory cluster %d", b.RootDirCluster)
	}
	return nil
}

// layout derives the data region from the boot record.
func (a *allocator) layout() {
	a.dataStart = a.boot.FATStart + a.boot.FATSectors
	if a.dataStart > a.boot.TotalSectors {
		a.dataStart = a.boot.TotalSectors
	}
}

// clusterCount is the number of clusters of the data region.
func (a *allocator) clusterCount() uint32 {
	return a.boot.TotalSectors - a.dataStart
}

// format creates an empty table with only the reserved cluster and the root
// directory chain, and zeroes the root cluster.
func (a *allocator) format() error {
	a.boot = newBootRecord(a.dev.SectorCount())
	a.layout()

	if a.clusterCount() <= firstUsableCluster.Value() {
		return checkpoint.Errorf(ErrNoSpace, "device of %d sectors is too small", a.dev.SectorCount())
	}

	a.table = make([]fatEntry, a.clusterCount())
	a.table[0] = eocCluster
	a.table[rootDirCluster] = eocCluster

	if err := a.dev.WriteSector(a.clusterToSector(rootDirCluster), make([]byte, SectorSize)); err != nil {
		return deviceError(err)
	}

	return nil
}

// load reads the whole table from the FAT region.
func (a *allocator) load() error {
	a.table = make([]fatEntry, a.clusterCount())

	buf := make([]byte, SectorSize)
	for i := uint32(0); i < a.boot.FATSectors; i++ {
		first := int(i) * entriesPerSector
		if first >= len(a.table) {
			break
		}

		if err := a.dev.ReadSector(a.boot.FATStart+i, buf); err != nil {
			return deviceError(err)
		}

		for j := 0; j < entriesPerSector && first+j < len(a.table); j++ {
			a.table[first+j] = fatEntry(binary.LittleEndian.Uint32(buf[j*4:]))
		}
	}

	return nil
}

// persist writes the boot record and the whole table back to the device.
func (a *allocator) persist() error {
	if err := a.dev.WriteSector(bootSector, encode(a.boot, SectorSize)); err != nil {
		return deviceError(err)
	}

	buf := make([]byte, SectorSize)
	for i := uint32(0); i < a.boot.FATSectors; i++ {
		for j := range buf {
			buf[j] = 0
		}

		first := int(i) * entriesPerSector
		for j := 0; j < entriesPerSector && first+j < len(a.table); j++ {
			binary.LittleEndian.PutUint32(buf[j*4:], a.table[first+j].Value())
		}

		if err := a.dev.WriteSector(a.boot.FATStart+i, buf); err != nil {
			return deviceError(err)
		}
	}

	return nil
}

// get returns the table value of cluster.
func (a *allocator) get(cluster fatEntry) (fatEntry, error) {
	if int(cluster) >= len(a.table) {
		return 0, checkpoint.Errorf(ErrCorrupted, "cluster %d out of range (%d clusters)", cluster, len(a.table))
	}
	return a.table[cluster], nil
}

// put updates the table value of cluster.
func (a *allocator) put(cluster, value fatEntry) error {
	if int(cluster) >= len(a.table) {
		return checkpoint.Errorf(ErrCorrupted, "cluster %d out of range (%d clusters)", cluster, len(a.table))
	}
	if value.IsNextCluster() && int(value) >= len(a.table) {
		return checkpoint.Errorf(ErrCorrupted, "link %d -> %d out of range", cluster, value)
	}

	a.table[cluster] = value
	return nil
}

// tail walks from cluster to the last cluster of its chain.
// The walk is bounded by the table size, a longer chain must contain a cycle.
func (a *allocator) tail(cluster fatEntry) (fatEntry, error) {
	for steps := 0; steps <= len(a.table); steps++ {
		next, err := a.get(cluster)
		if err != nil {
			return 0, err
		}

		switch {
		case next.IsEOC():
			return cluster, nil
		case next.IsFree():
			return 0, checkpoint.Errorf(ErrCorrupted, "chain runs into free cluster %d", cluster)
		}
		cluster = next
	}

	return 0, checkpoint.Errorf(ErrCorrupted, "cycle in chain at cluster %d", cluster)
}

// createChain allocates one free cluster. If tail is 0 the cluster starts a new
// chain, otherwise it is appended after the end of the chain containing tail.
func (a *allocator) createChain(tail fatEntry) (fatEntry, error) {
	found := freeCluster
	for c := firstUsableCluster; int(c) < len(a.table); c++ {
		if a.table[c].IsFree() {
			found = c
			break
		}
	}

	if found == freeCluster {
		return 0, checkpoint.Errorf(ErrNoSpace, "all %d clusters in use", len(a.table))
	}

	if tail == freeCluster {
		return found, a.put(found, eocCluster)
	}

	last, err := a.tail(tail)
	if err != nil {
		return 0, err
	}

	if err := a.put(found, eocCluster); err != nil {
		return 0, err
	}
	if err := a.put(last, found); err != nil {
		return 0, err
	}
	return found, nil
}

// removeChain frees every cluster from start to the end of its chain.
// If prev is not 0 it becomes the new end of the chain it belongs to.
func (a *allocator) removeChain(start, prev fatEntry) error {
	cluster := start
	for steps := 0; ; steps++ {
		if steps > len(a.table) {
			return checkpoint.Errorf(ErrCorrupted, "cycle in chain starting at %d", start)
		}

		next, err := a.get(cluster)
		if err != nil {
			return err
		}
		if next.IsFree() {
			return checkpoint.Errorf(ErrCorrupted, "freeing already free cluster %d", cluster)
		}

		a.table[cluster] = freeCluster
		if next.IsEOC() {
			break
		}
		cluster = next
	}

	if prev != freeCluster {
		return a.put(prev, eocCluster)
	}
	return nil
}

// freeCount counts the free clusters of the data region.
func (a *allocator) freeCount() uint32 {
	var free uint32
	for c := firstUsableCluster; int(c) < len(a.table); c++ {
		if a.table[c].IsFree() {
			free++
		}
	}
	return free
}

func (a *allocator) clusterToSector(cluster fatEntry) uint32 {
	return a.dataStart + cluster.Value()*a.boot.SectorsPerCluster
}

// sectorToCluster is the inverse of clusterToSector.
func (a *allocator) sectorToCluster(sector uint32) (fatEntry, error) {
	if sector < a.dataStart || sector-a.dataStart >= uint32(len(a.table)) {
		return 0, checkpoint.Errorf(ErrCorrupted, "sector %d is outside of the data region", sector)
	}
	return fatEntry((sector - a.dataStart) / a.boot.SectorsPerCluster), nil
}
