package fatfs

import (
	"fmt"
	"io"
	"path"
	"sort"

	"github.com/yimjisu/fatfs/checkpoint"
)

// CheckReport is the result of FileSystem.Check.
type CheckReport struct {
	Directories int
	Files       int
	Symlinks    int

	// Pending counts removed inodes which are still open.
	Pending int

	UsedClusters uint32
	Problems     []string
}

// OK reports whether no problems were found.
func (r CheckReport) OK() bool {
	return len(r.Problems) == 0
}

type checker struct {
	vol    *volume
	report CheckReport
	owner  map[fatEntry]uint32
	seen   map[uint32]string
}

func (c *checker) problem(format string, args ...interface{}) {
	c.report.Problems = append(c.report.Problems, fmt.Sprintf(format, args...))
}

// Check walks the whole tree and verifies that every allocated cluster belongs to
// exactly one reachable (or removed but open) inode, that chain lengths match the
// inode lengths and that "." and ".." are consistent.
// The returned error is only set if the check itself could not run.
func (fs *FileSystem) Check() (CheckReport, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return CheckReport{}, checkpoint.From(ErrClosed)
	}

	c := &checker{
		vol:   fs.vol,
		owner: make(map[fatEntry]uint32),
		seen:  make(map[uint32]string),
	}

	root := fs.vol.rootSector()
	c.visit(root, root, "/")

	// Sorted for stable reports.
	var pending []uint32
	for sector, inode := range fs.vol.inodes {
		if inode.IsRemoved() {
			pending = append(pending, sector)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i] < pending[j] })
	for _, sector := range pending {
		c.report.Pending++
		c.claim(sector, fs.vol.inodes[sector], "(removed)")
	}

	table := fs.vol.fat.table
	if len(table) > 0 && !table[0].IsEOC() {
		c.problem("reserved cluster 0 is not marked as used")
	}
	for cluster := firstUsableCluster; int(cluster) < len(table); cluster++ {
		if table[cluster].IsFree() {
			continue
		}
		c.report.UsedClusters++
		if _, ok := c.owner[cluster]; !ok {
			c.problem("cluster %d is allocated but not referenced", cluster)
		}
	}

	return c.report, nil
}

// visit checks the inode at sector and, for a directory, everything below it.
func (c *checker) visit(sector, parent uint32, name string) {
	if other, ok := c.seen[sector]; ok {
		c.problem("%s: inode %d is already linked as %s", name, sector, other)
		return
	}
	c.seen[sector] = name

	inode, err := c.vol.openInode(sector)
	if err != nil {
		c.problem("%s: %v", name, err)
		return
	}
	defer inode.Close()

	c.claim(sector, inode, name)

	switch {
	case inode.IsDir():
		c.report.Directories++
		c.visitDir(&Dir{inode: inode}, parent, name)
	case inode.IsSymlink():
		c.report.Symlinks++
	default:
		c.report.Files++
	}
}

// claim marks the chain of inode as owned and compares it with the inode length.
func (c *checker) claim(sector uint32, inode *Inode, name string) {
	record, err := c.vol.fat.sectorToCluster(sector)
	if err != nil {
		c.problem("%s: %v", name, err)
		return
	}

	table := c.vol.fat.table
	cluster := record
	var data uint64
	for steps := 0; ; steps++ {
		if steps > len(table) {
			c.problem("%s: cycle in cluster chain", name)
			return
		}
		if other, ok := c.owner[cluster]; ok {
			c.problem("%s: cluster %d is also used by inode %d", name, cluster, other)
			return
		}
		c.owner[cluster] = sector

		next := table[cluster]
		if next.IsFree() {
			c.problem("%s: chain runs into free cluster at %d", name, cluster)
			return
		}
		if next.IsEOC() {
			break
		}
		if int(next) >= len(table) {
			c.problem("%s: cluster %d links out of range to %d", name, cluster, next)
			return
		}
		cluster = next
		data++
	}

	want := bytesToClusters(uint64(inode.Length()))
	if inode.IsSymlink() {
		want = 0
	}
	if data != want {
		c.problem("%s: %d data clusters for %d bytes", name, data, inode.Length())
	}
	if data > 0 && fatEntry(inode.data.Start) != table[record] {
		c.problem("%s: start cluster %d does not follow the record", name, inode.data.Start)
	}
}

func (c *checker) visitDir(dir *Dir, parent uint32, name string) {
	self, ok, err := dir.readEntry(0)
	if err != nil || !ok || !self.InUse || self.name() != selfName || self.Sector != dir.inode.Inumber() {
		c.problem("%s: broken %q entry", name, selfName)
	}
	up, ok, err := dir.readEntry(dirEntrySize)
	if err != nil || !ok || !up.InUse || up.name() != parentName || up.Sector != parent {
		c.problem("%s: %q does not point to %d", name, parentName, parent)
	}

	dir.pos = firstEntryOffset
	for {
		child, sector, err := dir.Readdir()
		if err == io.EOF {
			return
		}
		if err != nil {
			c.problem("%s: %v", name, err)
			return
		}
		if err := validName(child); err != nil {
			c.problem("%s: %v", name, err)
		}

		c.visit(sector, dir.inode.Inumber(), path.Join(name, child))
	}
}
