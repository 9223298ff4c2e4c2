package fatfs

import (
	"io"

	"github.com/yimjisu/fatfs/checkpoint"
)

const (
	selfName   = "."
	parentName = ".."

	// firstEntryOffset is the offset of the first entry after "." and "..".
	firstEntryOffset = 2 * dirEntrySize
)

// Dir is an open directory: an inode plus a readdir position.
// All methods must be called with the filesystem lock held.
type Dir struct {
	inode *Inode
	pos   int64
}

// createDir creates the inode of a directory with room for entries slots.
// The "." and ".." slots are filled in when the directory is linked by add.
func (v *volume) createDir(record fatEntry, entries int) error {
	return v.createInode(record, uint64(entries)*dirEntrySize, true)
}

// openDir takes ownership of inode. It fails with ErrNotADirectory, closing the
// inode, if it is not a directory.
func openDir(inode *Inode) (*Dir, error) {
	if !inode.IsDir() {
		_ = inode.Close()
		return nil, checkpoint.Errorf(ErrNotADirectory, "inode %d", inode.Inumber())
	}
	return &Dir{inode: inode}, nil
}

func (v *volume) openRoot() (*Dir, error) {
	inode, err := v.openInode(v.rootSector())
	if err != nil {
		return nil, err
	}
	return openDir(inode)
}

// Reopen returns a new Dir for the same inode with its own position.
func (d *Dir) Reopen() *Dir {
	return &Dir{inode: d.inode.Reopen()}
}

// Close closes the directory. Closing a nil Dir does nothing.
func (d *Dir) Close() error {
	if d == nil {
		return nil
	}
	return d.inode.Close()
}

func (d *Dir) Inode() *Inode {
	return d.inode
}

// readEntry reads the slot at ofs. ok is false at the end of the stream.
func (d *Dir) readEntry(ofs int64) (e dirEntry, ok bool, err error) {
	buf := make([]byte, dirEntrySize)
	n, err := d.inode.ReadAt(buf, ofs)
	if n < dirEntrySize {
		if err == io.EOF {
			err = nil
		}
		return e, false, err
	}

	if err := decode(buf, &e); err != nil {
		return e, false, checkpoint.Wrap(err, ErrIO)
	}
	return e, true, nil
}

func (d *Dir) writeEntry(e dirEntry, ofs int64) error {
	n, err := d.inode.WriteAt(encode(e, dirEntrySize), ofs)
	if err != nil {
		return err
	}
	if n != dirEntrySize {
		return checkpoint.Errorf(ErrIO, "short directory entry write at %d", ofs)
	}
	return nil
}

// find scans the stream for an in-use entry called name, skipping the "." and ".." slots.
func (d *Dir) find(name string) (e dirEntry, ofs int64, found bool, err error) {
	for ofs = firstEntryOffset; ; ofs += dirEntrySize {
		e, ok, err := d.readEntry(ofs)
		if err != nil || !ok {
			return e, 0, false, err
		}
		if e.InUse && e.name() == name {
			return e, ofs, true, nil
		}
	}
}

// parentSector returns the sector recorded in the ".." slot.
func (d *Dir) parentSector() (uint32, error) {
	e, ok, err := d.readEntry(dirEntrySize)
	if err != nil {
		return 0, err
	}
	if !ok || !e.InUse || e.name() != parentName {
		return 0, checkpoint.Errorf(ErrCorrupted, "directory %d has no parent entry", d.inode.Inumber())
	}
	return e.Sector, nil
}

// Lookup returns the opened inode called name. "." is the directory itself and
// ".." the parent recorded when the directory was linked.
func (d *Dir) Lookup(name string) (*Inode, error) {
	switch name {
	case selfName:
		return d.inode.Reopen(), nil
	case parentName:
		sector, err := d.parentSector()
		if err != nil {
			return nil, err
		}
		return d.inode.vol.openInode(sector)
	}

	e, _, found, err := d.find(name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, checkpoint.Errorf(ErrNotFound, "%q in directory %d", name, d.inode.Inumber())
	}
	return d.inode.vol.openInode(e.Sector)
}

func validName(name string) error {
	switch {
	case name == "":
		return checkpoint.Errorf(ErrInvalidName, "empty name")
	case len(name) > NameMax:
		return checkpoint.Errorf(ErrNameTooLong, "%q is longer than %d bytes", name, NameMax)
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' || name[i] == 0 {
			return checkpoint.Errorf(ErrInvalidName, "%q", name)
		}
	}
	return nil
}

// writeDots fills the "." and ".." slots of the directory stored at sector.
func (v *volume) writeDots(sector, parent uint32) error {
	inode, err := v.openInode(sector)
	if err != nil {
		return err
	}
	child, err := openDir(inode)
	if err != nil {
		return err
	}
	defer child.Close()

	var self, up dirEntry
	self.setName(selfName)
	self.Sector = sector
	self.InUse = true
	up.setName(parentName)
	up.Sector = parent
	up.InUse = true

	if err := child.writeEntry(self, 0); err != nil {
		return err
	}
	return child.writeEntry(up, dirEntrySize)
}

// Add links name to the inode at sector. A directory gets its ".." pointed at d
// before it becomes reachable through d.
func (d *Dir) Add(name string, sector uint32, isDir bool) error {
	if err := validName(name); err != nil {
		return err
	}
	if d.inode.IsRemoved() {
		return checkpoint.Errorf(ErrRemoved, "directory %d", d.inode.Inumber())
	}

	if name == selfName || name == parentName {
		return checkpoint.Errorf(ErrNameInUse, "%q", name)
	}
	_, _, found, err := d.find(name)
	if err != nil {
		return err
	}
	if found {
		return checkpoint.Errorf(ErrNameInUse, "%q in directory %d", name, d.inode.Inumber())
	}

	if isDir {
		if err := d.inode.vol.writeDots(sector, d.inode.Inumber()); err != nil {
			return err
		}
	}

	// Reuse the first free slot, or append at the end of the stream.
	ofs := int64(firstEntryOffset)
	for ; ; ofs += dirEntrySize {
		e, ok, err := d.readEntry(ofs)
		if err != nil {
			return err
		}
		if !ok || !e.InUse {
			break
		}
	}

	var e dirEntry
	e.setName(name)
	e.Sector = sector
	e.InUse = true
	return d.writeEntry(e, ofs)
}

// unlink clears the entry called name and returns the sector it pointed to.
func (d *Dir) unlink(name string) (uint32, error) {
	if name == selfName || name == parentName {
		return 0, checkpoint.Errorf(ErrInvalidName, "cannot unlink %q", name)
	}

	e, ofs, found, err := d.find(name)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, checkpoint.Errorf(ErrNotFound, "%q in directory %d", name, d.inode.Inumber())
	}

	e.InUse = false
	return e.Sector, d.writeEntry(e, ofs)
}

// Remove deletes the entry called name and marks its inode removed.
// Directories must be empty.
func (d *Dir) Remove(name string) error {
	if name == selfName || name == parentName {
		return checkpoint.Errorf(ErrInvalidName, "cannot remove %q", name)
	}

	inode, err := d.Lookup(name)
	if err != nil {
		return err
	}
	defer inode.Close()

	if inode.IsDir() {
		target := &Dir{inode: inode}
		empty, err := target.IsEmpty()
		if err != nil {
			return err
		}
		if !empty {
			return checkpoint.Errorf(ErrDirectoryNotEmpty, "%q", name)
		}
	}

	if _, err := d.unlink(name); err != nil {
		return err
	}

	inode.Remove()
	return nil
}

// IsEmpty reports whether the directory has no entries besides "." and "..".
func (d *Dir) IsEmpty() (bool, error) {
	for ofs := int64(firstEntryOffset); ; ofs += dirEntrySize {
		e, ok, err := d.readEntry(ofs)
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
		if e.InUse {
			return false, nil
		}
	}
}

// Readdir returns the next in-use entry from the current position and advances
// past it. It returns io.EOF once the stream is exhausted.
// "." and ".." are never returned.
func (d *Dir) Readdir() (name string, sector uint32, err error) {
	if d.pos < firstEntryOffset {
		d.pos = firstEntryOffset
	}
	for {
		e, ok, err := d.readEntry(d.pos)
		if err != nil {
			return "", 0, err
		}
		if !ok {
			return "", 0, io.EOF
		}

		d.pos += dirEntrySize
		if e.InUse {
			return e.name(), e.Sector, nil
		}
	}
}

// Seek sets the readdir position to a byte offset in the entry stream.
// The offset must be on an entry boundary.
func (d *Dir) Seek(pos int64) error {
	if pos < 0 {
		return checkpoint.Errorf(ErrInvalidArgument, "negative directory position %d", pos)
	}
	if pos%dirEntrySize != 0 {
		return checkpoint.Errorf(ErrInvalidArgument, "directory position %d is not a multiple of %d", pos, dirEntrySize)
	}
	d.pos = pos
	return nil
}

func (d *Dir) Tell() int64 {
	return d.pos
}
