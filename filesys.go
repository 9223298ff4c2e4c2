package fatfs

import (
	"log/slog"
	"sync"

	"github.com/yimjisu/fatfs/checkpoint"
)

// volume is the state of one mounted filesystem: the device, the allocation
// table and the registry of open inodes. It is only touched with FileSystem.mu held.
type volume struct {
	dev    Device
	fat    *allocator
	log    *slog.Logger
	inodes map[uint32]*Inode
}

func (v *volume) rootSector() uint32 {
	return v.fat.clusterToSector(rootDirCluster)
}

// format writes an empty filesystem with only the root directory.
func (v *volume) format() error {
	if err := v.fat.format(); err != nil {
		return err
	}

	if err := v.createDir(rootDirCluster, defaultDirEntries); err != nil {
		return err
	}

	root := v.rootSector()
	if err := v.writeDots(root, root); err != nil {
		return err
	}

	return v.fat.persist()
}

// FileSystem is one mounted volume. It is safe for concurrent use, every
// operation holds the single filesystem lock.
type FileSystem struct {
	mu     sync.Mutex
	vol    *volume
	log    *slog.Logger
	closed bool

	// cwds counts the contexts which use a directory sector as working directory.
	cwds map[uint32]int
}

type options struct {
	logger *slog.Logger
	format bool
}

// Option configures Mount and Format.
type Option func(*options)

// WithLogger sets the logger, slog.Default() is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithFormat makes Mount format the device before mounting it.
func WithFormat(format bool) Option {
	return func(o *options) {
		o.format = format
	}
}

func applyOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

func newVolume(dev Device, log *slog.Logger) *volume {
	return &volume{
		dev:    dev,
		fat:    &allocator{dev: dev, log: log},
		log:    log,
		inodes: make(map[uint32]*Inode),
	}
}

// Format writes an empty filesystem to dev.
func Format(dev Device, opts ...Option) error {
	if dev == nil {
		return checkpoint.Errorf(ErrIO, "no device")
	}

	o := applyOptions(opts)
	v := newVolume(dev, o.logger)

	o.logger.Info("Formatting file system.", "sectors", dev.SectorCount())
	if err := v.format(); err != nil {
		return err
	}
	return syncDevice(dev)
}

// Mount opens the filesystem on dev. A device without a valid boot record can
// only be mounted together with WithFormat(true), which ignores whatever the
// device holds.
// The caller must treat a Mount error as fatal for the volume.
func Mount(dev Device, opts ...Option) (*FileSystem, error) {
	if dev == nil {
		return nil, checkpoint.Errorf(ErrIO, "no device")
	}

	o := applyOptions(opts)
	v := newVolume(dev, o.logger)

	if o.format {
		// A damaged boot record does not matter, format replaces it.
		o.logger.Info("Formatting file system.", "sectors", dev.SectorCount())
		if err := v.format(); err != nil {
			return nil, err
		}
	} else {
		valid, err := v.fat.readBoot()
		if err != nil {
			return nil, err
		}
		if !valid {
			return nil, checkpoint.Errorf(ErrNoFilesystem, "boot record magic mismatch")
		}
		if err := v.fat.load(); err != nil {
			return nil, err
		}
	}

	// The root must be a readable directory.
	root, err := v.openRoot()
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrNoFilesystem)
	}
	_ = root.Close()

	o.logger.Debug("Mounted file system.",
		"sectors", v.fat.boot.TotalSectors,
		"clusters", v.fat.clusterCount(),
		"free", v.fat.freeCount(),
	)

	return &FileSystem{
		vol:  v,
		log:  o.logger,
		cwds: make(map[uint32]int),
	}, nil
}

func syncDevice(dev Device) error {
	if s, ok := dev.(syncer); ok {
		return s.Sync()
	}
	return nil
}

// sync must be called with fs.mu held.
func (fs *FileSystem) sync() error {
	if err := fs.vol.fat.persist(); err != nil {
		return err
	}
	return syncDevice(fs.vol.dev)
}

// Sync writes the allocation table to the device.
func (fs *FileSystem) Sync() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return checkpoint.From(ErrClosed)
	}
	return fs.sync()
}

// Unmount writes the allocation table and boot record back and closes the
// filesystem. Removed files which are still open are released first.
// Contexts and files still open afterwards fail with ErrClosed.
func (fs *FileSystem) Unmount() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return checkpoint.From(ErrClosed)
	}

	if open := len(fs.vol.inodes); open > 0 {
		fs.log.Warn("Unmounting with open inodes.", "open", open)
	}

	if err := fs.vol.releaseRemoved(); err != nil {
		return err
	}
	if err := fs.sync(); err != nil {
		return err
	}

	fs.closed = true
	fs.log.Debug("Unmounted file system.")
	return nil
}

// Usage describes how much of the volume is in use.
type Usage struct {
	ClusterSize   int
	TotalClusters uint32
	FreeClusters  uint32
}

// Usage returns the current allocation statistics.
func (fs *FileSystem) Usage() (Usage, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return Usage{}, checkpoint.From(ErrClosed)
	}

	return Usage{
		ClusterSize:   SectorSize * sectorsPerCluster,
		TotalClusters: fs.vol.fat.clusterCount() - firstUsableCluster.Value(),
		FreeClusters:  fs.vol.fat.freeCount(),
	}, nil
}

// OpenInodes returns the number of inodes currently held open by anyone.
func (fs *FileSystem) OpenInodes() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return len(fs.vol.inodes)
}
