package fatfs

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/yimjisu/fatfs/checkpoint"
)

// CachedDevice keeps the most recently used sectors of another Device in memory.
// Writes go through to the underlying device before they are cached, so a
// successful WriteSector is exactly as durable as without the cache.
type CachedDevice struct {
	dev Device

	// mu keeps a device transfer and the matching cache update together.
	mu      sync.Mutex
	sectors *lru.Cache[uint32, []byte]

	hits, misses uint64
}

// NewCachedDevice wraps dev with a cache of capacity sectors.
func NewCachedDevice(dev Device, capacity int) (*CachedDevice, error) {
	sectors, err := lru.New[uint32, []byte](capacity)
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrInvalidArgument)
	}

	return &CachedDevice{
		dev:     dev,
		sectors: sectors,
	}, nil
}

func (c *CachedDevice) ReadSector(index uint32, buf []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if data, ok := c.sectors.Get(index); ok {
		c.hits++
		copy(buf[:SectorSize], data)
		return nil
	}

	c.misses++
	if err := c.dev.ReadSector(index, buf); err != nil {
		return err
	}

	c.put(index, buf)
	return nil
}

func (c *CachedDevice) WriteSector(index uint32, buf []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.dev.WriteSector(index, buf); err != nil {
		// The device content is unknown now.
		c.sectors.Remove(index)
		return err
	}

	c.put(index, buf)
	return nil
}

func (c *CachedDevice) SectorCount() uint32 {
	return c.dev.SectorCount()
}

// Sync flushes the underlying device if it buffers writes itself.
func (c *CachedDevice) Sync() error {
	if s, ok := c.dev.(syncer); ok {
		return s.Sync()
	}
	return nil
}

// Stats returns the number of cache hits and misses so far.
func (c *CachedDevice) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.hits, c.misses
}

// put stores a copy of buf, the caller keeps using its buffer.
// It must be called with c.mu held.
func (c *CachedDevice) put(index uint32, buf []byte) {
	c.sectors.Add(index, append([]byte(nil), buf[:SectorSize]...))
}
