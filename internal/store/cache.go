package store

import (
	"github.com/jellydator/ttlcache/v3"

	"github.com/aweris/chonky/internal/digest"
)

// Cache provides in-memory caching for objects.
type Cache interface {
	Get(d digest.Digest) ([]byte, bool)
	Add(d digest.Digest, data []byte)
	Has(d digest.Digest) bool
	Remove(d digest.Digest)
	Clear()
}

// MemoryCache is a capacity-bounded LRU backed by ttlcache.
// Objects larger than maxObject bytes are not cached.
type MemoryCache struct {
	items     *ttlcache.Cache[digest.Digest, []byte]
	maxObject int
}

// NewMemoryCache creates a cache holding at most capacity objects.
func NewMemoryCache(capacity uint64, maxObject int) *MemoryCache {
	return &MemoryCache{
		items: ttlcache.New[digest.Digest, []byte](
			ttlcache.WithCapacity[digest.Digest, []byte](capacity),
		),
		maxObject: maxObject,
	}
}

func (c *MemoryCache) Get(d digest.Digest) ([]byte, bool) {
	item := c.items.Get(d)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

func (c *MemoryCache) Add(d digest.Digest, data []byte) {
	if c.maxObject > 0 && len(data) > c.maxObject {
		return
	}
	c.items.Set(d, data, ttlcache.NoTTL)
}

func (c *MemoryCache) Has(d digest.Digest) bool {
	return c.items.Has(d)
}

func (c *MemoryCache) Remove(d digest.Digest) {
	c.items.Delete(d)
}

func (c *MemoryCache) Clear() {
	c.items.DeleteAll()
}
