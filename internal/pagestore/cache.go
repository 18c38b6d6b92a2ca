package pagestore

import lru "github.com/hashicorp/golang-lru/v2"

// cleanPageCache holds verified, unmodified page payloads keyed by page
// index. A hot reread of a page the policy predicate does not verify is
// served from the cache without a disk read; a page the predicate does
// verify is re-read from disk and checked on every read. Grounded on the
// teacher's indexCache in go/nbs/store.go.
type cleanPageCache struct {
	lru *lru.Cache[uint64, []byte]
}

func newCleanPageCache(size int) *cleanPageCache {
	if size <= 0 {
		return &cleanPageCache{}
	}
	c, _ := lru.New[uint64, []byte](size)
	return &cleanPageCache{lru: c}
}

func (c *cleanPageCache) get(pageIndex uint64) ([]byte, bool) {
	if c.lru == nil {
		return nil, false
	}
	return c.lru.Get(pageIndex)
}

func (c *cleanPageCache) put(pageIndex uint64, payload []byte) {
	if c.lru == nil {
		return
	}
	stored := make([]byte, len(payload))
	copy(stored, payload)
	c.lru.Add(pageIndex, stored)
}

func (c *cleanPageCache) invalidate(pageIndex uint64) {
	if c.lru == nil {
		return
	}
	c.lru.Remove(pageIndex)
}
