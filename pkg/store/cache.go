package store

import (
	"errors"

	"github.com/ncw/directio"

	"github.com/TinyMUSH/tinygdbm/pkg/list"
)

// The bucket cache is a fixed pool of decoded buckets. Frames for the raw
// bucket bytes come from one aligned arena; eviction is least-recently-used
// with the victim written back first if dirty. Each entry additionally caches
// the one most recently read record of its bucket, so repeated accesses to a
// hot key cost no disk reads at all.

// recordCache holds the decoded key+data pair most recently read from a
// cached bucket. elem is -1 when empty.
type recordCache struct {
	elem int
	hash int32
	key  []byte
	data []byte
}

type cacheEntry struct {
	adr    int64
	dirty  bool
	bucket *bucket
	frame  []byte // raw on-disk bytes, slice of the cache arena
	lru    *list.Link[*cacheEntry]
	rec    recordCache
}

func (e *cacheEntry) clearRecord() {
	e.rec = recordCache{elem: -1}
}

type bucketCache struct {
	size    int
	entries map[int64]*cacheEntry
	lru     *list.List[*cacheEntry] // head is the eviction candidate
	free    []*cacheEntry
}

func newBucketCache(size, bucketSize int) *bucketCache {
	c := &bucketCache{
		size:    size,
		entries: make(map[int64]*cacheEntry, size),
		lru:     list.NewList[*cacheEntry](),
	}
	arena := directio.AlignedBlock(size * bucketSize)
	for i := 0; i < size; i++ {
		e := &cacheEntry{frame: arena[i*bucketSize : (i+1)*bucketSize]}
		e.clearRecord()
		c.free = append(c.free, e)
	}
	return c
}

// lookup returns the resident entry for a bucket address, refreshing its LRU
// position, or nil.
func (c *bucketCache) lookup(adr int64) *cacheEntry {
	e := c.entries[adr]
	if e == nil {
		return nil
	}
	e.lru.PopSelf()
	e.lru = c.lru.PushTail(e)
	return e
}

func (c *bucketCache) install(e *cacheEntry, adr int64) {
	e.adr = adr
	c.entries[adr] = e
	e.lru = c.lru.PushTail(e)
}

func (c *bucketCache) release(e *cacheEntry) {
	e.bucket = nil
	e.clearRecord()
	c.free = append(c.free, e)
}

func (db *DB) initCache() {
	if db.cache == nil {
		db.cache = newBucketCache(db.cacheSize, int(db.hdr.bucketSize))
	}
}

// takeEntry produces an entry for a bucket about to become resident, evicting
// the least recently used one if no free entry remains. Entries in keep are
// never chosen as the victim.
func (db *DB) takeEntry(keep ...*cacheEntry) (*cacheEntry, error) {
	c := db.cache
	if n := len(c.free); n > 0 {
		e := c.free[n-1]
		c.free = c.free[:n-1]
		return e, nil
	}
	kept := func(e *cacheEntry) bool {
		for _, k := range keep {
			if e == k {
				return true
			}
		}
		return false
	}
	link := c.lru.PeekHead()
	for link != nil && kept(link.GetValue()) {
		link = link.GetNext()
	}
	if link == nil {
		return nil, errors.New("store: bucket cache exhausted")
	}
	victim := link.GetValue()
	if victim.dirty {
		if err := db.writeBucket(victim); err != nil {
			return nil, err
		}
	}
	link.PopSelf()
	delete(c.entries, victim.adr)
	victim.bucket = nil
	victim.clearRecord()
	return victim, nil
}

// getBucket makes the bucket addressed by the given directory index current,
// reading it from disk on a cache miss. Exactly one bucket is current after
// this call.
func (db *DB) getBucket(dirIndex int) (*cacheEntry, error) {
	adr := db.dir[dirIndex]
	if db.current != nil && db.current.adr == adr {
		return db.current, nil
	}
	db.initCache()
	// Responsibility for the old current bucket's dirt moves to the
	// second-stage flush.
	if db.bucketChanged {
		db.secondChanged = true
		db.bucketChanged = false
	}
	if e := db.cache.lookup(adr); e != nil {
		db.current = e
		return e, nil
	}

	e, err := db.takeEntry(db.current)
	if err != nil {
		return nil, db.fatalf("bucket eviction", err)
	}
	if _, err := db.file.ReadAt(e.frame, adr); err != nil {
		db.cache.release(e)
		return nil, db.fatalf("bucket read", err)
	}
	b, err := decodeBucket(e.frame, int(db.hdr.bucketElems))
	if err != nil {
		db.cache.release(e)
		return nil, db.fatalf("bucket decode", err)
	}
	e.bucket = b
	e.dirty = false
	e.clearRecord()
	db.cache.install(e, adr)
	db.current = e
	return e, nil
}

// newCacheBucket creates an empty resident bucket for a freshly allocated
// address; used by splits. It does not become current. Entries in keep stay
// resident alongside the current bucket.
func (db *DB) newCacheBucket(adr int64, bits int32, keep ...*cacheEntry) (*cacheEntry, error) {
	db.initCache()
	e, err := db.takeEntry(append(keep, db.current)...)
	if err != nil {
		return nil, db.fatalf("bucket eviction", err)
	}
	e.bucket = newBucket(int(db.hdr.bucketElems), bits)
	e.dirty = true
	e.clearRecord()
	db.cache.install(e, adr)
	db.secondChanged = true
	return e, nil
}

// writeBucket encodes a cached bucket into its frame and writes it out.
func (db *DB) writeBucket(e *cacheEntry) error {
	e.bucket.encode(e.frame)
	if err := db.writeAt(e.frame, e.adr); err != nil {
		return err
	}
	e.dirty = false
	return nil
}

func (db *DB) markCurrentDirty() {
	db.current.dirty = true
	db.bucketChanged = true
}
