package store

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/TinyMUSH/tinygdbm/pkg/hashfn"
)

// walkBuckets visits every distinct bucket exactly once, in directory order.
// Buckets occupy non-overlapping bucketSize regions, so the region index
// adr/bucketSize identifies each one in the visited set.
func (db *DB) walkBuckets(fn func(dirIndex int, e *cacheEntry) error) error {
	seen := bitset.New(uint(db.hdr.nextBlock/int64(db.hdr.bucketSize)) + 1)
	for i := range db.dir {
		blk := uint(db.dir[i] / int64(db.hdr.bucketSize))
		if seen.Test(blk) {
			continue
		}
		seen.Set(blk)
		e, err := db.getBucket(i)
		if err != nil {
			return err
		}
		if err := fn(i, e); err != nil {
			return err
		}
	}
	return nil
}

// Verify checks the extendible-hashing invariants of the whole file: every
// bucket's depth is within the directory's, the directory entries referencing
// a bucket form one aligned power-of-two run, slot counts match, and every
// stored hash routes back to the bucket holding it. Returns nil when the
// database is consistent.
func (db *DB) Verify() error {
	dirBits := int(db.hdr.dirBits)
	if db.hdr.dirSize != dirEntrySize<<uint(dirBits) {
		return fmt.Errorf("directory size %d does not match %d bits", db.hdr.dirSize, dirBits)
	}
	return db.walkBuckets(func(i int, e *cacheEntry) error {
		b := e.bucket
		if b.bits > db.hdr.dirBits {
			return fmt.Errorf("bucket %#x: depth %d exceeds directory depth %d", e.adr, b.bits, dirBits)
		}
		run := 1 << (dirBits - int(b.bits))
		if i&(run-1) != 0 {
			return fmt.Errorf("bucket %#x: directory run starts at unaligned index %d", e.adr, i)
		}
		for j := i; j < i+run; j++ {
			if db.dir[j] != e.adr {
				return fmt.Errorf("bucket %#x: directory run broken at index %d", e.adr, j)
			}
		}
		occupied := int32(0)
		for loc := range b.table {
			s := &b.table[loc]
			if s.hash == emptySlot {
				continue
			}
			occupied++
			if s.hash < 0 || s.keySize < 0 || s.dataSize < 0 || s.dataAdr <= 0 {
				return fmt.Errorf("bucket %#x slot %d: malformed", e.adr, loc)
			}
			if db.dir[int(s.hash)>>(31-dirBits)] != e.adr {
				return fmt.Errorf("bucket %#x slot %d: hash %#x routes to a different bucket", e.adr, loc, s.hash)
			}
		}
		if occupied != b.count {
			return fmt.Errorf("bucket %#x: count %d but %d occupied slots", e.adr, b.count, occupied)
		}
		return nil
	})
}

// Digest fingerprints every live record and combines the fingerprints
// order-independently. Two databases holding the same records produce the
// same digest regardless of layout; reorganize uses this to prove nothing
// was lost.
func (db *DB) Digest() (uint64, error) {
	var digest uint64
	err := db.walkBuckets(func(_ int, e *cacheEntry) error {
		for loc := range e.bucket.table {
			if e.bucket.table[loc].hash == emptySlot {
				continue
			}
			k, v, err := db.readRecord(e, loc)
			if err != nil {
				return err
			}
			digest ^= hashfn.Fingerprint(k, v)
		}
		return nil
	})
	return digest, err
}
