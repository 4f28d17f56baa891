package store

import (
	"encoding/binary"
	"math"
)

// On-disk bucket layout (bucketSize bytes, little-endian):
//
//	off 0   bits       int32  // hash bits consumed to create this bucket
//	off 4   count      int32  // used slots
//	off 8   availCount int32
//	off 12  local avail table, bucketAvailElems entries of 12 bytes
//	off 84  slot table, bucketElems entries of 24 bytes
//
// Each slot: hash int32, keyStart [4]byte, dataAdr int64, keySize int32,
// dataSize int32. A hash of -1 marks an empty slot.
const (
	bucketHeaderSize = 12 + bucketAvailElems*availElemSize
	slotSize         = 24

	emptySlot int32 = -1
)

type slot struct {
	hash     int32
	keyStart [smallPrefix]byte
	dataAdr  int64
	keySize  int32
	dataSize int32
}

// prefixMatches reports whether the slot's inline key bytes match the query,
// comparing at most the stored prefix. A cheap filter before reading the full
// record off disk.
func (s *slot) prefixMatches(key []byte) bool {
	n := len(key)
	if n > smallPrefix {
		n = smallPrefix
	}
	for i := 0; i < n; i++ {
		if s.keyStart[i] != key[i] {
			return false
		}
	}
	return true
}

// bucket is the decoded in-memory form of one on-disk hash bucket: an
// open-addressed table of record slots plus a small local free list.
type bucket struct {
	bits  int32
	count int32
	avail []availElem
	table []slot
}

func newBucket(elems int, bits int32) *bucket {
	b := &bucket{bits: bits, table: make([]slot, elems)}
	for i := range b.table {
		b.table[i].hash = emptySlot
	}
	return b
}

func (b *bucket) encode(buf []byte) {
	clear(buf)
	le := binary.LittleEndian
	le.PutUint32(buf[0:], uint32(b.bits))
	le.PutUint32(buf[4:], uint32(b.count))
	le.PutUint32(buf[8:], uint32(len(b.avail)))
	off := 12
	for _, e := range b.avail {
		le.PutUint32(buf[off:], uint32(e.sz))
		le.PutUint64(buf[off+4:], uint64(e.adr))
		off += availElemSize
	}
	off = bucketHeaderSize
	for i := range b.table {
		s := &b.table[i]
		le.PutUint32(buf[off:], uint32(s.hash))
		copy(buf[off+4:off+8], s.keyStart[:])
		le.PutUint64(buf[off+8:], uint64(s.dataAdr))
		le.PutUint32(buf[off+16:], uint32(s.keySize))
		le.PutUint32(buf[off+20:], uint32(s.dataSize))
		off += slotSize
	}
}

func decodeBucket(buf []byte, elems int) (*bucket, error) {
	le := binary.LittleEndian
	b := &bucket{
		bits:  int32(le.Uint32(buf[0:])),
		count: int32(le.Uint32(buf[4:])),
		table: make([]slot, elems),
	}
	availCount := int32(le.Uint32(buf[8:]))
	if b.bits < 0 || b.bits > maxDirBits || b.count < 0 || int(b.count) > elems ||
		availCount < 0 || availCount > bucketAvailElems {
		return nil, ErrBadHeader
	}
	off := 12
	for i := int32(0); i < availCount; i++ {
		b.avail = append(b.avail, availElem{
			sz:  int32(le.Uint32(buf[off:])),
			adr: int64(le.Uint64(buf[off+4:])),
		})
		off += availElemSize
	}
	off = bucketHeaderSize
	for i := range b.table {
		s := &b.table[i]
		s.hash = int32(le.Uint32(buf[off:]))
		copy(s.keyStart[:], buf[off+4:off+8])
		s.dataAdr = int64(le.Uint64(buf[off+8:]))
		s.keySize = int32(le.Uint32(buf[off+16:]))
		s.dataSize = int32(le.Uint32(buf[off+20:]))
		off += slotSize
	}
	return b, nil
}

// insertSlot places s at its home position, probing linearly. The caller
// guarantees a free slot exists.
func (b *bucket) insertSlot(s slot) {
	elems := len(b.table)
	loc := int(s.hash) % elems
	for b.table[loc].hash != emptySlot {
		loc = (loc + 1) % elems
	}
	b.table[loc] = s
	b.count++
}

// insertAvail adds a region to the local free list, sorted by size. The
// caller checks capacity.
func (b *bucket) insertAvail(e availElem) {
	i := 0
	for i < len(b.avail) && b.avail[i].sz < e.sz {
		i++
	}
	b.avail = append(b.avail, availElem{})
	copy(b.avail[i+1:], b.avail[i:])
	b.avail[i] = e
}

// splitBucket splits the current bucket until it has a free slot for a record
// with the given hash, doubling the directory whenever the bucket to split is
// already at the directory's depth. Both halves get freshly allocated disk
// regions; the full bucket's own region is reclaimed only after the commit
// that stops referencing it, so the on-disk directory never points at a
// bucket whose contents were rewritten under it. A skewed partition can leave
// one half still full, in which case the loop splits again.
func (db *DB) splitBucket(hash int32) error {
	for db.current.bucket.count == db.hdr.bucketElems {
		cur := db.current
		old := cur.bucket
		if old.bits == db.hdr.dirBits {
			if err := db.doubleDirectory(); err != nil {
				return err
			}
		}
		newBits := old.bits + 1

		adr0, err := db.allocate(int(db.hdr.bucketSize))
		if err != nil {
			return err
		}
		adr1, err := db.allocate(int(db.hdr.bucketSize))
		if err != nil {
			return err
		}
		e0, err := db.newCacheBucket(adr0, newBits)
		if err != nil {
			return err
		}
		e1, err := db.newCacheBucket(adr1, newBits, e0)
		if err != nil {
			return err
		}

		for i := range old.table {
			s := old.table[i]
			if s.hash == emptySlot {
				continue
			}
			if (s.hash>>(31-newBits))&1 == 1 {
				e1.bucket.insertSlot(s)
			} else {
				e0.bucket.insertSlot(s)
			}
		}
		// Split the local free list between the two halves.
		for i, e := range old.avail {
			if i%2 == 0 {
				e0.bucket.avail = append(e0.bucket.avail, e)
			} else {
				e1.bucket.avail = append(e1.bucket.avail, e)
			}
		}

		// Re-point the directory run that referenced the full bucket,
		// half at each new one.
		dirBits := int(db.hdr.dirBits)
		idx := int(hash) >> (31 - dirBits)
		run := 1 << (dirBits - int(newBits) + 1)
		start := idx &^ (run - 1)
		for i := start; i < start+run/2; i++ {
			db.dir[i] = adr0
		}
		for i := start + run/2; i < start+run; i++ {
			db.dir[i] = adr1
		}
		db.dirChanged = true
		db.headerChanged = true
		db.retireBucket(cur)

		// The record being inserted may belong to either half.
		if _, err := db.getBucket(idx); err != nil {
			return err
		}
	}
	return nil
}

// retireBucket drops a cache entry whose on-disk region is no longer
// referenced by the directory. The region joins the free list at the end of
// the next commit, not before: handing it out within the same update could
// put record bytes where the still-committed directory expects a bucket.
func (db *DB) retireBucket(e *cacheEntry) {
	db.pendingFree = append(db.pendingFree, availElem{sz: db.hdr.bucketSize, adr: e.adr})
	e.lru.PopSelf()
	delete(db.cache.entries, e.adr)
	e.dirty = false
	db.cache.release(e)
	if db.current == e {
		db.current = nil
		db.bucketChanged = false
	}
}

// doubleDirectory doubles the directory, duplicating every entry, and moves
// it to a freshly allocated disk region. The old region is reclaimed after
// the commit, once the header stops referencing it.
func (db *DB) doubleDirectory() error {
	if db.hdr.dirBits >= maxDirBits {
		return ErrDirectoryOverflow
	}
	newSize := db.hdr.dirSize * 2
	newOff, err := db.allocate(int(newSize))
	if err != nil {
		return err
	}
	newDir := make([]int64, len(db.dir)*2)
	for i, adr := range db.dir {
		newDir[2*i] = adr
		newDir[2*i+1] = adr
	}
	if db.hdr.dirSize <= math.MaxInt32 {
		db.pendingFree = append(db.pendingFree, availElem{sz: int32(db.hdr.dirSize), adr: db.hdr.dirOff})
	}
	db.dir = newDir
	db.hdr.dirOff = newOff
	db.hdr.dirSize = newSize
	db.hdr.dirBits++
	db.dirChanged = true
	db.headerChanged = true
	return nil
}
