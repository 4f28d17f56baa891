package store

// Hooks for the external test package.

// DBFile mirrors the internal file interface so tests can inject fault
// wrappers around the real descriptor.
type DBFile = dbFile

// SetFile swaps the handle's backing file.
func SetFile(db *DB, f DBFile) { db.file = f }

// NextBlock returns the allocation high-water mark.
func NextBlock(db *DB) int64 { return db.hdr.nextBlock }

// DirBits returns the directory depth in bits.
func DirBits(db *DB) int32 { return db.hdr.dirBits }

// DistinctBuckets counts the distinct bucket addresses in the directory.
func DistinctBuckets(db *DB) int {
	n := 0
	for i, adr := range db.dir {
		if i == 0 || db.dir[i-1] != adr {
			n++
		}
	}
	return n
}

// CachedBuckets returns how many buckets are resident in the cache.
func CachedBuckets(db *DB) int {
	if db.cache == nil {
		return 0
	}
	return len(db.cache.entries)
}

// AvailCount returns the number of entries in the header's free-region table.
func AvailCount(db *DB) int { return len(db.hdr.avail.elems) }

// AvailChained reports whether the header table has overflowed onto a chained
// disk block.
func AvailChained(db *DB) bool { return db.hdr.avail.next != 0 }

// BucketElems returns the per-bucket slot count recorded in the header.
func BucketElems(db *DB) int32 { return db.hdr.bucketElems }
