package store

// Key enumeration visits buckets in directory order and, within a bucket,
// slots in index order. Directory entries pointing at an already-visited
// bucket are contiguous and skipped by address comparison. Mutating the
// database between calls is tolerated only to the point of not crashing;
// keys inserted or deleted mid-iteration may or may not be seen.

// FirstKey returns the first key in the database, or ErrEndOfKeys if it holds
// none.
func (db *DB) FirstKey() ([]byte, error) {
	return db.nextKeyFrom(0, -1)
}

// NextKey returns the key following prev in iteration order. If prev itself
// is no longer present the iteration cannot be resumed and ErrItemNotFound is
// returned.
func (db *DB) NextKey(prev []byte) ([]byte, error) {
	elem, _, hash, err := db.findKey(prev)
	if err != nil {
		return nil, err
	}
	if elem < 0 {
		return nil, ErrItemNotFound
	}
	return db.nextKeyFrom(int(hash)>>(31-int(db.hdr.dirBits)), elem)
}

func (db *DB) nextKeyFrom(dirIndex, elem int) ([]byte, error) {
	for {
		e, err := db.getBucket(dirIndex)
		if err != nil {
			return nil, err
		}
		for loc := elem + 1; loc < len(e.bucket.table); loc++ {
			if e.bucket.table[loc].hash == emptySlot {
				continue
			}
			k, _, err := db.readRecord(e, loc)
			if err != nil {
				return nil, err
			}
			out := make([]byte, len(k))
			copy(out, k)
			return out, nil
		}
		// Skip the rest of the directory run for this bucket.
		adr := db.dir[dirIndex]
		for {
			dirIndex++
			if dirIndex >= len(db.dir) {
				return nil, ErrEndOfKeys
			}
			if db.dir[dirIndex] != adr {
				break
			}
		}
		elem = -1
	}
}
