package store

import (
	"bytes"

	"github.com/TinyMUSH/tinygdbm/pkg/hashfn"
)

// findKey locates key in its governing bucket. It returns the slot index and
// the decoded data (valid until the next operation), or a negative index if
// the key is absent. db.current holds the governing bucket afterwards.
func (db *DB) findKey(key []byte) (int, []byte, int32, error) {
	hash := hashfn.Sum(key)
	e, err := db.getBucket(int(hash) >> (31 - int(db.hdr.dirBits)))
	if err != nil {
		return -1, nil, hash, err
	}

	// Is it the last record read from this bucket?
	if e.rec.elem >= 0 && e.rec.hash == hash && bytes.Equal(e.rec.key, key) {
		return e.rec.elem, e.rec.data, hash, nil
	}

	elems := len(e.bucket.table)
	loc := int(hash) % elems
	home := loc
	for {
		s := &e.bucket.table[loc]
		if s.hash == emptySlot {
			return -1, nil, hash, nil
		}
		if s.hash == hash && int(s.keySize) == len(key) && s.prefixMatches(key) {
			// Only a full read can tell.
			k, d, err := db.readRecord(e, loc)
			if err != nil {
				return -1, nil, hash, err
			}
			if bytes.Equal(k, key) {
				return loc, d, hash, nil
			}
		}
		loc = (loc + 1) % elems
		if loc == home {
			// Bucket full without a hit; cannot happen when the
			// split logic holds up.
			return -1, nil, hash, nil
		}
	}
}

// readRecord reads the key+data bytes for a slot, satisfying repeats from the
// bucket's single-record cache.
func (db *DB) readRecord(e *cacheEntry, elem int) ([]byte, []byte, error) {
	if e.rec.elem == elem {
		return e.rec.key, e.rec.data, nil
	}
	s := &e.bucket.table[elem]
	buf := make([]byte, int(s.keySize)+int(s.dataSize))
	if len(buf) > 0 {
		if _, err := db.file.ReadAt(buf, s.dataAdr); err != nil {
			return nil, nil, db.fatalf("record read", err)
		}
	}
	e.rec = recordCache{elem: elem, hash: s.hash, key: buf[:s.keySize], data: buf[s.keySize:]}
	return e.rec.key, e.rec.data, nil
}

func (db *DB) setRecordCache(e *cacheEntry, elem int, hash int32, key, data []byte) {
	buf := make([]byte, len(key)+len(data))
	copy(buf, key)
	copy(buf[len(key):], data)
	e.rec = recordCache{elem: elem, hash: hash, key: buf[:len(key)], data: buf[len(key):]}
}

func (db *DB) writeRecord(adr int64, key, data []byte) error {
	buf := make([]byte, 0, len(key)+len(data))
	buf = append(buf, key...)
	buf = append(buf, data...)
	return db.writeAt(buf, adr)
}

// Fetch returns the data stored under key, or ErrItemNotFound.
func (db *DB) Fetch(key []byte) ([]byte, error) {
	elem, data, _, err := db.findKey(key)
	if err != nil {
		return nil, err
	}
	if elem < 0 {
		return nil, ErrItemNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Exists reports whether key is present, without copying any data.
func (db *DB) Exists(key []byte) bool {
	elem, _, _, err := db.findKey(key)
	return err == nil && elem >= 0
}

// Store inserts or replaces the record for key. With Insert, an existing key
// fails with ErrCannotReplace and is left untouched. The mutation is
// committed before Store returns.
func (db *DB) Store(key, data []byte, flag StoreFlag) error {
	if db.mode == Reader {
		return ErrReaderCantStore
	}
	if len(key) == 0 {
		return ErrIllegalData
	}

	elem, _, hash, err := db.findKey(key)
	if err != nil {
		return err
	}

	if elem >= 0 {
		if flag != Replace {
			return ErrCannotReplace
		}
		e := db.current
		s := &e.bucket.table[elem]
		if err := db.free(s.dataAdr, int(s.keySize)+int(s.dataSize)); err != nil {
			return err
		}
		adr, err := db.allocate(len(key) + len(data))
		if err != nil {
			return err
		}
		if err := db.writeRecord(adr, key, data); err != nil {
			return db.fatalf("record write", err)
		}
		s.dataAdr = adr
		s.dataSize = int32(len(data))
		db.setRecordCache(e, elem, hash, key, data)
		db.markCurrentDirty()
		return db.endUpdate()
	}

	if db.current.bucket.count == db.hdr.bucketElems {
		if err := db.splitBucket(hash); err != nil {
			return err
		}
	}
	e := db.current
	adr, err := db.allocate(len(key) + len(data))
	if err != nil {
		return err
	}
	if err := db.writeRecord(adr, key, data); err != nil {
		return db.fatalf("record write", err)
	}

	elems := len(e.bucket.table)
	loc := int(hash) % elems
	for e.bucket.table[loc].hash != emptySlot {
		loc = (loc + 1) % elems
	}
	s := &e.bucket.table[loc]
	*s = slot{hash: hash, dataAdr: adr, keySize: int32(len(key)), dataSize: int32(len(data))}
	copy(s.keyStart[:], key)
	e.bucket.count++
	db.setRecordCache(e, loc, hash, key, data)
	db.markCurrentDirty()
	return db.endUpdate()
}

// Delete removes the record for key, returning its disk space to the
// allocator. Buckets are never merged back together; growth is monotonic.
func (db *DB) Delete(key []byte) error {
	if db.mode == Reader {
		return ErrReaderCantDelete
	}
	elem, _, _, err := db.findKey(key)
	if err != nil {
		return err
	}
	if elem < 0 {
		return ErrItemNotFound
	}
	e := db.current
	s := &e.bucket.table[elem]
	if err := db.free(s.dataAdr, int(s.keySize)+int(s.dataSize)); err != nil {
		return err
	}
	e.bucket.table[elem] = slot{hash: emptySlot}
	e.bucket.count--
	closeProbeHole(e.bucket, elem)
	e.clearRecord()
	db.markCurrentDirty()
	return db.endUpdate()
}

// closeProbeHole restores the open-addressing invariant after clearing a
// slot: every record must remain reachable from its home position without
// crossing an empty slot. Records in the probe cluster after the hole are
// shifted back when their home position lies outside (hole, slot].
func closeProbeHole(b *bucket, hole int) {
	elems := len(b.table)
	loc := (hole + 1) % elems
	for b.table[loc].hash != emptySlot {
		home := int(b.table[loc].hash) % elems
		outside := false
		if loc > hole {
			outside = home <= hole || home > loc
		} else {
			outside = home <= hole && home > loc
		}
		if outside {
			b.table[hole] = b.table[loc]
			b.table[loc] = slot{hash: emptySlot}
			hole = loc
		}
		loc = (loc + 1) % elems
	}
}
