package store

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/otiai10/copy"
)

// Reorganize rebuilds the database from scratch: every live record is
// re-inserted into a fresh file which then replaces the old one, eliminating
// fragmentation and shrinking the free-region table. A maintenance operation,
// not for the hot path. The handle refers to the rebuilt file afterwards.
func (db *DB) Reorganize() error {
	if db.mode == Reader {
		return ErrReaderCantReorganize
	}
	if err := db.endUpdate(); err != nil {
		return err
	}

	tmp := fmt.Sprintf("%s.reorg-%s", db.path, uuid.NewString())
	ndb, err := Open(tmp, Config{
		Mode:        NewDB,
		BlockSize:   int(db.hdr.blockSize),
		BucketElems: int(db.hdr.bucketElems),
		CacheSize:   db.cacheSize,
		Fast:        true,
		NoLock:      true,
		Fatal:       db.failure,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReorganizeFailed, err)
	}

	cerr := db.walkBuckets(func(_ int, e *cacheEntry) error {
		for loc := range e.bucket.table {
			if e.bucket.table[loc].hash == emptySlot {
				continue
			}
			k, v, err := db.readRecord(e, loc)
			if err != nil {
				return err
			}
			if err := ndb.Store(k, v, Replace); err != nil {
				return err
			}
		}
		return nil
	})
	if cerr == nil {
		cerr = ndb.Sync()
	}
	if err := ndb.Close(); cerr == nil {
		cerr = err
	}
	if cerr != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrReorganizeFailed, cerr)
	}
	if err := os.Rename(tmp, db.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrReorganizeFailed, err)
	}

	// Swap the rebuilt file in. Closing the old descriptor drops its
	// advisory lock; the reopen takes a fresh one.
	db.file.Close()
	reopened, err := Open(db.path, Config{
		Mode:      Writer,
		CacheSize: db.cacheSize,
		Fast:      db.fastWrite,
		NoLock:    db.noLock,
		Fatal:     db.failure,
	})
	if err != nil {
		// The handle is unusable now; this is session-ending.
		return db.fatalf("reorganize reopen", err)
	}
	db.adopt(reopened)
	return nil
}

// adopt takes over the open state of another handle for the same path.
func (db *DB) adopt(o *DB) {
	db.file = o.file
	db.hdr = o.hdr
	db.dir = o.dir
	db.blockBuf = o.blockBuf
	db.cache = o.cache
	db.current = nil
	db.bucketChanged = false
	db.secondChanged = false
	db.dirChanged = false
	db.headerChanged = false
}

// Backup flushes the database and copies its file to dst. The copy is taken
// at a commit boundary, so it reopens as a consistent database.
func (db *DB) Backup(dst string) error {
	if err := db.endUpdate(); err != nil {
		return err
	}
	if err := db.file.Sync(); err != nil {
		return db.fatalf("fsync", err)
	}
	return copy.Copy(db.path, dst)
}
