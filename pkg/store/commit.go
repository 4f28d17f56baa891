package store

// endUpdate flushes dirty in-memory state in crash-safe order: the current
// bucket, every other dirty cached bucket, the directory, and finally the
// header. Each stage is fsynced before the next begins unless fast mode is
// on, so the directory and header on disk never reference bucket contents
// that were not durably written first. Any I/O failure here is unrecoverable
// and goes through the failure handler.
func (db *DB) endUpdate() error {
	wroteBuckets := false
	if db.bucketChanged && db.current != nil {
		if err := db.writeBucket(db.current); err != nil {
			return db.fatalf("bucket write", err)
		}
		db.bucketChanged = false
		wroteBuckets = true
	}
	if db.secondChanged {
		if db.cache != nil {
			for _, e := range db.cache.entries {
				if !e.dirty {
					continue
				}
				if err := db.writeBucket(e); err != nil {
					return db.fatalf("bucket write", err)
				}
				wroteBuckets = true
			}
		}
		db.secondChanged = false
	}
	if wroteBuckets {
		if err := db.fsync(); err != nil {
			return err
		}
	}
	if db.dirChanged {
		if err := db.writeDirectory(); err != nil {
			return db.fatalf("directory write", err)
		}
		db.dirChanged = false
		if err := db.fsync(); err != nil {
			return err
		}
	}
	if db.headerChanged {
		if err := db.writeHeader(); err != nil {
			return db.fatalf("header write", err)
		}
		db.headerChanged = false
		if err := db.fsync(); err != nil {
			return err
		}
	}

	// Regions retired by this update are unreferenced on disk now; hand
	// them to the allocator for the next one.
	if len(db.pendingFree) > 0 {
		pending := db.pendingFree
		db.pendingFree = nil
		for _, e := range pending {
			if err := db.free(e.adr, int(e.sz)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (db *DB) fsync() error {
	if db.fastWrite {
		return nil
	}
	if err := db.file.Sync(); err != nil {
		return db.fatalf("fsync", err)
	}
	return nil
}
