package store

// SetCacheSize resizes the bucket cache. Only legal before the first bucket
// has been loaded; afterwards ErrOptAlreadySet is returned. Positive values
// below MinCacheSize are raised to it.
func (db *DB) SetCacheSize(n int) error {
	if db.cache != nil {
		return ErrOptAlreadySet
	}
	if n <= 0 {
		return ErrOptIllegal
	}
	if n < MinCacheSize {
		n = MinCacheSize
	}
	db.cacheSize = n
	return nil
}

// SetSyncMode toggles the fsync calls of the commit protocol. Synchronous
// mode is the safe default; callers embedding the engine inside their own
// checkpointing force it on around the checkpoint window.
func (db *DB) SetSyncMode(sync bool) {
	db.fastWrite = !sync
}

// SetCentralFree routes all freed regions to the header's central table
// instead of the per-bucket local free lists.
func (db *DB) SetCentralFree(on bool) {
	db.centralFree = on
}

// SetCoalesce enables merging freed regions with adjacent free neighbors.
func (db *DB) SetCoalesce(on bool) {
	db.coalesce = on
}
