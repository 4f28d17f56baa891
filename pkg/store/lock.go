package store

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Advisory file locking. Open takes the appropriate lock for the mode unless
// configured with NoLock; the primitives are exported so callers managing
// their own locking windows (checkpoints, dumps) can retake them.

// LockShared takes a non-blocking shared lock on the database file.
func (db *DB) LockShared() error {
	if err := unix.Flock(int(db.file.Fd()), unix.LOCK_SH|unix.LOCK_NB); err != nil {
		return fmt.Errorf("%w: %v", ErrCantBeReader, err)
	}
	return nil
}

// LockExclusive takes a non-blocking exclusive lock on the database file.
func (db *DB) LockExclusive() error {
	if err := unix.Flock(int(db.file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return fmt.Errorf("%w: %v", ErrCantBeWriter, err)
	}
	return nil
}

// Unlock releases the advisory lock.
func (db *DB) Unlock() error {
	return unix.Flock(int(db.file.Fd()), unix.LOCK_UN)
}

// Fd exposes the underlying descriptor for callers that coordinate their own
// process-level locking around the database file.
func (db *DB) Fd() uintptr {
	return db.file.Fd()
}
