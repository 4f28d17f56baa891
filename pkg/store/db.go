// Package store implements a persistent single-file key-value store built on
// extendible hashing. A directory of 2^dirBits bucket addresses is indexed by
// the top bits of a key's 31-bit hash; buckets split on overflow and the
// directory doubles only when a bucket already at the directory's depth must
// split, so the table grows without ever rehashing the whole file.
//
// One handle assumes one thread of control. Mutations are flushed by a fixed
// write-back order (buckets, directory, header) so that a crash never leaves
// the directory or header referencing bucket contents that were not written
// first.
package store

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Tuning defaults. The block size is fixed at creation time and becomes part
// of the file; the cache size can be raised per handle before the first
// bucket is loaded.
const (
	DefaultBlockSize = 4096
	MinBlockSize     = 128
	DefaultCacheSize = 10
	MinCacheSize     = 10
)

const (
	dirEntrySize   = 8
	initialDirSize = 8 * dirEntrySize // doubled until it reaches the block size
	maxDirBits     = 31

	// Freed regions at or below this many bytes are discarded rather than
	// tracked; the bookkeeping would cost more than the space.
	ignoreSize = 4

	// Key bytes kept inline in a bucket slot for cheap pre-comparison.
	smallPrefix = 4

	// Local free-list entries per bucket.
	bucketAvailElems = 6
)

// Mode selects how Open treats the database file.
type Mode int

const (
	// Reader opens an existing file read-only; any number of readers may
	// share a database.
	Reader Mode = iota
	// Writer opens an existing file for exclusive read-write access.
	Writer
	// WriterCreate is Writer, creating the file if it does not exist.
	WriterCreate
	// NewDB always creates a fresh database, truncating any existing file.
	NewDB
)

// StoreFlag selects the behavior of Store for keys already present.
type StoreFlag int

const (
	// Insert refuses to overwrite an existing key.
	Insert StoreFlag = iota
	// Replace overwrites the previous data for an existing key.
	Replace
)

// FailureHandler is invoked for unrecoverable I/O errors. After the handler
// runs (or returns), the database session is over; there is no retry or
// rollback inside the engine.
type FailureHandler interface {
	Fatal(msg string)
}

// stderrFailure is the default handler: log and terminate.
type stderrFailure struct{}

func (stderrFailure) Fatal(msg string) {
	slog.Error("database fatal error", "err", msg)
	os.Exit(1)
}

// Config carries the per-handle settings for Open. The zero value opens an
// existing database read-only with default sizes.
type Config struct {
	Mode Mode

	// BlockSize is the I/O unit chosen at creation time (ignored when
	// opening an existing file). Zero means DefaultBlockSize.
	BlockSize int

	// BucketElems caps the number of record slots per bucket below what
	// the block size allows. Zero derives the count from BlockSize.
	// Only consulted at creation time.
	BucketElems int

	// CacheSize is the number of buckets held decoded in memory,
	// clamped up to MinCacheSize.
	CacheSize int

	// Fast skips the fsync calls of the commit protocol.
	Fast bool

	// NoLock suppresses the advisory flock normally taken at open.
	NoLock bool

	// Fatal handles unrecoverable I/O errors; nil logs to stderr and
	// terminates the process.
	Fatal FailureHandler
}

// dbFile is the slice of *os.File the engine needs. Kept as an interface so
// tests can inject failing files.
type dbFile interface {
	io.ReaderAt
	io.WriterAt
	Sync() error
	Close() error
	Stat() (os.FileInfo, error)
	Fd() uintptr
}

// DB is an open database handle. A handle must never be used from two
// goroutines concurrently.
type DB struct {
	path    string
	file    dbFile
	mode    Mode
	failure FailureHandler

	fastWrite   bool
	centralFree bool
	coalesce    bool
	noLock      bool

	hdr      *header
	dir      []int64
	blockBuf []byte // scratch for header and avail-chain block I/O

	cacheSize int
	cache     *bucketCache
	current   *cacheEntry

	// Dirty flags driving the commit protocol, in flush order.
	bucketChanged bool // the current bucket
	secondChanged bool // any other cached bucket
	dirChanged    bool
	headerChanged bool

	// Regions unreferenced by this update but still referenced by the
	// last committed directory or header. They join the free list only
	// after the commit completes.
	pendingFree []availElem
}

// Open opens or creates the database file at path.
func Open(path string, cfg Config) (*DB, error) {
	db := &DB{
		path:      path,
		mode:      cfg.Mode,
		failure:   cfg.Fatal,
		fastWrite: cfg.Fast,
		noLock:    cfg.NoLock,
		cacheSize: cfg.CacheSize,
	}
	if db.failure == nil {
		db.failure = stderrFailure{}
	}
	if db.cacheSize <= 0 {
		db.cacheSize = DefaultCacheSize
	}
	if db.cacheSize < MinCacheSize {
		db.cacheSize = MinCacheSize
	}

	var flags int
	switch cfg.Mode {
	case Reader:
		flags = os.O_RDONLY
	case Writer:
		flags = os.O_RDWR
	case WriterCreate:
		flags = os.O_RDWR | os.O_CREATE
	case NewDB:
		flags = os.O_RDWR | os.O_CREATE | os.O_TRUNC
	default:
		return nil, fmt.Errorf("store: unknown open mode %d", cfg.Mode)
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.file = f

	if !db.noLock {
		if cfg.Mode == Reader {
			err = db.LockShared()
		} else {
			err = db.LockExclusive()
		}
		if err != nil {
			f.Close()
			return nil, err
		}
	}

	info, err := f.Stat()
	if err != nil {
		db.discard()
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if info.Size() == 0 {
		if cfg.Mode == Reader || cfg.Mode == Writer {
			db.discard()
			return nil, ErrEmptyDatabase
		}
		if err := db.create(cfg); err != nil {
			db.discard()
			return nil, err
		}
		return db, nil
	}

	if err := db.readHeader(); err != nil {
		db.discard()
		return nil, err
	}
	if err := db.readDirectory(); err != nil {
		db.discard()
		return nil, err
	}
	return db, nil
}

// create initializes a fresh database file. The initial layout is the header
// block, the directory, and a single depth-0 bucket that every directory
// entry references. Writes follow the commit order (bucket, directory,
// header) so even creation cannot leave a half-referenced file.
func (db *DB) create(cfg Config) error {
	blockSize := cfg.BlockSize
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	if blockSize < MinBlockSize {
		return ErrBlockSize
	}
	elems := (blockSize - bucketHeaderSize) / slotSize
	if elems < 2 {
		return ErrBlockSize
	}
	if cfg.BucketElems > 0 && cfg.BucketElems < elems {
		elems = cfg.BucketElems
	}

	dirSize := int64(initialDirSize)
	dirBits := int32(3)
	for dirSize < int64(blockSize) {
		dirSize <<= 1
		dirBits++
	}

	hdr := &header{
		blockSize:   int32(blockSize),
		dirBits:     dirBits,
		dirOff:      int64(blockSize),
		dirSize:     dirSize,
		bucketSize:  int32(blockSize),
		bucketElems: int32(elems),
		avail:       newAvailBlock(headerAvailCap(blockSize)),
	}
	bucketOff := hdr.dirOff + dirSize
	hdr.nextBlock = bucketOff + int64(blockSize)
	db.hdr = hdr
	db.blockBuf = make([]byte, blockSize)
	db.dir = make([]int64, dirSize/dirEntrySize)
	for i := range db.dir {
		db.dir[i] = bucketOff
	}

	b := newBucket(elems, 0)
	buf := make([]byte, blockSize)
	b.encode(buf)
	if err := db.writeAt(buf, bucketOff); err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	if err := db.writeDirectory(); err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	if err := db.writeHeader(); err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	if !db.fastWrite {
		if err := db.file.Sync(); err != nil {
			return fmt.Errorf("creating database: %w", err)
		}
	}
	return nil
}

// discard releases the file without flushing; used on failed opens.
func (db *DB) discard() {
	if !db.noLock {
		db.Unlock()
	}
	db.file.Close()
	db.file = nil
}

// Close flushes all dirty state (for writers), releases the advisory lock,
// and closes the file. The handle must not be used afterwards.
func (db *DB) Close() error {
	if db.file == nil {
		return nil
	}
	var err error
	if db.mode != Reader {
		err = db.endUpdate()
		if err == nil {
			if serr := db.file.Sync(); serr != nil {
				err = db.fatalf("fsync", serr)
			}
		}
	}
	if !db.noLock {
		db.Unlock()
	}
	cerr := db.file.Close()
	db.file = nil
	if err == nil && cerr != nil {
		err = cerr
	}
	return err
}

// Sync forces all dirty state to disk now, regardless of fast mode.
func (db *DB) Sync() error {
	if err := db.endUpdate(); err != nil {
		return err
	}
	if err := db.file.Sync(); err != nil {
		return db.fatalf("fsync", err)
	}
	return nil
}

// Path returns the file path the handle was opened with.
func (db *DB) Path() string {
	return db.path
}

// fatalf routes an unrecoverable I/O error through the failure handler. The
// wrapped error is returned for handlers that elect not to terminate, but the
// session must be treated as over either way.
func (db *DB) fatalf(op string, err error) error {
	ferr := fmt.Errorf("store: %s: %w", op, err)
	db.failure.Fatal(ferr.Error())
	return ferr
}

func (db *DB) writeAt(p []byte, off int64) error {
	_, err := db.file.WriteAt(p, off)
	return err
}
