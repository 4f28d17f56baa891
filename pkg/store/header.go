package store

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash"
)

// On-disk header layout, little-endian, at file offset 0, occupying exactly
// one block:
//
//	off 0   magic       uint32
//	off 4   version     uint32
//	off 8   blockSize   int32
//	off 12  dirBits     int32
//	off 16  dirOff      int64
//	off 24  dirSize     int64
//	off 32  bucketSize  int32
//	off 36  bucketElems int32
//	off 40  nextBlock   int64
//	off 48  checksum    uint64 (xxhash of the block with this field zeroed)
//	off 56  avail block, filling the rest of the block
const (
	magicNumber   uint32 = 0x54476442
	formatVersion uint32 = 1

	headerFixedSize = 56
	offChecksum     = 48
)

type header struct {
	blockSize   int32
	dirBits     int32
	dirOff      int64
	dirSize     int64
	bucketSize  int32
	bucketElems int32
	nextBlock   int64 // high-water mark for the next unallocated offset
	avail       *availBlock
}

func (db *DB) writeHeader() error {
	buf := db.blockBuf
	clear(buf)
	h := db.hdr
	le := binary.LittleEndian
	le.PutUint32(buf[0:], magicNumber)
	le.PutUint32(buf[4:], formatVersion)
	le.PutUint32(buf[8:], uint32(h.blockSize))
	le.PutUint32(buf[12:], uint32(h.dirBits))
	le.PutUint64(buf[16:], uint64(h.dirOff))
	le.PutUint64(buf[24:], uint64(h.dirSize))
	le.PutUint32(buf[32:], uint32(h.bucketSize))
	le.PutUint32(buf[36:], uint32(h.bucketElems))
	le.PutUint64(buf[40:], uint64(h.nextBlock))
	h.avail.encode(buf[headerFixedSize:])
	le.PutUint64(buf[offChecksum:], xxhash.Sum64(buf))
	return db.writeAt(buf, 0)
}

// readHeader loads and validates the header of an existing file.
func (db *DB) readHeader() error {
	le := binary.LittleEndian
	prefix := make([]byte, headerFixedSize)
	if _, err := db.file.ReadAt(prefix, 0); err != nil {
		return fmt.Errorf("%w: reading header: %v", ErrBadHeader, err)
	}
	if le.Uint32(prefix[0:]) != magicNumber {
		return ErrBadMagic
	}
	if le.Uint32(prefix[4:]) != formatVersion {
		return fmt.Errorf("%w: unsupported format version %d", ErrBadMagic, le.Uint32(prefix[4:]))
	}
	blockSize := int32(le.Uint32(prefix[8:]))
	if blockSize < MinBlockSize || blockSize > 1<<24 {
		return ErrBlockSize
	}

	buf := make([]byte, blockSize)
	if _, err := db.file.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("%w: reading header: %v", ErrBadHeader, err)
	}
	sum := le.Uint64(buf[offChecksum:])
	le.PutUint64(buf[offChecksum:], 0)
	if xxhash.Sum64(buf) != sum {
		return fmt.Errorf("%w: checksum mismatch", ErrBadHeader)
	}

	h := &header{
		blockSize:   blockSize,
		dirBits:     int32(le.Uint32(buf[12:])),
		dirOff:      int64(le.Uint64(buf[16:])),
		dirSize:     int64(le.Uint64(buf[24:])),
		bucketSize:  int32(le.Uint32(buf[32:])),
		bucketElems: int32(le.Uint32(buf[36:])),
		nextBlock:   int64(le.Uint64(buf[40:])),
	}
	if h.dirBits < 1 || h.dirBits > maxDirBits ||
		h.dirSize != dirEntrySize<<uint(h.dirBits) ||
		h.dirOff <= 0 || h.nextBlock <= 0 {
		return ErrBadHeader
	}
	if h.bucketSize != blockSize || h.bucketElems < 1 ||
		bucketHeaderSize+int(h.bucketElems)*slotSize > int(h.bucketSize) {
		return ErrBadHeader
	}
	av, err := decodeAvailBlock(buf[headerFixedSize:])
	if err != nil {
		return err
	}
	if av.size != headerAvailCap(int(blockSize)) {
		return ErrBadHeader
	}
	h.avail = av
	db.hdr = h
	db.blockBuf = make([]byte, blockSize)
	return nil
}

func (db *DB) writeDirectory() error {
	buf := make([]byte, len(db.dir)*dirEntrySize)
	for i, adr := range db.dir {
		binary.LittleEndian.PutUint64(buf[i*dirEntrySize:], uint64(adr))
	}
	return db.writeAt(buf, db.hdr.dirOff)
}

func (db *DB) readDirectory() error {
	buf := make([]byte, db.hdr.dirSize)
	if _, err := db.file.ReadAt(buf, db.hdr.dirOff); err != nil {
		return fmt.Errorf("%w: reading directory: %v", ErrBadHeader, err)
	}
	db.dir = make([]int64, db.hdr.dirSize/dirEntrySize)
	for i := range db.dir {
		db.dir[i] = int64(binary.LittleEndian.Uint64(buf[i*dirEntrySize:]))
	}
	return nil
}
