package store

import (
	"encoding/binary"
	"errors"
	"math"
	"sort"
)

// The free-space allocator tracks reclaimed disk regions in a table of
// {size, address} pairs sorted ascending by size. The main table is embedded
// in the header block; when it fills, half of it is pushed onto a chain of
// overflow blocks on disk. Each bucket additionally carries a small local
// table for fragments freed while it was current, so record-sized churn never
// touches the header.

// availElem is one reclaimed region. On disk: size int32, address int64,
// 12 bytes.
type availElem struct {
	sz  int32
	adr int64
}

const (
	availElemSize   = 12
	availHeaderSize = 16
)

// availBlock is the codec for both the header-embedded table and the chained
// overflow blocks. elems is kept sorted ascending by size.
type availBlock struct {
	size  int32 // capacity in elements
	next  int64 // file address of the next chained block, 0 for none
	elems []availElem
}

func newAvailBlock(capacity int32) *availBlock {
	return &availBlock{size: capacity, elems: make([]availElem, 0, capacity)}
}

// headerAvailCap is the element capacity of the table embedded in a header
// block of the given size.
func headerAvailCap(blockSize int) int32 {
	return int32((blockSize - headerFixedSize - availHeaderSize) / availElemSize)
}

// availBlockBytes is the on-disk size of a chained block with the given
// element capacity.
func availBlockBytes(capacity int32) int {
	return availHeaderSize + int(capacity)*availElemSize
}

func (av *availBlock) encode(buf []byte) {
	le := binary.LittleEndian
	le.PutUint32(buf[0:], uint32(av.size))
	le.PutUint32(buf[4:], uint32(len(av.elems)))
	le.PutUint64(buf[8:], uint64(av.next))
	off := availHeaderSize
	for _, e := range av.elems {
		le.PutUint32(buf[off:], uint32(e.sz))
		le.PutUint64(buf[off+4:], uint64(e.adr))
		off += availElemSize
	}
}

func decodeAvailBlock(buf []byte) (*availBlock, error) {
	le := binary.LittleEndian
	size := int32(le.Uint32(buf[0:]))
	count := int32(le.Uint32(buf[4:]))
	if size < 1 || count < 0 || count > size || availBlockBytes(size) > len(buf) {
		return nil, ErrBadHeader
	}
	av := &availBlock{
		size:  size,
		next:  int64(le.Uint64(buf[8:])),
		elems: make([]availElem, count, size),
	}
	off := availHeaderSize
	for i := range av.elems {
		av.elems[i].sz = int32(le.Uint32(buf[off:]))
		av.elems[i].adr = int64(le.Uint64(buf[off+4:]))
		off += availElemSize
	}
	return av, nil
}

// search finds the first table entry with at least n bytes.
func (av *availBlock) search(n int) (int, bool) {
	i := sort.Search(len(av.elems), func(i int) bool { return int(av.elems[i].sz) >= n })
	return i, i < len(av.elems)
}

// insert places e keeping the table sorted by size.
func (av *availBlock) insert(e availElem) {
	i := sort.Search(len(av.elems), func(i int) bool { return av.elems[i].sz >= e.sz })
	av.elems = append(av.elems, availElem{})
	copy(av.elems[i+1:], av.elems[i:])
	av.elems[i] = e
}

func (av *availBlock) remove(i int) {
	av.elems = append(av.elems[:i], av.elems[i+1:]...)
}

// coalesce merges the region [adr, adr+n) with any directly adjacent table
// entries, removing them, and returns the combined region.
func (av *availBlock) coalesce(adr int64, n int) (int64, int) {
	merged := true
	for merged {
		merged = false
		for i, e := range av.elems {
			switch {
			case e.adr+int64(e.sz) == adr:
				adr = e.adr
				n += int(e.sz)
			case adr+int64(n) == e.adr:
				n += int(e.sz)
			default:
				continue
			}
			av.remove(i)
			merged = true
			break
		}
	}
	return adr, n
}

// allocate returns the file address of n contiguous free bytes. The current
// bucket's local table is consulted first, then the header table, and only
// then does the file grow at the high-water mark. Returned regions never
// overlap.
func (db *DB) allocate(n int) (int64, error) {
	if n <= 0 {
		return 0, errors.New("store: bad allocation size")
	}
	if !db.centralFree && db.current != nil {
		b := db.current.bucket
		for i, e := range b.avail {
			if int(e.sz) >= n {
				adr := e.adr
				rest := int(e.sz) - n
				b.avail = append(b.avail[:i], b.avail[i+1:]...)
				db.markCurrentDirty()
				if err := db.free(adr+int64(n), rest); err != nil {
					return 0, err
				}
				return adr, nil
			}
		}
	}

	av := db.hdr.avail
	if len(av.elems) == 0 && av.next != 0 {
		if err := db.popAvailBlock(); err != nil {
			return 0, err
		}
	}
	if i, ok := av.search(n); ok {
		e := av.elems[i]
		av.remove(i)
		db.headerChanged = true
		if err := db.free(e.adr+int64(n), int(e.sz)-n); err != nil {
			return 0, err
		}
		return e.adr, nil
	}

	adr := db.hdr.nextBlock
	db.hdr.nextBlock += int64(n)
	db.headerChanged = true
	return adr, nil
}

// free returns the region [adr, adr+n) to the allocator. Fragments at or
// below the ignore threshold are dropped. Small regions prefer the current
// bucket's local table; everything else goes to the header table, coalescing
// with neighbors when enabled.
func (db *DB) free(adr int64, n int) error {
	if n <= ignoreSize || adr <= 0 || n > math.MaxInt32 {
		return nil
	}
	if !db.centralFree && n < int(db.hdr.blockSize) && db.current != nil {
		b := db.current.bucket
		if len(b.avail) < bucketAvailElems {
			b.insertAvail(availElem{sz: int32(n), adr: adr})
			db.markCurrentDirty()
			return nil
		}
	}

	av := db.hdr.avail
	if db.coalesce {
		adr, n = av.coalesce(adr, n)
	}
	if len(av.elems) >= int(av.size) {
		if err := db.pushAvailBlock(); err != nil {
			return err
		}
	}
	av.insert(availElem{sz: int32(n), adr: adr})
	db.headerChanged = true
	return nil
}

// pushAvailBlock moves every second entry of the full header table onto a
// freshly allocated chained block. The block is written immediately: the
// header only references it after its own (later) commit stage, keeping the
// chain crash-consistent.
func (db *DB) pushAvailBlock() error {
	av := db.hdr.avail
	size := availBlockBytes(av.size)
	adr := db.hdr.nextBlock
	db.hdr.nextBlock += int64(size)

	var keep, move []availElem
	for i, e := range av.elems {
		if i%2 == 0 {
			keep = append(keep, e)
		} else {
			move = append(move, e)
		}
	}
	blk := &availBlock{size: av.size, next: av.next, elems: move}
	buf := db.blockBuf[:size]
	clear(buf)
	blk.encode(buf)
	if err := db.writeAt(buf, adr); err != nil {
		return db.fatalf("avail block write", err)
	}
	av.elems = keep
	av.next = adr
	db.headerChanged = true
	return nil
}

// popAvailBlock refills the empty header table from the head of the overflow
// chain and returns the chain block's own space to the allocator.
func (db *DB) popAvailBlock() error {
	av := db.hdr.avail
	adr := av.next
	size := availBlockBytes(av.size)
	buf := make([]byte, size)
	if _, err := db.file.ReadAt(buf, adr); err != nil {
		return db.fatalf("avail block read", err)
	}
	blk, err := decodeAvailBlock(buf)
	if err != nil || blk.size != av.size {
		return db.fatalf("avail block decode", ErrBadHeader)
	}
	av.elems = blk.elems
	av.next = blk.next
	db.headerChanged = true
	return db.free(adr, size)
}
