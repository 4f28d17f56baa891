// Package hashfn provides the key hash used to route keys to hash buckets,
// plus the record fingerprint used for whole-database digests.
package hashfn

import (
	"encoding/binary"

	"github.com/spaolacci/murmur3"
)

// Sum computes a 31-bit hash of key. The value indexes the hash directory by
// its top bits and locates the home slot within a bucket modulo the bucket's
// table size.
//
// Sum is part of the on-disk format: changing it invalidates existing
// database files. Do not touch the constants.
func Sum(key []byte) int32 {
	value := uint32(0x238F13AF) * uint32(len(key))
	for i, b := range key {
		value = (value + uint32(b)<<(uint(i)*5%24)) & 0x7FFFFFFF
	}
	value = (1103515243*value + 12345) & 0x7FFFFFFF
	return int32(value)
}

// Fingerprint hashes one key/data record into 64 bits. It is not part of the
// on-disk format; digests built from it only ever compare records read
// through the same release.
func Fingerprint(key, data []byte) uint64 {
	h := murmur3.New64()
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(key)))
	h.Write(n[:])
	h.Write(key)
	h.Write(data)
	return h.Sum64()
}
