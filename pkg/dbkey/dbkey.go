// Package dbkey implements the composite key convention used by the object
// database layer: a variable-length payload key followed by a fixed 4-byte
// record-type tag. The storage engine itself is agnostic to this layout; the
// tag exists to keep different subsystems from colliding in one namespace.
package dbkey

import (
	"encoding/binary"
	"errors"
)

// TagSize is the number of trailing bytes a composite key spends on the type tag.
const TagSize = 4

// ErrTooShort is returned by Split for keys shorter than the tag itself.
var ErrTooShort = errors.New("dbkey: key shorter than type tag")

// Compose builds an engine key from a payload and a record-type tag.
func Compose(payload []byte, typ uint32) []byte {
	key := make([]byte, len(payload)+TagSize)
	copy(key, payload)
	binary.LittleEndian.PutUint32(key[len(payload):], typ)
	return key
}

// Split takes a composite key apart. The payload slice aliases key.
func Split(key []byte) (payload []byte, typ uint32, err error) {
	if len(key) < TagSize {
		return nil, 0, ErrTooShort
	}
	n := len(key) - TagSize
	return key[:n], binary.LittleEndian.Uint32(key[n:]), nil
}
