// Package wireabi fixes the numeric encoding used on the privsep wire.
//
// The daemon this package talks to is a re-exec of the parent binary rather
// than a fork()'d child, so the two sides do not share an address-space ABI.
// That rules out encoding Number atoms as the native machine word; this
// package fixes an explicit little-endian uint64 instead.
package wireabi

import "encoding/binary"

// NumberSize is the on-wire width of a Number atom, in bytes.
const NumberSize = 8

// Order is the fixed byte order for every Number atom on the wire.
var Order = binary.LittleEndian

// PutNumber encodes v into the first NumberSize bytes of dst.
func PutNumber(dst []byte, v uint64) {
	Order.PutUint64(dst, v)
}

// Number decodes a Number atom from the first NumberSize bytes of src.
func Number(src []byte) uint64 {
	return Order.Uint64(src)
}
