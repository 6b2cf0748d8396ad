// Package codec holds the little-endian primitives shared by the CIP and
// ENIP encoders, plus a bounds-checked cursor for decoding wire data.
package codec

import "encoding/binary"

// PutUint16 writes a little-endian uint16 to dst.
func PutUint16(dst []byte, value uint16) {
	binary.LittleEndian.PutUint16(dst, value)
}

// PutUint32 writes a little-endian uint32 to dst.
func PutUint32(dst []byte, value uint32) {
	binary.LittleEndian.PutUint32(dst, value)
}

// AppendUint16 appends a little-endian uint16 to dst.
func AppendUint16(dst []byte, value uint16) []byte {
	return binary.LittleEndian.AppendUint16(dst, value)
}

// AppendUint32 appends a little-endian uint32 to dst.
func AppendUint32(dst []byte, value uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, value)
}

// AppendUint64 appends a little-endian uint64 to dst.
func AppendUint64(dst []byte, value uint64) []byte {
	return binary.LittleEndian.AppendUint64(dst, value)
}
