package wire

import (
	"encoding/binary"
	"fmt"
)

// MaxVarintLen is the longest a uint64 LEB128-style varint can encode to,
// matching encoding/binary's own limit.
const MaxVarintLen = binary.MaxVarintLen64

// PutUvarint appends the varint encoding of v to buf and returns the
// extended slice. This is the same unsigned LEB128 layout spec.md §4.1
// calls for the length prefixes on SingleData and FragmentData.
func PutUvarint(buf []byte, v uint64) []byte {
	var tmp [MaxVarintLen]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

// ReadUvarint decodes a varint from the front of buf, returning the value
// and the number of bytes consumed.
func ReadUvarint(buf []byte) (uint64, int, error) {
	v, n := binary.Uvarint(buf)
	if n <= 0 {
		return 0, 0, fmt.Errorf("%w: truncated varint", ErrShortBuffer)
	}
	return v, n, nil
}

// VarintLen returns the number of bytes PutUvarint would use to encode v.
func VarintLen(v uint64) int {
	var tmp [MaxVarintLen]byte
	return binary.PutUvarint(tmp[:], v)
}
