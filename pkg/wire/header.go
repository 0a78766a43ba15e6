package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/tickreplica/engine/pkg/tick"
)

// PacketType distinguishes a packet carrying grouped SingleData blocks from
// one carrying a single FragmentData block, so the receiver knows how to
// parse the channel_blocks section (spec.md §4.1/§4.2).
type PacketType uint8

const (
	PacketTypeData PacketType = iota
	PacketTypeDataFragment
)

// Header is the fixed-size prefix of every packet: the packet's own id, the
// most recently received remote packet id being acknowledged, a bitfield of
// the 32 packets before that ack, the local tick at send time, and the
// packet type.
//
// Wire layout: packet_id(2) ack(2) ack_bits(4) tick(2) packet_type(1), all
// big-endian.
type Header struct {
	PacketID   tick.PacketId
	Ack        tick.PacketId
	AckBits    uint32
	Tick       tick.Tick
	PacketType PacketType
}

// HeaderLen is the fixed encoded length of a Header.
const HeaderLen = 2 + 2 + 4 + 2 + 1

// Encode appends the wire encoding of h to buf.
func (h Header) Encode(buf []byte) []byte {
	var tmp [HeaderLen]byte
	binary.BigEndian.PutUint16(tmp[0:2], uint16(h.PacketID))
	binary.BigEndian.PutUint16(tmp[2:4], uint16(h.Ack))
	binary.BigEndian.PutUint32(tmp[4:8], h.AckBits)
	binary.BigEndian.PutUint16(tmp[8:10], uint16(h.Tick))
	tmp[10] = uint8(h.PacketType)
	return append(buf, tmp[:]...)
}

// DecodeHeader reads a Header from the front of buf, returning the value and
// the number of bytes consumed.
func DecodeHeader(buf []byte) (Header, int, error) {
	if len(buf) < HeaderLen {
		return Header{}, 0, fmt.Errorf("%w: packet header", ErrShortBuffer)
	}
	h := Header{
		PacketID:   tick.PacketId(binary.BigEndian.Uint16(buf[0:2])),
		Ack:        tick.PacketId(binary.BigEndian.Uint16(buf[2:4])),
		AckBits:    binary.BigEndian.Uint32(buf[4:8]),
		Tick:       tick.Tick(binary.BigEndian.Uint16(buf[8:10])),
		PacketType: PacketType(buf[10]),
	}
	if h.PacketType != PacketTypeData && h.PacketType != PacketTypeDataFragment {
		return Header{}, 0, fmt.Errorf("%w: %d", ErrUnknownHeader, h.PacketType)
	}
	return h, HeaderLen, nil
}
