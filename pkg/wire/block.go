package wire

import (
	"fmt"
)

// ChannelID identifies a channel within the registry each connection
// shares with its peer (spec.md §4.4).
type ChannelID uint16

// ChannelBlock groups every SingleData message buffered for one channel in
// a single "Data" packet, matching the layout message_manager uses on the
// Rust side: channel_id, a count, then that many SingleData entries.
type ChannelBlock struct {
	Channel ChannelID
	Data    []*SingleData
}

// EncodeDataBlocks appends a PacketTypeData payload (one ChannelBlock per
// channel that had something to send) to buf. The body is a bare run of
// channel groups with no outer count: `channel_group+` (spec.md §6.1),
// parsed to end-of-buffer by DecodeDataBlocks.
func EncodeDataBlocks(buf []byte, blocks []ChannelBlock) []byte {
	for _, b := range blocks {
		buf = PutUvarint(buf, uint64(b.Channel))
		buf = PutUvarint(buf, uint64(len(b.Data)))
		for _, d := range b.Data {
			buf = d.Encode(buf)
		}
	}
	return buf
}

// DecodeDataBlocks parses a PacketTypeData payload back into its
// ChannelBlocks, consuming channel groups until buf is exhausted.
func DecodeDataBlocks(buf []byte) ([]ChannelBlock, error) {
	var blocks []ChannelBlock
	off := 0
	for off < len(buf) {
		channelID, n, err := ReadUvarint(buf[off:])
		if err != nil {
			return nil, fmt.Errorf("channel id: %w", err)
		}
		off += n
		channel := ChannelID(channelID)

		count, n, err := ReadUvarint(buf[off:])
		if err != nil {
			return nil, fmt.Errorf("channel %d message count: %w", channel, err)
		}
		off += n

		data := make([]*SingleData, 0, count)
		for j := uint64(0); j < count; j++ {
			sd, n, err := DecodeSingleData(buf[off:])
			if err != nil {
				return nil, fmt.Errorf("channel %d message %d: %w", channel, j, err)
			}
			off += n
			data = append(data, sd)
		}
		blocks = append(blocks, ChannelBlock{Channel: channel, Data: data})
	}
	return blocks, nil
}

// DataFragmentPayload is the payload of a PacketTypeDataFragment packet: the
// channel the fragment belongs to, plus the fragment itself. Only one
// fragment travels per datagram (spec.md §4.2/§9).
type DataFragmentPayload struct {
	Channel  ChannelID
	Fragment *FragmentData
}

// Encode appends the wire encoding of p to buf.
func (p DataFragmentPayload) Encode(buf []byte) []byte {
	buf = PutUvarint(buf, uint64(p.Channel))
	return p.Fragment.Encode(buf)
}

// DecodeDataFragmentPayload parses a PacketTypeDataFragment payload.
func DecodeDataFragmentPayload(buf []byte) (DataFragmentPayload, error) {
	channelID, n, err := ReadUvarint(buf)
	if err != nil {
		return DataFragmentPayload{}, fmt.Errorf("fragment channel id: %w", err)
	}
	frag, _, err := DecodeFragmentData(buf[n:])
	if err != nil {
		return DataFragmentPayload{}, fmt.Errorf("fragment payload: %w", err)
	}
	return DataFragmentPayload{Channel: ChannelID(channelID), Fragment: frag}, nil
}
