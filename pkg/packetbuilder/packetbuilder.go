// Package packetbuilder packs per-channel queues of ready messages into
// MTU-bounded datagrams, fragmenting oversized messages and grouping single
// messages from multiple channels into shared "Data" packets (spec.md
// §4.2).
package packetbuilder

import (
	"github.com/tickreplica/engine/pkg/tick"
	"github.com/tickreplica/engine/pkg/wire"
)

// MTUPayloadBytes is the recommended maximum payload size for one datagram
// (spec.md §4.2).
const MTUPayloadBytes = 1150

// FragmentSize is the largest a single message's serialized form may be
// before the builder splits it into fragments; it leaves room for the
// packet header and the per-channel grouping overhead.
const FragmentSize = MTUPayloadBytes - wire.HeaderLen - 8

// ChannelQueue is one channel's messages ready to be packed this round, as
// returned by channel.Sender.SendPacket.
type ChannelQueue struct {
	Channel wire.ChannelID
	Singles []wire.SendMessage
}

// Packet is a fully built datagram payload plus the header that describes
// it, and the set of (channel, MessageAck) pairs it carries so the caller
// can record them against the header's packet id.
type Packet struct {
	Header  wire.Header
	Payload []byte
	Acks    []ChannelAck
}

// ChannelAck pairs a channel with the ack the message manager should watch
// for once this packet's header.PacketID is acknowledged.
type ChannelAck struct {
	Channel wire.ChannelID
	Ack     wire.MessageAck
}

// HeaderFunc produces the header for the next outgoing packet, typically
// ackmgr.Manager.Header.
type HeaderFunc func(pt wire.PacketType) wire.Header

// fragmentIDAllocator hands out synthetic MessageIds for messages that
// need fragmenting but arrived from the channel with no id of their own
// (unordered/tick-buffered channels don't assign one since they don't
// track acks).
type fragmentIDAllocator struct {
	next tick.MessageId
}

func (a *fragmentIDAllocator) allocate() tick.MessageId {
	id := a.next
	a.next = a.next.Add(1)
	return id
}

// Build packs queues into zero or more packets, calling next for every
// packet's header.
func Build(next HeaderFunc, queues []ChannelQueue) []Packet {
	var packets []Packet
	var alloc fragmentIDAllocator

	// Pass 1: split oversized messages into their own fragment packets.
	type pending struct {
		channel wire.ChannelID
		data    *wire.SingleData
	}
	var small []pending

	for _, q := range queues {
		for _, m := range q.Singles {
			sd, ok := m.Data.(*wire.SingleData)
			if !ok {
				continue
			}
			if sd.Len() <= FragmentSize {
				small = append(small, pending{channel: q.Channel, data: sd})
				continue
			}

			id, hasID := sd.ID()
			if !hasID {
				id = alloc.allocate()
			}
			packets = append(packets, fragmentMessage(next, q.Channel, id, sd.Payload)...)
		}
	}

	// Pass 2: group remaining small singles by channel into Data packets,
	// splitting into a new packet whenever the next message would overflow
	// the MTU.
	type openBlock struct {
		channel wire.ChannelID
		data    []*wire.SingleData
	}
	var blocks []openBlock
	blockIndex := make(map[wire.ChannelID]int)
	size := wire.HeaderLen + 1 // +1 byte of slack; the Data body has no outer block count

	flush := func() {
		if len(blocks) == 0 {
			return
		}
		wireBlocks := make([]wire.ChannelBlock, len(blocks))
		var acks []ChannelAck
		for i, b := range blocks {
			wireBlocks[i] = wire.ChannelBlock{Channel: b.channel, Data: b.data}
			for _, d := range b.data {
				if id, ok := d.ID(); ok {
					acks = append(acks, ChannelAck{Channel: b.channel, Ack: wire.MessageAck{MessageID: id}})
				}
			}
		}
		header := next(wire.PacketTypeData)
		payload := header.Encode(nil)
		payload = wire.EncodeDataBlocks(payload, wireBlocks)
		packets = append(packets, Packet{Header: header, Payload: payload, Acks: acks})

		blocks = nil
		blockIndex = make(map[wire.ChannelID]int)
		size = wire.HeaderLen + 1
	}

	for _, p := range small {
		msgSize := p.data.Len()
		idx, ok := blockIndex[p.channel]
		extra := msgSize
		if !ok {
			extra += 2 + 1 // channel id + count varint (lower bound)
		}
		if size+extra > MTUPayloadBytes && len(blocks) > 0 {
			flush()
			idx, ok = 0, false
		}
		if !ok {
			blockIndex[p.channel] = len(blocks)
			blocks = append(blocks, openBlock{channel: p.channel})
			idx = len(blocks) - 1
			size += 2 + 1
		}
		blocks[idx].data = append(blocks[idx].data, p.data)
		size += msgSize
	}
	flush()

	return packets
}

// fragmentMessage splits payload into ceil(len/FragmentSize) FragmentData
// packets sharing id, one fragment per packet (spec.md §4.2, §9).
func fragmentMessage(next HeaderFunc, channel wire.ChannelID, id tick.MessageId, payload []byte) []Packet {
	numFragments := (len(payload) + FragmentSize - 1) / FragmentSize
	if numFragments == 0 {
		numFragments = 1
	}
	packets := make([]Packet, 0, numFragments)
	for i := 0; i < numFragments; i++ {
		start := i * FragmentSize
		end := start + FragmentSize
		if end > len(payload) {
			end = len(payload)
		}
		frag := &wire.FragmentData{
			MessageID:    id,
			FragmentID:   tick.FragmentIndex(i),
			NumFragments: tick.FragmentIndex(numFragments),
			Payload:      payload[start:end],
		}
		header := next(wire.PacketTypeDataFragment)
		body := wire.DataFragmentPayload{Channel: channel, Fragment: frag}
		payloadBytes := header.Encode(nil)
		payloadBytes = body.Encode(payloadBytes)

		fragIdx := frag.FragmentID
		packets = append(packets, Packet{
			Header:  header,
			Payload: payloadBytes,
			Acks:    []ChannelAck{{Channel: channel, Ack: wire.MessageAck{MessageID: id, FragmentID: &fragIdx}}},
		})
	}
	return packets
}
