package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/tickreplica/engine/pkg/tick"
)

// MessageAck is what the header/ack manager hands back to a channel sender
// once the remote has acknowledged the packet that carried a message,
// identifying which logical message (and, for a fragmented message, which
// fragment) was delivered.
type MessageAck struct {
	MessageID  tick.MessageId
	FragmentID *tick.FragmentIndex
}

// Data is either a SingleData or a FragmentData, the two shapes a logical
// message can take once serialized for the wire (spec.md §4.1).
type Data interface {
	// ID returns the message id, if one has been assigned. Unreliable,
	// unordered single messages may never get one.
	ID() (tick.MessageId, bool)
	// SetID assigns a message id, used when a channel needs fragmentation
	// or acknowledgement tracking for a message that didn't have one yet.
	SetID(id tick.MessageId)
	// Len returns the encoded length in bytes.
	Len() int
	// Bytes returns the payload carried by this message.
	Bytes() []byte
}

// SingleData is a message small enough to fit in one packet, optionally
// carrying a message id for channels that need ordering or acks.
//
// Wire layout: flag(1) [ id(2, big-endian) ] varint(len) bytes
type SingleData struct {
	ID_     *tick.MessageId
	Payload []byte
}

func (s *SingleData) ID() (tick.MessageId, bool) {
	if s.ID_ == nil {
		return 0, false
	}
	return *s.ID_, true
}

func (s *SingleData) SetID(id tick.MessageId) {
	s.ID_ = &id
}

func (s *SingleData) Len() int {
	idLen := 1
	if s.ID_ != nil {
		idLen = 3
	}
	return idLen + VarintLen(uint64(len(s.Payload))) + len(s.Payload)
}

func (s *SingleData) Bytes() []byte {
	return s.Payload
}

// Encode appends the wire encoding of s to buf.
func (s *SingleData) Encode(buf []byte) []byte {
	if s.ID_ != nil {
		buf = append(buf, 1)
		var idBuf [2]byte
		binary.BigEndian.PutUint16(idBuf[:], uint16(*s.ID_))
		buf = append(buf, idBuf[:]...)
	} else {
		buf = append(buf, 0)
	}
	buf = PutUvarint(buf, uint64(len(s.Payload)))
	buf = append(buf, s.Payload...)
	return buf
}

// DecodeSingleData reads a SingleData from the front of buf, returning the
// value and the number of bytes consumed.
func DecodeSingleData(buf []byte) (*SingleData, int, error) {
	if len(buf) < 1 {
		return nil, 0, fmt.Errorf("%w: single data flag", ErrShortBuffer)
	}
	off := 0
	flag := buf[off]
	off++

	var id *tick.MessageId
	if flag == 1 {
		if len(buf) < off+2 {
			return nil, 0, fmt.Errorf("%w: single data id", ErrShortBuffer)
		}
		v := tick.MessageId(binary.BigEndian.Uint16(buf[off : off+2]))
		id = &v
		off += 2
	}

	n, consumed, err := ReadUvarint(buf[off:])
	if err != nil {
		return nil, 0, fmt.Errorf("single data length: %w", err)
	}
	off += consumed

	if uint64(len(buf)-off) < n {
		return nil, 0, fmt.Errorf("%w: single data payload", ErrShortBuffer)
	}
	payload := make([]byte, n)
	copy(payload, buf[off:off+int(n)])
	off += int(n)

	return &SingleData{ID_: id, Payload: payload}, off, nil
}

// FragmentData is one fragment of a message too large to fit in a single
// packet. Every fragment of the same message shares MessageID and
// NumFragments; FragmentID is its position within the sequence.
//
// Wire layout: message_id(2, big-endian) fragment_id(1) num_fragments(1) varint(len) bytes
type FragmentData struct {
	MessageID    tick.MessageId
	FragmentID   tick.FragmentIndex
	NumFragments tick.FragmentIndex
	Payload      []byte
}

func (f *FragmentData) ID() (tick.MessageId, bool) {
	return f.MessageID, true
}

func (f *FragmentData) SetID(id tick.MessageId) {
	f.MessageID = id
}

func (f *FragmentData) Len() int {
	return 4 + VarintLen(uint64(len(f.Payload))) + len(f.Payload)
}

func (f *FragmentData) Bytes() []byte {
	return f.Payload
}

// IsLast reports whether this is the final fragment of its message.
func (f *FragmentData) IsLast() bool {
	return f.FragmentID == f.NumFragments-1
}

// Encode appends the wire encoding of f to buf.
func (f *FragmentData) Encode(buf []byte) []byte {
	var idBuf [2]byte
	binary.BigEndian.PutUint16(idBuf[:], uint16(f.MessageID))
	buf = append(buf, idBuf[:]...)
	buf = append(buf, f.FragmentID, f.NumFragments)
	buf = PutUvarint(buf, uint64(len(f.Payload)))
	buf = append(buf, f.Payload...)
	return buf
}

// DecodeFragmentData reads a FragmentData from the front of buf, returning
// the value and the number of bytes consumed.
func DecodeFragmentData(buf []byte) (*FragmentData, int, error) {
	if len(buf) < 4 {
		return nil, 0, fmt.Errorf("%w: fragment header", ErrShortBuffer)
	}
	messageID := tick.MessageId(binary.BigEndian.Uint16(buf[0:2]))
	fragmentID := buf[2]
	numFragments := buf[3]
	off := 4

	if numFragments == 0 || fragmentID >= numFragments {
		return nil, 0, fmt.Errorf("%w: fragment %d/%d", ErrBadFragment, fragmentID, numFragments)
	}

	n, consumed, err := ReadUvarint(buf[off:])
	if err != nil {
		return nil, 0, fmt.Errorf("fragment data length: %w", err)
	}
	off += consumed

	if uint64(len(buf)-off) < n {
		return nil, 0, fmt.Errorf("%w: fragment payload", ErrShortBuffer)
	}
	payload := make([]byte, n)
	copy(payload, buf[off:off+int(n)])
	off += int(n)

	return &FragmentData{
		MessageID:    messageID,
		FragmentID:   fragmentID,
		NumFragments: numFragments,
		Payload:      payload,
	}, off, nil
}

// SendMessage pairs a Data with the priority it should be admitted with by
// the priority manager.
type SendMessage struct {
	Data     Data
	Priority float32
}

// ReceiveMessage pairs a decoded Data with the remote tick it was sent at,
// recovered from the packet header that carried it.
type ReceiveMessage struct {
	Data           Data
	RemoteSentTick tick.Tick
}
