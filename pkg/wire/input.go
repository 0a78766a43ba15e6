package wire

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/tickreplica/engine/pkg/tick"
)

// InputTargetTag discriminates the kind of entity an input message's diffs
// are attributed to.
type InputTargetTag uint8

const (
	InputTargetEntity InputTargetTag = iota
	InputTargetPrePredicted
	InputTargetGlobal
)

// InputTarget identifies who an input diff stream belongs to.
type InputTarget struct {
	Tag    InputTargetTag
	Entity EntityRef // valid for Entity and PrePredicted tags
}

// ActionDiffVariant discriminates the kind of input transition recorded.
type ActionDiffVariant uint8

const (
	DiffPressed ActionDiffVariant = iota
	DiffReleased
	DiffValueChanged
	DiffAxisPairChanged
)

// ActionDiff is a single recorded input transition for one action.
type ActionDiff struct {
	Variant ActionDiffVariant
	Action  uint64
	Value   float32 // ValueChanged
	X, Y    float32 // AxisPairChanged
}

// TickDiffs are the diffs recorded at one tick for one target.
type TickDiffs struct {
	TickOffset uint64 // varint distance back from EndTick
	Diffs      []ActionDiff
}

// TargetDiffs are every tick's diffs for one input target.
type TargetDiffs struct {
	Target    InputTarget
	PerTick   []TickDiffs
}

// InputMessage is the message transmitted each send interval, covering a
// redundant window of past ticks so a dropped datagram can still be
// recovered from the next one (spec.md §4.9, §6.3).
type InputMessage struct {
	EndTick tick.Tick
	Targets []TargetDiffs
}

// Encode appends the wire encoding of m to buf.
func (m InputMessage) Encode(buf []byte) []byte {
	var tb [2]byte
	binary.BigEndian.PutUint16(tb[:], uint16(m.EndTick))
	buf = append(buf, tb[:]...)
	buf = PutUvarint(buf, uint64(len(m.Targets)))
	for _, t := range m.Targets {
		buf = encodeInputTarget(buf, t.Target)
		buf = PutUvarint(buf, uint64(len(t.PerTick)))
		for _, td := range t.PerTick {
			buf = PutUvarint(buf, td.TickOffset)
			buf = PutUvarint(buf, uint64(len(td.Diffs)))
			for _, d := range td.Diffs {
				buf = encodeActionDiff(buf, d)
			}
		}
	}
	return buf
}

func encodeInputTarget(buf []byte, t InputTarget) []byte {
	buf = append(buf, uint8(t.Tag))
	if t.Tag == InputTargetEntity || t.Tag == InputTargetPrePredicted {
		buf = encodeEntityRef(buf, t.Entity)
	}
	return buf
}

func decodeInputTarget(buf []byte) (InputTarget, int, error) {
	if len(buf) < 1 {
		return InputTarget{}, 0, fmt.Errorf("%w: input target tag", ErrShortBuffer)
	}
	tag := InputTargetTag(buf[0])
	off := 1
	t := InputTarget{Tag: tag}
	if tag == InputTargetEntity || tag == InputTargetPrePredicted {
		ref, n, err := decodeEntityRef(buf[off:])
		if err != nil {
			return InputTarget{}, 0, fmt.Errorf("input target entity: %w", err)
		}
		t.Entity = ref
		off += n
	}
	return t, off, nil
}

func encodeActionDiff(buf []byte, d ActionDiff) []byte {
	buf = append(buf, uint8(d.Variant))
	buf = PutUvarint(buf, d.Action)
	switch d.Variant {
	case DiffValueChanged:
		var v [4]byte
		binary.BigEndian.PutUint32(v[:], math.Float32bits(d.Value))
		buf = append(buf, v[:]...)
	case DiffAxisPairChanged:
		var v [8]byte
		binary.BigEndian.PutUint32(v[0:4], math.Float32bits(d.X))
		binary.BigEndian.PutUint32(v[4:8], math.Float32bits(d.Y))
		buf = append(buf, v[:]...)
	}
	return buf
}

func decodeActionDiff(buf []byte) (ActionDiff, int, error) {
	if len(buf) < 1 {
		return ActionDiff{}, 0, fmt.Errorf("%w: action diff variant", ErrShortBuffer)
	}
	variant := ActionDiffVariant(buf[0])
	off := 1

	action, n, err := ReadUvarint(buf[off:])
	if err != nil {
		return ActionDiff{}, 0, fmt.Errorf("action diff action: %w", err)
	}
	off += n

	d := ActionDiff{Variant: variant, Action: action}
	switch variant {
	case DiffValueChanged:
		if len(buf)-off < 4 {
			return ActionDiff{}, 0, fmt.Errorf("%w: action diff value", ErrShortBuffer)
		}
		d.Value = math.Float32frombits(binary.BigEndian.Uint32(buf[off : off+4]))
		off += 4
	case DiffAxisPairChanged:
		if len(buf)-off < 8 {
			return ActionDiff{}, 0, fmt.Errorf("%w: action diff axis pair", ErrShortBuffer)
		}
		d.X = math.Float32frombits(binary.BigEndian.Uint32(buf[off : off+4]))
		d.Y = math.Float32frombits(binary.BigEndian.Uint32(buf[off+4 : off+8]))
		off += 8
	case DiffPressed, DiffReleased:
	default:
		return ActionDiff{}, 0, fmt.Errorf("wire: unknown action diff variant %d", variant)
	}
	return d, off, nil
}

// DecodeInputMessage parses an InputMessage from buf.
func DecodeInputMessage(buf []byte) (InputMessage, error) {
	if len(buf) < 2 {
		return InputMessage{}, fmt.Errorf("%w: input message end tick", ErrShortBuffer)
	}
	endTick := tick.Tick(binary.BigEndian.Uint16(buf[0:2]))
	off := 2

	targetCount, n, err := ReadUvarint(buf[off:])
	if err != nil {
		return InputMessage{}, fmt.Errorf("target count: %w", err)
	}
	off += n

	targets := make([]TargetDiffs, 0, targetCount)
	for i := uint64(0); i < targetCount; i++ {
		target, n, err := decodeInputTarget(buf[off:])
		if err != nil {
			return InputMessage{}, fmt.Errorf("target %d: %w", i, err)
		}
		off += n

		tickCount, n, err := ReadUvarint(buf[off:])
		if err != nil {
			return InputMessage{}, fmt.Errorf("target %d tick count: %w", i, err)
		}
		off += n

		perTick := make([]TickDiffs, 0, tickCount)
		for j := uint64(0); j < tickCount; j++ {
			tickOffset, n, err := ReadUvarint(buf[off:])
			if err != nil {
				return InputMessage{}, fmt.Errorf("target %d tick %d offset: %w", i, j, err)
			}
			off += n

			diffCount, n, err := ReadUvarint(buf[off:])
			if err != nil {
				return InputMessage{}, fmt.Errorf("target %d tick %d diff count: %w", i, j, err)
			}
			off += n

			diffs := make([]ActionDiff, 0, diffCount)
			for k := uint64(0); k < diffCount; k++ {
				d, n, err := decodeActionDiff(buf[off:])
				if err != nil {
					return InputMessage{}, fmt.Errorf("target %d tick %d diff %d: %w", i, j, k, err)
				}
				off += n
				diffs = append(diffs, d)
			}
			perTick = append(perTick, TickDiffs{TickOffset: tickOffset, Diffs: diffs})
		}
		targets = append(targets, TargetDiffs{Target: target, PerTick: perTick})
	}

	return InputMessage{EndTick: endTick, Targets: targets}, nil
}
