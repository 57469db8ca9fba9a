// Package slice implements the V-Frame slice (mini-tensor) codec: a typed,
// shaped, length-implied tensor payload nested inside a frame (spec §4.2).
package slice

import (
	"encoding/binary"
	"fmt"

	"github.com/ryssroad/resonant/dtype"
)

// MaxShapeLen is the pragmatic ceiling on the number of shape dimensions a
// slice may carry.
const MaxShapeLen = 8

// headerFixedLen is the dtype + shape_len byte pair preceding the shape
// vector.
const headerFixedLen = 2

// Kind enumerates the slice codec's error taxonomy (spec §4.2).
type Kind int

const (
	BadShape Kind = iota
	DTypeUnknown
	SliceLengthMismatch
)

func (k Kind) String() string {
	switch k {
	case BadShape:
		return "BadShape"
	case DTypeUnknown:
		return "DTypeUnknown"
	case SliceLengthMismatch:
		return "SliceLengthMismatch"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the structured error type returned by this package.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("slice: %s: %s", e.Kind, e.Msg)
}

func errf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Slice is a single typed tensor nested inside a V-Frame.
type Slice struct {
	DType   dtype.DType
	Shape   []uint32
	Payload []byte
}

// NumElements returns the product of Shape, or 1 for a scalar (Shape of
// length 0), per spec §8's boundary behavior.
func (s Slice) NumElements() uint64 {
	n := uint64(1)
	for _, d := range s.Shape {
		n *= uint64(d)
	}
	return n
}

// HeaderLen returns the encoded length of dtype + shape_len + shape[],
// i.e. everything preceding the payload.
func (s Slice) HeaderLen() int {
	return headerFixedLen + 4*len(s.Shape)
}

// EncodedLen returns the total encoded length of s.
func (s Slice) EncodedLen() int {
	return s.HeaderLen() + len(s.Payload)
}

// Encode serializes s as dtype:u8 | shape_len:u8 | shape[]:u32_le | payload.
func (s Slice) Encode() ([]byte, error) {
	if len(s.Shape) > MaxShapeLen {
		return nil, errf(BadShape, "shape_len %d exceeds ceiling %d", len(s.Shape), MaxShapeLen)
	}
	if !s.DType.IsKnown() {
		return nil, errf(DTypeUnknown, "dtype 0x%02x", uint8(s.DType))
	}
	if err := s.checkPayloadLength(); err != nil {
		return nil, err
	}

	buf := make([]byte, s.EncodedLen())
	buf[0] = uint8(s.DType)
	buf[1] = uint8(len(s.Shape))
	off := headerFixedLen
	for _, d := range s.Shape {
		binary.LittleEndian.PutUint32(buf[off:], d)
		off += 4
	}
	copy(buf[off:], s.Payload)
	return buf, nil
}

// checkPayloadLength verifies the fixed-width invariant
// payload_bytes = element_size(dtype) * prod(shape) (spec §3). Sparse
// dtypes skip the check — their element count lives in a companion slice.
func (s Slice) checkPayloadLength() error {
	if s.DType.IsSparse() {
		return nil
	}
	want, ok := dtype.PayloadBytes(s.DType, int(s.NumElements()))
	if !ok {
		return errf(DTypeUnknown, "no fixed element size for dtype 0x%02x", uint8(s.DType))
	}
	if want != len(s.Payload) {
		return errf(SliceLengthMismatch, "want %d payload bytes for %d elements of %s, got %d",
			want, s.NumElements(), s.DType, len(s.Payload))
	}
	return nil
}

// Decode parses a single slice from b, where b is exactly the encoded
// bytes of one slice (the enclosing frame supplies this boundary via its
// slice_len[] header field or, for a transformed region, via the
// self-describing record layout in package frame).
func Decode(b []byte) (Slice, error) {
	if len(b) < headerFixedLen {
		return Slice{}, errf(BadShape, "slice shorter than fixed header: %d bytes", len(b))
	}
	d := dtype.DType(b[0])
	shapeLen := int(b[1])
	if shapeLen > MaxShapeLen {
		return Slice{}, errf(BadShape, "shape_len %d exceeds ceiling %d", shapeLen, MaxShapeLen)
	}
	headerLen := headerFixedLen + 4*shapeLen
	if len(b) < headerLen {
		return Slice{}, errf(BadShape, "slice too short for shape_len %d: %d bytes", shapeLen, len(b))
	}
	if !d.IsKnown() {
		return Slice{}, errf(DTypeUnknown, "dtype 0x%02x", uint8(d))
	}

	shape := make([]uint32, shapeLen)
	off := headerFixedLen
	for i := range shape {
		shape[i] = binary.LittleEndian.Uint32(b[off:])
		off += 4
	}

	payload := make([]byte, len(b)-headerLen)
	copy(payload, b[headerLen:])
	s := Slice{DType: d, Shape: shape, Payload: payload}
	if err := s.checkPayloadLength(); err != nil {
		return Slice{}, err
	}
	return s, nil
}
