// Package dtype implements the closed tensor dtype, modality, and message
// type enumerations shared by every V-Frame. Keeping these as fixed
// numeric sets lets the frame parser validate every byte without
// allocation or table lookups in the hot path.
package dtype

import "fmt"

// DType identifies the element encoding of a slice's payload.
type DType uint8

// Wire values, fixed by the protocol.
const (
	F16       DType = 0x01
	I8        DType = 0x02
	Q4        DType = 0x03
	SparseCoo DType = 0x10
)

func (d DType) String() string {
	switch d {
	case F16:
		return "F16"
	case I8:
		return "I8"
	case Q4:
		return "Q4"
	case SparseCoo:
		return "SparseCoo"
	default:
		return fmt.Sprintf("DType(0x%02x)", uint8(d))
	}
}

// IsKnown reports whether d is one of the fixed dtype values. Decoders use
// this to reject frames from a newer protocol revision instead of
// misinterpreting an unrecognised dtype.
func (d DType) IsKnown() bool {
	switch d {
	case F16, I8, Q4, SparseCoo:
		return true
	default:
		return false
	}
}

// IsSparse reports whether d carries its element count out of band, in a
// companion slice, rather than implying it from the shape.
func (d DType) IsSparse() bool {
	return d == SparseCoo
}

// ElementSizeBits returns the size in bits of a single element of d. For
// SparseCoo the size is not fixed — ok is false and the caller must
// consult the companion slice convention (see package slice).
func ElementSizeBits(d DType) (bits int, ok bool) {
	switch d {
	case F16:
		return 16, true
	case I8:
		return 8, true
	case Q4:
		return 4, true
	case SparseCoo:
		return 0, false
	default:
		return 0, false
	}
}

// PayloadBytes returns the number of payload bytes required to hold n
// elements of d, rounded up to a whole byte (Q4 with an odd element count
// leaves the trailing nibble zero-padded). ok is false for dtypes whose
// element size is not fixed-width (SparseCoo).
func PayloadBytes(d DType, n int) (size int, ok bool) {
	bits, ok := ElementSizeBits(d)
	if !ok {
		return 0, false
	}
	total := bits * n
	return (total + 7) / 8, true
}

// Modality identifies the kind of latent data a frame carries.
type Modality uint8

const (
	Text  Modality = 0
	Image Modality = 1
	Audio Modality = 2
	Graph Modality = 3
	Mixed Modality = 4
)

func (m Modality) String() string {
	switch m {
	case Text:
		return "Text"
	case Image:
		return "Image"
	case Audio:
		return "Audio"
	case Graph:
		return "Graph"
	case Mixed:
		return "Mixed"
	default:
		return fmt.Sprintf("Modality(%d)", uint8(m))
	}
}

// IsKnown reports whether m is one of the fixed modality values.
func (m Modality) IsKnown() bool {
	return m <= Mixed
}

// MessageType identifies the kind of message a frame carries.
type MessageType uint8

const (
	Think    MessageType = 0
	Cache    MessageType = 1
	Ask      MessageType = 2
	Sync     MessageType = 3
	Critique MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case Think:
		return "Think"
	case Cache:
		return "Cache"
	case Ask:
		return "Ask"
	case Sync:
		return "Sync"
	case Critique:
		return "Critique"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// IsKnown reports whether t is one of the fixed message type values.
func (t MessageType) IsKnown() bool {
	return t <= Critique
}
