// Package frame implements the V-Frame codec: the self-contained binary
// framing layer with typed tensor slices, per-frame CRC32 integrity, and
// optional Zstandard compression / XChaCha20-Poly1305 AEAD (spec §4.3,
// §6). Encode and Decode are pure over their inputs — no sockets, no
// logging, no suspension (spec §5, §9 transport isolation design note).
package frame

import (
	"github.com/ryssroad/resonant/dtype"
	"github.com/ryssroad/resonant/slice"
)

// Version is the only wire version this codec understands.
const Version uint8 = 1

// MaxEncodedSize is the hard ceiling on a fully encoded V-Frame (spec §3).
const MaxEncodedSize = 65536

// crcLen is the trailing CRC32 field size.
const crcLen = 4

// headerBaseLen is everything up to and including frame_seq/num_slices,
// before the variable-length slice_len[] array.
const headerBaseLen = 1 + 1 + 2 + 4 + 8 + 8 // version,type,flags,stream_id,frame_seq,num_slices

// fixedTailLen is space_hash32 + modality, following slice_len[].
const fixedTailLen = 4 + 1

// Flags is the 16-bit per-frame flag bitset (spec §6).
type Flags uint16

const (
	FlagZstd       Flags = 1 << 0
	FlagXChaCha    Flags = 1 << 1
	FlagStrongTail Flags = 1 << 2
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// transformed reports whether a compression or AEAD transform applies to
// the slice region, which collapses the header's slice_len[] to a single
// entry (spec §4.3 step 4, §6).
func (f Flags) transformed() bool {
	return f.Has(FlagZstd) || f.Has(FlagXChaCha)
}

// Frame is a single V-Frame: header fields plus its parsed slices (spec
// §3). NumSlices is derived from len(Slices); it is not a settable field,
// since the wire's transient num_slices=1 under transform is an encoding
// detail, not part of the logical frame.
type Frame struct {
	Type        dtype.MessageType
	Flags       Flags
	StreamID    uint32
	FrameSeq    uint64
	SpaceHash32 uint32
	Modality    dtype.Modality
	Slices      []slice.Slice
}

// NumSlices returns the logical slice count.
func (f *Frame) NumSlices() int { return len(f.Slices) }
