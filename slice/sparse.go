package slice

import (
	"encoding/binary"

	"github.com/ryssroad/resonant/dtype"
)

// SparseValueDType is the fixed value dtype this implementation uses for
// SparseCoo slices: nnz values of this type follow the sparse slice's own
// header. See SPEC_FULL.md §3 for the rationale — spec.md fixes only the
// presence of a companion index slice, not its layout, and invites an
// implementation to pick one.
const SparseValueDType = dtype.F16

// CompanionIndices builds the I8-dtype companion slice carrying flattened
// int32-little-endian index tuples for a SparseCoo slice of the given rank
// (len(shape) of the sparse slice). idx must have length nnz*rank.
func CompanionIndices(rank int, idx []int32) Slice {
	buf := make([]byte, 4*len(idx))
	for i, v := range idx {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(v))
	}
	return Slice{
		DType:   dtype.I8,
		Shape:   []uint32{uint32(len(buf))},
		Payload: buf,
	}
}

// DecodeCompanionIndices is the inverse of CompanionIndices.
func DecodeCompanionIndices(s Slice) ([]int32, error) {
	if s.DType != dtype.I8 {
		return nil, errf(DTypeUnknown, "companion index slice must be I8, got %s", s.DType)
	}
	if len(s.Payload)%4 != 0 {
		return nil, errf(SliceLengthMismatch, "companion index payload %d bytes not a multiple of 4", len(s.Payload))
	}
	idx := make([]int32, len(s.Payload)/4)
	for i := range idx {
		idx[i] = int32(binary.LittleEndian.Uint32(s.Payload[4*i:]))
	}
	return idx, nil
}

// SparseNNZ returns the number of nonzero entries encoded in a SparseCoo
// slice's payload, given the fixed SparseValueDType.
func SparseNNZ(s Slice) (int, error) {
	if s.DType != dtype.SparseCoo {
		return 0, errf(DTypeUnknown, "expected SparseCoo, got %s", s.DType)
	}
	bits, _ := dtype.ElementSizeBits(SparseValueDType)
	elemBytes := bits / 8
	if elemBytes == 0 || len(s.Payload)%elemBytes != 0 {
		return 0, errf(SliceLengthMismatch, "sparse payload %d bytes not a multiple of value size %d", len(s.Payload), elemBytes)
	}
	return len(s.Payload) / elemBytes, nil
}
