package frame

import (
	"encoding/binary"
	"errors"

	"github.com/ryssroad/resonant/slice"
)

// wrapSliceError preserves the structural kind of a slice.Decode failure
// (BadShape/DTypeUnknown/SliceLengthMismatch, spec §7) instead of
// flattening every such failure to TruncatedSlices.
func wrapSliceError(off, i int, err error) error {
	var se *slice.Error
	if errors.As(err, &se) {
		switch se.Kind {
		case slice.BadShape:
			return errf(SliceBadShape, off, "decode slice %d: %v", i, err)
		case slice.DTypeUnknown:
			return errf(SliceDTypeUnknown, off, "decode slice %d: %v", i, err)
		case slice.SliceLengthMismatch:
			return errf(SliceLengthMismatch, off, "decode slice %d: %v", i, err)
		}
	}
	return errf(TruncatedSlices, off, "decode slice %d: %v", i, err)
}

// encodeSlicesPlain serializes slices back to back with no extra framing;
// used when neither transform flag is set, where the header's own
// slice_len[] (one entry per slice) already gives every boundary.
func encodeSlicesPlain(slices []slice.Slice) (region []byte, sliceLens []uint32, err error) {
	sliceLens = make([]uint32, len(slices))
	total := 0
	encoded := make([][]byte, len(slices))
	for i, s := range slices {
		b, e := s.Encode()
		if e != nil {
			return nil, nil, e
		}
		encoded[i] = b
		sliceLens[i] = uint32(len(b))
		total += len(b)
	}
	region = make([]byte, 0, total)
	for _, b := range encoded {
		region = append(region, b...)
	}
	return region, sliceLens, nil
}

// decodeSlicesPlain splits region into len(sliceLens) slices using the
// explicit per-slice boundaries from the header.
func decodeSlicesPlain(region []byte, sliceLens []uint32) ([]slice.Slice, error) {
	out := make([]slice.Slice, len(sliceLens))
	off := 0
	for i, l := range sliceLens {
		if off+int(l) > len(region) {
			return nil, errf(TruncatedSlices, off, "slice %d needs %d bytes, only %d remain", i, l, len(region)-off)
		}
		s, err := slice.Decode(region[off : off+int(l)])
		if err != nil {
			return nil, wrapSliceError(off, i, err)
		}
		out[i] = s
		off += int(l)
	}
	return out, nil
}

// encodeSlicesSelfDescribing builds the pre-transform blob:
//
//	u64_le(N) || repeat_i( u32_le(len(slice_i_bytes)) || slice_i_bytes )
//
// This is the format compression/AEAD operate on when either transform
// flag is set (SPEC_FULL.md §3) — it lets a decoder recover every slice
// boundary after decompression/decryption even though the wire header
// itself has collapsed to a single slice_len entry.
func encodeSlicesSelfDescribing(slices []slice.Slice) ([]byte, error) {
	encoded := make([][]byte, len(slices))
	total := 8
	for i, s := range slices {
		b, err := s.Encode()
		if err != nil {
			return nil, err
		}
		encoded[i] = b
		total += 4 + len(b)
	}

	out := make([]byte, 8, total)
	binary.LittleEndian.PutUint64(out, uint64(len(slices)))
	for _, b := range encoded {
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
		out = append(out, lenBuf[:]...)
		out = append(out, b...)
	}
	return out, nil
}

// decodeSlicesSelfDescribing is the inverse of encodeSlicesSelfDescribing.
func decodeSlicesSelfDescribing(blob []byte) ([]slice.Slice, error) {
	if len(blob) < 8 {
		return nil, errf(TruncatedSlices, 0, "self-describing region shorter than the slice count prefix: %d bytes", len(blob))
	}
	n := binary.LittleEndian.Uint64(blob)
	off := 8
	// n is a record count read out of the decompressed/decrypted blob, not
	// the wire header — an attacker who controls the compressed bytes (or
	// the AEAD plaintext, given a key) controls n directly. Each record
	// needs at least 4 bytes (its length prefix), so bound n against the
	// blob's remaining length before using it as a capacity; otherwise a
	// crafted n like 0x0FFFFFFFFFFFFFFF panics make() regardless of CRC.
	maxN := uint64(len(blob)-8) / 4
	if n > maxN {
		return nil, errf(TruncatedSlices, 0, "self-describing region declares num_slices=%d, more than %d bytes could hold", n, len(blob)-8)
	}
	out := make([]slice.Slice, 0, n)
	for i := uint64(0); i < n; i++ {
		if off+4 > len(blob) {
			return nil, errf(TruncatedSlices, off, "missing length prefix for slice %d", i)
		}
		l := int(binary.LittleEndian.Uint32(blob[off:]))
		off += 4
		if off+l > len(blob) {
			return nil, errf(TruncatedSlices, off, "slice %d needs %d bytes, only %d remain", i, l, len(blob)-off)
		}
		s, err := slice.Decode(blob[off : off+l])
		if err != nil {
			return nil, wrapSliceError(off, int(i), err)
		}
		out = append(out, s)
		off += l
	}
	return out, nil
}
