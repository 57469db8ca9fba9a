package frame

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/ryssroad/resonant/dtype"
	"github.com/ryssroad/resonant/session"
	"github.com/ryssroad/resonant/slice"
)

// NonceSource supplies the AEAD nonce for a given (stream_id, frame_seq)
// pair. *session.Keys implements this; it is the only implementation this
// module ships, since nonce/key provenance is a deploying-system concern
// (spec §4.3, §9).
type NonceSource interface {
	Nonce(streamID uint32, frameSeq uint64) [session.NonceLength]byte
}

// Codec encodes and decodes V-Frames. A single Codec may be shared by
// concurrent goroutines only if each call operates on its own Frame/byte
// buffer (spec §5) — the zstd encoder/decoder it holds are themselves
// safe for concurrent use per klauspost/compress's own contract.
type Codec struct {
	keys NonceSource
	aead cipher.AEAD
	zEnc *zstd.Encoder
	zDec *zstd.Decoder
}

// NewCodec builds a Codec. keys may be nil if the caller never sets the
// XCHACHA flag; Encode/Decode return an error if it is required and
// absent.
func NewCodec(keys *session.Keys) (*Codec, error) {
	c := &Codec{keys: keys}

	if keys != nil {
		aead, err := chacha20poly1305.NewX(keys.Key[:])
		if err != nil {
			return nil, fmt.Errorf("frame: init AEAD: %w", err)
		}
		c.aead = aead
	}

	zEnc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("frame: init zstd encoder: %w", err)
	}
	zDec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("frame: init zstd decoder: %w", err)
	}
	c.zEnc = zEnc
	c.zDec = zDec
	return c, nil
}

// Close releases the codec's zstd resources.
func (c *Codec) Close() {
	if c.zEnc != nil {
		c.zEnc.Close()
	}
	if c.zDec != nil {
		c.zDec.Close()
	}
}

// Encode serializes f per spec §4.3: serialize slices, optionally
// compress then encrypt the slice region (in that order), emit the
// header, then the region, then the CRC32 over every preceding byte.
func (c *Codec) Encode(f *Frame) ([]byte, error) {
	if err := c.validate(f); err != nil {
		return nil, err
	}

	var region []byte
	var sliceLens []uint32
	var err error

	if f.Flags.transformed() {
		region, err = encodeSlicesSelfDescribing(f.Slices)
		if err != nil {
			return nil, err
		}
		if f.Flags.Has(FlagZstd) {
			region = c.zEnc.EncodeAll(region, nil)
		}
		if f.Flags.Has(FlagXChaCha) {
			if c.aead == nil {
				return nil, errf(AeadAuthFailure, -1, "XCHACHA flag set but codec has no session keys")
			}
			nonce := c.keys.Nonce(f.StreamID, f.FrameSeq)
			region = c.aead.Seal(nil, nonce[:], region, nil)
		}
		sliceLens = []uint32{uint32(len(region))}
	} else {
		region, sliceLens, err = encodeSlicesPlain(f.Slices)
		if err != nil {
			return nil, err
		}
	}

	k := len(sliceLens)
	headerLen := headerBaseLen + 4*k + fixedTailLen
	total := headerLen + len(region) + crcLen
	if total > MaxEncodedSize {
		return nil, errf(FrameTooLarge, -1, "encoded frame would be %d bytes, max is %d", total, MaxEncodedSize)
	}

	out := make([]byte, total)
	out[0] = Version
	out[1] = uint8(f.Type)
	binary.LittleEndian.PutUint16(out[2:], uint16(f.Flags))
	binary.LittleEndian.PutUint32(out[4:], f.StreamID)
	binary.LittleEndian.PutUint64(out[8:], f.FrameSeq)
	binary.LittleEndian.PutUint64(out[16:], uint64(k))
	off := headerBaseLen
	for _, l := range sliceLens {
		binary.LittleEndian.PutUint32(out[off:], l)
		off += 4
	}
	binary.LittleEndian.PutUint32(out[off:], f.SpaceHash32)
	off += 4
	out[off] = uint8(f.Modality)
	off++
	copy(out[off:], region)
	off += len(region)

	crc := crc32.ChecksumIEEE(out[:off])
	binary.LittleEndian.PutUint32(out[off:], crc)

	return out, nil
}

// validate checks the structural constraints the codec itself owns.
// Message-type-specific slice-count policy (e.g. "num_slices=0 only for
// HEART") belongs to the stream controller, not the frame codec.
func (c *Codec) validate(f *Frame) error {
	if !f.Type.IsKnown() {
		return errf(TypeUnknown, -1, "message type %d", uint8(f.Type))
	}
	if !f.Modality.IsKnown() {
		return errf(ModalityUnknown, -1, "modality %d", uint8(f.Modality))
	}
	return nil
}

// Decode parses an encoded V-Frame: verify the header, read the slice
// region, verify CRC32, then reverse the encrypt/decompress transform
// chain and parse the resulting slices (spec §4.3).
func (c *Codec) Decode(b []byte) (*Frame, error) {
	if len(b) > MaxEncodedSize {
		return nil, errf(FrameTooLarge, 0, "encoded frame is %d bytes, max is %d", len(b), MaxEncodedSize)
	}
	if len(b) < headerBaseLen+fixedTailLen+crcLen {
		return nil, errf(TruncatedHeader, 0, "frame shorter than minimum header+crc: %d bytes", len(b))
	}

	version := b[0]
	if version != Version {
		return nil, errf(VersionUnsupported, 0, "version %d", version)
	}
	msgType := dtype.MessageType(b[1])
	if !msgType.IsKnown() {
		return nil, errf(TypeUnknown, 1, "message type %d", uint8(msgType))
	}
	flags := Flags(binary.LittleEndian.Uint16(b[2:]))
	streamID := binary.LittleEndian.Uint32(b[4:])
	frameSeq := binary.LittleEndian.Uint64(b[8:])
	numSlices := binary.LittleEndian.Uint64(b[16:])

	var k int
	if flags.transformed() {
		k = 1
	} else {
		// num_slices comes straight off the wire as a uint64; bound it
		// against the frame's remaining length via division, before ever
		// casting to int or multiplying by 4. A crafted num_slices near
		// 2^62 would overflow `4*k` in int arithmetic and defeat a
		// post-hoc overrun check, then panic inside make() below.
		maxK := uint64(len(b)-headerBaseLen-fixedTailLen-crcLen) / 4
		if numSlices > maxK {
			return nil, errf(TruncatedHeader, headerBaseLen, "slice_len[] array (num_slices=%d) overruns frame", numSlices)
		}
		k = int(numSlices)
	}

	sliceLens := make([]uint32, k)
	off := headerBaseLen
	for i := range sliceLens {
		sliceLens[i] = binary.LittleEndian.Uint32(b[off:])
		off += 4
	}
	spaceHash32 := binary.LittleEndian.Uint32(b[off:])
	off += 4
	modality := dtype.Modality(b[off])
	off++
	if !modality.IsKnown() {
		return nil, errf(ModalityUnknown, off-1, "modality %d", uint8(modality))
	}

	regionLen := 0
	for _, l := range sliceLens {
		regionLen += int(l)
	}
	if off+regionLen+crcLen > len(b) {
		return nil, errf(TruncatedSlices, off, "region needs %d bytes, only %d remain before CRC", regionLen, len(b)-off-crcLen)
	}

	crcEnd := off + regionLen
	wantCRC := crc32.ChecksumIEEE(b[:crcEnd])
	gotCRC := binary.LittleEndian.Uint32(b[crcEnd:])
	if wantCRC != gotCRC {
		return nil, errf(CrcMismatch, crcEnd, "crc32 mismatch: frame corrupted or truncated")
	}

	region := b[off:crcEnd]
	var slices []slice.Slice
	var err error

	if flags.transformed() {
		plain := region
		if flags.Has(FlagXChaCha) {
			if c.aead == nil {
				return nil, errf(AeadAuthFailure, off, "XCHACHA flag set but codec has no session keys")
			}
			nonce := c.keys.Nonce(streamID, frameSeq)
			plain, err = c.aead.Open(nil, nonce[:], plain, nil)
			if err != nil {
				return nil, errf(AeadAuthFailure, off, "aead open failed: %v", err)
			}
		}
		if flags.Has(FlagZstd) {
			plain, err = c.zDec.DecodeAll(plain, nil)
			if err != nil {
				return nil, errf(DecompressFailure, off, "zstd decode failed: %v", err)
			}
		}
		slices, err = decodeSlicesSelfDescribing(plain)
		if err != nil {
			return nil, err
		}
	} else {
		slices, err = decodeSlicesPlain(region, sliceLens)
		if err != nil {
			return nil, err
		}
	}

	return &Frame{
		Type:        msgType,
		Flags:       flags,
		StreamID:    streamID,
		FrameSeq:    frameSeq,
		SpaceHash32: spaceHash32,
		Modality:    modality,
		Slices:      slices,
	}, nil
}
