// Package session provides reference key and nonce material for the frame
// codec's optional XChaCha20-Poly1305 transform. Spec §4.3 treats key and
// nonce provenance as "the collaborator's concern" — this package is that
// collaborator's reference implementation, used by the demo binary and by
// tests. It is grounded on framing.boxNonce in the teacher (a fixed random
// prefix plus a per-message counter), generalized from a local monotonic
// counter — meaningful only over a reliable, in-order byte stream — to a
// (stream_id, frame_seq) keyed derivation appropriate for a
// datagram-oriented, possibly-reordered medium (SPEC_FULL.md §3).
package session

import (
	"encoding/binary"
	"fmt"

	"github.com/ryssroad/resonant/csrand"
)

// KeyLength is the XChaCha20-Poly1305 key length in bytes.
const KeyLength = 32

// noncePrefixLength is the random portion of each derived nonce; the
// remaining 12 bytes are stream_id (4, big endian) || frame_seq (8, big
// endian), giving a full 24-byte XChaCha20 nonce.
const noncePrefixLength = 12

// NonceLength is the XChaCha20-Poly1305 nonce length in bytes.
const NonceLength = noncePrefixLength + 4 + 8

// Keys bundles the AEAD key and nonce-derivation state for one session.
// A session spans every stream multiplexed over a single connection; the
// random prefix is generated once and shared by every stream_id.
type Keys struct {
	Key    [KeyLength]byte
	prefix [noncePrefixLength]byte
}

// Option configures a new Keys value.
type Option func(*Keys)

// WithKey supplies an explicit AEAD key instead of generating one.
func WithKey(key [KeyLength]byte) Option {
	return func(k *Keys) { k.Key = key }
}

// NewKeys creates session key material, generating a random AEAD key and
// nonce prefix unless overridden by options.
func NewKeys(opts ...Option) (*Keys, error) {
	k := &Keys{}
	if err := csrand.Bytes(k.Key[:]); err != nil {
		return nil, fmt.Errorf("session: generate key: %w", err)
	}
	if err := csrand.Bytes(k.prefix[:]); err != nil {
		return nil, fmt.Errorf("session: generate nonce prefix: %w", err)
	}
	for _, opt := range opts {
		opt(k)
	}
	return k, nil
}

// Nonce derives the 24-byte XChaCha20-Poly1305 nonce for a given frame.
// Uniqueness for the session's lifetime relies only on frame_seq never
// repeating within a stream_id, which the stream controller's monotonic
// frame_seq invariant (spec §3) guarantees.
func (k *Keys) Nonce(streamID uint32, frameSeq uint64) [NonceLength]byte {
	var nonce [NonceLength]byte
	copy(nonce[:noncePrefixLength], k.prefix[:])
	binary.BigEndian.PutUint32(nonce[noncePrefixLength:], streamID)
	binary.BigEndian.PutUint64(nonce[noncePrefixLength+4:], frameSeq)
	return nonce
}
