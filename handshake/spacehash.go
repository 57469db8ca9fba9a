package handshake

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// SpaceHash computes the canonical 32-bit embedding-space discriminator:
// uint32_le(sha256(utf8(space_id + ":" + arch + ":" + data_sig))[0..4])
// (spec §4.4).
func SpaceHash(spaceID, arch, dataSig string) uint32 {
	sum := sha256.Sum256([]byte(spaceID + ":" + arch + ":" + dataSig))
	return binary.LittleEndian.Uint32(sum[:4])
}

// VerifySpace checks a data frame's header space_hash32 against the
// server's advertised value. Comparison is exact 32-bit equality (spec
// §4.4). expectedSpaceID is the server's own embedding_space_id, reported
// verbatim in the resulting error's Expected field (spec §4.4 scenario 3
// reports a human-readable space id, not the raw hash); got is rendered
// as a hex hash since the server has no name for whatever space produced
// an unexpected hash.
func VerifySpace(got, expected uint32, expectedSpaceID string) error {
	if got != expected {
		return &Error{
			Kind:     SpaceMismatch,
			Expected: expectedSpaceID,
			Got:      fmt.Sprintf("0x%08x", got),
			Msg:      "data frame space_hash32 does not match the server's advertised value",
		}
	}
	return nil
}
