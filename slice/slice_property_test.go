package slice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/ryssroad/resonant/dtype"
)

// TestRoundTripProperty checks spec §8's round-trip law for the slice
// codec: for all well-formed slices, Decode(Encode(s)) reproduces s.
func TestRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		d := rapid.SampledFrom([]dtype.DType{dtype.F16, dtype.I8, dtype.Q4}).Draw(rt, "dtype")
		shapeLen := rapid.IntRange(0, MaxShapeLen).Draw(rt, "shape_len")

		shape := make([]uint32, shapeLen)
		nelem := uint64(1)
		for i := range shape {
			dim := rapid.Uint32Range(0, 4).Draw(rt, "dim")
			shape[i] = dim
			nelem *= uint64(dim)
		}

		payloadLen, _ := dtype.PayloadBytes(d, int(nelem))
		payload := rapid.SliceOfN(rapid.Byte(), payloadLen, payloadLen).Draw(rt, "payload")

		s := Slice{DType: d, Shape: shape, Payload: payload}
		enc, err := s.Encode()
		assert.NoError(rt, err)

		got, err := Decode(enc)
		assert.NoError(rt, err)
		assert.Equal(rt, s.DType, got.DType)
		assert.Equal(rt, s.Shape, got.Shape)
		assert.Equal(rt, s.Payload, got.Payload)
	})
}
