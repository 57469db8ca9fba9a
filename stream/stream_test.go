package stream

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"testing"

	"github.com/zeebo/xxh3"

	"github.com/ryssroad/resonant/dtype"
	"github.com/ryssroad/resonant/frame"
	"github.com/ryssroad/resonant/slice"
)

func syncSlice(t *testing.T, v any) slice.Slice {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return slice.Slice{DType: dtype.I8, Shape: []uint32{uint32(len(b))}, Payload: b}
}

func headFrame(t *testing.T, streamID uint32, totalLength uint64, md5Hex, xxh3Hex string) *frame.Frame {
	return &frame.Frame{
		Type:     dtype.Sync,
		StreamID: streamID,
		FrameSeq: 0,
		Modality: dtype.Text,
		Slices: []slice.Slice{syncSlice(t, HeadPayload{
			Method:      MethodStreamHead,
			TotalLength: totalLength,
			MD5:         md5Hex,
			XXHash3:     xxh3Hex,
			Direction:   ClientToServer,
		})},
	}
}

func dataFrame(streamID uint32, seq uint64, payload []byte) *frame.Frame {
	return &frame.Frame{
		Type:     dtype.Think,
		StreamID: streamID,
		FrameSeq: seq,
		Modality: dtype.Text,
		Slices:   []slice.Slice{{DType: dtype.I8, Shape: []uint32{uint32(len(payload))}, Payload: payload}},
	}
}

func heartFrame(streamID uint32, seq uint64) *frame.Frame {
	return &frame.Frame{Type: dtype.Think, StreamID: streamID, FrameSeq: seq, Modality: dtype.Text}
}

func tailFrame(t *testing.T, streamID uint32, flags frame.Flags, strongHash string) *frame.Frame {
	return &frame.Frame{
		Type:     dtype.Sync,
		Flags:    flags,
		StreamID: streamID,
		Modality: dtype.Text,
		Slices: []slice.Slice{syncSlice(t, TailPayload{
			Method:     MethodStreamTail,
			StrongHash: strongHash,
		})},
	}
}

func TestFullStreamLifecycle(t *testing.T) {
	const sid = 0x1234
	payloads := [][]byte{
		make([]byte, 1024),
		make([]byte, 1024),
		make([]byte, 1024),
	}
	for i := range payloads {
		for j := range payloads[i] {
			payloads[i][j] = byte(i*7 + j)
		}
	}

	h := xxh3.New()
	m := md5.New()
	var total uint64
	for _, p := range payloads {
		h.Write(p)
		m.Write(p)
		total += uint64(len(p))
	}
	strongHash := h.Sum64()

	c := NewController()
	if err := c.HandleFrame(headFrame(t, sid, total, hex.EncodeToString(m.Sum(nil)), "")); err != nil {
		t.Fatalf("HEAD: %v", err)
	}
	st, _ := c.State(sid)
	if st != Open {
		t.Fatalf("state = %s, want Open", st)
	}

	for i, p := range payloads {
		if err := c.HandleFrame(dataFrame(sid, uint64(i+1), p)); err != nil {
			t.Fatalf("data frame %d: %v", i, err)
		}
	}

	if err := c.HandleFrame(heartFrame(sid, uint64(len(payloads)+1))); err != nil {
		t.Fatalf("HEART: %v", err)
	}

	tail := tailFrame(t, sid, frame.FlagStrongTail, strconv.FormatUint(strongHash, 16))
	tail.FrameSeq = uint64(len(payloads) + 2)
	if err := c.HandleFrame(tail); err != nil {
		t.Fatalf("TAIL: %v", err)
	}

	st, _ = c.State(sid)
	if st != Closed {
		t.Fatalf("state = %s, want Closed", st)
	}
	stats, _ := c.Stats(sid)
	if stats.BytesSeen != total {
		t.Fatalf("BytesSeen = %d, want %d", stats.BytesSeen, total)
	}
	if stats.HeartbeatsSeen != 1 {
		t.Fatalf("HeartbeatsSeen = %d, want 1", stats.HeartbeatsSeen)
	}
	if stats.MD5AdvisoryMismatches != 0 {
		t.Fatalf("unexpected MD5 mismatch count: %d", stats.MD5AdvisoryMismatches)
	}
}

func TestSwappedDataFramesTailHashMismatch(t *testing.T) {
	const sid = 7
	a := make([]byte, 1024)
	b := make([]byte, 1024)
	for i := range a {
		a[i] = byte(i)
		b[i] = byte(255 - i)
	}

	h := xxh3.New()
	h.Write(a)
	h.Write(b)
	correctHash := h.Sum64()

	c := NewController()
	if err := c.HandleFrame(headFrame(t, sid, uint64(len(a)+len(b)), "", "")); err != nil {
		t.Fatalf("HEAD: %v", err)
	}
	// swapped order relative to the hash computed above
	if err := c.HandleFrame(dataFrame(sid, 1, b)); err != nil {
		t.Fatalf("data 1: %v", err)
	}
	if err := c.HandleFrame(dataFrame(sid, 2, a)); err != nil {
		t.Fatalf("data 2: %v", err)
	}

	tail := tailFrame(t, sid, frame.FlagStrongTail, strconv.FormatUint(correctHash, 16))
	tail.FrameSeq = 3
	err := c.HandleFrame(tail)
	if err == nil {
		t.Fatal("expected TailHashMismatch")
	}
	se, ok := err.(*Error)
	if !ok || se.Kind != TailHashMismatch {
		t.Fatalf("unexpected error: %#v", err)
	}
	st, _ := c.State(sid)
	if st != Aborted {
		t.Fatalf("state = %s, want Aborted", st)
	}
}

func TestOutOfOrderSeqAborts(t *testing.T) {
	const sid = 1
	c := NewController()
	if err := c.HandleFrame(headFrame(t, sid, 0, "", "")); err != nil {
		t.Fatalf("HEAD: %v", err)
	}
	if err := c.HandleFrame(dataFrame(sid, 5, []byte("x"))); err != nil {
		t.Fatalf("first data frame: %v", err)
	}
	err := c.HandleFrame(dataFrame(sid, 5, []byte("y")))
	if err == nil {
		t.Fatal("expected OutOfOrderSeq")
	}
	se, ok := err.(*Error)
	if !ok || se.Kind != OutOfOrderSeq {
		t.Fatalf("unexpected error: %#v", err)
	}
}

func TestDataFrameWithoutHeadIsMissingHead(t *testing.T) {
	c := NewController()
	err := c.HandleFrame(dataFrame(99, 1, []byte("x")))
	if err == nil {
		t.Fatal("expected MissingHead")
	}
	se, ok := err.(*Error)
	if !ok || se.Kind != MissingHead {
		t.Fatalf("unexpected error: %#v", err)
	}
}

func TestDoubleTailRejected(t *testing.T) {
	const sid = 3
	c := NewController()
	if err := c.HandleFrame(headFrame(t, sid, 0, "", "")); err != nil {
		t.Fatalf("HEAD: %v", err)
	}
	tail1 := tailFrame(t, sid, 0, "")
	tail1.FrameSeq = 1
	if err := c.HandleFrame(tail1); err != nil {
		t.Fatalf("first TAIL: %v", err)
	}
	tail2 := tailFrame(t, sid, 0, "")
	tail2.FrameSeq = 2
	err := c.HandleFrame(tail2)
	if err == nil {
		t.Fatal("expected DoubleTail")
	}
	se, ok := err.(*Error)
	if !ok || se.Kind != DoubleTail {
		t.Fatalf("unexpected error: %#v", err)
	}
}

func TestLengthMismatchAborts(t *testing.T) {
	const sid = 4
	c := NewController()
	if err := c.HandleFrame(headFrame(t, sid, 100, "", "")); err != nil {
		t.Fatalf("HEAD: %v", err)
	}
	if err := c.HandleFrame(dataFrame(sid, 1, make([]byte, 10))); err != nil {
		t.Fatalf("data: %v", err)
	}
	tail := tailFrame(t, sid, 0, "")
	tail.FrameSeq = 2
	err := c.HandleFrame(tail)
	if err == nil {
		t.Fatal("expected LengthMismatch")
	}
	se, ok := err.(*Error)
	if !ok || se.Kind != LengthMismatch {
		t.Fatalf("unexpected error: %#v", err)
	}
}

func TestMD5AdvisoryMismatchNeverAborts(t *testing.T) {
	const sid = 5
	c := NewController()
	if err := c.HandleFrame(headFrame(t, sid, 3, "deadbeefdeadbeefdeadbeefdeadbeef", "")); err != nil {
		t.Fatalf("HEAD: %v", err)
	}
	if err := c.HandleFrame(dataFrame(sid, 1, []byte("abc"))); err != nil {
		t.Fatalf("data: %v", err)
	}
	tail := tailFrame(t, sid, 0, "")
	tail.FrameSeq = 2
	if err := c.HandleFrame(tail); err != nil {
		t.Fatalf("TAIL should not fail on MD5 mismatch: %v", err)
	}
	stats, _ := c.Stats(sid)
	if stats.MD5AdvisoryMismatches != 1 {
		t.Fatalf("MD5AdvisoryMismatches = %d, want 1", stats.MD5AdvisoryMismatches)
	}
	st, _ := c.State(sid)
	if st != Closed {
		t.Fatalf("state = %s, want Closed", st)
	}
}

func TestHeartFrameRequiresExistingHead(t *testing.T) {
	c := NewController()
	err := c.HandleFrame(heartFrame(42, 1))
	if err == nil {
		t.Fatal("expected MissingHead")
	}
	se, ok := err.(*Error)
	if !ok || se.Kind != MissingHead {
		t.Fatalf("unexpected error: %#v", err)
	}
}

