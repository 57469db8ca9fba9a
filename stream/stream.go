// Package stream layers multi-frame stream semantics (HEAD/HEART/TAIL,
// strictly increasing frame_seq, strong-tail digesting) on top of
// individually-decoded V-Frames (spec §4.5). Like the frame and
// handshake packages, the controller never touches I/O: it consumes
// already-decoded *frame.Frame values and reports state transitions and
// errors to its caller (spec §5, §9 transport isolation).
package stream

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"hash"
	"strconv"

	"github.com/zeebo/xxh3"

	"github.com/ryssroad/resonant/dtype"
	"github.com/ryssroad/resonant/frame"
)

// State is a stream's lifecycle position (spec §4.5 state diagram).
type State int

const (
	Idle State = iota
	Open
	Closed
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Open:
		return "Open"
	case Closed:
		return "Closed"
	case Aborted:
		return "Aborted"
	default:
		return "State(?)"
	}
}

// Stats exposes read-only per-stream diagnostics (SPEC_FULL §4.7).
type Stats struct {
	FramesSeen            uint64
	BytesSeen             uint64
	HeartbeatsSeen        uint64
	MD5AdvisoryMismatches uint64
}

type streamState struct {
	state       State
	direction   Direction
	totalLength uint64
	headMD5     string
	headXXHash  string
	lastSeq     uint64
	hasher      *xxh3.Hasher
	md5h        hash.Hash
	stats       Stats
}

// Controller owns every open stream for one connection; it is not safe
// for concurrent use by more than one goroutine at a time (spec §5: "each
// connection owns its own controller; no cross-connection sharing is
// required or permitted").
type Controller struct {
	streams map[uint32]*streamState
}

// NewController returns an empty stream controller.
func NewController() *Controller {
	return &Controller{streams: make(map[uint32]*streamState)}
}

// HandleFrame feeds one already-decoded frame into the controller. It
// returns a non-nil *Error for any fatal condition. Every error moves the
// stream to Aborted when the controller holds state for it; a frame for a
// stream with no HEAD yields MissingHead and creates no state.
func (c *Controller) HandleFrame(f *frame.Frame) error {
	sid := f.StreamID

	if f.NumSlices() == 0 {
		return c.handleHeart(sid, f)
	}
	if f.Type == dtype.Sync {
		method, err := decodeControlMethod(f.Slices[0].Payload)
		if err == nil {
			switch method {
			case MethodStreamHead:
				return c.handleHead(sid, f)
			case MethodStreamTail:
				return c.handleTail(sid, f)
			}
		}
	}
	return c.handleData(sid, f)
}

func (c *Controller) handleHead(sid uint32, f *frame.Frame) error {
	if f.FrameSeq != 0 {
		return c.abort(sid, errf(Internal, sid, "HEAD frame_seq must be 0, got %d", f.FrameSeq))
	}
	if st, ok := c.streams[sid]; ok && st.state != Idle {
		return c.abort(sid, errf(Internal, sid, "duplicate HEAD on stream in state %s", st.state))
	}

	var hp HeadPayload
	if err := json.Unmarshal(f.Slices[0].Payload, &hp); err != nil {
		return c.abort(sid, errf(Internal, sid, "malformed HEAD payload: %v", err))
	}

	c.streams[sid] = &streamState{
		state:       Open,
		direction:   hp.Direction,
		totalLength: hp.TotalLength,
		headMD5:     hp.MD5,
		headXXHash:  hp.XXHash3,
		lastSeq:     0,
		hasher:      xxh3.New(),
		md5h:        md5.New(),
		stats:       Stats{FramesSeen: 1},
	}
	return nil
}

func (c *Controller) handleHeart(sid uint32, f *frame.Frame) error {
	st, ok := c.streams[sid]
	if !ok {
		return errf(MissingHead, sid, "HEART for stream with no HEAD")
	}
	if st.state != Open {
		return c.abort(sid, errf(Internal, sid, "HEART on stream in state %s", st.state))
	}
	if f.FrameSeq <= st.lastSeq {
		return c.abort(sid, errf(OutOfOrderSeq, sid, "frame_seq %d did not strictly increase past %d", f.FrameSeq, st.lastSeq))
	}
	st.lastSeq = f.FrameSeq
	st.stats.FramesSeen++
	st.stats.HeartbeatsSeen++
	return nil
}

func (c *Controller) handleData(sid uint32, f *frame.Frame) error {
	st, ok := c.streams[sid]
	if !ok {
		return errf(MissingHead, sid, "data frame for stream with no HEAD")
	}
	if st.state != Open {
		return c.abort(sid, errf(Internal, sid, "data frame on stream in state %s", st.state))
	}
	if f.FrameSeq <= st.lastSeq {
		return c.abort(sid, errf(OutOfOrderSeq, sid, "frame_seq %d did not strictly increase past %d", f.FrameSeq, st.lastSeq))
	}
	st.lastSeq = f.FrameSeq
	st.stats.FramesSeen++
	for _, s := range f.Slices {
		st.stats.BytesSeen += uint64(len(s.Payload))
		_, _ = st.hasher.Write(s.Payload)
		_, _ = st.md5h.Write(s.Payload)
	}
	return nil
}

func (c *Controller) handleTail(sid uint32, f *frame.Frame) error {
	st, ok := c.streams[sid]
	if !ok {
		return errf(MissingHead, sid, "TAIL for stream with no HEAD")
	}
	if st.state != Open {
		return c.abort(sid, errf(DoubleTail, sid, "TAIL on stream in state %s", st.state))
	}
	if f.FrameSeq <= st.lastSeq {
		return c.abort(sid, errf(OutOfOrderSeq, sid, "frame_seq %d did not strictly increase past %d", f.FrameSeq, st.lastSeq))
	}
	st.lastSeq = f.FrameSeq

	var tp TailPayload
	if err := json.Unmarshal(f.Slices[0].Payload, &tp); err != nil {
		return c.abort(sid, errf(Internal, sid, "malformed TAIL payload: %v", err))
	}

	if st.totalLength != 0 && st.stats.BytesSeen != st.totalLength {
		return c.abort(sid, errf(LengthMismatch, sid, "HEAD announced %d bytes, saw %d", st.totalLength, st.stats.BytesSeen))
	}

	if st.headMD5 != "" {
		if got := hex.EncodeToString(st.md5h.Sum(nil)); got != st.headMD5 {
			st.stats.MD5AdvisoryMismatches++
		}
	}

	if f.Flags.Has(frame.FlagStrongTail) {
		want, err := strconv.ParseUint(tp.StrongHash, 16, 64)
		if err != nil {
			return c.abort(sid, errf(Internal, sid, "malformed strong_hash: %v", err))
		}
		if got := st.hasher.Sum64(); got != want {
			return c.abort(sid, errf(TailHashMismatch, sid, "strong-tail digest mismatch: want %016x, got %016x", want, got))
		}
	}

	st.stats.FramesSeen++
	st.state = Closed
	return nil
}

func (c *Controller) abort(sid uint32, e *Error) *Error {
	if st, ok := c.streams[sid]; ok {
		st.state = Aborted
	}
	return e
}

// State reports the current lifecycle state of a stream.
func (c *Controller) State(streamID uint32) (State, bool) {
	st, ok := c.streams[streamID]
	if !ok {
		return Idle, false
	}
	return st.state, true
}

// Stats returns the current diagnostic counters for a stream.
func (c *Controller) Stats(streamID uint32) (Stats, bool) {
	st, ok := c.streams[streamID]
	if !ok {
		return Stats{}, false
	}
	return st.stats, true
}

// Remove drops a stream's state, e.g. after the caller has consumed a
// Closed or Aborted stream's final stats (spec §4.5 cancellation note).
func (c *Controller) Remove(streamID uint32) {
	delete(c.streams, streamID)
}
