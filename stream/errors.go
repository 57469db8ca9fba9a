package stream

import "fmt"

// Kind enumerates the stream controller's error taxonomy (spec §7
// "Transport-surfaced" and "Integrity" categories that apply above the
// single-frame codec).
type Kind int

const (
	OutOfOrderSeq Kind = iota
	MissingHead
	DoubleTail
	TailHashMismatch
	LengthMismatch
	UnknownStream
	Internal
)

func (k Kind) String() string {
	switch k {
	case OutOfOrderSeq:
		return "OutOfOrderSeq"
	case MissingHead:
		return "MissingHead"
	case DoubleTail:
		return "DoubleTail"
	case TailHashMismatch:
		return "TailHashMismatch"
	case LengthMismatch:
		return "LengthMismatch"
	case UnknownStream:
		return "UnknownStream"
	case Internal:
		return "Internal"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the stream controller's structured error type. Every Error,
// Internal included, is fatal to the owning stream: the controller moves
// that stream to Aborted. MissingHead is returned for a stream the
// controller holds no state for, so nothing is aborted.
type Error struct {
	Kind     Kind
	StreamID uint32
	Msg      string
}

func (e *Error) Error() string {
	return fmt.Sprintf("stream %d: %s: %s", e.StreamID, e.Kind, e.Msg)
}

func errf(k Kind, streamID uint32, format string, args ...any) *Error {
	return &Error{Kind: k, StreamID: streamID, Msg: fmt.Sprintf(format, args...)}
}
