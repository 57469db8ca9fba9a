package handshake

import "fmt"

// Kind enumerates the handshake engine's negotiation error taxonomy
// (spec §4.4, §7).
type Kind int

const (
	SpaceMismatch Kind = iota
	ProtocolUnsupported
	DecodeError
	Internal
)

func (k Kind) String() string {
	switch k {
	case SpaceMismatch:
		return "SPACE_MISMATCH"
	case ProtocolUnsupported:
		return "PROTOCOL_UNSUPPORTED"
	case DecodeError:
		return "DECODE_ERROR"
	case Internal:
		return "INTERNAL"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the structured error type the handshake engine returns. It
// maps directly onto a Sync error frame's {method:"error", code:...}
// payload via NewErrorMsg.
type Error struct {
	Kind     Kind
	Expected string
	Got      string
	Msg      string
}

func (e *Error) Error() string {
	return fmt.Sprintf("handshake: %s: %s", e.Kind, e.Msg)
}

func errf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}
