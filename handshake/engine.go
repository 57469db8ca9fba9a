// Package handshake implements the V-Stream capability handshake: the
// ping/capability/error Sync messages and the negotiation algorithm that
// picks compression, crypto, and dtype support for the rest of a
// connection (spec §4.4).
package handshake

import (
	"encoding/json"
	"time"
)

// State is the handshake engine's connection-level state (spec §9 design
// note: "model Idle/AwaitingCapability/Established/Failed as explicit
// states with a transition function").
type State int

const (
	Idle State = iota
	AwaitingCapability
	Established
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case AwaitingCapability:
		return "AwaitingCapability"
	case Established:
		return "Established"
	case Failed:
		return "Failed"
	default:
		return "State(?)"
	}
}

// ServerCapabilities is the server's full, unreduced capability record —
// constructed once per server process, not per connection.
type ServerCapabilities struct {
	V                int
	DModel           int
	EmbeddingSpaceID string
	Arch             string
	DataSig          string
	SpaceHash32      uint32
	Compress         []string
	Crypto           []string
	Supports         Supports
}

// Option configures a new ServerCapabilities.
type Option func(*ServerCapabilities)

// WithSupportedDTypes sets the dtype names the server accepts.
func WithSupportedDTypes(dtypes ...string) Option {
	return func(c *ServerCapabilities) { c.Supports.DType = dtypes }
}

// WithCritique toggles critique-message support.
func WithCritique(v bool) Option {
	return func(c *ServerCapabilities) { c.Supports.Critique = v }
}

// NewServerCapabilities builds a ServerCapabilities record, deriving
// SpaceHash32 from EmbeddingSpaceID/Arch/DataSig per spec §4.4.
func NewServerCapabilities(v, dModel int, embeddingSpaceID, arch, dataSig string, compress, crypto []string, opts ...Option) ServerCapabilities {
	c := ServerCapabilities{
		V:                v,
		DModel:           dModel,
		EmbeddingSpaceID: embeddingSpaceID,
		Arch:             arch,
		DataSig:          dataSig,
		Compress:         compress,
		Crypto:           crypto,
	}
	c.SpaceHash32 = SpaceHash(embeddingSpaceID, arch, dataSig)
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// ServerSession is the transient state the server holds between receiving
// a ping and emitting a capability response (spec §3: "Capability
// session... ephemeral; destroyed after the response is sent or an error
// is emitted").
type ServerSession struct {
	caps  ServerCapabilities
	state State
}

// NewServerSession begins a capability session for one incoming
// connection.
func NewServerSession(caps ServerCapabilities) *ServerSession {
	return &ServerSession{caps: caps, state: Idle}
}

// State returns the session's current state.
func (s *ServerSession) State() State { return s.state }

// HandlePing processes a client ping and returns the JSON payload for the
// Sync capability (or error) response to send. clientV is the client's
// protocol version as advertised elsewhere out of band (this
// implementation assumes v=1 on both sides per spec §4.4; a real
// deployment would thread it through the ping message if that ever
// changes).
func (s *ServerSession) HandlePing(payload []byte, clientV int, clientCompress, clientCrypto, clientDTypes []string) ([]byte, error) {
	if s.state != Idle {
		return nil, errf(Internal, "HandlePing called in state %s", s.state)
	}

	method, err := DecodeMethod(payload)
	if err != nil {
		s.state = Failed
		return s.encodeError(errf(DecodeError, "malformed ping payload: %v", err))
	}
	if method != MethodPing {
		s.state = Failed
		return s.encodeError(errf(DecodeError, "unexpected method %q, want %q", method, MethodPing))
	}

	var ping Ping
	if err := json.Unmarshal(payload, &ping); err != nil {
		s.state = Failed
		return s.encodeError(errf(DecodeError, "invalid ping json: %v", err))
	}

	if AgreedProto(clientV, s.caps.V) != s.caps.V {
		s.state = Failed
		return s.encodeError(errf(ProtocolUnsupported, "client protocol %d incompatible with server %d", clientV, s.caps.V))
	}

	cap := ReduceCapability(s.caps, clientCompress, clientCrypto, clientDTypes)
	s.state = AwaitingCapability
	out, err := json.Marshal(cap)
	if err != nil {
		s.state = Failed
		return nil, errf(Internal, "marshal capability: %v", err)
	}
	return out, nil
}

// HandleDataFrame verifies the first data frame's space_hash32 against
// the advertised value and transitions to Established or Failed.
func (s *ServerSession) HandleDataFrame(spaceHash32 uint32) ([]byte, error) {
	if s.state != AwaitingCapability {
		return nil, errf(Internal, "HandleDataFrame called in state %s", s.state)
	}
	if err := VerifySpace(spaceHash32, s.caps.SpaceHash32, s.caps.EmbeddingSpaceID); err != nil {
		s.state = Failed
		he := err.(*Error)
		return s.encodeError(he)
	}
	s.state = Established
	return nil, nil
}

func (s *ServerSession) encodeError(e *Error) ([]byte, error) {
	out, merr := json.Marshal(NewErrorMsg(e))
	if merr != nil {
		return nil, merr
	}
	return out, e
}

// ClientSession holds the server's advertised capability for the
// remainder of a connection and drives the client's half of the state
// machine.
type ClientSession struct {
	state State
	Caps  Capability
}

// NewClientSession begins a client-side handshake.
func NewClientSession() *ClientSession {
	return &ClientSession{state: Idle}
}

// BuildPing returns the ping JSON payload and advances to
// AwaitingCapability.
func (c *ClientSession) BuildPing(now time.Time) ([]byte, error) {
	if c.state != Idle {
		return nil, errf(Internal, "BuildPing called in state %s", c.state)
	}
	out, err := json.Marshal(NewPing(uint64(now.Unix())))
	if err != nil {
		return nil, errf(Internal, "marshal ping: %v", err)
	}
	c.state = AwaitingCapability
	return out, nil
}

// HandleCapability parses the server's response. A {"method":"error",...}
// payload moves the session to Failed and is surfaced as an *Error; a
// capability payload is stored and the session moves to Established.
func (c *ClientSession) HandleCapability(payload []byte) error {
	if c.state != AwaitingCapability {
		return errf(Internal, "HandleCapability called in state %s", c.state)
	}

	method, err := DecodeMethod(payload)
	if err != nil {
		c.state = Failed
		return errf(DecodeError, "malformed capability payload: %v", err)
	}

	switch method {
	case MethodCapability:
		var cap Capability
		if err := json.Unmarshal(payload, &cap); err != nil {
			c.state = Failed
			return errf(DecodeError, "invalid capability json: %v", err)
		}
		c.Caps = cap
		c.state = Established
		return nil
	case MethodError:
		var em ErrorMsg
		if err := json.Unmarshal(payload, &em); err != nil {
			c.state = Failed
			return errf(DecodeError, "invalid error json: %v", err)
		}
		c.state = Failed
		return &Error{Kind: kindFromCode(em.Code), Expected: em.Expected, Got: em.Got, Msg: "server rejected handshake"}
	default:
		c.state = Failed
		return errf(DecodeError, "unrecognised method %q", method)
	}
}

// State returns the client session's current state.
func (c *ClientSession) State() State { return c.state }

func kindFromCode(code string) Kind {
	switch code {
	case "SPACE_MISMATCH":
		return SpaceMismatch
	case "PROTOCOL_UNSUPPORTED":
		return ProtocolUnsupported
	case "DECODE_ERROR":
		return DecodeError
	default:
		return Internal
	}
}
