package handshake

import "encoding/json"

// Method names, exactly as they appear on the wire (spec §4.4).
const (
	MethodPing       = "ping"
	MethodCapability = "capability"
	MethodError      = "error"
)

// Ping is the step-1 client -> server Sync payload.
type Ping struct {
	Method string `json:"method"`
	TS     uint64 `json:"ts"`
}

// NewPing builds a Ping message for the given Unix timestamp in seconds.
func NewPing(ts uint64) Ping {
	return Ping{Method: MethodPing, TS: ts}
}

// Supports describes the feature flags the server is willing to honor.
type Supports struct {
	Critique bool     `json:"critique"`
	DType    []string `json:"dtype"`
}

// Capability is the step-2 server -> client Sync payload.
type Capability struct {
	Method           string   `json:"method"`
	V                int      `json:"v"`
	AgreedProto      int      `json:"agreed_proto"`
	DModel           int      `json:"d_model"`
	EmbeddingSpaceID string   `json:"embedding_space_id"`
	SpaceHash32      uint32   `json:"space_hash32"`
	Compress         []string `json:"compress"`
	Crypto           []string `json:"crypto"`
	Supports         Supports `json:"supports"`
}

// ErrorMsg is the negotiation-failure Sync payload (spec §4.4, §7).
type ErrorMsg struct {
	Method   string `json:"method"`
	Code     string `json:"code"`
	Expected string `json:"expected,omitempty"`
	Got      string `json:"got,omitempty"`
}

// NewErrorMsg builds an ErrorMsg from a structured Error.
func NewErrorMsg(err *Error) ErrorMsg {
	return ErrorMsg{
		Method:   MethodError,
		Code:     err.Kind.String(),
		Expected: err.Expected,
		Got:      err.Got,
	}
}

// rawMethod is used to sniff the "method" field before deciding which
// concrete struct to unmarshal into.
type rawMethod struct {
	Method string `json:"method"`
}

// DecodeMethod returns the method name carried by a Sync payload, without
// committing to a concrete message type. An unrecognised or missing
// method maps the caller onto DECODE_ERROR per spec §4.4.
func DecodeMethod(payload []byte) (string, error) {
	var m rawMethod
	if err := json.Unmarshal(payload, &m); err != nil {
		return "", errf(DecodeError, "invalid json: %v", err)
	}
	return m.Method, nil
}
