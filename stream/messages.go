package stream

import "encoding/json"

// Direction tags a HEAD announcement's originating side, for bidirectional
// streams sharing a single stream_id (spec §4.5: "a direction flag for
// bidirectional streams").
type Direction string

const (
	ClientToServer Direction = "c2s"
	ServerToClient Direction = "s2c"
)

// Method names carried by the Sync-framed control messages that represent
// HEAD and TAIL on the wire (see SPEC_FULL.md §3 resolved Open Question:
// HEAD/HEART/TAIL wire representation).
const (
	MethodStreamHead = "stream_head"
	MethodStreamTail = "stream_tail"
)

// HeadPayload is the JSON carried by a HEAD frame's single Sync slice.
type HeadPayload struct {
	Method      string    `json:"method"`
	TotalLength uint64    `json:"total_length"`
	MD5         string    `json:"md5"`
	XXHash3     string    `json:"xxhash3"`
	Direction   Direction `json:"direction"`
}

// TailPayload is the JSON carried by a TAIL frame's single Sync slice.
// StrongHash is populated only when the frame's Flags carry STRONG_TAIL.
type TailPayload struct {
	Method     string `json:"method"`
	StrongHash string `json:"strong_hash,omitempty"`
}

// rawMethod sniffs which control payload a Sync frame carries.
type rawMethod struct {
	Method string `json:"method"`
}

// decodeControlMethod returns the method name of a Sync control payload.
func decodeControlMethod(payload []byte) (string, error) {
	var m rawMethod
	if err := json.Unmarshal(payload, &m); err != nil {
		return "", err
	}
	return m.Method, nil
}
