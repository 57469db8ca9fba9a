package handshake

import (
	"encoding/json"
	"testing"
	"time"
)

func testCaps() ServerCapabilities {
	return NewServerCapabilities(1, 4096, "universal-llm-v3", "transformer-xl", "sig-abc",
		[]string{"zstd", "none"}, []string{"xchacha20poly1305", "none"},
		WithSupportedDTypes("f16", "i8", "q4"),
		WithCritique(true),
	)
}

func TestChooseFirst(t *testing.T) {
	v, ok := ChooseFirst([]string{"zstd", "none"}, []string{"none", "zstd"})
	if !ok || v != "zstd" {
		t.Fatalf("got (%q,%v), want (zstd,true)", v, ok)
	}
	if _, ok := ChooseFirst([]string{"lz4"}, []string{"zstd", "none"}); ok {
		t.Fatal("expected no match")
	}
}

func TestIntersectDTypes(t *testing.T) {
	got := IntersectDTypes([]string{"f16", "i8", "q4"}, []string{"q4", "f16"})
	if len(got) != 2 || got[0] != "f16" || got[1] != "q4" {
		t.Fatalf("unexpected intersection: %v", got)
	}
}

func TestFullNegotiationHappyPath(t *testing.T) {
	caps := testCaps()
	srv := NewServerSession(caps)
	cli := NewClientSession()

	ping, err := cli.BuildPing(time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("BuildPing: %v", err)
	}
	if cli.State() != AwaitingCapability {
		t.Fatalf("client state = %s, want AwaitingCapability", cli.State())
	}

	resp, err := srv.HandlePing(ping, 1, []string{"zstd"}, []string{"xchacha20poly1305"}, []string{"f16", "q4"})
	if err != nil {
		t.Fatalf("HandlePing: %v", err)
	}
	if srv.State() != AwaitingCapability {
		t.Fatalf("server state = %s, want AwaitingCapability", srv.State())
	}

	if err := cli.HandleCapability(resp); err != nil {
		t.Fatalf("HandleCapability: %v", err)
	}
	if cli.State() != Established {
		t.Fatalf("client state = %s, want Established", cli.State())
	}
	if cli.Caps.Compress[0] != "zstd" || cli.Caps.Crypto[0] != "xchacha20poly1305" {
		t.Fatalf("unexpected negotiated caps: %+v", cli.Caps)
	}

	if _, err := srv.HandleDataFrame(caps.SpaceHash32); err != nil {
		t.Fatalf("HandleDataFrame: %v", err)
	}
	if srv.State() != Established {
		t.Fatalf("server state = %s, want Established", srv.State())
	}
}

func TestReducedCapabilityOnPartialSupport(t *testing.T) {
	caps := testCaps()
	srv := NewServerSession(caps)

	ping, _ := NewClientSession().BuildPing(time.Unix(1, 0))
	resp, err := srv.HandlePing(ping, 1, []string{"lz4", "none"}, []string{"aes-gcm"}, []string{"i8"})
	if err != nil {
		t.Fatalf("HandlePing: %v", err)
	}

	var cap Capability
	if err := json.Unmarshal(resp, &cap); err != nil {
		t.Fatalf("unmarshal capability: %v", err)
	}
	if len(cap.Compress) != 1 || cap.Compress[0] != "none" {
		t.Fatalf("expected reduced compress=[none], got %v", cap.Compress)
	}
	if len(cap.Crypto) != 0 {
		t.Fatalf("expected no crypto agreement, got %v", cap.Crypto)
	}
	if len(cap.Supports.DType) != 1 || cap.Supports.DType[0] != "i8" {
		t.Fatalf("expected dtype intersection [i8], got %v", cap.Supports.DType)
	}
}

func TestSpaceMismatchRejected(t *testing.T) {
	caps := testCaps()
	srv := NewServerSession(caps)

	ping, _ := NewClientSession().BuildPing(time.Unix(1, 0))
	if _, err := srv.HandlePing(ping, 1, []string{"zstd"}, []string{"xchacha20poly1305"}, []string{"f16"}); err != nil {
		t.Fatalf("HandlePing: %v", err)
	}

	errPayload, err := srv.HandleDataFrame(caps.SpaceHash32 ^ 0xffffffff)
	if err == nil {
		t.Fatal("expected space mismatch error")
	}
	he, ok := err.(*Error)
	if !ok || he.Kind != SpaceMismatch {
		t.Fatalf("unexpected error: %#v", err)
	}
	if srv.State() != Failed {
		t.Fatalf("server state = %s, want Failed", srv.State())
	}

	var em ErrorMsg
	if err := json.Unmarshal(errPayload, &em); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if em.Code != "SPACE_MISMATCH" || em.Expected != caps.EmbeddingSpaceID {
		t.Fatalf("unexpected error payload: %+v", em)
	}
}

func TestProtocolUnsupportedRejected(t *testing.T) {
	caps := testCaps()
	srv := NewServerSession(caps)
	ping, _ := NewClientSession().BuildPing(time.Unix(1, 0))

	if _, err := srv.HandlePing(ping, 0, []string{"zstd"}, []string{"xchacha20poly1305"}, []string{"f16"}); err == nil {
		t.Fatal("expected protocol-unsupported error")
	}
	if srv.State() != Failed {
		t.Fatalf("server state = %s, want Failed", srv.State())
	}
}

func TestClientRejectsMalformedCapability(t *testing.T) {
	cli := NewClientSession()
	if _, err := cli.BuildPing(time.Unix(1, 0)); err != nil {
		t.Fatalf("BuildPing: %v", err)
	}
	if err := cli.HandleCapability([]byte("not json")); err == nil {
		t.Fatal("expected decode error")
	}
	if cli.State() != Failed {
		t.Fatalf("client state = %s, want Failed", cli.State())
	}
}

func TestSpaceHashDeterministic(t *testing.T) {
	h1 := SpaceHash("universal-llm-v3", "transformer-xl", "sig-abc")
	h2 := SpaceHash("universal-llm-v3", "transformer-xl", "sig-abc")
	if h1 != h2 {
		t.Fatal("SpaceHash is not deterministic")
	}
	h3 := SpaceHash("universal-llm-v4", "transformer-xl", "sig-abc")
	if h1 == h3 {
		t.Fatal("different space ids produced the same hash")
	}
}
