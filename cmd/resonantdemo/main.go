// Command resonantdemo drives a minimal two-sided Resonant Protocol
// session over an in-process net.Pipe: ping -> capability -> HEAD ->
// N x Think -> TAIL. It exists to exercise every package end to end; it
// is not a production transport (spec.md §1 places CLI examples/transport
// plumbing out of scope for the protocol itself).
package main

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"log"
	"net"
	"strconv"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/ryssroad/resonant/csrand"
	"github.com/ryssroad/resonant/dtype"
	"github.com/ryssroad/resonant/frame"
	"github.com/ryssroad/resonant/handshake"
	"github.com/ryssroad/resonant/session"
	"github.com/ryssroad/resonant/slice"
	"github.com/ryssroad/resonant/stream"
)

const (
	embeddingSpaceID = "universal-llm-v3"
	arch             = "transformer-xl"
	dataSig          = "sig-demo-v1"
	numThinkFrames   = 3
	thinkPayloadLen  = 1024
)

func main() {
	caps := handshake.NewServerCapabilities(1, 4096, embeddingSpaceID, arch, dataSig,
		[]string{"zstd", "none"}, []string{"xchacha20poly1305", "none"},
		handshake.WithSupportedDTypes("f16", "i8", "q4"),
		handshake.WithCritique(true),
	)

	keys, err := session.NewKeys()
	if err != nil {
		log.Fatalf("[ERROR] demo: generate session keys: %v", err)
	}

	// Stream 0 is reserved for Sync control traffic (ping/capability), so
	// pick the data stream's id at random from 1..0xffff.
	dataStreamID := uint32(csrand.IntRange(1, 0xffff))

	clientConn, serverConn := net.Pipe()

	done := make(chan struct{})
	go runServer(serverConn, keys, caps, done)
	runClient(clientConn, keys, dataStreamID)
	<-done

	log.Println("[INFO] demo: session complete")
}

func runClient(conn net.Conn, keys *session.Keys, dataStreamID uint32) {
	codec, err := frame.NewCodec(keys)
	if err != nil {
		log.Fatalf("[ERROR] client: init codec: %v", err)
	}
	defer codec.Close()

	cli := handshake.NewClientSession()
	pingPayload, err := cli.BuildPing(time.Now())
	if err != nil {
		log.Fatalf("[ERROR] client: build ping: %v", err)
	}
	log.Println("[INFO] client: sending ping")
	if err := writeFrame(conn, codec, syncFrame(0, 0, pingPayload)); err != nil {
		log.Fatalf("[ERROR] client: send ping: %v", err)
	}

	resp, err := readFrame(conn, codec)
	if err != nil {
		log.Fatalf("[ERROR] client: read capability: %v", err)
	}
	if err := cli.HandleCapability(resp.Slices[0].Payload); err != nil {
		log.Fatalf("[ERROR] client: capability negotiation failed: %v", err)
	}
	log.Printf("[INFO] client: negotiated compress=%v crypto=%v dtype=%v",
		cli.Caps.Compress, cli.Caps.Crypto, cli.Caps.Supports.DType)

	payloads := make([][]byte, numThinkFrames)
	for i := range payloads {
		payloads[i] = make([]byte, thinkPayloadLen)
		if err := csrand.Bytes(payloads[i]); err != nil {
			log.Fatalf("[ERROR] client: generate payload: %v", err)
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

	head := stream.HeadPayload{
		Method:      stream.MethodStreamHead,
		TotalLength: total,
		MD5:         hex.EncodeToString(m.Sum(nil)),
		XXHash3:     strconv.FormatUint(h.Sum64(), 16),
		Direction:   stream.ClientToServer,
	}
	headBytes, err := json.Marshal(head)
	if err != nil {
		log.Fatalf("[ERROR] client: marshal HEAD: %v", err)
	}
	log.Printf("[INFO] client: opening stream %#x, total_length=%d", dataStreamID, total)
	if err := writeFrame(conn, codec, syncFrameWithSpace(dataStreamID, 0, cli.Caps.SpaceHash32, headBytes)); err != nil {
		log.Fatalf("[ERROR] client: send HEAD: %v", err)
	}

	dataFlags := negotiatedFlags(cli.Caps.Compress, cli.Caps.Crypto)
	for i, p := range payloads {
		f := &frame.Frame{
			Type:        dtype.Think,
			Flags:       dataFlags,
			StreamID:    dataStreamID,
			FrameSeq:    uint64(i + 1),
			SpaceHash32: cli.Caps.SpaceHash32,
			Modality:    dtype.Text,
			Slices: []slice.Slice{{
				DType:   dtype.F16,
				Shape:   []uint32{uint32(len(p) / 2)},
				Payload: p,
			}},
		}
		if err := writeFrame(conn, codec, f); err != nil {
			log.Fatalf("[ERROR] client: send Think frame %d: %v", i, err)
		}
	}

	tail := stream.TailPayload{
		Method:     stream.MethodStreamTail,
		StrongHash: strconv.FormatUint(h.Sum64(), 16),
	}
	tailBytes, err := json.Marshal(tail)
	if err != nil {
		log.Fatalf("[ERROR] client: marshal TAIL: %v", err)
	}
	tailFrame := syncFrameWithSpace(dataStreamID, uint64(numThinkFrames+1), cli.Caps.SpaceHash32, tailBytes)
	tailFrame.Flags = frame.FlagStrongTail
	if err := writeFrame(conn, codec, tailFrame); err != nil {
		log.Fatalf("[ERROR] client: send TAIL: %v", err)
	}
	log.Println("[INFO] client: stream closed cleanly")

	conn.Close()
}

func runServer(conn net.Conn, keys *session.Keys, caps handshake.ServerCapabilities, done chan<- struct{}) {
	defer close(done)

	codec, err := frame.NewCodec(keys)
	if err != nil {
		log.Fatalf("[ERROR] server: init codec: %v", err)
	}
	defer codec.Close()

	srv := handshake.NewServerSession(caps)
	ctrl := stream.NewController()

	ping, err := readFrame(conn, codec)
	if err != nil {
		log.Fatalf("[ERROR] server: read ping: %v", err)
	}
	resp, err := srv.HandlePing(ping.Slices[0].Payload, 1, []string{"zstd", "none"}, []string{"xchacha20poly1305", "none"}, []string{"f16", "i8", "q4"})
	if err != nil {
		log.Printf("[WARN] server: ping rejected: %v", err)
		_ = writeFrame(conn, codec, syncFrame(0, 0, resp))
		return
	}
	log.Println("[INFO] server: sending capability response")
	if err := writeFrame(conn, codec, syncFrame(0, 0, resp)); err != nil {
		log.Fatalf("[ERROR] server: send capability: %v", err)
	}

	for {
		f, err := readFrame(conn, codec)
		if err != nil {
			log.Printf("[INFO] server: connection closed: %v", err)
			return
		}

		if err := handshake.VerifySpace(f.SpaceHash32, caps.SpaceHash32, caps.EmbeddingSpaceID); err != nil {
			log.Printf("[WARN] server: space mismatch: %v", err)
			errMsg, _ := json.Marshal(handshake.NewErrorMsg(err.(*handshake.Error)))
			_ = writeFrame(conn, codec, syncFrame(f.StreamID, 0, errMsg))
			return
		}
		if srv.State() == handshake.AwaitingCapability {
			if _, err := srv.HandleDataFrame(f.SpaceHash32); err != nil {
				log.Printf("[ERROR] server: unexpected handshake transition failure: %v", err)
				return
			}
		}

		if err := ctrl.HandleFrame(f); err != nil {
			log.Printf("[WARN] server: stream error: %v", err)
			continue
		}

		st, _ := ctrl.State(f.StreamID)
		if st == stream.Closed {
			stats, _ := ctrl.Stats(f.StreamID)
			log.Printf("[INFO] server: stream %#x closed: frames=%d bytes=%d heartbeats=%d md5_mismatches=%d",
				f.StreamID, stats.FramesSeen, stats.BytesSeen, stats.HeartbeatsSeen, stats.MD5AdvisoryMismatches)
			ctrl.Remove(f.StreamID)
			return
		}
	}
}

func negotiatedFlags(compress, crypto []string) frame.Flags {
	var f frame.Flags
	for _, c := range compress {
		if c == "zstd" {
			f |= frame.FlagZstd
		}
	}
	for _, c := range crypto {
		if c == "xchacha20poly1305" {
			f |= frame.FlagXChaCha
		}
	}
	return f
}

func syncFrame(streamID uint32, seq uint64, payload []byte) *frame.Frame {
	return syncFrameWithSpace(streamID, seq, 0, payload)
}

func syncFrameWithSpace(streamID uint32, seq uint64, spaceHash32 uint32, payload []byte) *frame.Frame {
	return &frame.Frame{
		Type:        dtype.Sync,
		StreamID:    streamID,
		FrameSeq:    seq,
		SpaceHash32: spaceHash32,
		Modality:    dtype.Text,
		Slices: []slice.Slice{{
			DType:   dtype.I8,
			Shape:   []uint32{uint32(len(payload))},
			Payload: payload,
		}},
	}
}

func writeFrame(conn net.Conn, codec *frame.Codec, f *frame.Frame) error {
	b, err := codec.Encode(f)
	if err != nil {
		return err
	}
	var lenPrefix [4]byte
	lenPrefix[0] = byte(len(b) >> 24)
	lenPrefix[1] = byte(len(b) >> 16)
	lenPrefix[2] = byte(len(b) >> 8)
	lenPrefix[3] = byte(len(b))
	if _, err := conn.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err = conn.Write(b)
	return err
}

func readFrame(conn net.Conn, codec *frame.Codec) (*frame.Frame, error) {
	var lenPrefix [4]byte
	if _, err := ioFullRead(conn, lenPrefix[:]); err != nil {
		return nil, err
	}
	n := int(lenPrefix[0])<<24 | int(lenPrefix[1])<<16 | int(lenPrefix[2])<<8 | int(lenPrefix[3])
	b := make([]byte, n)
	if _, err := ioFullRead(conn, b); err != nil {
		return nil, err
	}
	return codec.Decode(b)
}

func ioFullRead(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
