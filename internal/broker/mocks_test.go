package broker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/mochi-mqtt/server/v2/packets"
)

// routedCall is one call received by mockRouter.
type routedCall struct {
	kind    string
	topic   string
	payload string
	// written is how many bytes the session had written when the call
	// arrived, used to check the PUBACK went out first.
	written int
}

// mockRouter records routed publishes.
type mockRouter struct {
	mu      sync.Mutex
	calls   []routedCall
	out     *syncBuffer
	panicOn string
	err     error
}

func (m *mockRouter) record(kind, topic string, payload []byte) error {
	if m.panicOn != "" && topic == m.panicOn {
		panic("boom")
	}
	written := 0
	if m.out != nil {
		written = m.out.Len()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, routedCall{kind: kind, topic: topic, payload: string(payload), written: written})
	return m.err
}

func (m *mockRouter) HandleDiscovery(_ context.Context, topic string, payload []byte) error {
	return m.record("discovery", topic, payload)
}

func (m *mockRouter) HandleState(_ context.Context, topic string, payload []byte) error {
	return m.record("state", topic, payload)
}

func (m *mockRouter) Calls() []routedCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]routedCall(nil), m.calls...)
}

// syncBuffer is a bytes.Buffer safe for concurrent writers and readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

// failingWriter rejects every write.
type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

// mockTracer records traced messages.
type mockTracer struct {
	mu    sync.Mutex
	lines []string
}

func (m *mockTracer) Trace(topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, topic+": "+string(payload))
	return nil
}

// decodeReplies parses everything the broker wrote, as a client would.
func decodeReplies(t *testing.T, b []byte, version byte) []*packets.Packet {
	t.Helper()
	r := bufio.NewReader(bytes.NewReader(b))
	var out []*packets.Packet
	for {
		hb, err := r.ReadByte()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("reading reply header: %v", err)
		}
		fh := packets.FixedHeader{}
		if err := fh.Decode(hb); err != nil {
			t.Fatalf("decoding fixed header: %v", err)
		}
		rem, _, err := packets.DecodeLength(r)
		if err != nil {
			t.Fatalf("decoding length: %v", err)
		}
		fh.Remaining = rem
		buf := make([]byte, rem)
		if _, err := io.ReadFull(r, buf); err != nil {
			t.Fatalf("reading reply body: %v", err)
		}

		pk := &packets.Packet{FixedHeader: fh, ProtocolVersion: version}
		switch fh.Type {
		case packets.Connack:
			err = pk.ConnackDecode(buf)
		case packets.Puback:
			err = pk.PubackDecode(buf)
		case packets.Suback:
			err = pk.SubackDecode(buf)
		case packets.Publish:
			err = pk.PublishDecode(buf)
		case packets.Pingresp:
			err = pk.PingrespDecode(buf)
		}
		if err != nil {
			t.Fatalf("decoding %s: %v", packetName(fh.Type), err)
		}
		out = append(out, pk)
	}
}

func connectPacket(version byte, username, password string) *packets.Packet {
	pk := &packets.Packet{
		FixedHeader:     packets.FixedHeader{Type: packets.Connect},
		ProtocolVersion: version,
		Connect: packets.ConnectParams{
			ProtocolName:     []byte("MQTT"),
			ClientIdentifier: "zwave-js-ui",
			Clean:            true,
			Keepalive:        60,
		},
	}
	if username != "" {
		pk.Connect.UsernameFlag = true
		pk.Connect.Username = []byte(username)
	}
	if password != "" {
		pk.Connect.PasswordFlag = true
		pk.Connect.Password = []byte(password)
	}
	return pk
}

func publishPacket(topic, payload string, qos byte, id uint16) *packets.Packet {
	return &packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Publish, Qos: qos},
		TopicName:   topic,
		Payload:     []byte(payload),
		PacketID:    id,
	}
}
