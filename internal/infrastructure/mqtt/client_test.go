package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/nerrad567/gray-logic-zwave/internal/infrastructure/config"
)

// freePort reserves and releases a loopback port.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close() //nolint:errcheck // released for the broker
	return port
}

// startSiteBroker runs a mochi-mqtt broker standing in for the site broker.
func startSiteBroker(t *testing.T) (*mochi.Server, int) {
	t.Helper()
	port := freePort(t)

	server := mochi.New(&mochi.Options{InlineClient: true})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		t.Fatalf("AddHook: %v", err)
	}
	tcp := listeners.NewTCP(listeners.Config{ID: "t1", Address: "127.0.0.1:" + strconv.Itoa(port)})
	if err := server.AddListener(tcp); err != nil {
		t.Fatalf("AddListener: %v", err)
	}
	go server.Serve() //nolint:errcheck // stopped by Close
	t.Cleanup(func() { server.Close() })
	return server, port
}

func testMQTTConfig(port int) config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     port,
			ClientID: "zwave-test",
		},
		QoS:       1,
		TopicRoot: "graylogic",
	}
}

type recorded struct {
	mu   sync.Mutex
	msgs map[string][]byte
	ch   chan string
}

func newRecorded() *recorded {
	return &recorded{msgs: make(map[string][]byte), ch: make(chan string, 16)}
}

func (r *recorded) add(topic string, payload []byte) {
	r.mu.Lock()
	r.msgs[topic] = append([]byte(nil), payload...)
	r.mu.Unlock()
	r.ch <- topic
}

func (r *recorded) wait(t *testing.T, topic string) []byte {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-r.ch:
			if got == topic {
				r.mu.Lock()
				defer r.mu.Unlock()
				return r.msgs[topic]
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", topic)
			return nil
		}
	}
}

func TestClient_PublishAndHealth(t *testing.T) {
	server, port := startSiteBroker(t)
	rec := newRecorded()
	if err := server.Subscribe("graylogic/#", 1, func(_ *mochi.Client, _ packets.Subscription, pk packets.Packet) {
		rec.add(pk.TopicName, pk.Payload)
	}); err != nil {
		t.Fatalf("inline Subscribe: %v", err)
	}

	c, err := Connect(context.Background(), testMQTTConfig(port))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close() //nolint:errcheck // Test cleanup

	var status map[string]string
	if err := json.Unmarshal(rec.wait(t, "graylogic/health/zwave"), &status); err != nil {
		t.Fatalf("health payload: %v", err)
	}
	if status["status"] != "online" || status["client_id"] != "zwave-test" {
		t.Errorf("health = %v", status)
	}

	topic := c.Topics().EntityState("node12", 1)
	if err := c.Publish(topic, []byte(`{"n_value":1}`), c.QoS(), true); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if got := string(rec.wait(t, topic)); got != `{"n_value":1}` {
		t.Errorf("payload = %s", got)
	}
}

func TestClient_Subscribe(t *testing.T) {
	server, port := startSiteBroker(t)

	c, err := Connect(context.Background(), testMQTTConfig(port))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close() //nolint:errcheck // Test cleanup

	got := make(chan string, 1)
	err = c.Subscribe(c.Topics().AllEntityCommands(), 1, func(topic string, payload []byte) error {
		got <- topic + " " + string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if c.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", c.SubscriptionCount())
	}

	if err := server.Publish("graylogic/command/zwave/node12/1", []byte(`{"command":"On"}`), false, 1); err != nil {
		t.Fatalf("server Publish: %v", err)
	}

	select {
	case msg := <-got:
		if msg != `graylogic/command/zwave/node12/1 {"command":"On"}` {
			t.Errorf("received %q", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("command not delivered")
	}
}

func TestClient_Validation(t *testing.T) {
	_, port := startSiteBroker(t)
	c, err := Connect(context.Background(), testMQTTConfig(port))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close() //nolint:errcheck // Test cleanup

	noop := func(string, []byte) error { return nil }
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"publish empty topic", c.Publish("", nil, 0, false), ErrInvalidTopic},
		{"publish bad qos", c.Publish("a", nil, 3, false), ErrInvalidQoS},
		{"publish oversize", c.Publish("a", make([]byte, maxPayloadSize+1), 0, false), ErrPublishFailed},
		{"subscribe empty topic", c.Subscribe("", 0, noop), ErrInvalidTopic},
		{"subscribe bad qos", c.Subscribe("a", 3, noop), ErrInvalidQoS},
		{"subscribe nil handler", c.Subscribe("a", 0, nil), ErrSubscribeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("error = %v, want %v", tt.err, tt.want)
			}
		})
	}
}

func TestClient_AfterClose(t *testing.T) {
	_, port := startSiteBroker(t)
	c, err := Connect(context.Background(), testMQTTConfig(port))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := c.Publish("a", nil, 0, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestConnect_Refused(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := Connect(ctx, testMQTTConfig(freePort(t)))
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClose_Nil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}
