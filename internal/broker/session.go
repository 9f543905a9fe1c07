package broker

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/nerrad567/gray-logic-zwave/internal/infrastructure/metrics"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateAwaitingConnect State = iota
	StateConnected
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateAwaitingConnect:
		return "awaiting_connect"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Router receives routed publish payloads. zwave.Bridge implements it.
type Router interface {
	HandleDiscovery(ctx context.Context, topic string, payload []byte) error
	HandleState(ctx context.Context, topic string, payload []byte) error
}

// PayloadChecker is implemented by routers that can reject a payload before
// it is acknowledged. Routers without it only get JSON well-formedness
// checked.
type PayloadChecker interface {
	CheckDiscovery(payload []byte) error
	CheckState(payload []byte) error
}

// Tracer records inbound publishes. logging.Tracer implements it.
type Tracer interface {
	Trace(topic string, payload []byte) error
}

// Logger is the logging interface used by the broker.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// responseInfo is advertised in a successful CONNACK.
const responseInfo = "Gray Logic"

// SessionConfig holds the handshake and routing rules shared by every
// session of one server.
type SessionConfig struct {
	// MaxProtocolVersion is the highest accepted protocol level.
	MaxProtocolVersion byte

	// Username and Password, when both are set, must match CONNECT.
	Username string
	Password string

	// MaxPacketSize is advertised in CONNACK.
	MaxPacketSize uint32

	// DiscoveryPrefix and StatePrefix are the first topic segments routed
	// to discovery and state handling. Other topics are ignored.
	DiscoveryPrefix string
	StatePrefix     string
}

func (c SessionConfig) authEnabled() bool {
	return c.Username != "" && c.Password != ""
}

// route identifies which handler a topic belongs to.
type route int

const (
	routeNone route = iota
	routeDiscovery
	routeState
)

func (c SessionConfig) route(topic string) route {
	first, _, _ := strings.Cut(topic, "/")
	switch first {
	case c.DiscoveryPrefix:
		return routeDiscovery
	case c.StatePrefix:
		return routeState
	default:
		return routeNone
	}
}

// SessionOptions bundles a session's collaborators.
type SessionOptions struct {
	Config  SessionConfig
	Router  Router
	Clients *ClientSet
	Tracer  Tracer
	Logger  Logger
}

// Session is the broker side of one client connection. Packets are fed to
// Handle in arrival order by a single reader; Publish may be called
// concurrently from command dispatch.
type Session struct {
	id     string
	key    string
	cfg    SessionConfig
	router Router
	set    *ClientSet
	tracer Tracer
	logger Logger

	// wmu serialises writes and guards everything below it.
	wmu         sync.Mutex
	w           io.Writer
	state       State
	version     byte
	clientID    string
	connectedAt time.Time
	nextID      uint16
}

// NewSession creates a session for the connection from remote ("host:port")
// whose outbound bytes go to w.
func NewSession(remote string, w io.Writer, opts SessionOptions) *Session {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Clients == nil {
		opts.Clients = NewClientSet()
	}
	return &Session{
		id:     uuid.NewString(),
		key:    remote,
		cfg:    opts.Config,
		router: opts.Router,
		set:    opts.Clients,
		tracer: opts.Tracer,
		logger: opts.Logger,
		w:      w,
	}
}

// Key returns the active-set key ("host:port").
func (s *Session) Key() string { return s.key }

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.state
}

// ProtocolVersion returns the level negotiated by CONNECT, or 0.
func (s *Session) ProtocolVersion() byte {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.version
}

// Info describes the session for the client list.
func (s *Session) Info() ClientInfo {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return ClientInfo{
		Key:             s.key,
		SessionID:       s.id,
		ClientID:        s.clientID,
		ProtocolVersion: s.version,
		ConnectedAt:     s.connectedAt,
	}
}

// Handle processes one inbound packet. A non-nil error means the
// connection must be closed; the session has already moved to Closed.
func (s *Session) Handle(ctx context.Context, pk *packets.Packet) (err error) {
	metrics.BrokerPacketsReceived.WithLabelValues(packetName(pk.FixedHeader.Type)).Inc()

	state := s.State()
	if state == StateClosed {
		return ErrSessionClosed
	}
	if state == StateAwaitingConnect && pk.FixedHeader.Type != packets.Connect {
		s.logger.Warn("packet before CONNECT", "remote", s.key, "type", packetName(pk.FixedHeader.Type))
		s.Close()
		return fmt.Errorf("%w: %s before CONNECT", ErrProtocolViolation, packetName(pk.FixedHeader.Type))
	}

	switch pk.FixedHeader.Type {
	case packets.Connect:
		if state == StateConnected {
			s.logger.Warn("second CONNECT on session", "remote", s.key)
			s.Close()
			return fmt.Errorf("%w: second CONNECT", ErrProtocolViolation)
		}
		return s.handleConnect(pk)
	case packets.Publish:
		return s.handlePublish(ctx, pk)
	case packets.Subscribe:
		return s.handleSubscribe(pk)
	case packets.Pingreq:
		return s.write(&packets.Packet{FixedHeader: packets.FixedHeader{Type: packets.Pingresp}})
	case packets.Puback:
		s.logger.Debug("PUBACK received", "remote", s.key, "packet_id", pk.PacketID, "reason_code", pk.ReasonCode)
		return nil
	case packets.Disconnect:
		s.logger.Info("client disconnected", "remote", s.key, "client_id", s.Info().ClientID)
		s.Close()
		return ErrSessionClosed
	default:
		s.logger.Warn("unhandled packet type", "remote", s.key, "type", packetName(pk.FixedHeader.Type))
		return nil
	}
}

func (s *Session) handleConnect(pk *packets.Packet) error {
	version := pk.ProtocolVersion
	reply := &packets.Packet{FixedHeader: packets.FixedHeader{Type: packets.Connack}}

	var refusal error
	switch {
	case version > s.cfg.MaxProtocolVersion:
		// Answer in the highest format we speak; a v5 CONNACK would carry
		// properties we do not negotiate.
		reply.ReasonCode = connackUnacceptableProto
		reply.ProtocolVersion = s.cfg.MaxProtocolVersion
		refusal = fmt.Errorf("%w: %d (max %d)", ErrUnsupportedVersion, version, s.cfg.MaxProtocolVersion)
	case s.cfg.authEnabled() && !s.credentialsMatch(pk):
		reply.ReasonCode = connackBadCredentials
		reply.ProtocolVersion = version
		refusal = ErrNotAuthorised
	default:
		reply.ReasonCode = connackAccepted
		reply.ProtocolVersion = version
		reply.SessionPresent = false
		reply.Properties.MaximumQos = 1
		reply.Properties.MaximumQosFlag = true
		reply.Properties.RetainAvailable = 0
		reply.Properties.RetainAvailableFlag = true
		reply.Properties.MaximumPacketSize = s.cfg.MaxPacketSize
		reply.Properties.ResponseInfo = responseInfo
	}

	if refusal != nil {
		metrics.BrokerConnects.WithLabelValues(connectResult(reply.ReasonCode)).Inc()
		s.logger.Error("CONNECT refused", "remote", s.key, "client_id", pk.Connect.ClientIdentifier, "error", refusal)
		if err := s.write(reply); err != nil {
			s.logger.Debug("writing CONNACK failed", "remote", s.key, "error", err)
		}
		s.Close()
		return refusal
	}

	s.wmu.Lock()
	s.version = version
	s.clientID = pk.Connect.ClientIdentifier
	s.connectedAt = time.Now()
	s.wmu.Unlock()

	if err := s.write(reply); err != nil {
		s.Close()
		return fmt.Errorf("%w: writing CONNACK: %w", ErrSessionClosed, err)
	}

	s.wmu.Lock()
	s.state = StateConnected
	s.wmu.Unlock()
	s.set.add(s)

	metrics.BrokerConnects.WithLabelValues("accepted").Inc()
	s.logger.Info("MQTT client connected",
		"remote", s.key,
		"client_id", pk.Connect.ClientIdentifier,
		"protocol_version", version,
		"session_id", s.id,
	)
	return nil
}

func (s *Session) credentialsMatch(pk *packets.Packet) bool {
	if !pk.Connect.UsernameFlag || !pk.Connect.PasswordFlag {
		return false
	}
	userOK := subtle.ConstantTimeCompare(pk.Connect.Username, []byte(s.cfg.Username)) == 1
	passOK := subtle.ConstantTimeCompare(pk.Connect.Password, []byte(s.cfg.Password)) == 1
	return userOK && passOK
}

func connectResult(code byte) string {
	switch code {
	case connackUnacceptableProto:
		return "unsupported_version"
	case connackBadCredentials:
		return "bad_credentials"
	default:
		return "refused"
	}
}

// handlePublish acknowledges and routes one inbound publish. Payloads on
// routed topics are checked before the PUBACK so a malformed publish is
// refused instead of acknowledged and dropped.
func (s *Session) handlePublish(ctx context.Context, pk *packets.Packet) (err error) {
	topic := pk.TopicName
	qos := pk.FixedHeader.Qos

	if qos > 1 {
		s.logger.Warn("QoS 2 publish dropped", "remote", s.key, "topic", topic)
		return nil
	}

	if s.tracer != nil {
		if terr := s.tracer.Trace(topic, pk.Payload); terr != nil {
			s.logger.Warn("message trace write failed", "error", terr)
		}
	}

	r := s.cfg.route(topic)
	if cerr := s.checkPayload(r, pk.Payload); cerr != nil {
		s.logger.Error("malformed publish payload", "remote", s.key, "topic", topic, "error", cerr)
		if qos == 1 {
			metrics.BrokerPublishAcks.WithLabelValues("malformed").Inc()
			return s.ack(pk.PacketID, pubackPayloadFormatInvalid)
		}
		return nil
	}

	if qos == 1 {
		metrics.BrokerPublishAcks.WithLabelValues("success").Inc()
		if err := s.ack(pk.PacketID, pubackSuccess); err != nil {
			return err
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("panic while processing publish", "remote", s.key, "topic", topic, "panic", rec)
			s.Close()
			err = fmt.Errorf("%w: panic processing %s: %v", ErrSessionClosed, topic, rec)
		}
	}()

	switch r {
	case routeDiscovery:
		_ = s.router.HandleDiscovery(ctx, topic, pk.Payload) //nolint:errcheck // logged by the router
	case routeState:
		_ = s.router.HandleState(ctx, topic, pk.Payload) //nolint:errcheck // logged by the router
	default:
		s.logger.Debug("publish outside routed namespaces ignored", "topic", topic)
	}
	return nil
}

func (s *Session) checkPayload(r route, payload []byte) error {
	checker, ok := s.router.(PayloadChecker)
	switch {
	case r == routeNone:
		return nil
	case !ok:
		if !json.Valid(payload) {
			return ErrMalformedPayload
		}
		return nil
	case r == routeDiscovery:
		return checker.CheckDiscovery(payload)
	default:
		return checker.CheckState(payload)
	}
}

func (s *Session) ack(id uint16, code byte) error {
	return s.write(&packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Puback},
		PacketID:    id,
		ReasonCode:  code,
	})
}

// handleSubscribe grants QoS 0 for every filter. Subscriptions are not
// tracked; outbound publishes go to every active client.
func (s *Session) handleSubscribe(pk *packets.Packet) error {
	codes := make([]byte, len(pk.Filters))
	for i := range codes {
		codes[i] = subackGrantedQoS0
	}
	s.logger.Debug("SUBSCRIBE acknowledged", "remote", s.key, "filters", len(pk.Filters))
	return s.write(&packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Suback},
		PacketID:    pk.PacketID,
		ReasonCodes: codes,
	})
}

// Publish sends a QoS 1 PUBLISH to this client.
func (s *Session) Publish(topic string, payload []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.state != StateConnected {
		return ErrClientNotConnected
	}

	s.nextID++
	if s.nextID == 0 {
		s.nextID = 1
	}
	return s.writeLocked(&packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Publish, Qos: 1},
		TopicName:   topic,
		Payload:     payload,
		PacketID:    s.nextID,
	})
}

func (s *Session) write(pk *packets.Packet) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.writeLocked(pk)
}

func (s *Session) writeLocked(pk *packets.Packet) error {
	if pk.ProtocolVersion == 0 {
		pk.ProtocolVersion = s.version
	}
	b, err := encodePacket(pk)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", packetName(pk.FixedHeader.Type), err)
	}
	if _, err := s.w.Write(b); err != nil {
		return fmt.Errorf("writing %s: %w", packetName(pk.FixedHeader.Type), err)
	}
	metrics.BrokerPacketsSent.WithLabelValues(packetName(pk.FixedHeader.Type)).Inc()
	return nil
}

// Close moves the session to Closed and removes it from the active set.
// The mapping table and host entities are unaffected. Close is idempotent.
func (s *Session) Close() {
	s.wmu.Lock()
	was := s.state
	s.state = StateClosed
	s.wmu.Unlock()

	if was == StateConnected {
		s.set.remove(s)
	}
}
