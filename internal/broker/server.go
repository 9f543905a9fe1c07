package broker

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/nerrad567/gray-logic-zwave/internal/infrastructure/config"
)

const (
	// connectTimeout bounds the wait for the first packet.
	connectTimeout = 10 * time.Second

	// writeTimeout bounds every packet write.
	writeTimeout = 10 * time.Second

	// readLimit caps the remaining length of inbound packets.
	readLimit = 1 << 20

	// keepAliveGrace is the multiplier MQTT allows on the keepalive period.
	keepAliveGrace = 1.5
)

// ServerOptions configures a Server.
type ServerOptions struct {
	Config  config.BrokerConfig
	Router  Router
	Clients *ClientSet
	Tracer  Tracer
	Logger  Logger
}

// Server accepts gateway connections on a plain TCP listener and,
// optionally, a TLS listener. Each connection gets its own Session and
// reader goroutine.
type Server struct {
	cfg      config.BrokerConfig
	sessCfg  SessionConfig
	router   Router
	clients  *ClientSet
	tracer   Tracer
	logger   Logger
	tlsConf  *tls.Config
	mu       sync.Mutex
	lns      []net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	closing  bool
	plainLn  net.Listener
	secureLn net.Listener
}

// NewServer validates options and loads TLS material. No sockets are
// opened until Start.
func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Router == nil {
		return nil, errors.New("broker: router is required")
	}
	if opts.Clients == nil {
		opts.Clients = NewClientSet()
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	cfg := opts.Config
	s := &Server{
		cfg: cfg,
		sessCfg: SessionConfig{
			MaxProtocolVersion: byte(cfg.MaxProtocolVersion), // #nosec G115 -- validated 3..4
			Username:           cfg.Auth.Username,
			Password:           cfg.Auth.Password,
			MaxPacketSize:      uint32(cfg.MaxPacketSize), // #nosec G115 -- validated positive
			DiscoveryPrefix:    cfg.DiscoveryPrefix,
			StatePrefix:        cfg.StatePrefix,
		},
		router:  opts.Router,
		clients: opts.Clients,
		tracer:  opts.Tracer,
		logger:  opts.Logger,
		conns:   make(map[net.Conn]struct{}),
	}

	if cfg.TLS.Enabled {
		tlsConf, err := loadTLSConfig(cfg.TLS)
		if err != nil {
			return nil, err
		}
		s.tlsConf = tlsConf
	}
	return s, nil
}

func loadTLSConfig(cfg config.BrokerTLSConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading broker certificate: %w", err)
	}
	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if cfg.ClientCAFile != "" {
		pem, err := os.ReadFile(cfg.ClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("reading client CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("client CA %s contains no certificates", cfg.ClientCAFile)
		}
		tlsConf.ClientCAs = pool
		tlsConf.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsConf, nil
}

// Clients returns the active-client set.
func (s *Server) Clients() *ClientSet { return s.clients }

// Start opens the listeners and begins accepting. It returns once the
// sockets are bound; connections are served until ctx is cancelled or
// Close is called.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("broker listen on %s: %w", addr, err)
	}
	s.track(ln)
	s.plainLn = ln
	s.logger.Info("MQTT broker listening", "address", ln.Addr().String(), "tls", false)

	if s.tlsConf != nil {
		taddr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.TLS.Port))
		tln, err := tls.Listen("tcp", taddr, s.tlsConf)
		if err != nil {
			s.Close() //nolint:errcheck // closing what was opened
			return fmt.Errorf("broker TLS listen on %s: %w", taddr, err)
		}
		s.track(tln)
		s.secureLn = tln
		s.logger.Info("MQTT broker listening", "address", tln.Addr().String(), "tls", true,
			"client_certs", s.tlsConf.ClientAuth == tls.RequireAndVerifyClientCert)
	}

	s.mu.Lock()
	lns := append([]net.Listener(nil), s.lns...)
	s.mu.Unlock()
	for _, l := range lns {
		s.wg.Add(1)
		go s.acceptLoop(ctx, l)
	}

	go func() {
		<-ctx.Done()
		s.Close() //nolint:errcheck // shutdown path
	}()
	return nil
}

// Addr returns the plain listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.plainLn == nil {
		return nil
	}
	return s.plainLn.Addr()
}

// TLSAddr returns the TLS listener address, or nil when TLS is disabled.
func (s *Server) TLSAddr() net.Addr {
	if s.secureLn == nil {
		return nil
	}
	return s.secureLn.Addr()
}

func (s *Server) track(ln net.Listener) {
	s.mu.Lock()
	s.lns = append(s.lns, ln)
	s.mu.Unlock()
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosing() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		s.mu.Lock()
		if s.closing {
			s.mu.Unlock()
			conn.Close() //nolint:errcheck // shutting down
			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// serveConn runs one connection until it closes or its session ends.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	session := NewSession(remote, deadlineWriter{conn}, SessionOptions{
		Config:  s.sessCfg,
		Router:  s.router,
		Clients: s.clients,
		Tracer:  s.tracer,
		Logger:  s.logger,
	})

	defer func() {
		session.Close()
		conn.Close() //nolint:errcheck // connection teardown
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		s.logger.Debug("connection closed", "remote", remote, "session_id", session.ID())
	}()

	r := bufio.NewReader(conn)
	idle := connectTimeout
	for {
		if idle > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(idle)) //nolint:errcheck // surfaced by the read
		} else {
			_ = conn.SetReadDeadline(time.Time{}) //nolint:errcheck // surfaced by the read
		}

		pk, err := readPacket(r, session.ProtocolVersion(), readLimit)
		if err != nil {
			s.logReadError(remote, err)
			return
		}
		if err := session.Handle(ctx, pk); err != nil {
			s.logger.Debug("session ended", "remote", remote, "reason", err)
			return
		}
		if pk.FixedHeader.Type == packets.Connect {
			idle = time.Duration(float64(pk.Connect.Keepalive)*keepAliveGrace) * time.Second
		}
	}
}

func (s *Server) logReadError(remote string, err error) {
	var nerr net.Error
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		s.logger.Debug("client closed connection", "remote", remote)
	case errors.As(err, &nerr) && nerr.Timeout():
		s.logger.Warn("client keepalive expired", "remote", remote)
	default:
		s.logger.Warn("reading packet failed", "remote", remote, "error", err)
	}
}

// Close stops the listeners, closes every connection and waits for the
// connection goroutines to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		s.wg.Wait()
		return nil
	}
	s.closing = true
	var errs []error
	for _, ln := range s.lns {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	for conn := range s.conns {
		conn.Close() //nolint:errcheck // forcing readers to return
	}
	s.mu.Unlock()

	s.wg.Wait()
	return errors.Join(errs...)
}

// deadlineWriter applies writeTimeout to every write on the connection.
type deadlineWriter struct {
	conn net.Conn
}

func (w deadlineWriter) Write(p []byte) (int, error) {
	if err := w.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return 0, err
	}
	return w.conn.Write(p)
}
