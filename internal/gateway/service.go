package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/swiftgate/internal/protocol/ack"
	"github.com/danmuck/swiftgate/internal/protocol/frame"
	"github.com/danmuck/swiftgate/internal/protocol/session"
	"github.com/danmuck/swiftgate/internal/translog"
	"github.com/rs/zerolog/log"
)

const readChunk = 32 << 10

// Config is the inbound listener configuration.
type Config struct {
	ListenAddr    string
	TLSListenAddr string
	Limits        frame.Limits
	Session       session.Config
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:    ":5000",
		TLSListenAddr: ":5001",
		Limits:        frame.DefaultLimits(),
		Session:       session.DefaultConfig(),
	}
}

// Service runs the plaintext listener and, when TLS is enabled, the TLS
// listener. Both feed the same processor and registry.
type Service struct {
	cfg       Config
	processor *Processor
	registry  *Registry
	access    *AccessList
	log       *translog.Log

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	clients   atomic.Int64
	listening atomic.Bool
}

func NewService(cfg Config, processor *Processor, registry *Registry, access *AccessList, tlog *translog.Log) *Service {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if strings.TrimSpace(cfg.TLSListenAddr) == "" {
		cfg.TLSListenAddr = def.TLSListenAddr
	}
	if cfg.Limits.MaxFrameBytes <= 0 {
		cfg.Limits = def.Limits
	}
	if registry == nil {
		registry = NewRegistry(nil)
	}
	return &Service{
		cfg:       cfg,
		processor: processor,
		registry:  registry,
		access:    access,
		log:       tlog,
		conns:     make(map[net.Conn]struct{}),
	}
}

func (s *Service) Registry() *Registry {
	return s.registry
}

// Listening reports whether the plaintext listener is accepting.
func (s *Service) Listening() bool {
	return s.listening.Load()
}

func (s *Service) Config() Config {
	return s.cfg
}

// Run binds the listeners and serves until ctx ends. Bind failures are
// returned immediately.
func (s *Service) Run(ctx context.Context) error {
	if err := s.cfg.Session.ValidateServerTransport(); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", s.cfg.ListenAddr, err)
	}
	log.Info().Str("addr", ln.Addr().String()).Str("protocol", translog.ProtocolTCP).Msg("gateway: listening")

	var tlsLn net.Listener
	if s.cfg.Session.TLS.Enabled {
		tlsCfg, err := s.cfg.Session.ServerTLSConfig()
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("gateway: tls config: %w", err)
		}
		tlsLn, err = tls.Listen("tcp", s.cfg.TLSListenAddr, tlsCfg)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("gateway: listen %s: %w", s.cfg.TLSListenAddr, err)
		}
		log.Info().Str("addr", tlsLn.Addr().String()).Str("protocol", translog.ProtocolTLS).Msg("gateway: listening")
	}

	errs := make(chan error, 2)
	n := 1
	go func() { errs <- s.Serve(ctx, ln, translog.ProtocolTCP) }()
	if tlsLn != nil {
		n++
		go func() { errs <- s.Serve(ctx, tlsLn, translog.ProtocolTLS) }()
	}
	var first error
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Serve accepts connections on ln until ctx ends or ln fails.
func (s *Service) Serve(ctx context.Context, ln net.Listener, protocol string) error {
	defer ln.Close()
	if protocol == translog.ProtocolTCP {
		s.listening.Store(true)
		defer s.listening.Store(false)
	}
	go func() {
		<-ctx.Done()
		s.closeAllConns()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		host, port := SplitAddr(conn.RemoteAddr())
		if s.access != nil && !s.access.Allowed(host) {
			s.append(translog.Entry{
				Type:          translog.TypeConnection,
				Protocol:      protocol,
				Direction:     translog.Inbound,
				Status:        translog.StatusRejected,
				RemoteAddress: host,
				RemotePort:    port,
			})
			log.Warn().Str("remote", host).Int("port", port).Msg("gateway: connection rejected by access list")
			_ = conn.Close()
			continue
		}
		s.trackConn(conn)
		go s.handleConn(ctx, conn, protocol)
	}
}

func (s *Service) handleConn(ctx context.Context, conn net.Conn, protocol string) {
	defer conn.Close()
	defer s.untrackConn(conn)

	host, port := SplitAddr(conn.RemoteAddr())
	c := s.registry.Add(host, port, protocol)
	active := s.clients.Add(1)
	log.Info().Str("remote", c.ID).Str("protocol", protocol).Int64("active_clients", active).Msg("gateway: client connected")
	s.append(translog.Entry{
		Type:          translog.TypeConnection,
		Protocol:      protocol,
		Direction:     translog.Inbound,
		Status:        translog.StatusConnected,
		RemoteAddress: host,
		RemotePort:    port,
	})
	defer func() {
		s.registry.Remove(c.ID)
		remaining := s.clients.Add(-1)
		s.append(translog.Entry{
			Type:          translog.TypeConnection,
			Protocol:      protocol,
			Direction:     translog.Inbound,
			Status:        translog.StatusDisconnected,
			RemoteAddress: host,
			RemotePort:    port,
		})
		log.Info().Str("remote", c.ID).Int64("active_clients", remaining).Msg("gateway: client disconnected")
	}()

	src := Source{Protocol: protocol, RemoteAddress: host, RemotePort: port}
	splitter := frame.NewSplitter(s.cfg.Limits)
	buf := make([]byte, readChunk)
	for {
		if idle := s.cfg.Session.ReadIdleTimeout; idle > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(idle))
		}
		n, err := conn.Read(buf)
		if n > 0 {
			for _, fr := range splitter.Feed(buf[:n]) {
				s.registry.Received(c.ID)
				var resp ack.Response
				if fr.Oversized {
					resp = s.processor.Reject(ack.CodeInvalidFormat, []string{
						fmt.Sprintf("Frame exceeds maximum size of %d bytes", s.cfg.Limits.MaxFrameBytes),
					}, src)
				} else {
					resp = s.processor.Process(ctx, fr.Payload, src)
				}
				if err := s.write(conn, resp); err != nil {
					s.connError(src, err)
					return
				}
				s.registry.Sent(c.ID)
			}
		}
		if err != nil {
			if !isClosed(err) && ctx.Err() == nil {
				s.connError(src, err)
			}
			return
		}
	}
}

func (s *Service) write(conn net.Conn, resp ack.Response) error {
	b, err := frame.Encode(resp, s.cfg.Limits)
	if err != nil {
		return err
	}
	if wt := s.cfg.Session.WriteTimeout; wt > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(wt))
	}
	_, err = conn.Write(b)
	return err
}

func (s *Service) connError(src Source, err error) {
	s.append(translog.Entry{
		Type:          translog.TypeError,
		Protocol:      src.Protocol,
		Direction:     translog.Inbound,
		Status:        translog.StatusError,
		RemoteAddress: src.RemoteAddress,
		RemotePort:    src.RemotePort,
		Error:         err.Error(),
	})
	log.Warn().Err(err).Str("remote", src.RemoteAddress).Int("port", src.RemotePort).Msg("gateway: socket error")
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

func (s *Service) append(e translog.Entry) {
	if s.log != nil {
		s.log.Append(e)
	}
}

func (s *Service) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Service) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

func (s *Service) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, conn)
	}
}
