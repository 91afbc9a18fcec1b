package pop3

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Atlantis-Software/n3/config"
	"github.com/Atlantis-Software/n3/credentials"
	"github.com/Atlantis-Software/n3/logger"
	"github.com/Atlantis-Software/n3/pkg/metrics"
	"github.com/Atlantis-Software/n3/storage"
)

// Server is the POP3 protocol engine. It owns the listener, the mechanism
// table, and the cross-connection session registry; one Session is run per
// accepted connection.
type Server struct {
	name              string
	hostname          string
	addr              string
	tlsConfig         *tls.Config // nil = STLS refused
	inactivityTimeout time.Duration
	maxConnections    int

	source  credentials.Source
	backend storage.Backend

	// mechanisms is read-only once Start has been called.
	mechanisms map[string]Mechanism
	started    atomic.Bool

	registry *sessionRegistry

	appCtx context.Context
	cancel context.CancelFunc

	connCounter              atomic.Int64
	totalConnections         atomic.Int64
	authenticatedConnections atomic.Int64

	activeSessionsMutex sync.Mutex
	activeSessions      map[*Session]struct{}
	sessionsWg          sync.WaitGroup
}

// New builds a Server from configuration and its two collaborators: the
// credential source and the message store backend.
func New(appCtx context.Context, cfg config.ServerConfig, source credentials.Source, backend storage.Backend) (*Server, error) {
	serverCtx, serverCancel := context.WithCancel(appCtx)

	timeout, err := cfg.GetInactivityTimeout()
	if err != nil {
		serverCancel()
		return nil, err
	}

	server := &Server{
		name:              cfg.Name,
		hostname:          cfg.Hostname,
		addr:              cfg.Addr,
		inactivityTimeout: timeout,
		maxConnections:    cfg.MaxConnections,
		source:            source,
		backend:           backend,
		mechanisms:        builtinMechanisms(),
		registry:          newSessionRegistry(),
		appCtx:            serverCtx,
		cancel:            serverCancel,
		activeSessions:    make(map[*Session]struct{}),
	}

	if cfg.TLSEnabled() {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			serverCancel()
			return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		server.tlsConfig = &tls.Config{
			Certificates:  []tls.Certificate{cert},
			MinVersion:    tls.VersionTLS12,
			ServerName:    cfg.Hostname,
			NextProtos:    []string{"pop3"},
			Renegotiation: tls.RenegotiateNever,
		}
	}

	return server, nil
}

// ExtendAuth registers an additional SASL mechanism. Must be called
// before Start; the mechanism table is immutable afterwards.
func (s *Server) ExtendAuth(name string, mech Mechanism) error {
	if s.started.Load() {
		return fmt.Errorf("cannot register mechanism %q after Start", name)
	}
	s.mechanisms[normalizeMechName(name)] = mech
	return nil
}

func normalizeMechName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// mechanismNames returns the registered mechanism names, sorted, for the
// CAPA SASL line.
func (s *Server) mechanismNames() []string {
	names := make([]string, 0, len(s.mechanisms))
	for name := range s.mechanisms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start accepts connections until the server context is cancelled. Fatal
// listener errors are sent on errChan.
func (s *Server) Start(errChan chan error) {
	s.started.Store(true)

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.cancel()
		errChan <- fmt.Errorf("failed to create listener: %w", err)
		return
	}
	defer listener.Close()

	logger.Info("POP3 server listening", "name", s.name, "addr", s.addr, "stls", s.tlsConfig != nil)

	go func() {
		<-s.appCtx.Done()
		logger.Debug("POP3: stopping", "name", s.name)
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.appCtx.Done():
				logger.Info("POP3 server stopped gracefully", "name", s.name)
				return
			default:
				errChan <- err
				return
			}
		}

		if s.maxConnections > 0 && s.connCounter.Load() >= int64(s.maxConnections) {
			logger.Warn("POP3: connection limit reached, rejecting", "name", s.name, "remote", conn.RemoteAddr())
			fmt.Fprint(conn, "-ERR [SYS] Too many connections, try again later\r\n")
			conn.Close()
			continue
		}

		sessionCtx, sessionCancel := context.WithCancel(s.appCtx)

		s.totalConnections.Add(1)
		s.connCounter.Add(1)
		metrics.ConnectionsTotal.Inc()
		metrics.ConnectionsCurrent.Inc()

		session := newSession(s, conn, sessionCtx, sessionCancel)

		logger.Debug("POP3: new connection", "name", s.name, "id", session.connID, "remote", conn.RemoteAddr().String())

		s.addSession(session)
		s.sessionsWg.Add(1)
		go func() {
			defer s.sessionsWg.Done()
			session.handleConnection()
		}()
	}
}

// Close shuts the server down: active sessions get a shutdown notice,
// then the context is cancelled and sessions are drained with a timeout.
func (s *Server) Close() {
	s.sendGracefulShutdownMessage()

	if s.cancel != nil {
		s.cancel()
	}

	s.waitForSessionsDrain(30 * time.Second)
}

func (s *Server) waitForSessionsDrain(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.sessionsWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Debug("POP3: all sessions drained gracefully", "name", s.name)
	case <-time.After(timeout):
		logger.Debug("POP3: session drain timeout, forcing shutdown", "name", s.name, "timeout", timeout)
	}
}

func (s *Server) addSession(session *Session) {
	s.activeSessionsMutex.Lock()
	defer s.activeSessionsMutex.Unlock()
	s.activeSessions[session] = struct{}{}
}

func (s *Server) removeSession(session *Session) {
	s.activeSessionsMutex.Lock()
	defer s.activeSessionsMutex.Unlock()
	delete(s.activeSessions, session)
}

// sendGracefulShutdownMessage notifies active sessions and closes their
// connections to unblock pending reads.
func (s *Server) sendGracefulShutdownMessage() {
	s.activeSessionsMutex.Lock()
	activeSessions := make([]*Session, 0, len(s.activeSessions))
	for session := range s.activeSessions {
		activeSessions = append(activeSessions, session)
	}
	s.activeSessionsMutex.Unlock()

	if len(activeSessions) == 0 {
		return
	}

	logger.Debug("POP3: notifying active connections of shutdown", "name", s.name, "count", len(activeSessions))

	for _, session := range activeSessions {
		if conn := session.currentConn(); conn != nil {
			writer := bufio.NewWriter(conn)
			writer.WriteString("-ERR [SYS] Server shutting down, please reconnect\r\n")
			writer.Flush()
		}
	}

	// A brief moment for the notice to flush before connections drop
	time.Sleep(1 * time.Second)

	for _, session := range activeSessions {
		if conn := session.currentConn(); conn != nil {
			conn.Close()
		}
	}
}

// TotalConnections returns the cumulative accepted connection count.
func (s *Server) TotalConnections() int64 {
	return s.totalConnections.Load()
}

// AuthenticatedConnections returns the authenticated connection count.
func (s *Server) AuthenticatedConnections() int64 {
	return s.authenticatedConnections.Load()
}
