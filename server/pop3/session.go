package pop3

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Atlantis-Software/n3/logger"
	"github.com/Atlantis-Software/n3/pkg/metrics"
	"github.com/Atlantis-Software/n3/server/idgen"
	"github.com/Atlantis-Software/n3/storage"
)

// sessionState is the RFC 1939 session state. Transitions are forward
// only: AUTHORIZATION to TRANSACTION at login, TRANSACTION to UPDATE at
// QUIT or disconnect.
type sessionState int

const (
	stateAuthorization sessionState = iota + 1
	stateTransaction
	stateUpdate
)

// commandRe extracts the leading alphabetic keyword of a request line.
var commandRe = regexp.MustCompile(`^[A-Za-z]+`)

// Session is the per-connection protocol state machine. Each accepted
// connection runs one Session on its own goroutine until QUIT, timeout,
// client drop, or server shutdown.
type Session struct {
	server *Server
	connID string // Session identifier used in logs

	// uid is the connection's banner token "<counter>.<unix-millis>";
	// salt wraps it as "<uid@hostname>" for APOP and CRAM-MD5.
	uid  string
	salt string

	connMutex sync.Mutex // Guards conn across the STLS swap
	conn      net.Conn
	reader    *bufio.Reader
	writer    *bufio.Writer

	ctx    context.Context
	cancel context.CancelFunc

	state     sessionState
	tlsActive bool

	pendingUser string // Username from USER, awaiting PASS
	user        string // Authenticated username
	registered  bool   // Holds a registry slot for user

	maildrop storage.Maildrop
	view     *mailboxView

	// In-progress AUTH negotiation, nil between exchanges.
	authState string
	authObj   *AuthExchange

	curCmd    string
	startTime time.Time
}

func newSession(server *Server, conn net.Conn, ctx context.Context, cancel context.CancelFunc) *Session {
	uid := fmt.Sprintf("%d.%d", server.totalConnections.Load(), time.Now().UnixMilli())
	return &Session{
		server:    server,
		connID:    idgen.New(),
		uid:       uid,
		salt:      "<" + uid + "@" + server.hostname + ">",
		conn:      conn,
		reader:    bufio.NewReader(conn),
		writer:    bufio.NewWriter(conn),
		ctx:       ctx,
		cancel:    cancel,
		state:     stateAuthorization,
		startTime: time.Now(),
	}
}

func (s *Session) handleConnection() {
	defer s.teardown()

	s.respond("+OK POP3 Server ready " + s.salt)
	s.writer.Flush()

	for {
		s.conn.SetReadDeadline(time.Now().Add(s.server.inactivityTimeout))

		line, err := s.reader.ReadString('\n')
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				// Inactivity closes the connection without a reply and
				// without committing pending deletions.
				s.log("closed for inactivity")
			} else if err == io.EOF {
				s.log("client dropped connection")
			} else if s.ctx.Err() != nil {
				s.log("session cancelled")
			} else {
				s.log("read error: %v", err)
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")

		// A pending AUTH exchange consumes the whole line as the next
		// client response, whatever it looks like.
		if s.authState != "" {
			s.handleAuthContinue(strings.TrimSpace(line))
			s.writer.Flush()
			continue
		}

		if s.dispatch(line) {
			s.writer.Flush()
			return
		}
		s.writer.Flush()
	}
}

// dispatch parses and runs one command line. It returns true when the
// session is over and the connection should be closed.
func (s *Session) dispatch(line string) bool {
	keyword := commandRe.FindString(line)
	if keyword == "" {
		s.curCmd = "INVALID"
		s.fail("")
		return false
	}

	args := ""
	if len(line) > len(keyword) {
		args = strings.TrimSpace(line[len(keyword):])
	}

	cmd := strings.ToUpper(keyword)
	s.curCmd = cmd

	switch cmd {
	case "CAPA":
		s.cmdCapa(args)
	case "QUIT":
		s.cmdQuit()
		return true
	case "USER":
		s.cmdUser(args)
	case "PASS":
		s.cmdPass(args)
	case "APOP":
		s.cmdApop(args)
	case "AUTH":
		s.cmdAuth(args)
	case "STLS":
		return s.cmdStls(args)
	case "NOOP":
		s.cmdNoop(args)
	case "STAT":
		s.cmdStat(args)
	case "LIST":
		s.cmdList(args)
	case "UIDL":
		s.cmdUidl(args)
	case "RETR":
		s.cmdRetr(args)
	case "DELE":
		s.cmdDele(args)
	case "RSET":
		s.cmdRset(args)
	default:
		s.log("unrecognized command: %s", cmd)
		s.fail("")
	}
	return false
}

// cmdCapa lists capabilities for the current state (RFC 2449).
func (s *Session) cmdCapa(args string) {
	if args != "" {
		s.fail("Try: CAPA")
		return
	}

	s.ok("Capability list follows")
	if s.state == stateAuthorization {
		s.respond("UIDL")
		s.respond("USER")
		s.respond("RESP-CODES")
		s.respond("AUTH-RESP-CODE")
		if s.server.tlsConfig != nil && !s.tlsActive {
			s.respond("STLS")
		}
		s.respond("SASL " + strings.Join(s.server.mechanismNames(), " "))
	} else if s.state == stateTransaction {
		s.respond("UIDL")
		s.respond("EXPIRE NEVER")
		s.respond("LOGIN-DELAY 0")
		s.respond("IMPLEMENTATION n3 POP3 server")
	}
	s.respond(".")
}

// cmdQuit enters UPDATE and, when the session was in TRANSACTION, commits
// pending deletions. A failing commit is logged but the sign-off is sent
// regardless: the client can do nothing useful with an error here.
func (s *Session) cmdQuit() {
	if s.state == stateTransaction {
		s.state = stateUpdate
		uids := s.view.deletedUIDs()
		if len(uids) > 0 {
			if err := s.maildrop.RemoveDeleted(s.ctx, uids); err != nil {
				s.log("failed to remove deleted messages: %v", err)
			} else {
				s.log("removed %d deleted messages", len(uids))
			}
		}
	} else {
		s.state = stateUpdate
	}
	s.ok("n3 POP3 Server signing off")
}

// teardown releases everything the session holds. Runs exactly once, on
// every exit path.
func (s *Session) teardown() {
	s.writer.Flush()

	if s.state == stateTransaction {
		// Disconnect without QUIT: enter UPDATE but keep the maildrop
		// intact, deletion marks are abandoned.
		s.state = stateUpdate
	}

	if s.maildrop != nil {
		if err := s.maildrop.Close(); err != nil {
			s.log("failed to close maildrop: %v", err)
		}
		s.maildrop = nil
	}

	if s.registered {
		s.server.registry.release(s.user)
		s.server.authenticatedConnections.Add(-1)
		metrics.AuthenticatedConnectionsCurrent.Dec()
		s.registered = false
	}

	s.connMutex.Lock()
	s.conn.Close()
	s.connMutex.Unlock()

	s.server.removeSession(s)
	s.server.connCounter.Add(-1)
	metrics.ConnectionsCurrent.Dec()
	metrics.ConnectionDuration.Observe(time.Since(s.startTime).Seconds())

	s.log("closed (connections: total=%d, authenticated=%d)",
		s.server.connCounter.Load(), s.server.authenticatedConnections.Load())

	s.cancel()
}

// currentConn returns the live connection, which may have been swapped
// for a TLS one by STLS.
func (s *Session) currentConn() net.Conn {
	s.connMutex.Lock()
	defer s.connMutex.Unlock()
	return s.conn
}

// respond writes one raw response line.
func (s *Session) respond(text string) {
	s.writer.WriteString(text + "\r\n")
}

// ok sends a success reply, "+OK" alone when msg is empty.
func (s *Session) ok(msg string) {
	if msg == "" {
		s.respond("+OK")
	} else {
		s.respond("+OK " + msg)
	}
	metrics.CommandsTotal.WithLabelValues(s.curCmd, "ok").Inc()
}

// fail sends an error reply, "-ERR" alone when msg is empty.
func (s *Session) fail(msg string) {
	if msg == "" {
		s.respond("-ERR")
	} else {
		s.respond("-ERR " + msg)
	}
	metrics.CommandsTotal.WithLabelValues(s.curCmd, "err").Inc()
}

func (s *Session) log(format string, args ...any) {
	fields := []any{"id", s.connID, "remote", s.conn.RemoteAddr().String()}
	if s.user != "" {
		fields = append(fields, "user", s.user)
	}
	logger.Debug(fmt.Sprintf(format, args...), fields...)
}
