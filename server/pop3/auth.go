package pop3

import (
	"crypto/hmac"
	"crypto/tls"
	"strings"
	"time"

	"github.com/Atlantis-Software/n3/credentials"
	"github.com/Atlantis-Software/n3/pkg/metrics"
)

// cmdUser records the username for a following PASS.
func (s *Session) cmdUser(args string) {
	if s.state != stateAuthorization {
		s.fail("Only allowed in authentication mode")
		return
	}

	user := credentials.Normalize(args)
	if user == "" {
		s.fail("User not set, try: USER <username>")
		return
	}

	s.pendingUser = user
	s.ok("User accepted")
}

// cmdPass verifies the password for the username set by USER.
func (s *Session) cmdPass(args string) {
	if s.state != stateAuthorization {
		s.fail("Only allowed in authentication mode")
		return
	}
	if s.pendingUser == "" {
		s.fail("USER not yet set")
		return
	}

	user := s.pendingUser
	s.pendingUser = ""

	ok := s.authCheck(user, func(cred credentials.Credential) bool {
		return cred.Verify(args)
	})
	if !ok {
		metrics.AuthenticationAttempts.WithLabelValues("PASS", "failure").Inc()
		s.log("authentication failed for %s", user)
		s.fail("[AUTH] Invalid login")
		return
	}

	metrics.AuthenticationAttempts.WithLabelValues("PASS", "success").Inc()
	s.login(user)
}

// cmdApop performs APOP digest authentication (RFC 1939 section 7). The
// digest is the MD5 of the banner salt concatenated with the password,
// so the account secret must be plaintext-recoverable.
func (s *Session) cmdApop(args string) {
	if s.state != stateAuthorization {
		s.fail("Only allowed in authentication mode")
		return
	}

	parts := strings.Fields(args)
	if len(parts) != 2 {
		s.fail("[AUTH] Invalid login")
		return
	}
	user := credentials.Normalize(parts[0])
	digest := strings.ToLower(parts[1])

	ok := s.authCheck(user, func(cred credentials.Credential) bool {
		password, recoverable := cred.Plaintext()
		if !recoverable {
			return false
		}
		expected := apopDigest(s.salt, password)
		return hmac.Equal([]byte(expected), []byte(digest))
	})
	if !ok {
		metrics.AuthenticationAttempts.WithLabelValues("APOP", "failure").Inc()
		s.log("APOP authentication failed for %s", user)
		s.fail("[AUTH] Invalid login")
		return
	}

	metrics.AuthenticationAttempts.WithLabelValues("APOP", "success").Inc()
	s.login(user)
}

// cmdAuth starts a SASL negotiation. The argument is the mechanism name,
// optionally followed by an initial client response.
func (s *Session) cmdAuth(args string) {
	if s.state != stateAuthorization {
		s.fail("Only allowed in authentication mode")
		return
	}
	if args == "" {
		s.fail("Invalid authentication method")
		return
	}

	method, params, _ := strings.Cut(args, " ")
	method = strings.ToUpper(strings.TrimSpace(method))
	params = strings.TrimSpace(params)

	mech, known := s.server.mechanisms[method]
	if !known {
		s.fail("Unrecognized authentication type")
		return
	}

	s.authObj = &AuthExchange{
		Params: params,
		Salt:   s.salt,
		Check:  s.authCheck,
	}
	s.runMechanism(method, mech, params)
}

// handleAuthContinue feeds the next client line into the pending
// exchange.
func (s *Session) handleAuthContinue(line string) {
	if s.state != stateAuthorization {
		s.authState = ""
		s.authObj = nil
		s.fail("Only allowed in authentication mode")
		return
	}

	method := s.authState
	s.authState = ""
	s.authObj.Wait = false
	s.authObj.Params = line
	s.runMechanism(method, s.server.mechanisms[method], line)
}

// runMechanism executes one round of the mechanism and acts on its
// outcome: another challenge, a terminal success, or a failure.
func (s *Session) runMechanism(method string, mech Mechanism, params string) {
	challenge, done, err := mech(s.authObj)
	if err != nil {
		metrics.AuthenticationAttempts.WithLabelValues(method, "failure").Inc()
		s.authState = ""
		s.authObj = nil
		s.fail(err.Error())
		return
	}

	if s.authObj.Wait {
		s.authState = method
		s.authObj.History = append(s.authObj.History, params)
		s.respond("+ " + challenge)
		return
	}

	if done {
		user := credentials.Normalize(s.authObj.User)
		s.authObj = nil
		metrics.AuthenticationAttempts.WithLabelValues(method, "success").Inc()
		s.login(user)
		return
	}

	metrics.AuthenticationAttempts.WithLabelValues(method, "failure").Inc()
	s.authObj = nil
	s.fail("[AUTH] Invalid authentication")
}

// login finishes any successful authentication: it claims the session
// slot, loads the maildrop view, and enters TRANSACTION. On failure the
// session stays in AUTHORIZATION.
func (s *Session) login(user string) {
	if !s.server.registry.acquire(user) {
		s.log("login refused, user %s already has a session", user)
		s.fail("[IN-USE] You already have a POP session running")
		return
	}

	maildrop, err := s.server.backend.Open(s.ctx, user)
	if err != nil {
		s.server.registry.release(user)
		s.log("failed to open maildrop for %s: %v", user, err)
		s.fail("[SYS] Error with initializing")
		return
	}

	infos, err := maildrop.Register(s.ctx)
	if err != nil {
		maildrop.Close()
		s.server.registry.release(user)
		s.log("failed to register maildrop for %s: %v", user, err)
		s.fail("[SYS] Error with initializing")
		return
	}

	s.user = user
	s.registered = true
	s.maildrop = maildrop
	s.view = newMailboxView(infos)
	s.state = stateTransaction

	authCount := s.server.authenticatedConnections.Add(1)
	metrics.AuthenticatedConnectionsCurrent.Inc()
	s.log("logged in with %d messages (authenticated connections: %d)", len(infos), authCount)

	s.ok("You are now logged in")
}

// authCheck looks the user up in the credential source and applies the
// mechanism's verification predicate.
func (s *Session) authCheck(user string, verify func(credentials.Credential) bool) bool {
	cred, err := s.server.source.Lookup(s.ctx, credentials.Normalize(user))
	if err != nil {
		return false
	}
	return verify(cred)
}

// cmdStls upgrades the connection to TLS in place (RFC 2595). The
// session state survives the upgrade; only the transport is replaced.
func (s *Session) cmdStls(args string) bool {
	if s.state != stateAuthorization {
		s.fail("Only allowed in authentication mode")
		return false
	}
	if s.server.tlsConfig == nil || s.tlsActive {
		s.fail("invalid command")
		return false
	}

	// Plaintext bytes pipelined behind the command are invisible to the
	// TLS layer, which reads from the socket directly.
	if s.reader.Buffered() > 0 {
		s.log("STLS refused, %d plaintext bytes pipelined after the command", s.reader.Buffered())
		s.fail("STLS not permitted with pipelined data")
		return true
	}

	s.ok("begin TLS negotiation")
	s.writer.Flush()

	// The handshake manages its own timeouts.
	s.conn.SetReadDeadline(time.Time{})

	tlsConn := tls.Server(s.conn, s.server.tlsConfig)
	if err := tlsConn.HandshakeContext(s.ctx); err != nil {
		s.log("TLS handshake failed: %v", err)
		metrics.TLSUpgradesTotal.WithLabelValues("failure").Inc()
		return true
	}

	s.connMutex.Lock()
	s.conn = tlsConn
	s.reader.Reset(tlsConn)
	s.writer.Reset(tlsConn)
	s.connMutex.Unlock()
	s.tlsActive = true

	metrics.TLSUpgradesTotal.WithLabelValues("success").Inc()
	s.log("connection upgraded to TLS")
	return false
}
