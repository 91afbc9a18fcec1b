// Package pop3 implements a POP3 (Post Office Protocol version 3) server.
//
// This package provides the protocol engine:
//   - RFC 1939 POP3 core protocol
//   - RFC 1734 SASL authentication (PLAIN, CRAM-MD5, host extensions)
//   - APOP digest authentication
//   - RFC 2595 STLS transport upgrade
//   - UIDL (Unique ID Listing) support
//   - Deferred message deletion
//
// # Server States
//
//	AUTHORIZATION -> TRANSACTION -> UPDATE
//
// Each connection starts in AUTHORIZATION, enters TRANSACTION on a
// successful login and reaches the terminal UPDATE state on QUIT, socket
// loss or inactivity timeout. The at-most-one-session-per-user rule is
// enforced across all connections: a second login for a user that already
// holds a session is refused with the [IN-USE] response code even when the
// credentials are correct.
//
// # Message Deletion
//
// Messages marked with DELE are removed from the backing store only when
// the session ends normally with QUIT while in TRANSACTION state. If the
// connection is closed abnormally or times out, deletions are not applied.
//
// # Starting a Server
//
//	srv, err := pop3.New(ctx, cfg.Server, source, backend)
//	if err != nil {
//		log.Fatal(err)
//	}
//	errChan := make(chan error, 1)
//	go srv.Start(errChan)
//
// Additional SASL mechanisms may be registered with ExtendAuth before
// Start is called.
package pop3
