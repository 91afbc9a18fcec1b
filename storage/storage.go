// Package storage provides the message store backends behind the POP3
// server. A Backend opens one Maildrop per authenticated session; the
// Maildrop supplies the ordinal snapshot the session serves, message
// bodies for RETR, and commits deletions at session end.
//
// Two backends are available:
//   - sqlite: message index and bodies in a single SQLite database,
//     optionally offloading bodies to S3-compatible object storage
//     (content-addressed by BLAKE3 hash)
//   - maildir: one Maildir per user under a root directory
package storage

import (
	"context"
	"errors"
)

// ErrNoSuchMessage is returned by Read when the UID does not exist.
var ErrNoSuchMessage = errors.New("no such message")

// MessageInfo describes one message in a maildrop snapshot.
type MessageInfo struct {
	UID  string // store-assigned opaque identifier, stable across sessions
	Size int64  // message size in octets
}

// Backend creates per-session maildrops.
type Backend interface {
	// Open returns the maildrop for a user. Called once per successful
	// login; the returned Maildrop is owned by that session alone.
	Open(ctx context.Context, user string) (Maildrop, error)
}

// Maildrop is a single user's mailbox as seen by one POP3 session.
type Maildrop interface {
	// Register loads the ordinal snapshot. It is called exactly once,
	// before the login response is sent, so the session never answers
	// against a partially populated mailbox.
	Register(ctx context.Context) ([]MessageInfo, error)

	// Read returns the raw bytes of the message with the given UID.
	Read(ctx context.Context, uid string) ([]byte, error)

	// RemoveDeleted permanently removes the given UIDs. Called once at
	// QUIT with the messages marked deleted during the session.
	RemoveDeleted(ctx context.Context, uids []string) error

	Close() error
}

// Deliverer is implemented by backends that accept local message
// delivery, used to seed mailboxes.
type Deliverer interface {
	Deliver(ctx context.Context, user string, body []byte) error
}
