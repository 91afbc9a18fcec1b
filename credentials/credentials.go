// Package credentials supplies passwords for authenticating POP3 users.
//
// A Source resolves a normalized username to a Credential. Credentials
// either carry a recoverable plaintext secret, which every authentication
// path can use (USER/PASS, AUTH PLAIN, APOP, CRAM-MD5), or a one-way hash,
// which restricts the account to the password-carrying paths. APOP and
// CRAM-MD5 need the plaintext on the server side to recompute the client
// digest, so hashed accounts cannot use those mechanisms.
package credentials

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrUnknownUser is returned by Lookup when no entry exists for a user.
var ErrUnknownUser = errors.New("unknown user")

const (
	plainPrefix   = "{PLAIN}"
	ssha512Prefix = "{SSHA512}"

	bcryptPrefix2a = "$2a$"
	bcryptPrefix2b = "$2b$"
	bcryptPrefix2y = "$2y$"

	// sha512HashLength is the length of a SHA512 digest in bytes; in an
	// SSHA512 entry everything beyond it is the salt.
	sha512HashLength = 64
)

// Source resolves usernames to credentials. Implementations must be safe
// for concurrent use; Lookup is called from every authentication path.
type Source interface {
	Lookup(ctx context.Context, username string) (Credential, error)
}

// Credential is one user's stored secret.
type Credential struct {
	scheme string
	secret string
}

// Plaintext returns the stored password when the secret scheme keeps it
// recoverable. APOP and CRAM-MD5 depend on this.
func (c Credential) Plaintext() (string, bool) {
	if c.scheme == plainPrefix {
		return c.secret, true
	}
	return "", false
}

// Verify reports whether password matches the stored secret.
func (c Credential) Verify(password string) bool {
	switch c.scheme {
	case plainPrefix:
		return c.secret == password
	case ssha512Prefix:
		return verifySSHA512(c.secret, password) == nil
	default:
		return bcrypt.CompareHashAndPassword([]byte(c.secret), []byte(password)) == nil
	}
}

// ParseSecret classifies a stored secret string by its scheme prefix.
// Secrets without a recognized prefix are treated as plaintext.
func ParseSecret(secret string) (Credential, error) {
	switch {
	case strings.HasPrefix(secret, plainPrefix):
		return Credential{scheme: plainPrefix, secret: strings.TrimPrefix(secret, plainPrefix)}, nil
	case strings.HasPrefix(secret, ssha512Prefix):
		return Credential{scheme: ssha512Prefix, secret: strings.TrimPrefix(secret, ssha512Prefix)}, nil
	case strings.HasPrefix(secret, bcryptPrefix2a),
		strings.HasPrefix(secret, bcryptPrefix2b),
		strings.HasPrefix(secret, bcryptPrefix2y):
		return Credential{scheme: "bcrypt", secret: secret}, nil
	case secret == "":
		return Credential{}, errors.New("empty secret")
	default:
		return Credential{scheme: plainPrefix, secret: secret}, nil
	}
}

// verifySSHA512 checks a password against a base64-encoded salted SHA512
// digest (hash followed by salt).
func verifySSHA512(encoded, password string) error {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("invalid SSHA512 data: %w", err)
	}
	if len(decoded) < sha512HashLength+1 {
		return errors.New("invalid SSHA512 hash: too short")
	}

	storedHash := decoded[:sha512HashLength]
	salt := decoded[sha512HashLength:]

	h := sha512.New()
	h.Write([]byte(password))
	h.Write(salt)
	if !bytes.Equal(storedHash, h.Sum(nil)) {
		return errors.New("invalid password")
	}
	return nil
}

// GenerateSSHA512Hash creates a {SSHA512} secret for the given password
// with the given salt. Used by provisioning tools and tests.
func GenerateSSHA512Hash(password string, salt []byte) string {
	h := sha512.New()
	h.Write([]byte(password))
	h.Write(salt)
	combined := append(h.Sum(nil), salt...)
	return ssha512Prefix + base64.StdEncoding.EncodeToString(combined)
}
