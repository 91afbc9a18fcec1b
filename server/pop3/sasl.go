package pop3

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/Atlantis-Software/n3/credentials"
)

// AuthExchange carries the state of one in-progress AUTH negotiation.
// A Mechanism inspects Params (the latest raw blob from the client) and
// either asks for another round by setting Wait and returning a challenge,
// or finishes the exchange.
type AuthExchange struct {
	// Wait is set by the mechanism when it expects another client
	// round. The next raw line from the client is then delivered
	// verbatim in Params, with Wait reset to false beforehand.
	Wait bool

	// Params is the latest argument blob from the client: the optional
	// initial response on the AUTH line, or a continuation line.
	Params string

	// History holds the Params of every completed round, oldest first.
	History []string

	// User is the authenticated username, set by the mechanism once it
	// has been recovered and verified.
	User string

	// Salt is the session's APOP banner token <UID@hostname>, used by
	// digest mechanisms as challenge material.
	Salt string

	// Check verifies a candidate user with a credential predicate. It
	// returns false for unknown users or a failing predicate.
	Check func(user string, verify func(credentials.Credential) bool) bool
}

// Mechanism implements one SASL mechanism. For each round it returns
// either a challenge to send (with ex.Wait set), or done=true after a
// successful verification (ex.User must be set), or an error. The error
// text is sent to the client after "-ERR ".
type Mechanism func(ex *AuthExchange) (challenge string, done bool, err error)

// errInvalidAuth is the generic authentication failure, also used when a
// mechanism rejects credentials.
var errInvalidAuth = errors.New("[AUTH] Invalid authentication")

// authPlain implements the PLAIN mechanism (RFC 4616).
//
//	C: AUTH PLAIN
//	S: +
//	C: base64(authzid NUL authcid NUL password)
//
// or with the initial response inline on the AUTH line.
func authPlain(ex *AuthExchange) (string, bool, error) {
	if ex.Params == "" {
		ex.Wait = true
		return "", false, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(ex.Params)
	if err != nil {
		return "", false, errors.New("Invalid authentication data")
	}

	parts := strings.Split(string(decoded), "\x00")
	if len(parts) != 3 || parts[1] == "" {
		return "", false, errors.New("Invalid authentication data")
	}

	// An empty authzid means "derive it from the authcid". A non-empty
	// one must match: no logging in on behalf of another user.
	if parts[0] != "" && parts[0] != parts[1] {
		return "", false, errors.New("[AUTH] Not authorized to requested authorization identity")
	}

	user, password := parts[1], parts[2]
	ok := ex.Check(user, func(cred credentials.Credential) bool {
		return cred.Verify(password)
	})
	if !ok {
		return "", false, errInvalidAuth
	}
	ex.User = user
	return "", true, nil
}

// authCramMD5 implements CRAM-MD5 (RFC 2195). Round one always issues the
// salt challenge; an initial response on the AUTH line is not accepted.
//
//	C: AUTH CRAM-MD5
//	S: + base64(<UID@hostname>)
//	C: base64(user hex(HMAC-MD5(password, salt)))
func authCramMD5(ex *AuthExchange) (string, bool, error) {
	if len(ex.History) == 0 {
		ex.Wait = true
		return base64.StdEncoding.EncodeToString([]byte(ex.Salt)), false, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(ex.Params)
	if err != nil {
		return "", false, errors.New("Invalid authentication")
	}
	user, clientDigest, found := strings.Cut(string(decoded), " ")
	if !found || user == "" || clientDigest == "" {
		return "", false, errors.New("Invalid authentication")
	}

	// The stored password is the HMAC key, so the credential must be
	// plaintext-recoverable; the password itself is never compared.
	ok := ex.Check(user, func(cred credentials.Credential) bool {
		password, recoverable := cred.Plaintext()
		if !recoverable {
			return false
		}
		mac := hmac.New(md5.New, []byte(password))
		mac.Write([]byte(ex.Salt))
		expected := hex.EncodeToString(mac.Sum(nil))
		return hmac.Equal([]byte(expected), []byte(strings.ToLower(clientDigest)))
	})
	if !ok {
		return "", false, errInvalidAuth
	}
	ex.User = user
	return "", true, nil
}

// builtinMechanisms returns the mechanism table every server starts with.
func builtinMechanisms() map[string]Mechanism {
	return map[string]Mechanism{
		"PLAIN":    authPlain,
		"CRAM-MD5": authCramMD5,
	}
}

// apopDigest computes the APOP digest for a salt and password:
// lowercase hex MD5 of their concatenation (RFC 1939 §7).
func apopDigest(salt, password string) string {
	sum := md5.Sum([]byte(salt + password))
	return hex.EncodeToString(sum[:])
}
