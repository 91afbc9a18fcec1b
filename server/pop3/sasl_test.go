package pop3

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/Atlantis-Software/n3/credentials"
)

const testSalt = "<1.1693000000000@example.com>"

func checkAgainst(users map[string]string) func(string, func(credentials.Credential) bool) bool {
	source := credentials.StaticSource(users)
	return func(user string, verify func(credentials.Credential) bool) bool {
		cred, err := source.Lookup(context.Background(), user)
		if err != nil {
			return false
		}
		return verify(cred)
	}
}

func plainBlob(authzid, authcid, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(authzid + "\x00" + authcid + "\x00" + password))
}

func TestAuthPlainChallengesWithoutInitialResponse(t *testing.T) {
	ex := &AuthExchange{Salt: testSalt, Check: checkAgainst(nil)}

	challenge, done, err := authPlain(ex)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if done {
		t.Fatal("exchange finished without credentials")
	}
	if !ex.Wait {
		t.Fatal("expected Wait to be set")
	}
	if challenge != "" {
		t.Errorf("challenge = %q, want empty", challenge)
	}
}

func TestAuthPlain(t *testing.T) {
	users := map[string]string{"alice": "secret"}

	tests := []struct {
		name     string
		params   string
		wantUser string
		wantErr  string
	}{
		{
			name:     "empty authzid",
			params:   plainBlob("", "alice", "secret"),
			wantUser: "alice",
		},
		{
			name:     "authzid matches authcid",
			params:   plainBlob("alice", "alice", "secret"),
			wantUser: "alice",
		},
		{
			name:    "authzid for another user",
			params:  plainBlob("bob", "alice", "secret"),
			wantErr: "[AUTH] Not authorized to requested authorization identity",
		},
		{
			name:    "wrong password",
			params:  plainBlob("", "alice", "wrong"),
			wantErr: "[AUTH] Invalid authentication",
		},
		{
			name:    "unknown user",
			params:  plainBlob("", "mallory", "secret"),
			wantErr: "[AUTH] Invalid authentication",
		},
		{
			name:    "not base64",
			params:  "!!!",
			wantErr: "Invalid authentication data",
		},
		{
			name:    "missing separators",
			params:  base64.StdEncoding.EncodeToString([]byte("alice secret")),
			wantErr: "Invalid authentication data",
		},
		{
			name:    "empty authcid",
			params:  plainBlob("", "", "secret"),
			wantErr: "Invalid authentication data",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := &AuthExchange{Params: tt.params, Salt: testSalt, Check: checkAgainst(users)}
			_, done, err := authPlain(ex)

			if tt.wantErr != "" {
				if err == nil || err.Error() != tt.wantErr {
					t.Fatalf("error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !done {
				t.Fatal("exchange not finished")
			}
			if ex.User != tt.wantUser {
				t.Errorf("User = %q, want %q", ex.User, tt.wantUser)
			}
		})
	}
}

func cramDigest(salt, password string) string {
	mac := hmac.New(md5.New, []byte(password))
	mac.Write([]byte(salt))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestAuthCramMD5AlwaysChallengesFirst(t *testing.T) {
	// An initial response on the AUTH line must not short-circuit the
	// challenge round.
	blob := base64.StdEncoding.EncodeToString([]byte("alice " + cramDigest(testSalt, "secret")))
	ex := &AuthExchange{Params: blob, Salt: testSalt, Check: checkAgainst(map[string]string{"alice": "secret"})}

	challenge, done, err := authCramMD5(ex)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if done {
		t.Fatal("exchange finished on the first round")
	}
	if !ex.Wait {
		t.Fatal("expected Wait to be set")
	}
	if challenge != base64.StdEncoding.EncodeToString([]byte(testSalt)) {
		t.Errorf("challenge = %q, want base64 of salt", challenge)
	}
}

func TestAuthCramMD5(t *testing.T) {
	users := map[string]string{
		"alice": "secret",
		// bcrypt secrets are not plaintext-recoverable, so CRAM-MD5
		// cannot succeed for this account.
		"bob": "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy",
	}

	tests := []struct {
		name     string
		response string
		wantUser string
		wantErr  string
	}{
		{
			name:     "valid digest",
			response: "alice " + cramDigest(testSalt, "secret"),
			wantUser: "alice",
		},
		{
			name:     "uppercase digest accepted",
			response: "alice " + hexUpper(cramDigest(testSalt, "secret")),
			wantUser: "alice",
		},
		{
			name:     "wrong digest",
			response: "alice " + cramDigest(testSalt, "wrong"),
			wantErr:  "[AUTH] Invalid authentication",
		},
		{
			name:     "hashed account",
			response: "bob " + cramDigest(testSalt, "whatever"),
			wantErr:  "[AUTH] Invalid authentication",
		},
		{
			name:     "missing digest",
			response: "alice",
			wantErr:  "Invalid authentication",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := &AuthExchange{
				Params:  base64.StdEncoding.EncodeToString([]byte(tt.response)),
				History: []string{""},
				Salt:    testSalt,
				Check:   checkAgainst(users),
			}
			_, done, err := authCramMD5(ex)

			if tt.wantErr != "" {
				if err == nil || err.Error() != tt.wantErr {
					t.Fatalf("error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !done {
				t.Fatal("exchange not finished")
			}
			if ex.User != tt.wantUser {
				t.Errorf("User = %q, want %q", ex.User, tt.wantUser)
			}
		})
	}
}

func hexUpper(s string) string {
	upper := []byte(s)
	for i, c := range upper {
		if c >= 'a' && c <= 'f' {
			upper[i] = c - 'a' + 'A'
		}
	}
	return string(upper)
}

// TestAPOPDigest uses the worked example from RFC 1939 section 7.
func TestAPOPDigest(t *testing.T) {
	got := apopDigest("<1896.697170952@dbc.mtview.ca.us>", "tanstaaf")
	want := "c4c9334bac560ecc979e58001b3e22fb"
	if got != want {
		t.Errorf("apopDigest() = %q, want %q", got, want)
	}
}
