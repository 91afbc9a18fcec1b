package credentials

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// FileSource is a Source backed by a user file with one entry per line:
//
//	alice:{PLAIN}correct horse battery staple
//	bob:$2a$10$N9qo8uLOickgx2ZMRZoMye...
//	carol:{SSHA512}base64(hash+salt)
//
// Lines starting with '#' and blank lines are ignored. Usernames are
// normalized to lower case. The file is read once; the returned source is
// immutable and safe for concurrent use.
type FileSource struct {
	users map[string]Credential
}

// LoadFile reads a user file into an immutable FileSource.
func LoadFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open user file: %w", err)
	}
	defer f.Close()

	users := make(map[string]Credential)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		user, secret, found := strings.Cut(line, ":")
		if !found {
			return nil, fmt.Errorf("user file %s line %d: missing ':' separator", path, lineNo)
		}
		user = Normalize(user)
		if user == "" {
			return nil, fmt.Errorf("user file %s line %d: empty username", path, lineNo)
		}
		cred, err := ParseSecret(secret)
		if err != nil {
			return nil, fmt.Errorf("user file %s line %d: %w", path, lineNo, err)
		}
		users[user] = cred
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read user file: %w", err)
	}

	return &FileSource{users: users}, nil
}

// Lookup implements Source.
func (s *FileSource) Lookup(_ context.Context, username string) (Credential, error) {
	cred, ok := s.users[Normalize(username)]
	if !ok {
		return Credential{}, ErrUnknownUser
	}
	return cred, nil
}

// StaticSource is an in-memory Source used by tests and embedded setups.
type StaticSource map[string]string

// Lookup implements Source. Secrets are parsed on every call, which is
// fine for the small maps this type is meant for.
func (s StaticSource) Lookup(_ context.Context, username string) (Credential, error) {
	secret, ok := s[Normalize(username)]
	if !ok {
		return Credential{}, ErrUnknownUser
	}
	return ParseSecret(secret)
}

// Normalize lower-cases and trims a username. All registry and credential
// lookups go through this so that "Alice " and "alice" are one account.
func Normalize(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
