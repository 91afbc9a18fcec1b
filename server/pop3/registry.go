package pop3

import "sync"

// sessionRegistry tracks which users currently hold a POP3 session.
// POP3 allows at most one session per maildrop, so login must fail for a
// user that is already connected, on any connection, before credentials
// are even consulted. Check and insert happen under one lock.
type sessionRegistry struct {
	mu    sync.Mutex
	users map[string]struct{}
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{users: make(map[string]struct{})}
}

// acquire atomically claims a session slot for user. It returns false if
// the user already holds one.
func (r *sessionRegistry) acquire(user string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, inUse := r.users[user]; inUse {
		return false
	}
	r.users[user] = struct{}{}
	return true
}

// release frees the session slot for user. Safe to call for a user that
// holds no slot.
func (r *sessionRegistry) release(user string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, user)
}

// active reports whether user currently holds a session.
func (r *sessionRegistry) active(user string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, inUse := r.users[user]
	return inUse
}
