package pop3

import (
	"fmt"

	"github.com/Atlantis-Software/n3/storage"
)

// messageEntry is one slot of the session's ordinal snapshot.
type messageEntry struct {
	uid     string
	size    int64
	deleted bool
}

// mailboxView is the per-session ordinal projection of a maildrop,
// populated once at login. Message numbers are 1-based positions in this
// slice and stay stable for the life of the session: deleted messages
// keep their slot and are only excluded from totals and listings.
type mailboxView struct {
	entries []messageEntry
}

func newMailboxView(infos []storage.MessageInfo) *mailboxView {
	entries := make([]messageEntry, len(infos))
	for i, info := range infos {
		entries[i] = messageEntry{uid: info.UID, size: info.Size}
	}
	return &mailboxView{entries: entries}
}

// stat returns the count and summed size of messages not marked deleted.
func (v *mailboxView) stat() (count int, size int64) {
	for _, e := range v.entries {
		if !e.deleted {
			count++
			size += e.size
		}
	}
	return count, size
}

// entry returns the message at a 1-based ordinal, or nil when the ordinal
// is out of range or the message is marked deleted.
func (v *mailboxView) entry(msgNumber int) *messageEntry {
	if msgNumber < 1 || msgNumber > len(v.entries) {
		return nil
	}
	e := &v.entries[msgNumber-1]
	if e.deleted {
		return nil
	}
	return e
}

// markDeleted flags the message at a 1-based ordinal. It returns false if
// the ordinal is out of range or the message is already marked.
func (v *mailboxView) markDeleted(msgNumber int) bool {
	e := v.entry(msgNumber)
	if e == nil {
		return false
	}
	e.deleted = true
	return true
}

// reset clears every deletion mark.
func (v *mailboxView) reset() {
	for i := range v.entries {
		v.entries[i].deleted = false
	}
}

// deletedUIDs returns the UIDs marked deleted, in sequence order. This is
// the list handed to the store at QUIT.
func (v *mailboxView) deletedUIDs() []string {
	var uids []string
	for _, e := range v.entries {
		if e.deleted {
			uids = append(uids, e.uid)
		}
	}
	return uids
}

// buildListLines builds the multi-line body for LIST. Per RFC 1939 §5,
// message numbers must remain stable throughout the session: deleted
// messages are skipped but the remaining messages keep their numbers.
func buildListLines(v *mailboxView) []string {
	var lines []string
	for i, e := range v.entries {
		if !e.deleted {
			lines = append(lines, fmt.Sprintf("%d %d", i+1, e.size))
		}
	}
	return lines
}

// buildUIDLLines builds the multi-line body for UIDL, same shape as LIST
// but with the store-assigned UID in place of the size.
func buildUIDLLines(v *mailboxView) []string {
	var lines []string
	for i, e := range v.entries {
		if !e.deleted {
			lines = append(lines, fmt.Sprintf("%d %s", i+1, e.uid))
		}
	}
	return lines
}

// buildSingleListLine builds the reply for "LIST n". It returns false
// when the message number is invalid, out of range, or deleted; the
// caller answers with an explicit error, never an empty listing.
func buildSingleListLine(v *mailboxView, msgNumber int) (string, bool) {
	e := v.entry(msgNumber)
	if e == nil {
		return "", false
	}
	return fmt.Sprintf("%d %d", msgNumber, e.size), true
}

// buildSingleUIDLLine builds the reply for "UIDL n".
func buildSingleUIDLLine(v *mailboxView, msgNumber int) (string, bool) {
	e := v.entry(msgNumber)
	if e == nil {
		return "", false
	}
	return fmt.Sprintf("%d %s", msgNumber, e.uid), true
}
