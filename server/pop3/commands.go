package pop3

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/Atlantis-Software/n3/storage"
)

// inTransaction gates the mailbox commands to the TRANSACTION state.
func (s *Session) inTransaction() bool {
	if s.state != stateTransaction {
		s.fail("Only allowed in transaction mode")
		return false
	}
	return true
}

// parseMsgNumber parses a message-number argument. ok is false when the
// argument is not a positive integer.
func parseMsgNumber(args string) (int, bool) {
	n, err := strconv.Atoi(args)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func (s *Session) cmdNoop(args string) {
	if !s.inTransaction() {
		return
	}
	s.ok("")
}

// cmdStat reports the message count and total size, excluding messages
// marked for deletion.
func (s *Session) cmdStat(args string) {
	if !s.inTransaction() {
		return
	}
	count, size := s.view.stat()
	s.ok(fmt.Sprintf("%d %d", count, size))
}

// cmdList answers a scan listing, either for the whole maildrop or for a
// single message number.
func (s *Session) cmdList(args string) {
	if !s.inTransaction() {
		return
	}

	if args == "" {
		s.ok("")
		for _, line := range buildListLines(s.view) {
			s.respond(line)
		}
		s.respond(".")
		return
	}

	msgNumber, valid := parseMsgNumber(args)
	if !valid {
		s.fail("Invalid message ID")
		return
	}
	line, found := buildSingleListLine(s.view, msgNumber)
	if !found {
		s.fail("Invalid message ID")
		return
	}
	s.ok(line)
}

// cmdUidl answers a unique-id listing, same shape as LIST.
func (s *Session) cmdUidl(args string) {
	if !s.inTransaction() {
		return
	}

	if args == "" {
		s.ok("")
		for _, line := range buildUIDLLines(s.view) {
			s.respond(line)
		}
		s.respond(".")
		return
	}

	msgNumber, valid := parseMsgNumber(args)
	if !valid {
		s.fail("Invalid message ID")
		return
	}
	line, found := buildSingleUIDLLine(s.view, msgNumber)
	if !found {
		s.fail("Invalid message ID")
		return
	}
	s.ok(line)
}

// cmdRetr streams a message body, dot-stuffed and terminated with a
// lone dot.
func (s *Session) cmdRetr(args string) {
	if !s.inTransaction() {
		return
	}

	msgNumber, valid := parseMsgNumber(args)
	if !valid {
		s.fail("Invalid message ID")
		return
	}
	entry := s.view.entry(msgNumber)
	if entry == nil {
		s.fail("Invalid message ID")
		return
	}

	body, err := s.maildrop.Read(s.ctx, entry.uid)
	if err != nil {
		if errors.Is(err, storage.ErrNoSuchMessage) {
			s.fail("Invalid message ID")
			return
		}
		s.log("failed to read message %s: %v", entry.uid, err)
		s.fail("RETR command failed")
		return
	}

	s.ok(fmt.Sprintf("%d octets", len(body)))
	s.respond(dotStuff(string(body)))
	s.respond(".")
	s.log("retrieved message %d (%s)", msgNumber, entry.uid)
}

// cmdDele marks a message for deletion. The message keeps its number but
// disappears from listings; removal happens at QUIT.
func (s *Session) cmdDele(args string) {
	if !s.inTransaction() {
		return
	}

	msgNumber, valid := parseMsgNumber(args)
	if !valid || !s.view.markDeleted(msgNumber) {
		s.fail("Invalid message ID")
		return
	}
	s.ok("msg deleted")
	s.log("marked message %d for deletion", msgNumber)
}

// cmdRset clears every deletion mark.
func (s *Session) cmdRset(args string) {
	if !s.inTransaction() {
		return
	}
	s.view.reset()
	s.ok("")
}
