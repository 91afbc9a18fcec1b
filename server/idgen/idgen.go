// Package idgen generates compact unique identifiers for sessions.
// IDs are 12 bytes (timestamp, node, sequence, random) encoded as
// lowercase base32, roughly sortable by creation time.
package idgen

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/binary"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

var (
	nodeID   [3]byte
	sequence uint32

	encoding = base32.NewEncoding("ABCDEFGHIJKLMNOPQRSTUVWXYZ234567").WithPadding(base32.NoPadding)
)

func init() {
	if _, err := rand.Read(nodeID[:]); err != nil {
		// Random source unavailable, derive the node ID from the hostname
		hostname, _ := os.Hostname()
		if hostname == "" {
			hostname = "n3"
		}
		copy(nodeID[:], hostname)
	}
}

// New returns a new unique identifier: 4 bytes of unix timestamp, 3 bytes
// of node ID, 2 bytes of sequence counter and 3 bytes of random data,
// base32-encoded to 20 lowercase characters.
func New() string {
	var id [12]byte

	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))
	copy(id[4:7], nodeID[:])

	seq := atomic.AddUint32(&sequence, 1)
	id[7] = byte(seq >> 8)
	id[8] = byte(seq)

	if _, err := rand.Read(id[9:12]); err != nil {
		nano := time.Now().UnixNano()
		id[9] = byte(nano >> 16)
		id[10] = byte(nano >> 8)
		id[11] = byte(nano)
	}

	return strings.ToLower(encoding.EncodeToString(id[:]))
}
