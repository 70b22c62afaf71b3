// Package id provides centralized ID generation for the client.
//
// Three identifier families exist, each with its own lifetime:
//   - SessionID: counter-based, unique for the lifetime of the client
//     process, never reused even after a session closes
//   - ClientID: the stable logical connection identity, kept across
//     transport reconnects
//   - MessageID: ULID correlation id stamped on outbound frames
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// SessionID identifies a terminal session (tab).
type SessionID string

// ClientID identifies this client across transport reconnects.
type ClientID string

// MessageID identifies a single outbound frame.
type MessageID string

func (id SessionID) String() string { return string(id) }
func (id ClientID) String() string  { return string(id) }
func (id MessageID) String() string { return string(id) }

const sessionPrefix = "sess"

// Allocator hands out session identifiers from a monotonically
// increasing counter. Identifiers are never reused within the
// allocator's lifetime.
type Allocator struct {
	n atomic.Uint64
}

// NewAllocator creates an allocator starting at zero.
func NewAllocator() *Allocator {
	return &Allocator{}
}

// NextSessionID returns a fresh session id and its 1-based ordinal.
// The ordinal is what default tab titles are derived from.
func (a *Allocator) NextSessionID() (SessionID, uint64) {
	n := a.n.Add(1)
	return SessionID(fmt.Sprintf("%s-%d", sessionPrefix, n)), n
}

// Count returns how many ids have been allocated so far.
func (a *Allocator) Count() uint64 {
	return a.n.Load()
}

// NewClientID generates the logical connection identity.
func NewClientID() ClientID {
	return ClientID(uuid.New().String())
}

// ulidGen guards the shared entropy reader; ULID generation itself is
// cheap but the reader is not safe for concurrent use.
type ulidGen struct {
	entropy io.Reader
	mu      sync.Mutex
}

var defaultULID = &ulidGen{entropy: rand.Reader}

// NewMessageID generates a lexicographically sortable frame id.
func NewMessageID() MessageID {
	defaultULID.mu.Lock()
	defer defaultULID.mu.Unlock()
	return MessageID(ulid.MustNew(ulid.Timestamp(time.Now()), defaultULID.entropy).String())
}
