// Package session owns the pipeline's correlation identifiers: the
// session-scoped trace id, the per-call request id sequence, and the durable
// user id. It is the only component allowed to mint or mutate them.
package session

import (
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/opsmith/beacon/storage"
)

const (
	traceIDKey = "trace_id"
	userIDKey  = "user_id"
)

// Manager is safe for concurrent use. Storage failures degrade silently to
// in-memory identifiers; identifier generation never fails.
type Manager struct {
	mu        sync.Mutex
	store     storage.KVStore
	traceID   string
	seq       int
	currentID string
	userID    string
}

// New builds a Manager, reusing a persisted trace id when a valid one exists
// and minting a fresh one otherwise. A nil store keeps everything in memory.
func New(store storage.KVStore) *Manager {
	m := &Manager{store: store}

	if store != nil {
		if saved, err := store.Get(storage.ScopeSession, traceIDKey); err == nil && validTraceID(saved) {
			m.traceID = saved
		}
		if saved, err := store.Get(storage.ScopeDurable, userIDKey); err == nil {
			m.userID = saved
		}
	}

	if m.traceID == "" {
		m.traceID = mintTraceID()
		m.persistSession(traceIDKey, m.traceID)
	}

	return m
}

func (m *Manager) TraceID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.traceID
}

// ResetTraceID mints a new trace id and zeroes the request sequence; used on
// session boundaries such as logout/login.
func (m *Manager) ResetTraceID() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.traceID = mintTraceID()
	m.seq = 0
	m.currentID = ""
	m.persistSession(traceIDKey, m.traceID)
	return m.traceID
}

// GenerateRequestID returns the next request id for this trace, of the form
// {trace}-{seq} with the sequence zero-padded to three digits. Sequence
// numbers are strictly increasing within a trace.
func (m *Manager) GenerateRequestID() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	m.currentID = fmt.Sprintf("%s-%03d", m.traceID, m.seq)
	return m.currentID
}

// CurrentRequestID returns the most recently generated request id, or ""
// before the first call.
func (m *Manager) CurrentRequestID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentID
}

func (m *Manager) SetUserID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.userID = id
	if m.store != nil {
		_ = m.store.Set(storage.ScopeDurable, userIDKey, id)
	}
}

func (m *Manager) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

func (m *Manager) ClearUserID() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.userID = ""
	if m.store != nil {
		_ = m.store.Delete(storage.ScopeDurable, userIDKey)
	}
}

// persistSession is best effort; quota or privacy-mode failures must not
// reach callers. Caller holds m.mu or is the constructor.
func (m *Manager) persistSession(key, value string) {
	if m.store == nil {
		return
	}
	_ = m.store.Set(storage.ScopeSession, key, value)
}

func mintTraceID() string {
	return ulid.Make().String()
}

// validTraceID checks the strict ULID format; anything else forces a
// regenerate rather than propagating a corrupt id through every entry.
func validTraceID(id string) bool {
	if len(id) != ulid.EncodedSize {
		return false
	}
	_, err := ulid.ParseStrict(id)
	return err == nil
}
