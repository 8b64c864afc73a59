package beacon

import (
	"strconv"
	"sync"
	"time"

	"github.com/beaconhq/beacon-go/clock"
	"github.com/google/uuid"
)

const (
	userIDKey          = "beacon:userId"
	sessionIDKey       = "beacon:sessionId"
	sessionLastSeenKey = "beacon:sessionLastSeen"

	// sessionIdleTimeout rotates the session id after this much
	// inactivity.
	sessionIdleTimeout = 30 * time.Minute
)

// SessionManager owns visitor and session identity at the boundary of
// the pipeline: a persisted visitor UUID and a session UUID that
// rotates after idle periods. Multiple open tabs reconcile through the
// shared store, not through this type.
type SessionManager struct {
	store *SafeStore
	clk   clock.Clock

	mu       sync.Mutex
	identity Identity
}

// NewSessionManager loads or creates identity from the store.
func NewSessionManager(store *SafeStore, clk clock.Clock) *SessionManager {
	if clk == nil {
		clk = clock.Real()
	}
	m := &SessionManager{store: store, clk: clk}

	userID := store.Get(userIDKey)
	if userID == "" {
		userID = uuid.NewString()
		store.Set(userIDKey, userID)
	}

	sessionID := store.Get(sessionIDKey)
	if sessionID == "" || m.sessionExpired() {
		sessionID = uuid.NewString()
		store.Set(sessionIDKey, sessionID)
	}
	m.touch()

	m.identity = Identity{UserID: userID, SessionID: sessionID}
	return m
}

// Identity returns the current visitor and session ids.
func (m *SessionManager) Identity() Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// Touch records activity, extending the current session.
func (m *SessionManager) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touch()
}

// Rotate ends the current session and starts a fresh one, returning
// the new identity.
func (m *SessionManager) Rotate() Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity.SessionID = uuid.NewString()
	m.store.Set(sessionIDKey, m.identity.SessionID)
	m.touch()
	return m.identity
}

// Expired reports whether the session has been idle past the timeout.
func (m *SessionManager) Expired() bool {
	return m.sessionExpired()
}

func (m *SessionManager) touch() {
	m.store.Set(sessionLastSeenKey, strconv.FormatInt(m.clk.Now().UnixMilli(), 10))
}

func (m *SessionManager) sessionExpired() bool {
	raw := m.store.Get(sessionLastSeenKey)
	if raw == "" {
		return false
	}
	lastSeen, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}
	idle := m.clk.Now().UnixMilli() - lastSeen
	return idle > sessionIdleTimeout.Milliseconds()
}
