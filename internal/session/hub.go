package session

import (
	"sync"
	"time"

	"github.com/comigor/shapeschat/internal/logger"
)

// DefaultMaxSessions bounds how many sessions a Hub keeps open.
const DefaultMaxSessions = 256

type key struct{ persona, channel string }

type entry struct {
	sess     *Session
	lastUsed time.Time
}

// Hub owns every open session, keyed by persona and channel. Once full, the
// least recently used session that is not waiting on a reply is dropped to
// make room.
type Hub struct {
	deps Deps
	max  int

	mu       sync.Mutex
	sessions map[key]*entry
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithMaxSessions overrides DefaultMaxSessions. Values below 1 are ignored.
func WithMaxSessions(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.max = n
		}
	}
}

// NewHub returns an empty hub whose sessions share deps.
func NewHub(deps Deps, opts ...HubOption) *Hub {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	h := &Hub{deps: deps, max: DefaultMaxSessions, sessions: make(map[key]*entry)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Session returns the session for the pair, starting one on first use.
func (h *Hub) Session(personaID, channelID string) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	k := key{personaID, channelID}
	now := h.deps.Now()
	if e, ok := h.sessions[k]; ok {
		e.lastUsed = now
		return e.sess
	}
	if len(h.sessions) >= h.max {
		h.evictLocked()
	}
	s := New(personaID, channelID, h.deps)
	h.sessions[k] = &entry{sess: s, lastUsed: now}
	return s
}

// evictLocked drops the least recently used idle session. Sessions in
// Sending are kept, so the hub may briefly exceed its bound.
func (h *Hub) evictLocked() {
	var (
		oldest key
		found  bool
		at     time.Time
	)
	for k, e := range h.sessions {
		if e.sess.State() == StateSending {
			continue
		}
		if !found || e.lastUsed.Before(at) {
			oldest, at, found = k, e.lastUsed, true
		}
	}
	if found {
		delete(h.sessions, oldest)
		logger.L.Debug("session evicted", "persona", oldest.persona, "channel", oldest.channel)
	}
}

// Lookup returns an existing session without creating one.
func (h *Hub) Lookup(personaID, channelID string) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.sessions[key{personaID, channelID}]
	if !ok {
		return nil, false
	}
	return e.sess, true
}

// Len reports how many sessions are open.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}
