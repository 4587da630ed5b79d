// Package session tracks which user/cart identity is currently active,
// independent of the cart's contents. The identity survives process restarts
// through an injected Persistence capability.
package session

import (
	"sync"

	"go.uber.org/zap"
)

// Session is the client's record of the active identity. The zero value is
// the anonymous session.
type Session struct {
	UserID string `json:"userId"`
	CartID string `json:"cartId"`
}

// Anonymous reports whether no identity is active.
func (s Session) Anonymous() bool {
	return s.UserID == "" && s.CartID == ""
}

// Persistence is a durable single-slot store for the session identity.
// Load returns (nil, nil) when the slot is empty.
type Persistence interface {
	Load() (*Session, error)
	Save(s Session) error
	Clear() error
}

// Store holds the current session in memory and mirrors changes to the
// Persistence slot. Storage failures are never surfaced to callers: a failed
// load degrades to an anonymous session and failed writes are only logged,
// so identity handling can never take the storefront down.
type Store struct {
	persist Persistence
	lg      *zap.Logger

	mu      sync.RWMutex
	current Session
}

// NewStore creates a Store, reading the persisted identity once. Pass a nil
// Persistence for a purely in-memory store.
func NewStore(p Persistence, lg *zap.Logger) *Store {
	if lg == nil {
		lg = zap.NewNop()
	}
	s := &Store{persist: p, lg: lg}
	if p == nil {
		return s
	}
	sess, err := p.Load()
	switch {
	case err != nil:
		lg.Warn("session load failed, starting anonymous", zap.Error(err))
	case sess != nil:
		s.current = *sess
	}
	return s
}

// Login overwrites any previous identity and persists the new one.
func (s *Store) Login(sess Session) {
	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()

	if s.persist == nil {
		return
	}
	if err := s.persist.Save(sess); err != nil {
		s.lg.Warn("session persist failed", zap.Error(err))
	}
}

// Logout clears the identity and removes the persisted slot.
func (s *Store) Logout() {
	s.mu.Lock()
	s.current = Session{}
	s.mu.Unlock()

	if s.persist == nil {
		return
	}
	if err := s.persist.Clear(); err != nil {
		s.lg.Warn("session clear failed", zap.Error(err))
	}
}

// Current returns the active session, possibly anonymous. It never blocks on
// storage: the persisted slot is read once, at construction.
func (s *Store) Current() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}
