package wallet

import (
	"sync"

	"github.com/rs/zerolog"
)

// Session tracks the lock state of the wallet UI session. It starts locked;
// the host unlocks it once the user has authenticated.
type Session struct {
	mu     sync.RWMutex
	locked bool
	logger zerolog.Logger
}

// NewSession creates a locked session.
func NewSession(logger zerolog.Logger) *Session {
	return &Session{
		locked: true,
		logger: logger.With().Str("component", "session").Logger(),
	}
}

// Locked implements dispatch.SessionState.
func (s *Session) Locked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locked
}

// Unlock marks the session unlocked.
func (s *Session) Unlock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		s.locked = false
		s.logger.Info().Msg("session unlocked")
	}
}

// Lock marks the session locked.
func (s *Session) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.locked {
		s.locked = true
		s.logger.Info().Msg("session locked")
	}
}
