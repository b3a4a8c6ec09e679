package session

import (
	"sync"

	"github.com/zonemap/zonemap/pkg/logx"
)

// Registry tracks live authenticated sessions process-wide. Sessions are
// registered when authentication succeeds and removed when their connection
// closes.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *logx.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logx.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// Register adds a session under its id.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[s.ID] = s
	r.logger.Debug("session_registered", "session_id", s.ID, "user_id", s.UserID, "live", len(r.sessions))
}

// Deregister removes a session; removing an unknown id is a no-op.
func (r *Registry) Deregister(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionID]; !ok {
		return
	}
	delete(r.sessions, sessionID)
	r.logger.Debug("session_deregistered", "session_id", sessionID, "live", len(r.sessions))
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Broadcast sends a message to every live session. Send failures are logged
// and skipped; the failing connection's own read loop handles teardown.
func (r *Registry) Broadcast(message interface{}) {
	r.mu.RLock()
	targets := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		targets = append(targets, s)
	}
	r.mu.RUnlock()

	for _, s := range targets {
		if err := s.send(message); err != nil {
			r.logger.Warn("broadcast_send_failed", "session_id", s.ID, "error", err.Error())
		}
	}
}
