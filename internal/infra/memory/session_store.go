package memory

import (
	"context"
	"sync"

	"autograde-session/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.TestSession
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]domain.TestSession),
	}
}

func (s *SessionStore) SaveSession(_ context.Context, session domain.TestSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

func (s *SessionStore) GetSession(_ context.Context, sessionID string) (domain.TestSession, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.TestSession{}, false, nil
	}
	return cloneSession(session), true, nil
}

// cloneSession detaches the slice and ack pointer so callers never share store state.
func cloneSession(session domain.TestSession) domain.TestSession {
	if session.QuestionIDs != nil {
		session.QuestionIDs = append([]string(nil), session.QuestionIDs...)
	}
	if session.Ack != nil {
		ack := *session.Ack
		session.Ack = &ack
	}
	return session
}
