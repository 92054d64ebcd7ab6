package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"autograde-session/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SessionStore is a Redis-backed implementation of app.SessionRepository.
// Each session is a JSON document: SET autograde:session:{sessionID} {json}
// Records carry no TTL; retention is left to operators.
type SessionStore struct {
	client *redis.Client
}

func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client}
}

func (s *SessionStore) SaveSession(ctx context.Context, session domain.TestSession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return domain.Storage("save session", fmt.Errorf("marshal session: %w", err))
	}
	if err := s.client.Set(ctx, sessionKey(session.ID), raw, 0).Err(); err != nil {
		return domain.Storage("save session", err)
	}
	return nil
}

func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (domain.TestSession, bool, error) {
	raw, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.TestSession{}, false, nil
	}
	if err != nil {
		return domain.TestSession{}, false, domain.Storage("get session", err)
	}
	var session domain.TestSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return domain.TestSession{}, false, domain.Storage("get session", fmt.Errorf("unmarshal session: %w", err))
	}
	return session, true, nil
}

func sessionKey(sessionID string) string {
	return "autograde:session:" + sessionID
}
