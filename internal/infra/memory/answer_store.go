package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"autograde-session/internal/domain"
)

type answerKey struct {
	sessionID  string
	questionID string
}

// AnswerStore keeps answers in a map; it does not survive restarts and is meant for tests/demos.
type AnswerStore struct {
	mu      sync.RWMutex
	now     func() time.Time
	answers map[answerKey]domain.UserAnswer
}

func NewAnswerStore() *AnswerStore {
	return &AnswerStore{
		now:     time.Now,
		answers: make(map[answerKey]domain.UserAnswer),
	}
}

func (s *AnswerStore) SetAnswer(_ context.Context, sessionID, questionID, text string) error {
	s.upsert(sessionID, questionID, func(a *domain.UserAnswer) { a.AnswerText = text })
	return nil
}

func (s *AnswerStore) SetBookmark(_ context.Context, sessionID, questionID string, flag bool) error {
	s.upsert(sessionID, questionID, func(a *domain.UserAnswer) { a.Bookmarked = flag })
	return nil
}

func (s *AnswerStore) upsert(sessionID, questionID string, apply func(*domain.UserAnswer)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := answerKey{sessionID: sessionID, questionID: questionID}
	answer, ok := s.answers[key]
	if !ok {
		answer = domain.UserAnswer{SessionID: sessionID, QuestionID: questionID}
	}
	apply(&answer)
	answer.UpdatedAt = s.now()
	s.answers[key] = answer
}

func (s *AnswerStore) GetAnswer(_ context.Context, sessionID, questionID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	answer, ok := s.answers[answerKey{sessionID: sessionID, questionID: questionID}]
	return answer.AnswerText, ok, nil
}

func (s *AnswerStore) GetBookmark(_ context.Context, sessionID, questionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.answers[answerKey{sessionID: sessionID, questionID: questionID}].Bookmarked, nil
}

func (s *AnswerStore) ListAnswers(_ context.Context, sessionID string) ([]domain.UserAnswer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.UserAnswer, 0)
	for key, answer := range s.answers {
		if key.sessionID == sessionID {
			out = append(out, answer)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out, nil
}
