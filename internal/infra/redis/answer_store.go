package redis

import (
	"context"
	"errors"
	"sort"

	"autograde-session/internal/domain"
	"github.com/redis/go-redis/v9"
)

// AnswerStore keeps answers and bookmarks in two hashes per session:
//
//	HSET autograde:answers:{sessionID}   {questionID} {text}
//	HSET autograde:bookmarks:{sessionID} {questionID} 0|1
//
// Each write is a single HSET (a bookmark also HSETNXes an empty answer in the same
// MULTI), so per-key upserts are atomic.
type AnswerStore struct {
	client *redis.Client
}

func NewAnswerStore(client *redis.Client) *AnswerStore {
	return &AnswerStore{client: client}
}

func (s *AnswerStore) SetAnswer(ctx context.Context, sessionID, questionID, text string) error {
	if err := s.client.HSet(ctx, answersKey(sessionID), questionID, text).Err(); err != nil {
		return domain.Storage("set answer", err)
	}
	return nil
}

func (s *AnswerStore) SetBookmark(ctx context.Context, sessionID, questionID string, flag bool) error {
	value := "0"
	if flag {
		value = "1"
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, answersKey(sessionID), questionID, "")
		pipe.HSet(ctx, bookmarksKey(sessionID), questionID, value)
		return nil
	})
	if err != nil {
		return domain.Storage("set bookmark", err)
	}
	return nil
}

func (s *AnswerStore) GetAnswer(ctx context.Context, sessionID, questionID string) (string, bool, error) {
	text, err := s.client.HGet(ctx, answersKey(sessionID), questionID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, domain.Storage("get answer", err)
	}
	return text, true, nil
}

func (s *AnswerStore) GetBookmark(ctx context.Context, sessionID, questionID string) (bool, error) {
	value, err := s.client.HGet(ctx, bookmarksKey(sessionID), questionID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, domain.Storage("get bookmark", err)
	}
	return value == "1", nil
}

func (s *AnswerStore) ListAnswers(ctx context.Context, sessionID string) ([]domain.UserAnswer, error) {
	pipe := s.client.Pipeline()
	answersCmd := pipe.HGetAll(ctx, answersKey(sessionID))
	bookmarksCmd := pipe.HGetAll(ctx, bookmarksKey(sessionID))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, domain.Storage("list answers", err)
	}

	merged := make(map[string]*domain.UserAnswer)
	entry := func(questionID string) *domain.UserAnswer {
		if a, ok := merged[questionID]; ok {
			return a
		}
		a := &domain.UserAnswer{SessionID: sessionID, QuestionID: questionID}
		merged[questionID] = a
		return a
	}
	for questionID, text := range answersCmd.Val() {
		entry(questionID).AnswerText = text
	}
	for questionID, value := range bookmarksCmd.Val() {
		entry(questionID).Bookmarked = value == "1"
	}

	answers := make([]domain.UserAnswer, 0, len(merged))
	for _, a := range merged {
		answers = append(answers, *a)
	}
	sort.Slice(answers, func(i, j int) bool { return answers[i].QuestionID < answers[j].QuestionID })
	return answers, nil
}

func answersKey(sessionID string) string {
	return "autograde:answers:" + sessionID
}

func bookmarksKey(sessionID string) string {
	return "autograde:bookmarks:" + sessionID
}
