package app

import (
	"context"

	"autograde-session/internal/domain"
)

// AnswerStore abstracts durable per-question answer and bookmark storage (sqlite, redis, etc).
// Bookmarking a question that has no record creates one with empty answer text, so GetAnswer
// then reports ("", true) on every backend.
type AnswerStore interface {
	SetAnswer(ctx context.Context, sessionID, questionID, text string) error
	GetAnswer(ctx context.Context, sessionID, questionID string) (string, bool, error)
	SetBookmark(ctx context.Context, sessionID, questionID string, flag bool) error
	GetBookmark(ctx context.Context, sessionID, questionID string) (bool, error)
	ListAnswers(ctx context.Context, sessionID string) ([]domain.UserAnswer, error)
}

// SessionRepository persists session records so status and acknowledgments survive restarts.
type SessionRepository interface {
	SaveSession(ctx context.Context, session domain.TestSession) error
	GetSession(ctx context.Context, sessionID string) (domain.TestSession, bool, error)
}

// TestClient is the grading service as seen by the session engine.
type TestClient interface {
	StartTest(ctx context.Context, token, testID string) (domain.StartTestResponse, error)
	StartGuestTest(ctx context.Context, testID, username string) (domain.StartTestResponse, error)
	SubmitAnswers(ctx context.Context, token, sessionID string, entries []domain.SubmissionEntry) (domain.SubmissionAck, error)
}

// AccountClient covers registration and login against the grading service.
type AccountClient interface {
	Register(ctx context.Context, creds domain.Credentials) (domain.Account, error)
	Login(ctx context.Context, creds domain.Credentials) (domain.Auth, error)
}

// TestRepository loads test definitions (from cache/remote).
type TestRepository interface {
	GetTest(ctx context.Context, testID string) (domain.Test, error)
}

// AuthProvider supplies the current authentication context, if any.
type AuthProvider interface {
	Current() (domain.Auth, bool)
}
