package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"autograde-session/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Store keeps answers and session records in Postgres for deployments where several
// presentation processes share one answer store.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) SetAnswer(ctx context.Context, sessionID, questionID, text string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO answers (session_id, question_id, answer_text, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (session_id, question_id) DO UPDATE SET answer_text = EXCLUDED.answer_text, updated_at = now()`,
		sessionID, questionID, text)
	if err != nil {
		return domain.Storage("set answer", err)
	}
	return nil
}

func (s *Store) SetBookmark(ctx context.Context, sessionID, questionID string, flag bool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO answers (session_id, question_id, bookmarked, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (session_id, question_id) DO UPDATE SET bookmarked = EXCLUDED.bookmarked, updated_at = now()`,
		sessionID, questionID, flag)
	if err != nil {
		return domain.Storage("set bookmark", err)
	}
	return nil
}

func (s *Store) GetAnswer(ctx context.Context, sessionID, questionID string) (string, bool, error) {
	var text string
	err := s.pool.QueryRow(ctx,
		`SELECT answer_text FROM answers WHERE session_id=$1 AND question_id=$2`,
		sessionID, questionID).Scan(&text)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, domain.Storage("get answer", err)
	}
	return text, true, nil
}

func (s *Store) GetBookmark(ctx context.Context, sessionID, questionID string) (bool, error) {
	var flag bool
	err := s.pool.QueryRow(ctx,
		`SELECT bookmarked FROM answers WHERE session_id=$1 AND question_id=$2`,
		sessionID, questionID).Scan(&flag)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, domain.Storage("get bookmark", err)
	}
	return flag, nil
}

func (s *Store) ListAnswers(ctx context.Context, sessionID string) ([]domain.UserAnswer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT question_id, answer_text, bookmarked, updated_at
		 FROM answers WHERE session_id=$1 ORDER BY question_id`,
		sessionID)
	if err != nil {
		return nil, domain.Storage("list answers", err)
	}
	defer rows.Close()

	answers := make([]domain.UserAnswer, 0)
	for rows.Next() {
		a := domain.UserAnswer{SessionID: sessionID}
		if err := rows.Scan(&a.QuestionID, &a.AnswerText, &a.Bookmarked, &a.UpdatedAt); err != nil {
			return nil, domain.Storage("list answers", err)
		}
		answers = append(answers, a)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Storage("list answers", err)
	}
	return answers, nil
}

func (s *Store) SaveSession(ctx context.Context, session domain.TestSession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return domain.Storage("save session", fmt.Errorf("marshal session: %w", err))
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO sessions (id, data, status, updated_at) VALUES ($1, $2::jsonb, $3, now())
		 ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data, status=EXCLUDED.status, updated_at=now()`,
		session.ID, string(raw), string(session.Status))
	if err != nil {
		return domain.Storage("save session", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (domain.TestSession, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM sessions WHERE id=$1`, sessionID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
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
