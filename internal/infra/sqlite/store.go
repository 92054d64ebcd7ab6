// Package sqlite provides the durable local answer store backed by SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"autograde-session/internal/domain"
	"autograde-session/internal/infra/sqlite/migrations"

	// Pure Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// Store persists answers, bookmarks and session records in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens the database at path (":memory:" for tests) and applies the embedded schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(filepath.Clean(path)), 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applyMigrations(db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// applyMigrations runs every embedded .sql file once, in name order.
func applyMigrations(db *sql.DB, migrationFS fs.FS) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		var applied int
		if err := db.QueryRow(`SELECT COUNT(1) FROM schema_migrations WHERE name = ?`, name).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if applied > 0 {
			continue
		}
		content, err := fs.ReadFile(migrationFS, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", name, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`, name, time.Now().UTC().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) SetAnswer(ctx context.Context, sessionID, questionID, text string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO answers (session_id, question_id, answer_text, bookmarked, updated_at)
		 VALUES (?, ?, ?, 0, ?)
		 ON CONFLICT (session_id, question_id) DO UPDATE SET
		   answer_text = excluded.answer_text,
		   updated_at = excluded.updated_at`,
		sessionID, questionID, text, s.now().UTC().UnixMilli(),
	)
	if err != nil {
		return domain.Storage("set answer", err)
	}
	return nil
}

func (s *Store) SetBookmark(ctx context.Context, sessionID, questionID string, flag bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO answers (session_id, question_id, answer_text, bookmarked, updated_at)
		 VALUES (?, ?, '', ?, ?)
		 ON CONFLICT (session_id, question_id) DO UPDATE SET
		   bookmarked = excluded.bookmarked,
		   updated_at = excluded.updated_at`,
		sessionID, questionID, boolToInt(flag), s.now().UTC().UnixMilli(),
	)
	if err != nil {
		return domain.Storage("set bookmark", err)
	}
	return nil
}

func (s *Store) GetAnswer(ctx context.Context, sessionID, questionID string) (string, bool, error) {
	var text string
	err := s.db.QueryRowContext(ctx,
		`SELECT answer_text FROM answers WHERE session_id = ? AND question_id = ?`,
		sessionID, questionID,
	).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, domain.Storage("get answer", err)
	}
	return text, true, nil
}

func (s *Store) GetBookmark(ctx context.Context, sessionID, questionID string) (bool, error) {
	var flag int
	err := s.db.QueryRowContext(ctx,
		`SELECT bookmarked FROM answers WHERE session_id = ? AND question_id = ?`,
		sessionID, questionID,
	).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, domain.Storage("get bookmark", err)
	}
	return flag != 0, nil
}

func (s *Store) ListAnswers(ctx context.Context, sessionID string) ([]domain.UserAnswer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT question_id, answer_text, bookmarked, updated_at
		 FROM answers WHERE session_id = ? ORDER BY question_id`,
		sessionID,
	)
	if err != nil {
		return nil, domain.Storage("list answers", err)
	}
	defer rows.Close()

	answers := make([]domain.UserAnswer, 0)
	for rows.Next() {
		var (
			a         domain.UserAnswer
			flag      int
			updatedAt int64
		)
		if err := rows.Scan(&a.QuestionID, &a.AnswerText, &flag, &updatedAt); err != nil {
			return nil, domain.Storage("list answers", err)
		}
		a.SessionID = sessionID
		a.Bookmarked = flag != 0
		a.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		answers = append(answers, a)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Storage("list answers", err)
	}
	return answers, nil
}

func (s *Store) SaveSession(ctx context.Context, session domain.TestSession) error {
	questionIDs, err := json.Marshal(nonNil(session.QuestionIDs))
	if err != nil {
		return domain.Storage("save session", fmt.Errorf("marshal question ids: %w", err))
	}
	var ack sql.NullString
	if session.Ack != nil {
		raw, err := json.Marshal(session.Ack)
		if err != nil {
			return domain.Storage("save session", fmt.Errorf("marshal ack: %w", err))
		}
		ack = sql.NullString{String: string(raw), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, test_id, remote_id, user_id, guest_name, status, question_ids, ack, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   test_id = excluded.test_id,
		   remote_id = excluded.remote_id,
		   user_id = excluded.user_id,
		   guest_name = excluded.guest_name,
		   status = excluded.status,
		   question_ids = excluded.question_ids,
		   ack = excluded.ack,
		   updated_at = excluded.updated_at`,
		session.ID,
		session.TestID,
		session.RemoteID,
		session.Participant.UserID,
		session.Participant.GuestName,
		string(session.Status),
		string(questionIDs),
		ack,
		session.CreatedAt.UTC().UnixMilli(),
		session.UpdatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return domain.Storage("save session", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (domain.TestSession, bool, error) {
	var (
		session     domain.TestSession
		status      string
		questionIDs string
		ack         sql.NullString
		createdAt   int64
		updatedAt   int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, test_id, remote_id, user_id, guest_name, status, question_ids, ack, created_at, updated_at
		 FROM sessions WHERE id = ?`,
		sessionID,
	).Scan(
		&session.ID,
		&session.TestID,
		&session.RemoteID,
		&session.Participant.UserID,
		&session.Participant.GuestName,
		&status,
		&questionIDs,
		&ack,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TestSession{}, false, nil
	}
	if err != nil {
		return domain.TestSession{}, false, domain.Storage("get session", err)
	}

	session.Status = domain.SessionStatus(status)
	session.CreatedAt = time.UnixMilli(createdAt).UTC()
	session.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if err := json.Unmarshal([]byte(questionIDs), &session.QuestionIDs); err != nil {
		return domain.TestSession{}, false, domain.Storage("get session", fmt.Errorf("unmarshal question ids: %w", err))
	}
	if ack.Valid {
		var a domain.SubmissionAck
		if err := json.Unmarshal([]byte(ack.String), &a); err != nil {
			return domain.TestSession{}, false, domain.Storage("get session", fmt.Errorf("unmarshal ack: %w", err))
		}
		session.Ack = &a
	}
	return session, true, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
