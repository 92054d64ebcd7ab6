package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"autograde-session/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}

func TestAnswerRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetAnswer(ctx, "s1", "q1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetAnswer(ctx, "s1", "q1", "42"))
	text, ok, err := s.GetAnswer(ctx, "s1", "q1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "42", text)

	require.NoError(t, s.SetAnswer(ctx, "s1", "q1", ""))
	text, ok, err = s.GetAnswer(ctx, "s1", "q1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "", text)
}

func TestBookmarkKeepsAnswer(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	marked, err := s.GetBookmark(ctx, "s1", "q1")
	require.NoError(t, err)
	assert.False(t, marked)

	require.NoError(t, s.SetAnswer(ctx, "s1", "q1", "B"))
	require.NoError(t, s.SetBookmark(ctx, "s1", "q1", true))
	require.NoError(t, s.SetBookmark(ctx, "s1", "q1", true))

	marked, err = s.GetBookmark(ctx, "s1", "q1")
	require.NoError(t, err)
	assert.True(t, marked)

	text, _, err := s.GetAnswer(ctx, "s1", "q1")
	require.NoError(t, err)
	assert.Equal(t, "B", text)

	require.NoError(t, s.SetAnswer(ctx, "s1", "q1", "C"))
	marked, err = s.GetBookmark(ctx, "s1", "q1")
	require.NoError(t, err)
	assert.True(t, marked, "answer writes must not clear the bookmark")
}

func TestListAnswersScopedToSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetAnswer(ctx, "s1", "q2", "x"))
	require.NoError(t, s.SetBookmark(ctx, "s1", "q1", true))
	require.NoError(t, s.SetAnswer(ctx, "s2", "q1", "other"))

	list, err := s.ListAnswers(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "q1", list[0].QuestionID)
	assert.True(t, list[0].Bookmarked)
	assert.Equal(t, "", list[0].AnswerText)
	assert.Equal(t, "q2", list[1].QuestionID)
	assert.Equal(t, "s1", list[1].SessionID)

	empty, err := s.ListAnswers(ctx, "missing")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestSessionSaveAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	score := 87.5
	session := domain.TestSession{
		ID:          "s1",
		TestID:      "T1",
		RemoteID:    "ut-9",
		Participant: domain.Participant{GuestName: "alice"},
		Status:      domain.StatusStarted,
		QuestionIDs: []string{"q1", "q2"},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, s.SaveSession(ctx, session))

	got, ok, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, session, got)

	session.Status = domain.StatusSubmitted
	session.Ack = &domain.SubmissionAck{Message: "ok", Score: &score, SubmittedAt: now}
	require.NoError(t, s.SaveSession(ctx, session))

	got, _, err = s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, got.Status)
	require.NotNil(t, got.Ack)
	assert.Equal(t, "ok", got.Ack.Message)
	assert.Equal(t, 87.5, *got.Ack.Score)

	_, ok, err = s.GetSession(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAnswersSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "answers.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SetAnswer(ctx, "s1", "q1", "kept"))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	text, ok, err := s.GetAnswer(ctx, "s1", "q1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "kept", text)
}

func TestClosedStoreReportsStorageFailure(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.SetAnswer(context.Background(), "s1", "q1", "x")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindStorage))
}
