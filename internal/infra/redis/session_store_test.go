package redis

import (
	"context"
	"testing"

	"autograde-session/internal/domain"
	miniredis "github.com/alicebob/miniredis/v2"
)

func TestSessionStoreRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewSessionStore(newClient(mr))

	if _, ok, err := store.GetSession(ctx, "s1"); ok || err != nil {
		t.Fatalf("expected missing session, ok=%v err=%v", ok, err)
	}

	session := domain.TestSession{
		ID:          "s1",
		TestID:      "T1",
		Participant: domain.Participant{GuestName: "alice"},
		Status:      domain.StatusStarted,
		QuestionIDs: []string{"q1", "q2"},
	}
	if err := store.SaveSession(ctx, session); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !mr.Exists("autograde:session:s1") {
		t.Fatalf("expected redis key to be set")
	}

	got, ok, err := store.GetSession(ctx, "s1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Participant.GuestName != "alice" || got.Status != domain.StatusStarted || len(got.QuestionIDs) != 2 {
		t.Fatalf("unexpected session %+v", got)
	}
}

func TestAnswerStoreHashes(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewAnswerStore(newClient(mr))

	if err := store.SetAnswer(ctx, "s1", "q1", "42"); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	_ = store.SetBookmark(ctx, "s1", "q2", true)
	_ = store.SetBookmark(ctx, "s1", "q2", true)

	text, ok, err := store.GetAnswer(ctx, "s1", "q1")
	if err != nil || !ok || text != "42" {
		t.Fatalf("expected 42, got %q ok=%v err=%v", text, ok, err)
	}
	if text, ok, err := store.GetAnswer(ctx, "s1", "q2"); err != nil || !ok || text != "" {
		t.Fatalf("bookmark-only question must read as an empty answer, got %q ok=%v err=%v", text, ok, err)
	}
	if _, ok, _ := store.GetAnswer(ctx, "s1", "q3"); ok {
		t.Fatalf("untouched question must be absent")
	}
	if marked, _ := store.GetBookmark(ctx, "s1", "q2"); !marked {
		t.Fatalf("expected q2 bookmarked")
	}
	if marked, _ := store.GetBookmark(ctx, "s1", "q1"); marked {
		t.Fatalf("expected q1 not bookmarked")
	}

	list, err := store.ListAnswers(ctx, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].QuestionID != "q1" || list[1].QuestionID != "q2" || !list[1].Bookmarked {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestAnswerStoreReportsStorageFailure(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	store := NewAnswerStore(newClient(mr))
	mr.Close()

	err = store.SetAnswer(context.Background(), "s1", "q1", "x")
	if !domain.IsKind(err, domain.KindStorage) {
		t.Fatalf("expected storage failure, got %v", err)
	}
}

func TestAnswerStoreBookmarkKeepsAnswer(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewAnswerStore(newClient(mr))

	if err := store.SetAnswer(ctx, "s1", "q1", "B"); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	if err := store.SetBookmark(ctx, "s1", "q1", true); err != nil {
		t.Fatalf("set bookmark: %v", err)
	}
	if text, ok, _ := store.GetAnswer(ctx, "s1", "q1"); !ok || text != "B" {
		t.Fatalf("bookmark must not overwrite the answer, got %q ok=%v", text, ok)
	}
}
