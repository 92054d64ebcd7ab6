package app

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"autograde-session/internal/domain"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"
)

// RetryPolicy bounds how submission retries transport failures.
type RetryPolicy struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
}

// SubmitResult is published for every finished submit call.
type SubmitResult struct {
	SessionID string
	Ack       *domain.SubmissionAck
	Err       error
}

// Coordinator gathers stored answers and submits them exactly once per session.
type Coordinator struct {
	client   TestClient
	answers  AnswerStore
	sessions SessionRepository
	auth     AuthProvider
	retry    RetryPolicy
	now      func() time.Time

	sf      singleflight.Group
	mu      sync.RWMutex
	acks    map[string]domain.SubmissionAck
	results *feed[SubmitResult]
}

func NewCoordinator(client TestClient, answers AnswerStore, sessions SessionRepository, auth AuthProvider, retry RetryPolicy) *Coordinator {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	return &Coordinator{
		client:   client,
		answers:  answers,
		sessions: sessions,
		auth:     auth,
		retry:    retry,
		now:      time.Now,
		acks:     make(map[string]domain.SubmissionAck),
		results:  newFeed(SubmitResult{}),
	}
}

// RecordAnswer stores an answer unless the session was already submitted.
func (c *Coordinator) RecordAnswer(ctx context.Context, sessionID, questionID, text string) error {
	if err := c.checkWritable(ctx, "record answer", sessionID, questionID); err != nil {
		return err
	}
	return c.answers.SetAnswer(ctx, sessionID, questionID, text)
}

// SetBookmark stores a bookmark flag unless the session was already submitted.
func (c *Coordinator) SetBookmark(ctx context.Context, sessionID, questionID string, flag bool) error {
	if err := c.checkWritable(ctx, "set bookmark", sessionID, questionID); err != nil {
		return err
	}
	return c.answers.SetBookmark(ctx, sessionID, questionID, flag)
}

func (c *Coordinator) checkWritable(ctx context.Context, op, sessionID, questionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return domain.Validation(op, "session id is required")
	}
	if strings.TrimSpace(questionID) == "" {
		return domain.Validation(op, "question id is required")
	}
	if _, ok := c.cachedAck(sessionID); ok {
		return domain.ErrSessionSubmitted
	}
	session, ok, err := c.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Tag(op, err)
	}
	if ok && session.Status == domain.StatusSubmitted {
		return domain.ErrSessionSubmitted
	}
	return nil
}

// Submit sends every answered question of sessionID to the grading service. Calling it again
// after success returns the stored acknowledgment without another network call.
func (c *Coordinator) Submit(ctx context.Context, sessionID string) (domain.SubmissionAck, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.SubmissionAck{}, domain.Validation("submit", "session id is required")
	}

	// Concurrent submits for one session share a single network call.
	v, err, _ := c.sf.Do(sessionID, func() (interface{}, error) {
		ack, err := c.submit(ctx, sessionID)
		c.publish(sessionID, ack, err)
		return ack, err
	})
	ack, _ := v.(domain.SubmissionAck)
	return ack, err
}

func (c *Coordinator) submit(ctx context.Context, sessionID string) (domain.SubmissionAck, error) {
	if ack, ok := c.cachedAck(sessionID); ok {
		return ack, nil
	}

	session, found, err := c.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return domain.SubmissionAck{}, domain.Tag("submit", err)
	}
	if found && session.Status == domain.StatusSubmitted && session.Ack != nil {
		c.rememberAck(sessionID, *session.Ack)
		return *session.Ack, nil
	}

	answers, err := c.answers.ListAnswers(ctx, sessionID)
	if err != nil {
		return domain.SubmissionAck{}, domain.Tag("submit", err)
	}
	if !found {
		if len(answers) == 0 {
			return domain.SubmissionAck{}, domain.ErrUnknownSession
		}
		// Answers recorded without a session record: treat as a started session.
		now := c.now()
		session = domain.TestSession{ID: sessionID, Status: domain.StatusStarted, CreatedAt: now, UpdatedAt: now}
	}
	if session.Status == domain.StatusCreated {
		return domain.SubmissionAck{}, domain.Validation("submit", "session has not started")
	}

	payload := BuildSubmission(session.QuestionIDs, answers)
	// Only guest sessions go out without the bearer token.
	token := ""
	if !session.Participant.IsGuest() && c.auth != nil {
		if auth, ok := c.auth.Current(); ok {
			token = auth.Token
		}
	}

	ack, err := c.send(ctx, token, session.SubmitID(), payload)
	if err != nil {
		return domain.SubmissionAck{}, err
	}
	if ack.SubmittedAt.IsZero() {
		ack.SubmittedAt = c.now()
	}
	c.rememberAck(sessionID, ack)

	session.Status = domain.StatusSubmitted
	session.Ack = &ack
	session.UpdatedAt = c.now()
	if err := c.sessions.SaveSession(ctx, session); err != nil {
		// The server accepted the submission; the in-memory ack still answers repeats.
		return ack, domain.Tag("submit", err)
	}
	return ack, nil
}

// send retries transport failures with exponential backoff; other failures stop immediately.
func (c *Coordinator) send(ctx context.Context, token, remoteID string, payload []domain.SubmissionEntry) (domain.SubmissionAck, error) {
	expo := backoff.NewExponentialBackOff()
	if c.retry.InitialWait > 0 {
		expo.InitialInterval = c.retry.InitialWait
	}
	if c.retry.MaxWait > 0 {
		expo.MaxInterval = c.retry.MaxWait
	}
	expo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(c.retry.MaxAttempts-1)), ctx)

	var ack domain.SubmissionAck
	err := backoff.RetryNotify(func() error {
		res, err := c.client.SubmitAnswers(ctx, token, remoteID, payload)
		if err != nil {
			if domain.IsKind(err, domain.KindTransport) && ctx.Err() == nil {
				return err
			}
			return backoff.Permanent(err)
		}
		ack = res
		return nil
	}, policy, func(err error, wait time.Duration) {
		log.Printf("submit %s failed, retrying in %s: %v", remoteID, wait, err)
	})
	if err != nil {
		return domain.SubmissionAck{}, domain.Tag("submit", err)
	}
	return ack, nil
}

func (c *Coordinator) cachedAck(sessionID string) (domain.SubmissionAck, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ack, ok := c.acks[sessionID]
	return ack, ok
}

func (c *Coordinator) rememberAck(sessionID string, ack domain.SubmissionAck) {
	c.mu.Lock()
	c.acks[sessionID] = ack
	c.mu.Unlock()
}

func (c *Coordinator) publish(sessionID string, ack domain.SubmissionAck, err error) {
	res := SubmitResult{SessionID: sessionID, Err: err}
	if err == nil {
		res.Ack = &ack
	}
	c.results.publish(res)
}

// Subscribe returns a channel of submission results, starting with the latest one.
// The caller must invoke the returned cancel function to avoid leaks.
func (c *Coordinator) Subscribe() (<-chan SubmitResult, func()) {
	return c.results.subscribe()
}

// Close tears down all subscribers.
func (c *Coordinator) Close() {
	c.results.close()
}

// BuildSubmission orders answered questions by the test's question order, then by id for
// questions the test did not list. Blank answers are omitted.
func BuildSubmission(order []string, answers []domain.UserAnswer) []domain.SubmissionEntry {
	rank := make(map[string]int, len(order))
	for i, id := range order {
		if _, ok := rank[id]; !ok {
			rank[id] = i
		}
	}

	answered := make([]domain.UserAnswer, 0, len(answers))
	for _, a := range answers {
		if a.Answered() {
			answered = append(answered, a)
		}
	}
	sort.SliceStable(answered, func(i, j int) bool {
		ri, iok := rank[answered[i].QuestionID]
		rj, jok := rank[answered[j].QuestionID]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return answered[i].QuestionID < answered[j].QuestionID
		}
	})

	entries := make([]domain.SubmissionEntry, 0, len(answered))
	for _, a := range answered {
		entries = append(entries, domain.SubmissionEntry{QuestionID: a.QuestionID, AnswerText: a.AnswerText})
	}
	return entries
}
