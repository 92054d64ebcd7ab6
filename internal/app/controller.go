package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"autograde-session/internal/domain"
	"github.com/google/uuid"
)

// Phase is where the controller is in its start state machine.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseInProgress Phase = "in_progress"
	PhaseStarted    Phase = "started"
	PhaseNotFound   Phase = "not_found"
	PhaseFailed     Phase = "failed"
)

// State is the observable snapshot of a controller.
type State struct {
	Phase    Phase                     `json:"phase"`
	Loading  bool                      `json:"loading"`
	Test     *domain.Test              `json:"test,omitempty"`
	Session  *domain.TestSession       `json:"session,omitempty"`
	Response *domain.StartTestResponse `json:"response,omitempty"`
	Err      error                     `json:"-"`
}

// StartResult is what a start call produced.
type StartResult struct {
	Session  domain.TestSession
	Response domain.StartTestResponse
}

type startCall func(ctx context.Context) (domain.StartTestResponse, error)

// startFlight is the one start call a controller may have running. Callers with the same
// key wait on done and share its result.
type startFlight struct {
	key     string
	done    chan struct{}
	res     StartResult
	err     error
	waiters int
}

// Controller owns the active test session for one UI lifetime.
type Controller struct {
	client   TestClient
	tests    TestRepository
	answers  AnswerStore
	sessions SessionRepository
	auth     AuthProvider
	now      func() time.Time
	newID    func() string

	mu     sync.Mutex
	flight *startFlight
	state  *feed[State]
}

func NewController(client TestClient, tests TestRepository, answers AnswerStore, sessions SessionRepository, auth AuthProvider) *Controller {
	return NewControllerWithClock(client, tests, answers, sessions, auth, time.Now)
}

// NewControllerWithClock allows deterministic timestamps in tests.
func NewControllerWithClock(client TestClient, tests TestRepository, answers AnswerStore, sessions SessionRepository, auth AuthProvider, now func() time.Time) *Controller {
	return &Controller{
		client:   client,
		tests:    tests,
		answers:  answers,
		sessions: sessions,
		auth:     auth,
		now:      now,
		newID:    uuid.NewString,
		state:    newFeed(State{Phase: PhaseIdle}),
	}
}

// StartAuthenticated starts testID for the logged-in user.
func (c *Controller) StartAuthenticated(ctx context.Context, testID string) (StartResult, error) {
	testID = strings.TrimSpace(testID)
	if testID == "" {
		return StartResult{}, c.reject(domain.Validation("start", "test id is required"))
	}
	var auth domain.Auth
	ok := false
	if c.auth != nil {
		auth, ok = c.auth.Current()
	}
	// A token with no user id would leave the session with no participant identity.
	if !ok || auth.Token == "" || strings.TrimSpace(auth.UserID) == "" {
		return StartResult{}, c.reject(domain.ErrNotAuthenticated)
	}

	participant := domain.Participant{UserID: auth.UserID}
	return c.start(ctx, "user:"+testID, testID, participant, func(ctx context.Context) (domain.StartTestResponse, error) {
		return c.client.StartTest(ctx, auth.Token, testID)
	})
}

// StartGuest starts testID for a participant identified only by username.
func (c *Controller) StartGuest(ctx context.Context, testID, username string) (StartResult, error) {
	testID = strings.TrimSpace(testID)
	username = strings.TrimSpace(username)
	if testID == "" {
		return StartResult{}, c.reject(domain.Validation("start guest", "test id is required"))
	}
	if username == "" {
		return StartResult{}, c.reject(domain.Validation("start guest", "username is required"))
	}

	participant := domain.Participant{GuestName: username}
	return c.start(ctx, "guest:"+testID+":"+username, testID, participant, func(ctx context.Context) (domain.StartTestResponse, error) {
		return c.client.StartGuestTest(ctx, testID, username)
	})
}

// start coalesces identical concurrent calls and rejects different ones while one is in flight.
// Joining and claiming the flight both happen under c.mu, so a flight never runs unregistered.
func (c *Controller) start(ctx context.Context, key, testID string, participant domain.Participant, call startCall) (StartResult, error) {
	c.mu.Lock()
	if f := c.flight; f != nil {
		if f.key != key {
			c.mu.Unlock()
			return StartResult{}, domain.ErrStartInProgress
		}
		f.waiters++
		c.mu.Unlock()
		select {
		case <-f.done:
			return f.res, f.err
		case <-ctx.Done():
			return StartResult{}, domain.Tag("start", ctx.Err())
		}
	}
	f := &startFlight{key: key, done: make(chan struct{})}
	c.flight = f
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.flight = nil
		c.mu.Unlock()
		close(f.done)
	}()
	f.res, f.err = c.runStart(ctx, testID, participant, call)
	return f.res, f.err
}

func (c *Controller) runStart(ctx context.Context, testID string, participant domain.Participant, call startCall) (res StartResult, err error) {
	c.state.update(func(s *State) {
		s.Phase = PhaseInProgress
		s.Loading = true
		s.Test = nil
		s.Session = nil
		s.Response = nil
		s.Err = nil
	})
	// Loading clears on every exit path, including a panicking collaborator.
	defer func() {
		if r := recover(); r != nil {
			err = &domain.Error{Kind: domain.KindUnknown, Op: "start", Message: fmt.Sprintf("panic: %v", r)}
		}
		c.finishStart(res, err)
	}()

	now := c.now()
	session := domain.TestSession{
		ID:          c.newID(),
		TestID:      testID,
		Participant: participant,
		Status:      domain.StatusCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.sessions.SaveSession(ctx, session); err != nil {
		return res, domain.Tag("start", err)
	}
	res.Session = session

	resp, err := call(ctx)
	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) && de.Status != 0 {
			res.Response = domain.StartTestResponse{Message: de.Message}
		}
		return res, domain.Tag("start", err)
	}
	res.Response = resp

	if resp.Test == nil {
		return res, &domain.Error{Kind: domain.KindNotFound, Op: "start", Message: domain.ErrTestNotFound.Message}
	}

	session.Status = domain.StatusStarted
	session.RemoteID = resp.UserTestID
	session.QuestionIDs = resp.Test.QuestionIDs()
	session.UpdatedAt = c.now()
	if err := c.sessions.SaveSession(ctx, session); err != nil {
		return res, domain.Tag("start", err)
	}
	res.Session = session
	return res, nil
}

func (c *Controller) finishStart(res StartResult, err error) {
	c.state.update(func(s *State) {
		s.Loading = false
		if res.Response != (domain.StartTestResponse{}) {
			resp := res.Response
			s.Response = &resp
		}
		if res.Session.ID != "" {
			session := res.Session
			s.Session = &session
		}
		switch {
		case err == nil:
			s.Phase = PhaseStarted
			s.Test = res.Response.Test
			s.Err = nil
		case domain.IsKind(err, domain.KindNotFound):
			s.Phase = PhaseNotFound
			s.Err = err
		default:
			s.Phase = PhaseFailed
			s.Err = err
		}
	})
}

// reject publishes an input failure unless another start owns the state.
func (c *Controller) reject(err error) error {
	c.mu.Lock()
	busy := c.flight != nil
	c.mu.Unlock()
	if !busy {
		c.state.update(func(s *State) {
			s.Phase = PhaseFailed
			s.Loading = false
			s.Err = err
		})
	}
	return err
}

// Resume re-attaches the controller to a persisted session after the UI is rebuilt.
func (c *Controller) Resume(ctx context.Context, sessionID string) (domain.TestSession, error) {
	session, ok, err := c.sessions.GetSession(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return domain.TestSession{}, domain.Tag("resume", err)
	}
	if !ok {
		return domain.TestSession{}, c.reject(domain.ErrUnknownSession)
	}

	phase := PhaseStarted
	if session.Status == domain.StatusCreated {
		phase = PhaseIdle
	}
	var test *domain.Test
	var loadErr error
	if c.tests != nil && session.Status != domain.StatusCreated {
		t, err := c.tests.GetTest(ctx, session.TestID)
		if err != nil {
			loadErr = domain.Tag("resume", err)
		} else {
			test = &t
		}
	}
	c.state.update(func(s *State) {
		s.Phase = phase
		s.Loading = false
		s.Session = &session
		s.Test = test
		s.Response = nil
		s.Err = loadErr
	})
	return session, loadErr
}

// Preview fetches test details without starting a session.
func (c *Controller) Preview(ctx context.Context, testID string) (domain.Test, error) {
	testID = strings.TrimSpace(testID)
	if testID == "" {
		return domain.Test{}, domain.Validation("preview", "test id is required")
	}
	test, err := c.tests.GetTest(ctx, testID)
	if err != nil {
		return domain.Test{}, domain.Tag("preview", err)
	}
	return test, nil
}

// GetAnswer returns the stored answer for questionID in the current session.
func (c *Controller) GetAnswer(ctx context.Context, questionID string) (string, bool, error) {
	sessionID, err := c.currentSessionID()
	if err != nil {
		return "", false, err
	}
	return c.answers.GetAnswer(ctx, sessionID, questionID)
}

// IsBookmarked reports the bookmark flag for questionID in the current session.
func (c *Controller) IsBookmarked(ctx context.Context, questionID string) (bool, error) {
	sessionID, err := c.currentSessionID()
	if err != nil {
		return false, err
	}
	return c.answers.GetBookmark(ctx, sessionID, questionID)
}

// IsAnswered is true iff the stored answer is non-blank.
func (c *Controller) IsAnswered(ctx context.Context, questionID string) (bool, error) {
	text, ok, err := c.GetAnswer(ctx, questionID)
	if err != nil {
		return false, err
	}
	return ok && domain.IsAnswered(text), nil
}

func (c *Controller) currentSessionID() (string, error) {
	s := c.state.snapshot()
	if s.Session == nil {
		return "", domain.ErrNoActiveSession
	}
	return s.Session.ID, nil
}

// State returns the latest snapshot.
func (c *Controller) State() State {
	return c.state.snapshot()
}

// Subscribe returns a channel that receives state changes, starting with the current state.
// The caller must invoke the returned cancel function to avoid leaks.
func (c *Controller) Subscribe() (<-chan State, func()) {
	return c.state.subscribe()
}

// Close tears down all subscribers.
func (c *Controller) Close() {
	c.state.close()
}
