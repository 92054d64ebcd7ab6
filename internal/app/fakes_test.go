package app_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"autograde-session/internal/app"
	"autograde-session/internal/domain"
	"autograde-session/internal/infra/memory"
)

type submitCall struct {
	token   string
	id      string
	entries []domain.SubmissionEntry
}

// fakeClient stands in for the grading service.
type fakeClient struct {
	mu sync.Mutex

	startResp  domain.StartTestResponse
	startErr   error
	startHook  func()
	startCalls int
	tokens     []string

	submitAck   domain.SubmissionAck
	submitErrs  []error
	submitHook  func()
	submitCalls []submitCall
}

func (f *fakeClient) StartTest(ctx context.Context, token, testID string) (domain.StartTestResponse, error) {
	f.mu.Lock()
	f.tokens = append(f.tokens, token)
	f.mu.Unlock()
	return f.start()
}

func (f *fakeClient) StartGuestTest(ctx context.Context, testID, username string) (domain.StartTestResponse, error) {
	return f.start()
}

func (f *fakeClient) start() (domain.StartTestResponse, error) {
	f.mu.Lock()
	f.startCalls++
	hook := f.startHook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return f.startResp, f.startErr
}

func (f *fakeClient) SubmitAnswers(ctx context.Context, token, sessionID string, entries []domain.SubmissionEntry) (domain.SubmissionAck, error) {
	f.mu.Lock()
	f.submitCalls = append(f.submitCalls, submitCall{token: token, id: sessionID, entries: entries})
	hook := f.submitHook
	var err error
	if len(f.submitErrs) > 0 {
		err = f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
	}
	ack := f.submitAck
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return domain.SubmissionAck{}, err
	}
	return ack, nil
}

func (f *fakeClient) calls() []submitCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submitCall(nil), f.submitCalls...)
}

func (f *fakeClient) starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls
}

// failingSessions lets reads through but fails writes once armed.
type failingSessions struct {
	*memory.SessionStore
	mu   sync.Mutex
	fail bool
}

func (s *failingSessions) arm() {
	s.mu.Lock()
	s.fail = true
	s.mu.Unlock()
}

func (s *failingSessions) SaveSession(ctx context.Context, session domain.TestSession) error {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return domain.Storage("save session", errors.New("disk full"))
	}
	return s.SessionStore.SaveSession(ctx, session)
}

func sampleTest() domain.Test {
	return domain.Test{
		ID:              "T1",
		Title:           "Arithmetic",
		DurationMinutes: 30,
		QuestionCount:   2,
		Questions: []domain.Question{
			{ID: "q1", Prompt: "2+2?"},
			{ID: "q2", Prompt: "3+3?"},
		},
	}
}

func startedResponse() domain.StartTestResponse {
	test := sampleTest()
	return domain.StartTestResponse{Message: "started", Test: &test, UserTestID: "ut-1"}
}

type harness struct {
	client      *fakeClient
	answers     *memory.AnswerStore
	sessions    *memory.SessionStore
	tests       *memory.TestRepository
	controller  *app.Controller
	coordinator *app.Coordinator
}

func newHarness(auth app.AuthProvider) *harness {
	h := &harness{
		client:   &fakeClient{startResp: startedResponse(), submitAck: domain.SubmissionAck{Message: "graded"}},
		answers:  memory.NewAnswerStore(),
		sessions: memory.NewSessionStore(),
		tests:    memory.NewTestRepository(memory.NewStaticTestLoader(map[string]domain.Test{"T1": sampleTest()}), time.Minute),
	}
	h.controller = app.NewController(h.client, h.tests, h.answers, h.sessions, auth)
	h.coordinator = app.NewCoordinator(h.client, h.answers, h.sessions, auth, app.RetryPolicy{MaxAttempts: 1})
	return h
}
