package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Question is one item of a test. Option metadata is opaque and passed through unmodified.
type Question struct {
	ID      string          `json:"id"`
	Prompt  string          `json:"question"`
	Options json.RawMessage `json:"options,omitempty"`
}

// Test is the immutable definition fetched from the grading service.
type Test struct {
	ID               string     `json:"id"`
	Title            string     `json:"testTitle"`
	DurationMinutes  int        `json:"testDuration"`
	QuestionCount    int        `json:"questionCount"`
	ParticipantCount int        `json:"UserTestCount"`
	Questions        []Question `json:"questions"`
}

// QuestionIDs returns question ids in test order.
func (t Test) QuestionIDs() []string {
	ids := make([]string, 0, len(t.Questions))
	for _, q := range t.Questions {
		ids = append(ids, q.ID)
	}
	return ids
}

// UserAnswer is the locally stored state of one question within a session.
type UserAnswer struct {
	SessionID  string    `json:"sessionId"`
	QuestionID string    `json:"questionId"`
	AnswerText string    `json:"answer"`
	Bookmarked bool      `json:"bookmarked"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Answered reports whether the answer carries any non-blank text.
func (a UserAnswer) Answered() bool {
	return IsAnswered(a.AnswerText)
}

// IsAnswered is true iff text is non-empty after trimming surrounding whitespace.
func IsAnswered(text string) bool {
	return strings.TrimSpace(text) != ""
}

// SessionStatus tracks a session through its lifecycle.
type SessionStatus string

const (
	StatusCreated   SessionStatus = "created"
	StatusStarted   SessionStatus = "started"
	StatusSubmitted SessionStatus = "submitted"
)

// Participant identifies who is taking the test: a registered user or a guest, never both.
type Participant struct {
	UserID    string `json:"userId,omitempty"`
	GuestName string `json:"guestName,omitempty"`
}

// IsGuest reports whether the participant joined without an account.
func (p Participant) IsGuest() bool {
	return p.UserID == "" && p.GuestName != ""
}

// TestSession is one participant's attempt at one test.
type TestSession struct {
	ID          string         `json:"id"`
	TestID      string         `json:"testId"`
	RemoteID    string         `json:"remoteId,omitempty"` // userTestId assigned by the server
	Participant Participant    `json:"participant"`
	Status      SessionStatus  `json:"status"`
	QuestionIDs []string       `json:"questionIds,omitempty"`
	Ack         *SubmissionAck `json:"ack,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// SubmitID is the identifier the grading service expects on submission.
func (s TestSession) SubmitID() string {
	if s.RemoteID != "" {
		return s.RemoteID
	}
	return s.ID
}

// StartTestResponse is the server reply to a start request. Test is nil when the server
// acknowledged the request without returning content.
type StartTestResponse struct {
	Message    string `json:"message"`
	Test       *Test  `json:"test,omitempty"`
	UserTestID string `json:"userTestId,omitempty"`
}

// SubmissionEntry is one answered question in a submission payload.
type SubmissionEntry struct {
	QuestionID string `json:"questionId"`
	AnswerText string `json:"answer"`
}

// SubmissionAck is the grading service acknowledgment of a submission.
type SubmissionAck struct {
	Message     string    `json:"message"`
	Score       *float64  `json:"score,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Credentials are used for register and login.
type Credentials struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Account is the profile returned by registration.
type Account struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Auth is the authentication context obtained from login.
type Auth struct {
	Token    string `json:"token"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}
