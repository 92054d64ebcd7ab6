package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"autograde-session/internal/domain"
)

const maxResponseBytes = 1 << 20

// Client talks JSON to the grading service.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type messageBody struct {
	Message string `json:"message"`
}

// wireTest accepts both "id" and Mongo-style "_id".
type wireTest struct {
	domain.Test
	MongoID string `json:"_id"`
}

func (w *wireTest) toDomain() *domain.Test {
	if w == nil {
		return nil
	}
	t := w.Test
	if t.ID == "" {
		t.ID = w.MongoID
	}
	return &t
}

type testEnvelope struct {
	Message    string    `json:"message"`
	Test       *wireTest `json:"test"`
	UserTestID string    `json:"userTestId"`
}

func (c *Client) Register(ctx context.Context, creds domain.Credentials) (domain.Account, error) {
	var out struct {
		Message string         `json:"message"`
		User    domain.Account `json:"user"`
	}
	if err := c.do(ctx, "register", http.MethodPost, "/api/register", "", creds, &out); err != nil {
		return domain.Account{}, err
	}
	return out.User, nil
}

func (c *Client) Login(ctx context.Context, creds domain.Credentials) (domain.Auth, error) {
	var out struct {
		Message string `json:"message"`
		Token   string `json:"token"`
		User    struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"user"`
	}
	body := struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}{Email: creds.Email, Password: creds.Password}
	if err := c.do(ctx, "login", http.MethodPost, "/api/login", "", body, &out); err != nil {
		return domain.Auth{}, err
	}
	if out.Token == "" {
		return domain.Auth{}, domain.Transport("login", fmt.Errorf("response carried no token"))
	}
	if out.User.ID == "" {
		return domain.Auth{}, domain.Transport("login", fmt.Errorf("response carried no user id"))
	}
	return domain.Auth{Token: out.Token, UserID: out.User.ID, Username: out.User.Username}, nil
}

// GetTestByID fetches test details. A success without a test body counts as not found.
func (c *Client) GetTestByID(ctx context.Context, testID string) (domain.Test, error) {
	var out testEnvelope
	if err := c.do(ctx, "get test", http.MethodGet, "/api/tests/"+url.PathEscape(testID), "", nil, &out); err != nil {
		return domain.Test{}, err
	}
	test := out.Test.toDomain()
	if test == nil {
		return domain.Test{}, &domain.Error{Kind: domain.KindNotFound, Op: "get test", Message: domain.ErrTestNotFound.Message}
	}
	return *test, nil
}

func (c *Client) StartTest(ctx context.Context, token, testID string) (domain.StartTestResponse, error) {
	body := map[string]any{"testId": testID}
	return c.start(ctx, "start test", token, body)
}

func (c *Client) StartGuestTest(ctx context.Context, testID, username string) (domain.StartTestResponse, error) {
	body := map[string]any{"testId": testID, "username": username}
	return c.start(ctx, "start guest test", "", body)
}

func (c *Client) start(ctx context.Context, op, token string, body any) (domain.StartTestResponse, error) {
	var out testEnvelope
	if err := c.do(ctx, op, http.MethodPost, "/api/tests/start", token, body, &out); err != nil {
		return domain.StartTestResponse{}, err
	}
	return domain.StartTestResponse{
		Message:    out.Message,
		Test:       out.Test.toDomain(),
		UserTestID: out.UserTestID,
	}, nil
}

func (c *Client) SubmitAnswers(ctx context.Context, token, sessionID string, entries []domain.SubmissionEntry) (domain.SubmissionAck, error) {
	if entries == nil {
		entries = []domain.SubmissionEntry{}
	}
	var ack domain.SubmissionAck
	path := "/tests/" + url.PathEscape(sessionID) + "/submit"
	if err := c.do(ctx, "submit answers", http.MethodPost, path, token, entries, &ack); err != nil {
		return domain.SubmissionAck{}, err
	}
	return ack, nil
}

func (c *Client) do(ctx context.Context, op, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &domain.Error{Kind: domain.KindUnknown, Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &domain.Error{Kind: domain.KindUnknown, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Transport(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.Transport(op, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(op, resp.StatusCode, resp.Status, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return domain.Transport(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// statusError prefers the server's message and falls back to one naming the status.
func statusError(op string, status int, statusText string, body []byte) *domain.Error {
	var payload messageBody
	msg := ""
	if err := json.Unmarshal(body, &payload); err == nil && strings.TrimSpace(payload.Message) != "" {
		msg = payload.Message
	} else {
		msg = "unexpected error: " + statusText
	}

	kind := domain.KindTransport
	switch {
	case status == http.StatusNotFound:
		kind = domain.KindNotFound
	case status >= 400 && status < 500:
		kind = domain.KindValidation
	}
	return &domain.Error{Kind: kind, Op: op, Message: msg, Status: status}
}
