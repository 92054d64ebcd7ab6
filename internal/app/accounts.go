package app

import (
	"context"
	"strings"
	"sync"

	"autograde-session/internal/domain"
)

// Accounts wraps register/login and keeps the resulting authentication context in process.
type Accounts struct {
	client AccountClient

	mu   sync.RWMutex
	auth *domain.Auth
}

func NewAccounts(client AccountClient) *Accounts {
	return &Accounts{client: client}
}

// Register creates an account; it does not log in.
func (a *Accounts) Register(ctx context.Context, creds domain.Credentials) (domain.Account, error) {
	if err := validateCredentials("register", creds); err != nil {
		return domain.Account{}, err
	}
	if strings.TrimSpace(creds.Username) == "" {
		return domain.Account{}, domain.Validation("register", "username is required")
	}
	account, err := a.client.Register(ctx, creds)
	if err != nil {
		return domain.Account{}, domain.Tag("register", err)
	}
	return account, nil
}

// Login authenticates and remembers the token for authenticated starts and submits.
func (a *Accounts) Login(ctx context.Context, creds domain.Credentials) (domain.Auth, error) {
	if err := validateCredentials("login", creds); err != nil {
		return domain.Auth{}, err
	}
	auth, err := a.client.Login(ctx, creds)
	if err != nil {
		return domain.Auth{}, domain.Tag("login", err)
	}
	a.Restore(auth)
	return auth, nil
}

// Restore installs a previously obtained authentication context.
func (a *Accounts) Restore(auth domain.Auth) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if auth.Token == "" {
		a.auth = nil
		return
	}
	a.auth = &auth
}

func (a *Accounts) Logout() {
	a.Restore(domain.Auth{})
}

// Current implements AuthProvider.
func (a *Accounts) Current() (domain.Auth, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.auth == nil {
		return domain.Auth{}, false
	}
	return *a.auth, true
}

func validateCredentials(op string, creds domain.Credentials) error {
	if strings.TrimSpace(creds.Email) == "" {
		return domain.Validation(op, "email is required")
	}
	if creds.Password == "" {
		return domain.Validation(op, "password is required")
	}
	return nil
}

// StaticAuth is an AuthProvider for a token obtained elsewhere (a flag, a websocket query).
type StaticAuth domain.Auth

func (a StaticAuth) Current() (domain.Auth, bool) {
	return domain.Auth(a), a.Token != ""
}
