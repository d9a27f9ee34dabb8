package tcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"pkthub/internal/auth"
	"pkthub/internal/repository"
	"pkthub/pkg/models"
)

const defaultLookupTimeout = 3 * time.Second

type UserFinder interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
}

// PasswordVerifier compares a supplied password with the stored credential.
type PasswordVerifier interface {
	Verify(storedCredential, password string) error
}

type LoginRecorder interface {
	Record(userID string, at time.Time)
}

// Accounts bundles what the account templates share. Users and Verifier
// are required; the rest may be nil.
type Accounts struct {
	Users         UserFinder
	Verifier      PasswordVerifier
	Sessions      SessionStore
	Logins        LoginRecorder
	Tokens        *auth.TokenService
	LookupTimeout time.Duration
	Logger        *slog.Logger
}

func (a *Accounts) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

// findUser resolves username and maps failures to the answer code the
// peer gets. Details of unexpected errors are only logged.
func (a *Accounts) findUser(p *Packet, username string) (*models.User, Code) {
	timeout := a.LookupTimeout
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	ctx, cancel := context.WithTimeout(p.Context(), timeout)
	defer cancel()

	user, err := a.Users.FindByUsername(ctx, username)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, CodeUserNotFound
	}
	if err != nil {
		a.logger().Error("user_lookup_failed",
			"request_name", p.RequestName,
			"username", username,
			"error", err.Error(),
		)
		return nil, CodeError
	}
	return user, CodeSuccess
}

// establish marks the packet's client as user and publishes the session.
func (a *Accounts) establish(p *Packet, user *models.User) {
	client := p.Client()
	client.Authenticate(user)
	now := time.Now()

	if a.Sessions != nil {
		err := a.Sessions.Save(p.Context(), &Session{
			SessionID:       client.SessionID,
			Address:         client.Address(),
			UserID:          user.ID,
			Username:        user.Username,
			AuthenticatedAt: now,
		})
		if err != nil {
			a.logger().Warn("session_save_failed",
				"session_id", client.SessionID,
				"error", err.Error(),
			)
		}
	}
	if a.Logins != nil {
		a.Logins.Record(user.ID, now)
	}

	a.logger().Info("client_authenticated",
		"session_id", client.SessionID,
		"remote_addr", client.Address(),
		"username", user.Username,
		"via", p.RequestName,
	)
}

func (a *Accounts) answer(p *Packet, code Code, content map[string]any) {
	if err := p.Answer(code, content); err != nil {
		a.logger().Warn("answer_send_failed",
			"request_name", p.RequestName,
			"request_id", p.RequestID,
			"error", err.Error(),
		)
	}
}

// userContent serializes a user the same way JSON clients see it, which
// leaves the password hash out.
func userContent(user *models.User) (map[string]any, error) {
	data, err := json.Marshal(user)
	if err != nil {
		return nil, err
	}
	var content map[string]any
	if err := json.Unmarshal(data, &content); err != nil {
		return nil, err
	}
	return content, nil
}
