package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/propdesk/propdesk/internal/platform/httpx"
	"github.com/propdesk/propdesk/internal/rbac"
	"github.com/propdesk/propdesk/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	repo     Repository
	sessions *shared.SessionManager
	logger   *slog.Logger
}

// NewService constructs a new Service.
func NewService(repo Repository, sessions *shared.SessionManager, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, sessions: sessions, logger: logger}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive || !user.Role.Valid() {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// CurrentSubject resolves the session's user against the users table on
// every call, so a deactivation or role change applies immediately. An
// anonymous session, a deleted user and an inactive user all yield nil.
func (s *Service) CurrentSubject(ctx context.Context, sess *shared.Session) (*rbac.Subject, error) {
	if sess == nil || sess.User() == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(sess.User(), 10, 64)
	if err != nil || id <= 0 {
		return nil, nil
	}
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	subject := user.Subject()
	if !subject.Authenticated() || !subject.Role.Valid() {
		return nil, nil
	}
	return subject, nil
}

// RenewSession extends an authenticated session by one TTL. It fails with
// httpx.ErrUnauthorized when the session or its user is no longer valid.
func (s *Service) RenewSession(ctx context.Context, w http.ResponseWriter, sess *shared.Session) (time.Time, error) {
	subject, err := s.CurrentSubject(ctx, sess)
	if err != nil {
		return time.Time{}, err
	}
	if subject == nil {
		return time.Time{}, httpx.ErrUnauthorized
	}
	expiresAt, err := s.sessions.Renew(ctx, w, sess)
	if err != nil {
		if errors.Is(err, shared.ErrSessionExpired) {
			return time.Time{}, httpx.ErrUnauthorized
		}
		return time.Time{}, err
	}
	if err := s.repo.TouchSession(ctx, sess.ID, expiresAt); err != nil {
		s.logger.Warn("touch session", slog.Any("error", err))
	}
	return expiresAt, nil
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, meta shared.RequestMeta) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, meta.IP, meta.UserAgent, meta.Partition)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}
