package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Logger is the logging interface used by Service.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// seedPasswordBytes is the number of random bytes for a generated admin password.
const seedPasswordBytes = 16

// dummyHash is verified against when a username is unknown so that login
// takes the same time whether or not the account exists.
var dummyHash, _ = HashPassword("spherolink-dummy-password") //nolint:errcheck // constant input

// Service ties the operator repository to token issue.
//
// Thread Safety: safe for concurrent use.
type Service struct {
	repo   OperatorRepository
	secret string
	ttl    time.Duration
	logger Logger
}

// NewService creates an auth service. ttl <= 0 uses DefaultTokenTTL.
func NewService(repo OperatorRepository, secret string, ttl time.Duration, logger Logger) *Service {
	if logger == nil {
		logger = noopLogger{}
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Service{repo: repo, secret: secret, ttl: ttl, logger: logger}
}

// Token is the result of a successful login.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	Operator    *Operator `json:"operator"`
}

// Login checks credentials and issues an access token. Unknown usernames and
// wrong passwords both return ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, username, password string) (*Token, error) {
	op, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrOperatorNotFound) {
			VerifyPassword(password, dummyHash) //nolint:errcheck // timing equaliser
			s.logger.Warn("login failed", "username", username, "reason", "unknown user")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := VerifyPassword(password, op.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		s.logger.Warn("login failed", "username", username, "reason", "bad password")
		return nil, ErrInvalidCredentials
	}

	signed, expires, err := GenerateAccessToken(op, s.secret, s.ttl)
	if err != nil {
		return nil, err
	}
	s.logger.Info("operator logged in", "username", op.Username, "role", string(op.Role))
	return &Token{AccessToken: signed, TokenType: "Bearer", ExpiresAt: expires, Operator: op}, nil
}

// Verify parses a bearer token issued by Login.
func (s *Service) Verify(token string) (*Claims, error) {
	return ParseToken(token, s.secret)
}

// CreateOperator hashes password and stores a new operator.
func (s *Service) CreateOperator(ctx context.Context, username, password string, role Role) (*Operator, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	op := &Operator{Username: username, PasswordHash: hash, Role: role}
	if err := s.repo.Create(ctx, op); err != nil {
		return nil, err
	}
	s.logger.Info("operator created", "username", username, "role", string(role))
	return op, nil
}

// Operators lists every operator.
func (s *Service) Operators(ctx context.Context) ([]Operator, error) {
	return s.repo.List(ctx)
}

// ChangePassword replaces an operator's password.
func (s *Service) ChangePassword(ctx context.Context, id, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return s.repo.UpdatePassword(ctx, id, hash)
}

// SetRole changes an operator's role. The last admin cannot be demoted.
func (s *Service) SetRole(ctx context.Context, id string, role Role) error {
	if role != RoleAdmin {
		if err := s.guardLastAdmin(ctx, id); err != nil {
			return err
		}
	}
	return s.repo.UpdateRole(ctx, id, role)
}

// DeleteOperator removes an operator. The last admin cannot be removed.
func (s *Service) DeleteOperator(ctx context.Context, id string) error {
	if err := s.guardLastAdmin(ctx, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

func (s *Service) guardLastAdmin(ctx context.Context, id string) error {
	op, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if op.Role != RoleAdmin {
		return nil
	}
	n, err := s.repo.CountByRole(ctx, RoleAdmin)
	if err != nil {
		return err
	}
	if n <= 1 {
		return ErrLastAdmin
	}
	return nil
}

// SeedAdmin creates the first admin on a fresh database. When password is
// empty a random one is generated and logged; it must be changed.
//
// Returns the password used, or "" if operators already exist.
func (s *Service) SeedAdmin(ctx context.Context, username, password string) (string, error) {
	count, err := s.repo.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking operator count: %w", err)
	}
	if count > 0 {
		return "", nil
	}

	if username == "" {
		username = "admin"
	}
	generated := password == ""
	if generated {
		b := make([]byte, seedPasswordBytes)
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("generating seed password: %w", err)
		}
		password = hex.EncodeToString(b)
	}

	if _, err := s.CreateOperator(ctx, username, password, RoleAdmin); err != nil {
		return "", fmt.Errorf("creating seed admin: %w", err)
	}

	if generated {
		s.logger.Warn("seed admin account created",
			"username", username,
			"password", password,
			"action_required", "change this password immediately",
		)
	} else {
		s.logger.Info("seed admin account created", "username", username)
	}
	return password, nil
}
