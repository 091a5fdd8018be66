//go:generate go run go.uber.org/mock/mockgen -source=auth_service.go -destination=../mocks/mock_auth_service.go -package=mocks
package services

import (
	"context"
	"dm-relay/auth"
	"dm-relay/contract"
	"dm-relay/errors"
	"fmt"
	"log/slog"
	"strings"
)

type IAuthService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (Credentials, error)
	Login(ctx context.Context, req auth.LoginRequest) (Credentials, error)
	Authenticate(token string) (auth.Identity, error)
}

// Credentials is what a client keeps after register or login.
type Credentials struct {
	Token    string `json:"token"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type AuthService struct {
	log            *slog.Logger
	userRepository contract.IUserRepository
	authenticator  *auth.Authenticator
}

func NewAuthService(log *slog.Logger, userRepository contract.IUserRepository,
	authenticator *auth.Authenticator) *AuthService {
	return &AuthService{log: log, userRepository: userRepository, authenticator: authenticator}
}

func (s *AuthService) Register(ctx context.Context, req auth.RegisterRequest) (Credentials, error) {
	req.Email = normalizeEmail(req.Email)
	req.Username = strings.TrimSpace(req.Username)

	// Validation runs before the expensive hashing
	if err := auth.ValidateRegister(req); err != nil {
		return Credentials{}, err
	}
	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		return Credentials{}, fmt.Errorf("hashing failed: %w", err)
	}

	user, err := s.userRepository.CreateUser(ctx, req.Username, req.Email, hashedPassword)
	if err != nil {
		return Credentials{}, err
	}
	s.log.Info("User registered", "user_id", user.ID)
	return s.issue(user.ID, user.Username, user.Roles)
}

// Login never tells an unknown email from a wrong password.
func (s *AuthService) Login(ctx context.Context, req auth.LoginRequest) (Credentials, error) {
	req.Email = normalizeEmail(req.Email)
	if err := auth.ValidateLogin(req); err != nil {
		return Credentials{}, errors.ErrInvalidCredentials
	}

	user, err := s.userRepository.GetUserByEmail(ctx, req.Email)
	if errors.Is(err, errors.ErrNotFound) {
		return Credentials{}, errors.ErrInvalidCredentials
	}
	if err != nil {
		return Credentials{}, err
	}
	match, err := auth.ComparePassword(req.Password, user.PasswordHash)
	if err != nil || !match {
		return Credentials{}, errors.ErrInvalidCredentials
	}
	return s.issue(user.ID, user.Username, user.Roles)
}

// Authenticate resolves a token into the caller identity.
func (s *AuthService) Authenticate(token string) (auth.Identity, error) {
	claims, err := s.authenticator.ValidateToken(token)
	if err != nil {
		return auth.Identity{}, err
	}
	return auth.IdentityFromClaims(claims), nil
}

func (s *AuthService) issue(userID, username string, roles []string) (Credentials, error) {
	token, err := s.authenticator.GenerateToken(userID, username, roles)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{Token: token, UserID: userID, Username: username}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
