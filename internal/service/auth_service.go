package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docvault-server/internal/domain"
	"docvault-server/pkg/hash"
	"docvault-server/pkg/jwt"

	"golang.org/x/text/cases"
)

// AuthService keeps accounts as versioned documents of the internal users
// type, written through the same DocumentService as every other document.
type AuthService struct {
	documents         *DocumentService
	hasher            *hash.Hasher
	jwtSecret         string
	jwtExpiration     time.Duration
	refreshExpiration time.Duration
}

func NewAuthService(documents *DocumentService, hasher *hash.Hasher, jwtSecret string, jwtExp, refreshExp time.Duration) *AuthService {
	return &AuthService{
		documents:         documents,
		hasher:            hasher,
		jwtSecret:         jwtSecret,
		jwtExpiration:     jwtExp,
		refreshExpiration: refreshExp,
	}
}

// UserID is the canonical account id for a username. Usernames differing only
// in case map to the same account.
func UserID(username string) string {
	return cases.Fold().String(username)
}

func (s *AuthService) Register(ctx context.Context, req *domain.RegisterRequest) (*domain.User, error) {
	hashedPassword, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	id := UserID(req.Username)
	payload := map[string]interface{}{
		"username":      req.Username,
		"email":         req.Email,
		"password_hash": hashedPassword,
	}

	// An account owns its own users document.
	doc, err := s.documents.Create(ctx, domain.UsersType, id, id, payload)
	if errors.Is(err, domain.ErrVersionMismatch) {
		return nil, ErrUsernameTaken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return domain.UserFromDocument(doc), nil
}

func (s *AuthService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error) {
	id := UserID(req.Username)
	doc, err := s.documents.Resolve(ctx, domain.UsersType, id, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	passwordHash, _ := doc.Payload["password_hash"].(string)
	if err := s.hasher.Compare(passwordHash, req.Password); err != nil {
		return nil, ErrInvalidCredentials
	}

	accessToken, err := jwt.GenerateToken(doc.ID, s.jwtExpiration, s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, err := jwt.GenerateRefreshToken(doc.ID, s.refreshExpiration, s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return &domain.LoginResponse{
		User:         domain.UserFromDocument(doc),
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.jwtExpiration.Seconds()),
	}, nil
}

func (s *AuthService) RefreshToken(ctx context.Context, req *domain.RefreshTokenRequest) (*domain.TokenResponse, error) {
	claims, err := jwt.ValidateToken(req.RefreshToken, s.jwtSecret)
	if err != nil || !claims.Refresh {
		return nil, ErrInvalidRefreshToken
	}

	// Deleted accounts can't refresh.
	if _, err := s.documents.Resolve(ctx, domain.UsersType, claims.UserID, claims.UserID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	accessToken, err := jwt.GenerateToken(claims.UserID, s.jwtExpiration, s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	return &domain.TokenResponse{
		AccessToken: accessToken,
		ExpiresIn:   int64(s.jwtExpiration.Seconds()),
	}, nil
}
