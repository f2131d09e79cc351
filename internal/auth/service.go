// Package auth handles operator accounts for the admin API. Machine
// activation tokens are not JWTs and never pass through here.
package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/parallaxhq/license-server/internal/registry"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type Service struct {
	registry *registry.Registry
	config   Config
}

func NewService(reg *registry.Registry, config Config) *Service {
	return &Service{registry: reg, config: config}
}

// Login checks an operator's password and returns a session token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	admin, err := s.registry.GetAdminByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, registry.ErrAdminNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("query admin: %w", err)
	}

	if !CheckPassword(password, admin.PasswordHash) {
		return "", ErrInvalidCredentials
	}

	token, err := GenerateToken(s.config, admin.ID, admin.Username)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}

// CreateAdmin provisions a new operator account.
func (s *Service) CreateAdmin(ctx context.Context, username, password string) (*registry.AdminUser, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return s.registry.CreateAdmin(ctx, username, hash)
}

// HashPassword generates a bcrypt hash from a plaintext password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password with a bcrypt hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
