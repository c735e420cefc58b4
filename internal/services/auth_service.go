package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"recordhub-backend/internal/auth"
	"recordhub-backend/internal/config"
	"recordhub-backend/internal/models"
	"recordhub-backend/internal/store"

	"github.com/google/uuid"
)

// Custom errors for auth service
var (
	ErrUserAlreadyExists  = errors.New("user with this email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrHashingPassword    = errors.New("failed to hash password")
	ErrCreatingToken      = errors.New("failed to create access token")
	ErrCreatingTenant     = errors.New("failed to create tenant or user")
	ErrValidation         = errors.New("input validation failed")
)

type AuthService struct {
	store store.Store
	cfg   *config.Config
}

func NewAuthService(s store.Store, cfg *config.Config) *AuthService {
	return &AuthService{
		store: s,
		cfg:   cfg,
	}
}

// Signup creates a new tenant and its first user.
func (s *AuthService) Signup(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password cannot be empty", ErrValidation)
	}

	// Check if user already exists
	_, err := s.store.GetUserByEmail(ctx, email)
	if err == nil {
		return nil, ErrUserAlreadyExists
	}
	if !errors.Is(err, store.ErrNotFound) {
		log.Printf("Error checking user existence for %s: %v", email, err)
		return nil, fmt.Errorf("failed to check user existence: %w", err)
	}
	// User does not exist (store.ErrNotFound received), proceed.

	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		log.Printf("Error hashing password for %s: %v", email, err)
		return nil, ErrHashingPassword
	}

	// Create Tenant
	tenant := &models.Tenant{
		ID:   uuid.New(),
		Name: fmt.Sprintf("%s's Workspace", email), // Default name
	}
	if err := s.store.CreateTenant(ctx, tenant); err != nil {
		log.Printf("Error creating tenant for %s: %v", email, err)
		return nil, fmt.Errorf("%w: creating tenant failed: %v", ErrCreatingTenant, err)
	}

	// Create User
	user := &models.User{
		ID:             uuid.New(),
		TenantID:       tenant.ID,
		Email:          email,
		HashedPassword: hashedPassword,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		log.Printf("Error creating user for %s (TenantID: %s): %v", email, tenant.ID, err)
		return nil, fmt.Errorf("%w: creating user failed: %v", ErrCreatingTenant, err)
	}

	log.Printf("Successfully signed up user %s (ID: %s) in Tenant %s (ID: %s)", email, user.ID, tenant.Name, tenant.ID)
	return user, nil
}

// Login verifies user credentials and returns an access token and user info.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return "", nil, ErrInvalidCredentials // Basic check before hitting DB
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil, ErrInvalidCredentials // Don't reveal if user exists or password is wrong
		}
		log.Printf("Error retrieving user %s during login: %v", email, err)
		return "", nil, fmt.Errorf("failed to retrieve user: %w", err)
	}

	if !auth.CheckPasswordHash(password, user.HashedPassword) {
		return "", nil, ErrInvalidCredentials
	}

	token, err := auth.NewAccessToken(user.ID, user.TenantID, s.cfg.JWTSecret, s.cfg.TokenExpiration)
	if err != nil {
		log.Printf("Error generating JWT for user %s (ID: %s): %v", email, user.ID, err)
		return "", nil, ErrCreatingToken
	}

	log.Printf("Successfully logged in user %s (ID: %s)", email, user.ID)
	return token, user, nil
}
