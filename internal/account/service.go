// Package account provides registration and email/password authentication.
package account

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"trappertracker/api/internal/store"
	"trappertracker/api/internal/util"
)

var (
	// ErrInvalidCredentials is returned for any login failure, whether the
	// email is unknown or the password is wrong, to avoid user enumeration.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWeakPassword       = errors.New("password must be at least 8 characters with an upper-case letter, a lower-case letter, and a digit")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrMissingFields      = errors.New("email and password are required")
	ErrBadVerification    = errors.New("invalid or expired verification token")
)

// UserStore defines the storage interface for accounts
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	VerifyUserEmail(ctx context.Context, token string) error
}

// Service provides account registration and credential checks
type Service struct {
	store UserStore
	// bcrypt hash of the admin password, loaded from the environment
	adminEmail        string
	adminPasswordHash string
}

// NewService creates an account service. adminEmail/adminPasswordHash may
// be empty, which disables admin login entirely.
func NewService(userStore UserStore, adminEmail, adminPasswordHash string) *Service {
	return &Service{
		store:             userStore,
		adminEmail:        adminEmail,
		adminPasswordHash: adminPasswordHash,
	}
}

// RegisterRequest contains registration parameters
type RegisterRequest struct {
	Email    string
	Password string
}

// RegisterResponse contains the new user id and the verification token to
// mail (or to return directly when email is not configured).
type RegisterResponse struct {
	UserID            string
	VerificationToken string
}

// Register creates a new user account after enforcing the password policy.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || req.Password == "" {
		return nil, ErrMissingFields
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidEmail
	}
	if !passwordMeetsPolicy(req.Password) {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	verificationToken := util.NewID("")
	expiresAt := time.Now().Add(24 * time.Hour)

	user := store.User{
		ID:                    util.NewID("u"),
		Email:                 email,
		PasswordHash:          string(hash),
		Role:                  "user",
		IsVerified:            false,
		VerificationToken:     verificationToken,
		VerificationExpiresAt: &expiresAt,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	return &RegisterResponse{
		UserID:            user.ID,
		VerificationToken: verificationToken,
	}, nil
}

// Login authenticates an email/password pair. The error is identical for
// unknown emails and wrong passwords.
func (s *Service) Login(ctx context.Context, email, password string) (store.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		// Burn a comparison so the timing matches the found-user path.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$000000000000000000000u1111111111111111111111111111111"), []byte(password))
		return store.User{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}

	return user, nil
}

// VerifyEmail marks the account matching the token as verified.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return ErrBadVerification
	}
	if err := s.store.VerifyUserEmail(ctx, token); err != nil {
		return ErrBadVerification
	}
	return nil
}

// CheckAdminCredentials verifies the admin email/password against the
// environment-held bcrypt hash. There is no admin row in the user table.
func (s *Service) CheckAdminCredentials(email, password string) bool {
	if s.adminEmail == "" || s.adminPasswordHash == "" {
		return false
	}
	if !strings.EqualFold(strings.TrimSpace(email), s.adminEmail) {
		_ = bcrypt.CompareHashAndPassword([]byte(s.adminPasswordHash), []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(s.adminPasswordHash), []byte(password)) == nil
}

func passwordMeetsPolicy(password string) bool {
	if len(password) < 8 {
		return false
	}
	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	return hasUpper && hasLower && hasDigit
}
