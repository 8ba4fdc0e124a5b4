// Package auth supplies the verified caller identity the transfer engine
// trusts: password hashing, JWT issuance and refresh-token rotation.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/tadeleke/corebank/internal/domain"
	"github.com/tadeleke/corebank/internal/money"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// UserStore is the durable user state the service needs.
type UserStore interface {
	CreateUser(ctx context.Context, u *domain.User) error
	UserByEmail(ctx context.Context, email string) (*domain.User, error)
	UserByID(ctx context.Context, id string) (*domain.User, error)
}

// TokenStore holds the active refresh token per user. Tokens expire with
// the configured TTL and are replaced on every refresh.
type TokenStore interface {
	SaveRefreshToken(ctx context.Context, userID, token string, ttl time.Duration) error
	RefreshToken(ctx context.Context, userID string) (string, error)
	DeleteRefreshToken(ctx context.Context, userID string) error
}

type Service struct {
	users      UserStore
	tokens     TokenStore
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     *slog.Logger
}

func NewService(users UserStore, tokens TokenStore, secret string, accessTTL, refreshTTL time.Duration, logger *slog.Logger) *Service {
	return &Service{
		users:      users,
		tokens:     tokens,
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		logger:     logger,
	}
}

type SignupRequest struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      domain.Role
}

// Signup registers a user with a fresh unique account number and a zero
// balance, then issues a token pair.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (*domain.User, *TokenPair, error) {
	if _, err := s.users.UserByEmail(ctx, req.Email); err == nil {
		return nil, nil, domain.ErrEmailTaken
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, nil, err
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, nil, err
	}
	role := req.Role
	if role == "" {
		role = domain.RoleCustomer
	}

	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         role,
		Balance:      money.MustParse("0"),
		CreatedAt:    time.Now().UTC(),
	}

	// The generated number can collide; retry until the unique constraint
	// stops objecting.
	for attempt := 0; ; attempt++ {
		user.AccountNumber = newAccountNumber()
		err = s.users.CreateUser(ctx, user)
		if !errors.Is(err, domain.ErrAccountNumberTaken) {
			break
		}
		if attempt >= 5 {
			return nil, nil, fmt.Errorf("account number generation exhausted: %w", err)
		}
	}
	if err != nil {
		return nil, nil, err
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("user registered", "user_id", user.ID, "account_number", user.AccountNumber)
	return user, pair, nil
}

// Signin verifies the password and issues a fresh token pair.
func (s *Service) Signin(ctx context.Context, email, password string) (*domain.User, *TokenPair, error) {
	user, err := s.users.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}
	ok, err := VerifyPassword(user.PasswordHash, password)
	if err != nil || !ok {
		return nil, nil, ErrInvalidCredentials
	}
	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Refresh rotates the token pair. The presented refresh token must both
// verify and match the one on record for that user.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.ParseToken(refreshToken)
	if err != nil {
		return nil, err
	}
	stored, err := s.tokens.RefreshToken(ctx, claims.UserID)
	if err != nil || stored != refreshToken {
		return nil, ErrInvalidToken
	}
	user, err := s.users.UserByID(ctx, claims.UserID)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return s.issuePair(ctx, user)
}

// Logout discards the stored refresh token; the access token simply ages out.
func (s *Service) Logout(ctx context.Context, userID string) error {
	return s.tokens.DeleteRefreshToken(ctx, userID)
}

func (s *Service) issuePair(ctx context.Context, user *domain.User) (*TokenPair, error) {
	access, err := s.signToken(user, s.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.signToken(user, s.refreshTTL)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.SaveRefreshToken(ctx, user.ID, refresh, s.refreshTTL); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// newAccountNumber builds a ten-digit number from the clock's trailing six
// digits plus four random ones.
func newAccountNumber() string {
	ts := time.Now().UnixMilli() % 1_000_000
	return fmt.Sprintf("%06d%04d", ts, 1000+rand.Intn(9000))
}
