// Package authpw provides email/password sign-in for accounts linked to
// tree profiles.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"alqefari/api/internal/store"
	"alqefari/api/internal/util"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// AccountStore defines the storage interface for auth
type AccountStore interface {
	GetAccountByEmail(ctx context.Context, email string) (store.Account, error)
	CreateAccount(ctx context.Context, a store.Account) error
}

type Service struct {
	store    AccountStore
	validate *validator.Validate
	cost     int
}

func NewService(accounts AccountStore) *Service {
	return &Service{store: accounts, validate: validator.New(), cost: bcrypt.DefaultCost}
}

type SignUpRequest struct {
	Email     string `validate:"required,email"`
	Password  string `validate:"required,min=8,max=72"`
	ProfileID string `validate:"required,uuid"`
}

// SignUp creates an account for an existing profile.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.Account, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validate.Struct(req); err != nil {
		return store.Account{}, fmt.Errorf("%w: %s", ErrInvalidInput, describe(err))
	}

	if _, err := s.store.GetAccountByEmail(ctx, req.Email); err == nil {
		return store.Account{}, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.Account{}, fmt.Errorf("lookup account: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return store.Account{}, fmt.Errorf("hash password: %w", err)
	}

	account := store.Account{
		ID:           util.NewID(""),
		Email:        req.Email,
		PasswordHash: string(hash),
		ProfileID:    req.ProfileID,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.Account{}, ErrEmailTaken
		}
		return store.Account{}, fmt.Errorf("create account: %w", err)
	}
	return account, nil
}

type SignInRequest struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

// SignIn checks the password and returns the account.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.Account, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validate.Struct(req); err != nil {
		return store.Account{}, fmt.Errorf("%w: %s", ErrInvalidInput, describe(err))
	}

	account, err := s.store.GetAccountByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Account{}, ErrInvalidCredentials
		}
		return store.Account{}, fmt.Errorf("lookup account: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)); err != nil {
		return store.Account{}, ErrInvalidCredentials
	}
	return account, nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, strings.ToLower(fe.Field())+" fails "+fe.Tag())
	}
	return strings.Join(parts, ", ")
}
